// Пакет model — доменные модели Signing Module.
package model

import "time"

// Document — документ с текущим содержимым и кэшированным статусом подписи.
// Хранится в таблице documents.
type Document struct {
	// ID — UUID документа
	ID string
	// Title — название документа
	Title string
	// StoragePath — имя файла текущего содержимого в хранилище
	StoragePath string
	// Filename — оригинальное имя файла
	Filename string
	// Size — размер содержимого в байтах
	Size int64
	// MimeType — MIME-тип содержимого
	MimeType string
	// Checksum — SHA-256 содержимого (заполняется фоновой обработкой)
	Checksum *string
	// CurrentVersion — номер текущей версии, начинается с 1
	CurrentVersion int
	// SignatureStatus — денормализованный результат вычисления статуса подписи
	SignatureStatus SignatureStatus
	// LastSignedAt — время последней действующей подписи
	LastSignedAt *time.Time
	// LastSignedBy — идентификатор последнего подписанта
	LastSignedBy *string
	// ProcessedAt — время завершения фоновой обработки после загрузки
	ProcessedAt *time.Time
	// CreatedBy — идентификатор загрузившего пользователя
	CreatedBy string
	// CreatedAt — время создания записи
	CreatedAt time.Time
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time
}

// DocumentVersion — неизменяемый снимок содержимого документа до замены.
// Хранится в таблице document_versions, строки никогда не обновляются и не удаляются.
type DocumentVersion struct {
	// ID — UUID версии
	ID string
	// DocumentID — UUID документа
	DocumentID string
	// VersionNumber — номер версии (строго возрастает без пропусков)
	VersionNumber int
	// StoragePath — имя файла содержимого версии в хранилище
	StoragePath string
	// Filename — оригинальное имя файла
	Filename string
	// Size — размер содержимого в байтах
	Size int64
	// ChangeDescription — описание изменения
	ChangeDescription string
	// CreatedBy — кто создал версию (подписант)
	CreatedBy string
	// CreatedAt — время создания
	CreatedAt time.Time
}
