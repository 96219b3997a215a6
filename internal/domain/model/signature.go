package model

import "time"

// SignatureStatus — итоговый статус подписи документа.
type SignatureStatus string

// Статусы подписи документа.
const (
	StatusUnsigned        SignatureStatus = "UNSIGNED"
	StatusInFlow          SignatureStatus = "IN_FLOW"
	StatusPartiallySigned SignatureStatus = "PARTIALLY_SIGNED"
	StatusSigned          SignatureStatus = "SIGNED"
	StatusReverted        SignatureStatus = "REVERTED"
)

// Signature — результат одной успешной внешней валидации подписи.
// Хранится в таблице signatures. После создания изменяются только поля отзыва.
type Signature struct {
	// ID — UUID подписи
	ID string
	// DocumentID — UUID документа
	DocumentID string
	// DocumentVersionID — UUID архивной версии, созданной при подписании
	DocumentVersionID *string
	// SignerID — идентификатор подписанта
	SignerID string
	// SignatureData — метаданные подписи из отчёта валидации
	SignatureData SignatureData
	// CertificateData — метаданные сертификата подписанта
	CertificateData CertificateData
	// Status — текстовый результат сервиса валидации (например, "VÁLIDO")
	Status string
	// IsValid — признак валидности подписи
	IsValid bool
	// Timestamp — время фиксации подписи
	Timestamp time.Time
	// IsReverted — подпись отозвана
	IsReverted bool
	// RevertedAt — время отзыва
	RevertedAt *time.Time
	// RevertedBy — кто отозвал
	RevertedBy *string
	// RevertReason — причина отзыва
	RevertReason *string
}

// SignatureData — сведения о подписи (jsonb-колонка signature_data).
type SignatureData struct {
	SignerName   string     `json:"signerName,omitempty"`
	Algorithm    string     `json:"algorithm,omitempty"`
	SerialNumber string     `json:"serialNumber,omitempty"`
	SubjectDN    string     `json:"subjectDN,omitempty"`
	IssuerDN     string     `json:"issuerDN,omitempty"`
	Indications  []string   `json:"indications,omitempty"`
	Warnings     []string   `json:"warnings,omitempty"`
	Errors       []string   `json:"errors,omitempty"`
	SigningTime  *time.Time `json:"signingTime,omitempty"`
}

// CertificateData — сведения о сертификате (jsonb-колонка certificate_data).
type CertificateData struct {
	NotBefore *time.Time `json:"notBefore,omitempty"`
	NotAfter  *time.Time `json:"notAfter,omitempty"`
	Trusted   bool       `json:"trusted"`
	Chain     []string   `json:"chain,omitempty"`
}
