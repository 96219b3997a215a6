package model

import (
	"encoding/json"
	"time"
)

// DeadTask — фоновая задача, исчерпавшая все попытки выполнения.
// Хранится в таблице dead_tasks для ручного повторного запуска.
type DeadTask struct {
	// ID — UUID записи
	ID string
	// TaskID — идентификатор задачи в очереди
	TaskID string
	// TaskType — тип задачи (document.process, validation.cleanup)
	TaskType string
	// Payload — полезная нагрузка задачи
	Payload json.RawMessage
	// Attempts — число выполненных попыток
	Attempts int
	// LastError — текст последней ошибки
	LastError string
	// FailedAt — время окончательного отказа
	FailedAt time.Time
	// ReplayedAt — время повторной постановки в очередь (nil — ещё не запускалась)
	ReplayedAt *time.Time
}
