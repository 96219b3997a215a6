package model

import "time"

// FlowStatus — состояние процесса многостороннего подписания.
type FlowStatus string

// Состояния SignatureFlow.
const (
	FlowPending    FlowStatus = "PENDING"
	FlowInProgress FlowStatus = "IN_PROGRESS"
	FlowCompleted  FlowStatus = "COMPLETED"
	FlowCancelled  FlowStatus = "CANCELLED"
	FlowRejected   FlowStatus = "REJECTED"
	FlowExpired    FlowStatus = "EXPIRED"
)

// Running сообщает, идёт ли процесс подписания прямо сейчас.
func (s FlowStatus) Running() bool {
	return s == FlowPending || s == FlowInProgress
}

// Terminated сообщает, прекращён ли процесс без завершения.
func (s FlowStatus) Terminated() bool {
	return s == FlowCancelled || s == FlowRejected || s == FlowExpired
}

// FlowSigner — участник процесса подписания.
type FlowSigner struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

// SignatureFlow — упорядоченный процесс подписания документа несколькими участниками.
// Хранится в таблице signature_flows, модулем только читается.
type SignatureFlow struct {
	// ID — UUID процесса
	ID string
	// DocumentID — UUID документа
	DocumentID string
	// Signers — участники в порядке подписания
	Signers []FlowSigner
	// CurrentStep — индекс текущего участника
	CurrentStep int
	// Status — состояние процесса
	Status FlowStatus
	// CreatedAt — время создания
	CreatedAt time.Time
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time
}

// TotalSteps возвращает число шагов процесса.
func (f *SignatureFlow) TotalSteps() int {
	return len(f.Signers)
}
