// Пакет status — вычисление итогового статуса подписи документа
// по его подписям и процессам подписания.
//
// Compute — чистая функция: не имеет побочных эффектов, не изменяет
// входные срезы и детерминирована для одинаковых входных данных.
// Сохранение результата выполняет service.StatusService.
package status

import (
	"slices"
	"strings"
	"time"

	"github.com/bigkaa/docsign/signing-module/internal/domain/model"
)

// Result — итоговый статус подписи документа и связанные сведения.
type Result struct {
	Status             model.SignatureStatus `json:"status"`
	TotalSignatures    int                   `json:"totalSignatures"`
	ActiveSignatures   int                   `json:"activeSignatures"`
	RevertedSignatures int                   `json:"revertedSignatures"`
	// LastSignedAt / LastSignedBy — самая свежая неотозванная подпись, nil если её нет
	LastSignedAt        *time.Time    `json:"lastSignedAt"`
	LastSignedBy        *string       `json:"lastSignedBy"`
	SignersInfo         []SignerInfo  `json:"signersInfo"`
	ActiveFlowSummaries []FlowSummary `json:"activeFlowSummaries"`
}

// SignerInfo — сведения о подписанте для отображения.
type SignerInfo struct {
	SignatureID  string     `json:"signatureId"`
	SignerID     string     `json:"signerId"`
	SignerName   string     `json:"signerName,omitempty"`
	Status       string     `json:"status"`
	IsValid      bool       `json:"isValid"`
	Timestamp    time.Time  `json:"timestamp"`
	IsReverted   bool       `json:"isReverted"`
	RevertedAt   *time.Time `json:"revertedAt,omitempty"`
	RevertReason *string    `json:"revertReason,omitempty"`
}

// FlowSummary — краткие сведения о процессе подписания.
type FlowSummary struct {
	FlowID      string           `json:"flowId"`
	Status      model.FlowStatus `json:"status"`
	CurrentStep int              `json:"currentStep"`
	TotalSteps  int              `json:"totalSteps"`
	CreatedAt   time.Time        `json:"createdAt"`
}

// Compute вычисляет статус подписи документа.
//
// Правила применяются в порядке приоритета:
//  1. есть процесс в состоянии PENDING или IN_PROGRESS — IN_FLOW;
//  2. есть отозванные подписи и нет действующих — REVERTED;
//  3. есть действующие подписи: если есть завершённый процесс, в котором
//     шагов больше, чем действующих подписей — PARTIALLY_SIGNED, иначе SIGNED;
//  4. иначе — UNSIGNED.
//
// Процессы в состояниях CANCELLED, REJECTED и EXPIRED не учитываются.
func Compute(signatures []model.Signature, flows []model.SignatureFlow) Result {
	res := Result{
		TotalSignatures:     len(signatures),
		SignersInfo:         make([]SignerInfo, 0, len(signatures)),
		ActiveFlowSummaries: []FlowSummary{},
	}

	var latest *model.Signature
	for i := range signatures {
		sig := &signatures[i]
		if sig.IsReverted {
			res.RevertedSignatures++
		} else {
			res.ActiveSignatures++
			if latest == nil || newer(sig, latest) {
				latest = sig
			}
		}
		res.SignersInfo = append(res.SignersInfo, signerInfo(sig))
	}

	slices.SortFunc(res.SignersInfo, func(a, b SignerInfo) int {
		if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
			return c
		}
		return strings.Compare(a.SignatureID, b.SignatureID)
	})

	if latest != nil {
		at := latest.Timestamp
		by := latest.SignerID
		res.LastSignedAt = &at
		res.LastSignedBy = &by
	}

	running := false
	partial := false
	for i := range flows {
		f := &flows[i]
		if f.Status.Terminated() {
			continue
		}
		if f.Status.Running() {
			running = true
		} else if res.ActiveSignatures < f.TotalSteps() {
			partial = true
		}
		res.ActiveFlowSummaries = append(res.ActiveFlowSummaries, FlowSummary{
			FlowID:      f.ID,
			Status:      f.Status,
			CurrentStep: f.CurrentStep,
			TotalSteps:  f.TotalSteps(),
			CreatedAt:   f.CreatedAt,
		})
	}

	slices.SortFunc(res.ActiveFlowSummaries, func(a, b FlowSummary) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.FlowID, b.FlowID)
	})

	switch {
	case running:
		res.Status = model.StatusInFlow
	case res.RevertedSignatures > 0 && res.ActiveSignatures == 0:
		res.Status = model.StatusReverted
	case res.ActiveSignatures > 0 && partial:
		res.Status = model.StatusPartiallySigned
	case res.ActiveSignatures > 0:
		res.Status = model.StatusSigned
	default:
		res.Status = model.StatusUnsigned
	}

	return res
}

// newer сообщает, свежее ли подпись a, чем b.
// При равном времени раньше идёт меньший ID.
func newer(a, b *model.Signature) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.After(b.Timestamp)
	}
	return a.ID < b.ID
}

func signerInfo(sig *model.Signature) SignerInfo {
	return SignerInfo{
		SignatureID:  sig.ID,
		SignerID:     sig.SignerID,
		SignerName:   sig.SignatureData.SignerName,
		Status:       sig.Status,
		IsValid:      sig.IsValid,
		Timestamp:    sig.Timestamp,
		IsReverted:   sig.IsReverted,
		RevertedAt:   sig.RevertedAt,
		RevertReason: sig.RevertReason,
	}
}
