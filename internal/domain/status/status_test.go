package status

import (
	"reflect"
	"testing"
	"time"

	"github.com/bigkaa/docsign/signing-module/internal/domain/model"
)

var base = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func sig(id, signer string, offset time.Duration, reverted bool) model.Signature {
	return model.Signature{
		ID:         id,
		DocumentID: "doc-1",
		SignerID:   signer,
		Status:     "VÁLIDO",
		IsValid:    true,
		Timestamp:  base.Add(offset),
		IsReverted: reverted,
	}
}

func flow(id string, st model.FlowStatus, steps int) model.SignatureFlow {
	signers := make([]model.FlowSigner, steps)
	for i := range signers {
		signers[i] = model.FlowSigner{UserID: "u", Name: "n"}
	}
	return model.SignatureFlow{ID: id, DocumentID: "doc-1", Signers: signers, Status: st, CreatedAt: base}
}

func TestCompute_Status(t *testing.T) {
	tests := []struct {
		name       string
		signatures []model.Signature
		flows      []model.SignatureFlow
		want       model.SignatureStatus
		active     int
		reverted   int
	}{
		{
			name: "нет подписей и процессов — UNSIGNED",
			want: model.StatusUnsigned,
		},
		{
			name:       "одна действующая подпись — SIGNED",
			signatures: []model.Signature{sig("s1", "alice", 0, false)},
			want:       model.StatusSigned,
			active:     1,
		},
		{
			name:       "одна подпись и завершённый процесс на 3 шага — PARTIALLY_SIGNED",
			signatures: []model.Signature{sig("s1", "alice", 0, false)},
			flows:      []model.SignatureFlow{flow("f1", model.FlowCompleted, 3)},
			want:       model.StatusPartiallySigned,
			active:     1,
		},
		{
			name: "подписей столько же, сколько шагов — SIGNED",
			signatures: []model.Signature{
				sig("s1", "alice", 0, false),
				sig("s2", "bob", time.Minute, false),
			},
			flows:  []model.SignatureFlow{flow("f1", model.FlowCompleted, 2)},
			want:   model.StatusSigned,
			active: 2,
		},
		{
			name: "одна отозвана, одна действует — SIGNED",
			signatures: []model.Signature{
				sig("s1", "alice", 0, true),
				sig("s2", "bob", time.Minute, false),
			},
			want:     model.StatusSigned,
			active:   1,
			reverted: 1,
		},
		{
			name: "только отозванные — REVERTED",
			signatures: []model.Signature{
				sig("s1", "alice", 0, true),
				sig("s2", "bob", time.Minute, true),
			},
			want:     model.StatusReverted,
			reverted: 2,
		},
		{
			name:       "процесс в работе важнее подписей — IN_FLOW",
			signatures: []model.Signature{sig("s1", "alice", 0, false)},
			flows:      []model.SignatureFlow{flow("f1", model.FlowInProgress, 2)},
			want:       model.StatusInFlow,
			active:     1,
		},
		{
			name:       "ожидающий процесс при отозванных подписях — IN_FLOW",
			signatures: []model.Signature{sig("s1", "alice", 0, true)},
			flows:      []model.SignatureFlow{flow("f1", model.FlowPending, 2)},
			want:       model.StatusInFlow,
			reverted:   1,
		},
		{
			name:  "ожидающий процесс без подписей — IN_FLOW",
			flows: []model.SignatureFlow{flow("f1", model.FlowPending, 3)},
			want:  model.StatusInFlow,
		},
		{
			name:       "отменённый процесс не учитывается — SIGNED",
			signatures: []model.Signature{sig("s1", "alice", 0, false)},
			flows: []model.SignatureFlow{
				flow("f1", model.FlowCancelled, 3),
				flow("f2", model.FlowRejected, 3),
				flow("f3", model.FlowExpired, 3),
			},
			want:   model.StatusSigned,
			active: 1,
		},
		{
			name:  "завершённый процесс без подписей — UNSIGNED",
			flows: []model.SignatureFlow{flow("f1", model.FlowCompleted, 2)},
			want:  model.StatusUnsigned,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Compute(tt.signatures, tt.flows)
			if res.Status != tt.want {
				t.Errorf("Status = %s, ожидается %s", res.Status, tt.want)
			}
			if res.ActiveSignatures != tt.active {
				t.Errorf("ActiveSignatures = %d, ожидается %d", res.ActiveSignatures, tt.active)
			}
			if res.RevertedSignatures != tt.reverted {
				t.Errorf("RevertedSignatures = %d, ожидается %d", res.RevertedSignatures, tt.reverted)
			}
			if res.TotalSignatures != len(tt.signatures) {
				t.Errorf("TotalSignatures = %d, ожидается %d", res.TotalSignatures, len(tt.signatures))
			}
		})
	}
}

func TestCompute_LastSigned(t *testing.T) {
	signatures := []model.Signature{
		sig("s1", "alice", 0, false),
		sig("s2", "bob", 2*time.Hour, true),
		sig("s3", "carol", time.Hour, false),
	}

	res := Compute(signatures, nil)

	if res.LastSignedBy == nil || *res.LastSignedBy != "carol" {
		t.Fatalf("LastSignedBy = %v, ожидается carol (отозванная подпись bob пропускается)", res.LastSignedBy)
	}
	if res.LastSignedAt == nil || !res.LastSignedAt.Equal(base.Add(time.Hour)) {
		t.Errorf("LastSignedAt = %v, ожидается %v", res.LastSignedAt, base.Add(time.Hour))
	}

	// SignersInfo отсортирован по времени по убыванию
	wantOrder := []string{"s2", "s3", "s1"}
	for i, id := range wantOrder {
		if res.SignersInfo[i].SignatureID != id {
			t.Errorf("SignersInfo[%d] = %s, ожидается %s", i, res.SignersInfo[i].SignatureID, id)
		}
	}
}

func TestCompute_LastSignedTieBreak(t *testing.T) {
	signatures := []model.Signature{
		sig("s-b", "bob", time.Hour, false),
		sig("s-a", "alice", time.Hour, false),
	}

	res := Compute(signatures, nil)
	if res.LastSignedBy == nil || *res.LastSignedBy != "alice" {
		t.Errorf("LastSignedBy = %v, при равном времени ожидается подпись с меньшим ID", res.LastSignedBy)
	}
}

func TestCompute_NoActiveSignatures(t *testing.T) {
	res := Compute([]model.Signature{sig("s1", "alice", 0, true)}, nil)
	if res.LastSignedAt != nil || res.LastSignedBy != nil {
		t.Errorf("LastSignedAt/By = %v/%v, ожидается nil", res.LastSignedAt, res.LastSignedBy)
	}
}

func TestCompute_Deterministic(t *testing.T) {
	signatures := []model.Signature{
		sig("s2", "bob", time.Minute, false),
		sig("s1", "alice", 0, true),
		sig("s3", "carol", time.Minute, false),
	}
	flows := []model.SignatureFlow{
		flow("f2", model.FlowCompleted, 4),
		flow("f1", model.FlowCancelled, 2),
	}

	first := Compute(signatures, flows)
	second := Compute(signatures, flows)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("повторный вызов дал другой результат:\n%+v\n%+v", first, second)
	}

	// Входные данные не изменены
	if signatures[0].ID != "s2" || signatures[1].ID != "s1" || signatures[2].ID != "s3" {
		t.Error("Compute изменил порядок входных подписей")
	}
}

func TestCompute_FlowSummaries(t *testing.T) {
	later := flow("f-later", model.FlowCompleted, 2)
	later.CreatedAt = base.Add(time.Hour)
	earlier := flow("f-earlier", model.FlowPending, 3)
	earlier.CurrentStep = 1

	res := Compute(nil, []model.SignatureFlow{later, flow("f-x", model.FlowCancelled, 1), earlier})

	if len(res.ActiveFlowSummaries) != 2 {
		t.Fatalf("ActiveFlowSummaries = %d, ожидается 2", len(res.ActiveFlowSummaries))
	}
	if res.ActiveFlowSummaries[0].FlowID != "f-earlier" {
		t.Errorf("первый процесс = %s, ожидается f-earlier", res.ActiveFlowSummaries[0].FlowID)
	}
	if res.ActiveFlowSummaries[0].TotalSteps != 3 || res.ActiveFlowSummaries[0].CurrentStep != 1 {
		t.Errorf("сводка процесса = %+v", res.ActiveFlowSummaries[0])
	}
}
