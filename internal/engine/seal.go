package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"liahona/internal/domain"
	"liahona/internal/repo"
)

// sealIdentity is the canonical form hashed when a task is sealed. Field
// order is fixed by the struct.
type sealIdentity struct {
	ID                 string `json:"id"`
	ProjectID          string `json:"project_id"`
	Title              string `json:"title"`
	AcceptanceCriteria string `json:"acceptance_criteria"`
	DeliverableCount   int    `json:"deliverable_count"`
	CreatedAt          string `json:"created_at"`
}

// SealHash returns the hex sha256 of the task's sealed identity.
func SealHash(t domain.Task, deliverableCount int) string {
	b, _ := json.Marshal(sealIdentity{
		ID:                 t.ID,
		ProjectID:          t.ProjectID,
		Title:              t.Title,
		AcceptanceCriteria: t.AcceptanceCriteria,
		DeliverableCount:   deliverableCount,
		CreatedAt:          t.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// SealVerification compares a stored seal against the task's current identity.
type SealVerification struct {
	TaskID     string `json:"task_id"`
	Sealed     bool   `json:"sealed"`
	StoredHash string `json:"stored_hash,omitempty"`
	ActualHash string `json:"actual_hash"`
	Valid      bool   `json:"valid"`
}

func (e Engine) VerifySeal(ctx context.Context, taskID string) (SealVerification, error) {
	var out SealVerification
	err := e.view(ctx, func(r repo.Repositories) error {
		t, err := r.GetTask(ctx, taskID)
		if err != nil {
			return notFoundOr(err, "task", taskID)
		}
		n, err := r.CountDeliverables(ctx, taskID)
		if err != nil {
			return err
		}
		out = SealVerification{
			TaskID:     t.ID,
			Sealed:     t.SealedHash != nil,
			StoredHash: strValue(t.SealedHash),
			ActualHash: SealHash(t, n),
		}
		out.Valid = out.Sealed && out.StoredHash == out.ActualHash
		return nil
	})
	return out, err
}
