// ABOUTME: Approval requests for orders that break a commercial policy
// ABOUTME: Responses are terminal and recorded with a compare-and-set
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/harperreed/vendas/models"
)

// InsertApproval stores a new approval request.
func (s *Store) InsertApproval(ctx context.Context, a models.ApprovalRequest) error {
	if a.ID == "" {
		return fmt.Errorf("%w: approval id is required", models.ErrInvalidPayload)
	}
	if err := Put(ctx, s, TableApprovalRequests, a); err != nil {
		return fmt.Errorf("failed to insert approval: %w", err)
	}
	return nil
}

// GetApproval returns one approval request or models.ErrNotFound.
func (s *Store) GetApproval(ctx context.Context, id string) (models.ApprovalRequest, error) {
	return Get[models.ApprovalRequest](ctx, s, TableApprovalRequests, "", id)
}

// ListApprovals returns approval requests, optionally filtered by status.
func (s *Store) ListApprovals(ctx context.Context, statuses ...models.ApprovalStatus) ([]models.ApprovalRequest, error) {
	want := make(map[models.ApprovalStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	return Query(ctx, s, TableApprovalRequests, "", func(a models.ApprovalRequest) bool {
		return len(want) == 0 || want[a.Status]
	})
}

// ListUnregisteredApprovals returns requests the gateway has not acknowledged yet.
func (s *Store) ListUnregisteredApprovals(ctx context.Context) ([]models.ApprovalRequest, error) {
	return Query(ctx, s, TableApprovalRequests, "", func(a models.ApprovalRequest) bool {
		return !a.Registered
	})
}

// MarkApprovalRegistered flags a request as known to the gateway.
func (s *Store) MarkApprovalRegistered(ctx context.Context, id string) error {
	_, err := Update(ctx, s, TableApprovalRequests, "", id, func(a *models.ApprovalRequest) error {
		a.Registered = true
		return nil
	})
	return err
}

// RespondApproval records an approver decision. Only PENDING requests can
// be answered; a second response returns models.ErrAlreadyResponded.
func (s *Store) RespondApproval(ctx context.Context, id string, status models.ApprovalStatus, responderID, justification string, at time.Time) (models.ApprovalRequest, error) {
	if !status.Responded() {
		return models.ApprovalRequest{}, fmt.Errorf("%w: %q is not a response", models.ErrInvalidPayload, status)
	}

	return Update(ctx, s, TableApprovalRequests, "", id, func(a *models.ApprovalRequest) error {
		if a.Status.Responded() {
			return fmt.Errorf("%w: approval %s is %s", models.ErrAlreadyResponded, id, a.Status)
		}
		a.Status = status
		a.ResponderID = responderID
		a.ResponseJustification = justification
		at := at.UTC()
		a.RespondedAt = &at
		return nil
	})
}

// ApplyApprovalState copies a response observed on the gateway into the
// local record. States that are still pending, or requests already
// answered locally, are left untouched. It reports whether anything changed.
func (s *Store) ApplyApprovalState(ctx context.Context, state models.ApprovalState) (bool, error) {
	if !state.Status.Responded() {
		return false, nil
	}

	changed := false
	_, err := Update(ctx, s, TableApprovalRequests, "", state.ID, func(a *models.ApprovalRequest) error {
		a.Registered = true
		if a.Status.Responded() {
			return nil
		}
		a.Status = state.Status
		a.ResponderID = state.ResponderID
		a.ResponseJustification = state.Justification
		if state.RespondedAt != nil {
			at := state.RespondedAt.UTC()
			a.RespondedAt = &at
		} else {
			now := s.now()
			a.RespondedAt = &now
		}
		changed = true
		return nil
	})
	return changed, err
}
