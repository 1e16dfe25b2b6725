// ABOUTME: Remote side of the order queue
// ABOUTME: Implemented by the gateway HTTP client and by mocks in tests
package queue

//go:generate mockgen -source=ports.go -destination=mocks/mock_ports.go -package=mocks

import (
	"context"

	"github.com/harperreed/vendas/models"
)

// Gateway submits orders and approval traffic to the server.
//
// SubmitOrder returns the server order number. Errors must match
// models.ErrRemoteRejected for validation failures and
// models.ErrNetworkUnavailable when the server could not be reached.
type Gateway interface {
	SubmitOrder(ctx context.Context, sub models.Submission) (int64, error)
	RegisterApproval(ctx context.Context, req models.ApprovalRequest) error
	GetApproval(ctx context.Context, id string) (models.ApprovalState, error)
	RespondApproval(ctx context.Context, id string, status models.ApprovalStatus, justification string) (models.ApprovalState, error)
}
