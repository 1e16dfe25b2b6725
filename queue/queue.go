// ABOUTME: Order Queue Manager: owns the pending order lifecycle and its replay to the server
// ABOUTME: Enqueue is local-only; Drain submits PENDING orders one at a time in creation order
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/harperreed/vendas/db"
	"github.com/harperreed/vendas/metrics"
	"github.com/harperreed/vendas/models"
	"github.com/harperreed/vendas/policy"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultSubmitTimeout bounds a single order submission.
const DefaultSubmitTimeout = 20 * time.Second

// DefaultRetention is how long confirmed orders are kept before Purge removes them.
const DefaultRetention = 30 * 24 * time.Hour

// Options configures a Manager. Zero values select defaults.
type Options struct {
	Logger        *zap.Logger
	Metrics       *metrics.Metrics
	SubmitTimeout time.Duration
	Retention     time.Duration
	Now           func() time.Time
}

// Manager is the only writer of pending orders.
type Manager struct {
	store   *db.Store
	gateway Gateway
	logger  *zap.Logger
	metrics *metrics.Metrics

	submitTimeout time.Duration
	retention     time.Duration
	now           func() time.Time

	// draining is held for the whole of a drain pass.
	draining sync.Mutex
	// recovered is guarded by draining.
	recovered bool
}

// New creates a queue manager over store, submitting through gw.
func New(store *db.Store, gw Gateway, opts Options) *Manager {
	m := &Manager{
		store:         store,
		gateway:       gw,
		logger:        opts.Logger,
		metrics:       opts.Metrics,
		submitTimeout: opts.SubmitTimeout,
		retention:     opts.Retention,
		now:           opts.Now,
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	m.logger = m.logger.Named("queue")
	if m.submitTimeout <= 0 {
		m.submitTimeout = DefaultSubmitTimeout
	}
	if m.retention <= 0 {
		m.retention = DefaultRetention
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// ApprovalInput asks for a policy exception when an order breaks a rule.
type ApprovalInput struct {
	ApproverID    string `json:"approver_id" validate:"required"`
	Justification string `json:"justification" validate:"required"`
}

// EnqueueRequest is a finalised order to queue locally.
type EnqueueRequest struct {
	Draft    models.OrderDraft
	Origin   models.Origin
	LeadID   string
	Seller   models.Session
	Approval *ApprovalInput
}

// EnqueueResult is what Enqueue stored.
type EnqueueResult struct {
	Order      models.PendingOrder     `json:"order"`
	Approval   *models.ApprovalRequest `json:"approval,omitempty"`
	Violations []models.Violation      `json:"violations,omitempty"`
}

// Evaluate runs the policy evaluator against the cached tables of the
// draft's company, including the cached partner's credit limit.
func (m *Manager) Evaluate(ctx context.Context, draft models.OrderDraft) ([]models.Violation, models.Totals, error) {
	if err := draft.Validate(); err != nil {
		return nil, models.Totals{}, err
	}

	policies, err := m.store.ActivePolicies(ctx, draft.CompanyID)
	if err != nil {
		return nil, models.Totals{}, fmt.Errorf("failed to load policies: %w", err)
	}
	taxRules, err := m.store.ActiveTaxRules(ctx, draft.CompanyID)
	if err != nil {
		return nil, models.Totals{}, fmt.Errorf("failed to load tax rules: %w", err)
	}

	partner, err := m.store.GetPartner(ctx, draft.CompanyID, draft.PartnerCode)
	switch {
	case err == nil:
		if p, ok := policy.PartnerCreditPolicy(partner); ok {
			policies = append(policies, p)
		}
	case !errors.Is(err, models.ErrNotFound):
		return nil, models.Totals{}, fmt.Errorf("failed to load partner: %w", err)
	}

	checked := draft
	if hasCreditPolicy(policies) {
		queued, err := m.queuedExposure(ctx, draft, taxRules)
		if err != nil {
			return nil, models.Totals{}, err
		}
		checked.OpenBalance = checked.OpenBalance.Add(queued)
	}

	return policy.Evaluate(checked, policies, taxRules), policy.Totals(draft, taxRules), nil
}

func hasCreditPolicy(policies []models.CommercialPolicy) bool {
	for _, p := range policies {
		if p.Kind == models.RuleCreditLimit {
			return true
		}
	}
	return false
}

// queuedExposure sums the totals of this partner's orders that are queued
// but not yet confirmed. Orders gated by an approval and orders whose
// approval was rejected are left out, as the gateway does.
func (m *Manager) queuedExposure(ctx context.Context, draft models.OrderDraft, taxRules []models.TaxRule) (decimal.Decimal, error) {
	orders, err := m.store.ListPendingOrders(ctx, models.StatusPending, models.StatusInFlight, models.StatusFailed)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to load queued orders: %w", err)
	}

	total := decimal.Zero
	for _, o := range orders {
		if o.CompanyID != draft.CompanyID || o.Payload.PartnerCode != draft.PartnerCode {
			continue
		}
		if o.ApprovalID != "" || o.ErrorKind == models.ErrorKindApprovalRejected {
			continue
		}
		total = total.Add(policy.Totals(o.Draft(), taxRules).Total)
	}
	return total, nil
}

// Enqueue validates and stores an order as PENDING. It never touches the
// network. If the draft breaks a policy and req.Approval is nil it returns a
// *models.ViolationsError and stores nothing; with an approval input it
// stores the order together with a PENDING approval request, and Drain
// holds the order until the request is approved.
func (m *Manager) Enqueue(ctx context.Context, req EnqueueRequest) (EnqueueResult, error) {
	if req.Seller.UserID == "" {
		return EnqueueResult{}, fmt.Errorf("%w: seller is required", models.ErrInvalidPayload)
	}
	if req.Draft.CompanyID == "" {
		req.Draft.CompanyID = req.Seller.CompanyID
	}
	if req.Origin == "" {
		req.Origin = models.OriginOfflineSale
	}

	violations, _, err := m.Evaluate(ctx, req.Draft)
	if err != nil {
		return EnqueueResult{}, err
	}

	now := m.now().UTC()
	id, err := m.store.NextOrderID(ctx, now)
	if err != nil {
		return EnqueueResult{}, err
	}
	order := models.PendingOrder{
		ID:            id,
		Origin:        req.Origin,
		CompanyID:     req.Draft.CompanyID,
		LeadID:        req.LeadID,
		Payload:       req.Draft.OrderPayload,
		Status:        models.StatusPending,
		CreatedAt:     now,
		CreatedByID:   req.Seller.UserID,
		CreatedByName: req.Seller.UserName,
	}

	var approval *models.ApprovalRequest
	if len(violations) > 0 {
		if req.Approval == nil {
			return EnqueueResult{Violations: violations}, &models.ViolationsError{Violations: violations}
		}
		if err := models.Validate(req.Approval); err != nil {
			return EnqueueResult{Violations: violations}, err
		}
		approval = &models.ApprovalRequest{
			ID:            uuid.New().String(),
			OrderID:       order.ID,
			CompanyID:     order.CompanyID,
			Violations:    violations,
			Justification: req.Approval.Justification,
			ApproverID:    req.Approval.ApproverID,
			RequesterID:   req.Seller.UserID,
			Status:        models.ApprovalPending,
			CreatedAt:     now,
		}
		order.ApprovalID = approval.ID
	}

	if err := m.store.EnqueueOrder(ctx, order, approval); err != nil {
		return EnqueueResult{}, err
	}

	m.logger.Info("order queued",
		zap.String("order_id", order.ID),
		zap.String("origin", string(order.Origin)),
		zap.Int("violations", len(violations)))
	m.publishDepth(ctx)

	return EnqueueResult{Order: order, Approval: approval, Violations: violations}, nil
}

// SubmissionResult is the outcome of one order in a drain pass.
type SubmissionResult struct {
	OrderID  string             `json:"order_id"`
	Status   models.OrderStatus `json:"status"`
	ServerID int64              `json:"server_id,omitempty"`
	Error    string             `json:"error,omitempty"`
	Kind     models.ErrorKind   `json:"error_kind,omitempty"`
}

// DrainReport summarises a drain pass.
type DrainReport struct {
	Skipped             bool               `json:"skipped"`
	Recovered           int                `json:"recovered"`
	Requeued            int                `json:"requeued,omitempty"`
	Attempted           int                `json:"attempted"`
	Confirmed           int                `json:"confirmed"`
	Failed              int                `json:"failed"`
	Held                int                `json:"held"`
	ApprovalsRegistered int                `json:"approvals_registered"`
	ApprovalsUpdated    int                `json:"approvals_updated"`
	Results             []SubmissionResult `json:"results,omitempty"`
}

// Drain submits every PENDING order, oldest first, one at a time. A call
// made while another pass is running returns at once with Skipped set.
// Once started, a pass runs to completion even if ctx is cancelled; each
// submission is bounded by the submit timeout. One order failing never
// stops the pass.
func (m *Manager) Drain(ctx context.Context) (DrainReport, error) {
	if !m.draining.TryLock() {
		m.metrics.DrainSkipped()
		m.logger.Debug("drain already running, skipping")
		return DrainReport{Skipped: true}, nil
	}
	defer m.draining.Unlock()

	ctx = context.WithoutCancel(ctx)
	start := time.Now()
	defer func() { m.metrics.ObserveDrain(time.Since(start)) }()

	var report DrainReport

	if !m.recovered {
		reset, err := m.store.ResetInFlight(ctx)
		if err != nil {
			return report, fmt.Errorf("failed to reconcile in-flight orders: %w", err)
		}
		m.recovered = true
		report.Recovered = len(reset)
		if len(reset) > 0 {
			m.logger.Warn("orders left in flight by a previous session returned to pending",
				zap.Strings("order_ids", reset))
		}
	}

	m.syncApprovals(ctx, &report)

	pending, err := m.store.ListPendingOrders(ctx, models.StatusPending)
	if err != nil {
		return report, fmt.Errorf("failed to list pending orders: %w", err)
	}

	for _, o := range pending {
		if err := m.process(ctx, o, &report); err != nil {
			// The outcome of an in-flight order could not be stored. Stop
			// here so no second order goes in flight; the next pass starts
			// by returning it to PENDING.
			m.recovered = false
			m.publishDepth(ctx)
			return report, err
		}
	}

	m.logger.Info("drain finished",
		zap.Int("attempted", report.Attempted),
		zap.Int("confirmed", report.Confirmed),
		zap.Int("failed", report.Failed),
		zap.Int("held", report.Held))
	m.publishDepth(ctx)
	return report, nil
}

// process handles one PENDING order. Only a failure to record the outcome
// of a claimed order is returned; everything else becomes a status change
// or a log line.
func (m *Manager) process(ctx context.Context, o models.PendingOrder, report *DrainReport) error {
	log := m.logger.With(zap.String("order_id", o.ID))

	if o.ApprovalID != "" {
		proceed, err := m.approvalGate(ctx, o, report)
		if err != nil {
			log.Warn("approval gate failed, order held", zap.Error(err))
			report.Held++
			return nil
		}
		if !proceed {
			return nil
		}
	}

	claimed, err := m.store.TransitionPendingOrder(ctx, o.ID, models.StatusPending, models.StatusInFlight, func(p *models.PendingOrder) {
		at := m.now().UTC()
		p.Attempts++
		p.LastAttemptAt = &at
	})
	if err != nil {
		log.Warn("could not claim order", zap.Error(err))
		return nil
	}
	report.Attempted++

	subCtx, cancel := context.WithTimeout(ctx, m.submitTimeout)
	serverID, submitErr := m.gateway.SubmitOrder(subCtx, models.NewSubmission(claimed))
	cancel()

	if submitErr == nil {
		_, err := m.store.TransitionPendingOrder(ctx, o.ID, models.StatusInFlight, models.StatusConfirmed, func(p *models.PendingOrder) {
			at := m.now().UTC()
			p.ServerID = serverID
			p.ConfirmedAt = &at
			p.ErrorMessage = ""
			p.ErrorKind = ""
		})
		if err != nil {
			log.Error("order confirmed by server but not recorded", zap.Int64("server_id", serverID), zap.Error(err))
			return fmt.Errorf("failed to record confirmation of %s: %w", o.ID, err)
		}
		m.metrics.ObserveSubmission(metrics.OutcomeConfirmed)
		report.Confirmed++
		report.Results = append(report.Results, SubmissionResult{OrderID: o.ID, Status: models.StatusConfirmed, ServerID: serverID})
		log.Info("order confirmed", zap.Int64("server_id", serverID))
		return nil
	}

	kind := models.ClassifyError(submitErr)
	message := submitErr.Error()
	_, err = m.store.TransitionPendingOrder(ctx, o.ID, models.StatusInFlight, models.StatusFailed, func(p *models.PendingOrder) {
		p.ErrorMessage = message
		p.ErrorKind = kind
	})
	if err != nil {
		log.Error("order failed but failure not recorded", zap.NamedError("submit_error", submitErr), zap.Error(err))
		return fmt.Errorf("failed to record failure of %s: %w", o.ID, err)
	}
	m.metrics.ObserveSubmission(outcomeFor(kind))
	report.Failed++
	report.Results = append(report.Results, SubmissionResult{OrderID: o.ID, Status: models.StatusFailed, Error: message, Kind: kind})
	log.Warn("order submission failed", zap.String("kind", string(kind)), zap.Error(submitErr))
	return nil
}

func outcomeFor(kind models.ErrorKind) string {
	switch kind {
	case models.ErrorKindRejected:
		return metrics.OutcomeRejected
	case models.ErrorKindNetwork:
		return metrics.OutcomeNetwork
	default:
		return metrics.OutcomeInternal
	}
}

// approvalGate decides whether an order waiting on an approval may be
// submitted. A rejected approval fails the order without a remote attempt.
func (m *Manager) approvalGate(ctx context.Context, o models.PendingOrder, report *DrainReport) (bool, error) {
	a, err := m.store.GetApproval(ctx, o.ApprovalID)
	if err != nil {
		return false, err
	}

	switch a.Status {
	case models.ApprovalApproved:
		return true, nil
	case models.ApprovalRejected:
		message := "pedido rejeitado pelo aprovador"
		if a.ResponseJustification != "" {
			message += ": " + a.ResponseJustification
		}
		_, err := m.store.TransitionPendingOrder(ctx, o.ID, models.StatusPending, models.StatusFailed, func(p *models.PendingOrder) {
			p.ErrorMessage = message
			p.ErrorKind = models.ErrorKindApprovalRejected
		})
		if err != nil {
			return false, err
		}
		report.Failed++
		report.Results = append(report.Results, SubmissionResult{
			OrderID: o.ID, Status: models.StatusFailed, Error: message, Kind: models.ErrorKindApprovalRejected,
		})
		return false, nil
	default:
		report.Held++
		return false, nil
	}
}

// SyncApprovals registers unregistered approval requests with the gateway
// and pulls the state of those still pending. It stops quietly when the
// gateway is unreachable.
func (m *Manager) SyncApprovals(ctx context.Context) (registered, updated int) {
	var report DrainReport
	m.syncApprovals(ctx, &report)
	return report.ApprovalsRegistered, report.ApprovalsUpdated
}

func (m *Manager) syncApprovals(ctx context.Context, report *DrainReport) {
	unregistered, err := m.store.ListUnregisteredApprovals(ctx)
	if err != nil {
		m.logger.Warn("failed to list unregistered approvals", zap.Error(err))
		return
	}
	for _, a := range unregistered {
		callCtx, cancel := context.WithTimeout(ctx, m.submitTimeout)
		err := m.gateway.RegisterApproval(callCtx, a)
		cancel()
		if err != nil {
			if models.ClassifyError(err) == models.ErrorKindNetwork {
				m.logger.Debug("gateway unreachable, approvals not pushed", zap.Error(err))
				return
			}
			m.logger.Warn("approval registration refused", zap.String("approval_id", a.ID), zap.Error(err))
			continue
		}
		if err := m.store.MarkApprovalRegistered(ctx, a.ID); err != nil {
			m.logger.Warn("failed to mark approval registered", zap.String("approval_id", a.ID), zap.Error(err))
			continue
		}
		report.ApprovalsRegistered++
	}

	waiting, err := m.store.ListApprovals(ctx, models.ApprovalPending)
	if err != nil {
		m.logger.Warn("failed to list pending approvals", zap.Error(err))
		return
	}
	for _, a := range waiting {
		if !a.Registered {
			continue
		}
		callCtx, cancel := context.WithTimeout(ctx, m.submitTimeout)
		state, err := m.gateway.GetApproval(callCtx, a.ID)
		cancel()
		if err != nil {
			if models.ClassifyError(err) == models.ErrorKindNetwork {
				m.logger.Debug("gateway unreachable, approval states not refreshed", zap.Error(err))
				return
			}
			m.logger.Warn("failed to fetch approval state", zap.String("approval_id", a.ID), zap.Error(err))
			continue
		}
		if err := models.Validate(state); err != nil {
			m.logger.Warn("gateway sent an invalid approval state", zap.String("approval_id", a.ID), zap.Error(err))
			continue
		}
		changed, err := m.store.ApplyApprovalState(ctx, state)
		if err != nil {
			m.logger.Warn("failed to apply approval state", zap.String("approval_id", a.ID), zap.Error(err))
			continue
		}
		if changed {
			report.ApprovalsUpdated++
			m.logger.Info("approval answered", zap.String("approval_id", a.ID), zap.String("status", string(state.Status)))
		}
	}
}

// RespondApproval records an approver's decision. The decision is sent to
// the gateway first and stored locally only once the gateway accepted it.
// Answering an approval twice returns models.ErrAlreadyResponded.
func (m *Manager) RespondApproval(ctx context.Context, id string, status models.ApprovalStatus, justification string, responder models.Session) (models.ApprovalRequest, error) {
	if !status.Responded() {
		return models.ApprovalRequest{}, fmt.Errorf("%w: status must be %s or %s", models.ErrInvalidPayload, models.ApprovalApproved, models.ApprovalRejected)
	}

	a, err := m.store.GetApproval(ctx, id)
	if err != nil {
		return models.ApprovalRequest{}, err
	}
	if a.Status.Responded() {
		return a, fmt.Errorf("%w: approval %s is %s", models.ErrAlreadyResponded, id, a.Status)
	}
	if a.ApproverID != "" && responder.UserID != a.ApproverID {
		return a, fmt.Errorf("%w: approval %s is assigned to %s", models.ErrNotApprover, id, a.ApproverID)
	}

	if !a.Registered {
		if err := m.gateway.RegisterApproval(ctx, a); err != nil {
			return a, fmt.Errorf("failed to register approval: %w", err)
		}
		if err := m.store.MarkApprovalRegistered(ctx, id); err != nil {
			return a, err
		}
	}

	state, err := m.gateway.RespondApproval(ctx, id, status, justification)
	if errors.Is(err, models.ErrAlreadyResponded) {
		// Answered elsewhere; pull the winning decision.
		if remote, gerr := m.gateway.GetApproval(ctx, id); gerr == nil {
			if _, aerr := m.store.ApplyApprovalState(ctx, remote); aerr != nil {
				m.logger.Warn("failed to apply remote approval state", zap.String("approval_id", id), zap.Error(aerr))
			}
		}
		return a, err
	}
	if err != nil {
		return a, fmt.Errorf("failed to send approval response: %w", err)
	}

	at := m.now().UTC()
	if state.RespondedAt != nil {
		at = *state.RespondedAt
	}
	updated, err := m.store.RespondApproval(ctx, id, status, responder.UserID, justification, at)
	if err != nil {
		return a, err
	}
	m.logger.Info("approval answered locally", zap.String("approval_id", id), zap.String("status", string(status)))
	return updated, nil
}

// RetryScope selects which FAILED orders RetryFailed requeues.
type RetryScope int

const (
	// RetryAll requeues every failure the seller can retry by hand,
	// including server rejections.
	RetryAll RetryScope = iota
	// RetryRetryableOnly requeues network and internal failures. Used on reconnect.
	RetryRetryableOnly
)

// RetryFailed moves FAILED orders back to PENDING and drains. Orders whose
// approval was rejected stay FAILED under either scope.
func (m *Manager) RetryFailed(ctx context.Context, scope RetryScope) (DrainReport, error) {
	failed, err := m.store.ListPendingOrders(ctx, models.StatusFailed)
	if err != nil {
		return DrainReport{}, fmt.Errorf("failed to list failed orders: %w", err)
	}

	requeued := 0
	for _, o := range failed {
		if o.ErrorKind == models.ErrorKindApprovalRejected {
			continue
		}
		if scope == RetryRetryableOnly && !o.ErrorKind.Retryable() {
			continue
		}
		_, err := m.store.TransitionPendingOrder(ctx, o.ID, models.StatusFailed, models.StatusPending, func(p *models.PendingOrder) {
			p.ErrorMessage = ""
			p.ErrorKind = ""
		})
		if err != nil {
			m.logger.Warn("could not requeue order", zap.String("order_id", o.ID), zap.Error(err))
			continue
		}
		requeued++
	}
	if requeued > 0 {
		m.logger.Info("failed orders requeued", zap.Int("count", requeued))
	}

	report, err := m.Drain(ctx)
	report.Requeued = requeued
	return report, err
}

// Count returns the number of orders in one status.
func (m *Manager) Count(ctx context.Context, status models.OrderStatus) (int, error) {
	counts, err := m.store.CountPendingOrders(ctx)
	if err != nil {
		return 0, err
	}
	return counts[status], nil
}

// Counts returns the number of orders per status.
func (m *Manager) Counts(ctx context.Context) (map[models.OrderStatus]int, error) {
	return m.store.CountPendingOrders(ctx)
}

// List returns orders in creation order, optionally filtered by status.
func (m *Manager) List(ctx context.Context, statuses ...models.OrderStatus) ([]models.PendingOrder, error) {
	return m.store.ListPendingOrders(ctx, statuses...)
}

// Get returns one order.
func (m *Manager) Get(ctx context.Context, id string) (models.PendingOrder, error) {
	return m.store.GetPendingOrder(ctx, id)
}

// Approvals returns approval requests, optionally filtered by status.
func (m *Manager) Approvals(ctx context.Context, statuses ...models.ApprovalStatus) ([]models.ApprovalRequest, error) {
	return m.store.ListApprovals(ctx, statuses...)
}

// Acknowledge removes a CONFIRMED order the seller has seen.
func (m *Manager) Acknowledge(ctx context.Context, id string) error {
	if err := m.store.DeleteConfirmedOrder(ctx, id); err != nil {
		return err
	}
	m.publishDepth(ctx)
	return nil
}

// Purge removes CONFIRMED orders older than the retention period.
func (m *Manager) Purge(ctx context.Context) (int, error) {
	n, err := m.store.PurgeConfirmed(ctx, m.now().UTC().Add(-m.retention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.logger.Info("confirmed orders purged", zap.Int("count", n))
		m.publishDepth(ctx)
	}
	return n, nil
}

func (m *Manager) publishDepth(ctx context.Context) {
	if m.metrics == nil {
		return
	}
	counts, err := m.store.CountPendingOrders(ctx)
	if err != nil {
		return
	}
	byName := make(map[string]int, len(counts))
	for st, n := range counts {
		byName[strings.ToLower(string(st))] = n
	}
	m.metrics.SetQueueDepth(byName)
}
