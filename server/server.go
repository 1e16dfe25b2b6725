// ABOUTME: Reference Remote Gateway: order intake, approval workflow, and reference data over REST
// ABOUTME: Gin router on the SQLite store; orders are deduplicated by local id and re-validated
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/harperreed/vendas/models"
	"github.com/harperreed/vendas/policy"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SessionCookie carries the session token when no bearer token is sent.
const SessionCookie = "vendas_session"

const sessionKey = "session"

// Server is the reference gateway.
type Server struct {
	store  *SQLStore
	logger *zap.Logger
	router *gin.Engine
	now    func() time.Time
}

// New builds the gateway around store.
func New(store *SQLStore, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		store:  store,
		logger: logger.Named("gateway"),
		now:    time.Now,
	}
	s.router = s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authed := r.Group("/", s.requireSession())
	authed.POST("/orders", s.submitOrder)
	authed.POST("/orders/approvals", s.registerApproval)
	authed.GET("/orders/approvals/:id", s.getApproval)
	authed.PATCH("/orders/approvals/:id", s.respondApproval)
	authed.GET("/reference/:entity", s.getReference)
	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)))
	}
}

func abort(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": message})
}

func (s *Server) internalError(c *gin.Context, msg string, err error) {
	s.logger.Error(msg, zap.Error(err))
	abort(c, http.StatusInternalServerError, "erro interno")
}

// requireSession resolves the caller from the bearer token or the session
// cookie. Requests without a known session get 401.
func (s *Server) requireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		var token string
		if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
			token = strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
		}
		if token == "" {
			token, _ = c.Cookie(SessionCookie)
		}
		if token == "" {
			abort(c, http.StatusUnauthorized, "sessão ausente")
			return
		}

		row, err := s.store.ExecuteOne(c.Request.Context(), `
			SELECT user_id, user_name, company_id, role, seller_code
			FROM sessions WHERE token = ?
		`, token)
		if err != nil {
			s.internalError(c, "failed to load session", err)
			return
		}
		if row == nil {
			abort(c, http.StatusUnauthorized, "sessão inválida")
			return
		}

		c.Set(sessionKey, models.Session{
			UserID:     row.String("user_id"),
			UserName:   row.String("user_name"),
			CompanyID:  row.String("company_id"),
			Role:       row.String("role"),
			SellerCode: row.String("seller_code"),
		})
		c.Next()
	}
}

func sessionFrom(c *gin.Context) models.Session {
	v, _ := c.Get(sessionKey)
	sess, _ := v.(models.Session)
	return sess
}

func (s *Server) submitOrder(c *gin.Context) {
	var sub models.Submission
	if err := c.ShouldBindJSON(&sub); err != nil {
		abort(c, http.StatusBadRequest, "payload inválido")
		return
	}
	if sub.LocalID == "" {
		abort(c, http.StatusBadRequest, "localId obrigatório")
		return
	}
	ctx := c.Request.Context()
	sess := sessionFrom(c)
	if sub.CompanyID == "" {
		sub.CompanyID = sess.CompanyID
	}
	if sub.CompanyID != sess.CompanyID {
		abort(c, http.StatusForbidden, "empresa diferente da sessão")
		return
	}

	// A replay returns the original id even if the order would now fail validation.
	if id, ok, err := s.orderByLocalID(ctx, sub.LocalID); err != nil {
		s.internalError(c, "failed to look up order", err)
		return
	} else if ok {
		c.JSON(http.StatusOK, gin.H{"serverId": id})
		return
	}

	if err := sub.Payload.Validate(); err != nil {
		abort(c, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if msg, err := s.validateOrder(ctx, sub); err != nil {
		s.internalError(c, "failed to validate order", err)
		return
	} else if msg != "" {
		abort(c, http.StatusUnprocessableEntity, msg)
		return
	}

	payload, err := json.Marshal(sub.Payload)
	if err != nil {
		s.internalError(c, "failed to encode payload", err)
		return
	}
	seller := sub.SellerID
	if seller == "" {
		seller = sess.UserID
	}
	if _, err := s.store.Exec(ctx, `
		INSERT INTO orders (local_id, company_id, seller_id, origin, lead_id, approval_id, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(local_id) DO NOTHING
	`, sub.LocalID, sub.CompanyID, seller, string(sub.Origin), sub.LeadID, sub.ApprovalID, string(payload), s.now().UTC()); err != nil {
		s.internalError(c, "failed to insert order", err)
		return
	}

	id, _, err := s.orderByLocalID(ctx, sub.LocalID)
	if err != nil {
		s.internalError(c, "failed to read order", err)
		return
	}
	s.logger.Info("order accepted", zap.String("local_id", sub.LocalID), zap.Int64("server_id", id))
	c.JSON(http.StatusCreated, gin.H{"serverId": id})
}

func (s *Server) orderByLocalID(ctx context.Context, localID string) (int64, bool, error) {
	row, err := s.store.ExecuteOne(ctx, `SELECT server_id FROM orders WHERE local_id = ?`, localID)
	if err != nil || row == nil {
		return 0, false, err
	}
	return row.Int64("server_id"), true, nil
}

// validateOrder re-checks the order against the server's own data. It
// returns a user-facing message when the order is rejected.
func (s *Server) validateOrder(ctx context.Context, sub models.Submission) (string, error) {
	var partner models.Partner
	ok, err := s.referenceRecord(ctx, models.EntityPartners, sub.CompanyID, sub.Payload.PartnerCode, &partner)
	if err != nil {
		return "", err
	}
	if !ok {
		return fmt.Sprintf("parceiro %s não encontrado", sub.Payload.PartnerCode), nil
	}
	if !partner.Active {
		return fmt.Sprintf("parceiro %s inativo", partner.Code), nil
	}

	if sub.ApprovalID != "" {
		row, err := s.store.ExecuteOne(ctx, `SELECT status FROM approvals WHERE id = ?`, sub.ApprovalID)
		if err != nil {
			return "", err
		}
		if row == nil {
			return fmt.Sprintf("aprovação %s não encontrada", sub.ApprovalID), nil
		}
		switch models.ApprovalStatus(row.String("status")) {
		case models.ApprovalApproved:
			// The manager accepted the exceptions, credit included.
			return "", nil
		case models.ApprovalRejected:
			return "pedido reprovado pelo gestor", nil
		default:
			return "pedido aguardando aprovação", nil
		}
	}

	credit, ok := policy.PartnerCreditPolicy(partner)
	if !ok {
		return "", nil
	}
	var taxRules []models.TaxRule
	if err := s.referenceRecords(ctx, models.EntityTaxRules, sub.CompanyID, &taxRules); err != nil {
		return "", err
	}
	accepted, err := s.acceptedExposure(ctx, sub.CompanyID, partner.Code, taxRules)
	if err != nil {
		return "", err
	}
	draft := models.OrderDraft{CompanyID: sub.CompanyID, OrderPayload: sub.Payload}
	draft.OpenBalance = draft.OpenBalance.Add(accepted)
	for _, v := range policy.Evaluate(draft, []models.CommercialPolicy{credit}, taxRules) {
		if v.Kind == models.RuleCreditLimit {
			return v.Message, nil
		}
	}
	return "", nil
}

// acceptedExposure sums the totals of orders already accepted for a
// partner without an approval. Approved orders were cleared by a manager
// and do not count against the limit.
func (s *Server) acceptedExposure(ctx context.Context, companyID, partnerCode string, taxRules []models.TaxRule) (decimal.Decimal, error) {
	rows, err := s.store.ExecuteQuery(ctx, `
		SELECT payload FROM orders
		WHERE company_id = ? AND (approval_id IS NULL OR approval_id = '')
	`, companyID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to load accepted orders: %w", err)
	}

	total := decimal.Zero
	for _, row := range rows {
		var payload models.OrderPayload
		if err := json.Unmarshal([]byte(row.String("payload")), &payload); err != nil {
			return decimal.Zero, fmt.Errorf("failed to decode accepted order: %w", err)
		}
		if payload.PartnerCode != partnerCode {
			continue
		}
		draft := models.OrderDraft{CompanyID: companyID, OrderPayload: payload}
		total = total.Add(policy.Totals(draft, taxRules).Total)
	}
	return total, nil
}

type approvalRegistration struct {
	ID            string             `json:"id" binding:"required"`
	OrderID       string             `json:"orderId" binding:"required"`
	CompanyID     string             `json:"companyId"`
	Violations    []models.Violation `json:"violations"`
	Justification string             `json:"justification" binding:"required"`
	ApproverID    string             `json:"approverId" binding:"required"`
	RequesterID   string             `json:"requesterId"`
	CreatedAt     time.Time          `json:"createdAt"`
}

// registerApproval stores a request created on a device. Registering the
// same id twice is a no-op.
func (s *Server) registerApproval(c *gin.Context) {
	var req approvalRegistration
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "payload inválido")
		return
	}
	sess := sessionFrom(c)
	if req.CompanyID == "" {
		req.CompanyID = sess.CompanyID
	}
	if req.RequesterID == "" {
		req.RequesterID = sess.UserID
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = s.now()
	}
	violations, err := json.Marshal(req.Violations)
	if err != nil {
		s.internalError(c, "failed to encode violations", err)
		return
	}

	if _, err := s.store.Exec(c.Request.Context(), `
		INSERT INTO approvals (id, order_id, company_id, approver_id, requester_id, justification, violations, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 'PENDING', ?)
		ON CONFLICT(id) DO NOTHING
	`, req.ID, req.OrderID, req.CompanyID, req.ApproverID, req.RequesterID, req.Justification, string(violations), req.CreatedAt.UTC()); err != nil {
		s.internalError(c, "failed to insert approval", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": req.ID})
}

func (s *Server) loadApproval(ctx context.Context, id string) (Row, error) {
	return s.store.ExecuteOne(ctx, `
		SELECT id, approver_id, status, responder_id, response_justification, responded_at
		FROM approvals WHERE id = ?
	`, id)
}

func approvalState(row Row) models.ApprovalState {
	return models.ApprovalState{
		ID:            row.String("id"),
		Status:        models.ApprovalStatus(row.String("status")),
		ResponderID:   row.String("responder_id"),
		Justification: row.String("response_justification"),
		RespondedAt:   row.Time("responded_at"),
	}
}

func (s *Server) getApproval(c *gin.Context) {
	row, err := s.loadApproval(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.internalError(c, "failed to load approval", err)
		return
	}
	if row == nil {
		abort(c, http.StatusNotFound, "solicitação não encontrada")
		return
	}
	c.JSON(http.StatusOK, approvalState(row))
}

type approvalResponse struct {
	Status        models.ApprovalStatus `json:"status" binding:"required"`
	Justification string                `json:"justification"`
}

// respondApproval answers a pending request. Only the selected approver may
// answer, and only once.
func (s *Server) respondApproval(c *gin.Context) {
	var body approvalResponse
	if err := c.ShouldBindJSON(&body); err != nil || !body.Status.Responded() {
		abort(c, http.StatusBadRequest, "status deve ser APROVADO ou REJEITADO")
		return
	}
	ctx := c.Request.Context()
	id := c.Param("id")
	sess := sessionFrom(c)

	row, err := s.loadApproval(ctx, id)
	if err != nil {
		s.internalError(c, "failed to load approval", err)
		return
	}
	if row == nil {
		abort(c, http.StatusNotFound, "solicitação não encontrada")
		return
	}
	if row.String("approver_id") != sess.UserID {
		abort(c, http.StatusForbidden, "usuário não é o aprovador selecionado")
		return
	}

	n, err := s.store.Exec(ctx, `
		UPDATE approvals
		SET status = ?, responder_id = ?, response_justification = ?, responded_at = ?
		WHERE id = ? AND status = 'PENDING'
	`, string(body.Status), sess.UserID, body.Justification, s.now().UTC(), id)
	if err != nil {
		s.internalError(c, "failed to update approval", err)
		return
	}
	if n == 0 {
		abort(c, http.StatusConflict, "solicitação já respondida")
		return
	}

	row, err = s.loadApproval(ctx, id)
	if err == nil && row == nil {
		err = models.ErrNotFound
	}
	if err != nil {
		s.internalError(c, "failed to reload approval", err)
		return
	}
	s.logger.Info("approval answered", zap.String("id", id), zap.String("status", string(body.Status)))
	c.JSON(http.StatusOK, approvalState(row))
}

func (s *Server) getReference(c *gin.Context) {
	entity := c.Param("entity")
	if !knownEntity(entity) {
		abort(c, http.StatusNotFound, "entidade desconhecida")
		return
	}
	companyID := c.Query("companyId")
	if companyID == "" {
		companyID = sessionFrom(c).CompanyID
	}
	if companyID != sessionFrom(c).CompanyID {
		abort(c, http.StatusForbidden, "empresa diferente da sessão")
		return
	}

	rows, err := s.store.ExecuteQuery(c.Request.Context(), `
		SELECT data FROM reference_records
		WHERE entity = ? AND company_id = ?
		ORDER BY record_key
	`, entity, companyID)
	if err != nil {
		s.internalError(c, "failed to load reference data", err)
		return
	}

	items := make([]json.RawMessage, 0, len(rows))
	for _, row := range rows {
		items = append(items, json.RawMessage(row.String("data")))
	}
	c.JSON(http.StatusOK, items)
}

func knownEntity(entity string) bool {
	for _, e := range models.ReferenceEntities {
		if e == entity {
			return true
		}
	}
	return false
}

func (s *Server) referenceRecord(ctx context.Context, entity, companyID, key string, dst interface{}) (bool, error) {
	row, err := s.store.ExecuteOne(ctx, `
		SELECT data FROM reference_records
		WHERE entity = ? AND company_id = ? AND record_key = ?
	`, entity, companyID, key)
	if err != nil || row == nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(row.String("data")), dst); err != nil {
		return false, fmt.Errorf("failed to decode %s %s: %w", entity, key, err)
	}
	return true, nil
}

func (s *Server) referenceRecords(ctx context.Context, entity, companyID string, dst interface{}) error {
	rows, err := s.store.ExecuteQuery(ctx, `
		SELECT data FROM reference_records
		WHERE entity = ? AND company_id = ?
		ORDER BY record_key
	`, entity, companyID)
	if err != nil {
		return err
	}
	items := make([]json.RawMessage, 0, len(rows))
	for _, row := range rows {
		items = append(items, json.RawMessage(row.String("data")))
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}
