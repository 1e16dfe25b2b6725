// ABOUTME: Local API and dashboard for UI collaborators on the device
// ABOUTME: Gin routes over the queue manager and sync orchestrator, plus Prometheus metrics
package web

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/harperreed/vendas/db"
	"github.com/harperreed/vendas/models"
	"github.com/harperreed/vendas/queue"
	"github.com/harperreed/vendas/sync"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

//go:embed templates/*
var templatesFS embed.FS

// Options wires the server to the device's services.
type Options struct {
	Store    *db.Store
	Queue    *queue.Manager
	Sync     *sync.Orchestrator
	Monitor  *sync.Monitor
	Session  models.Session
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

type Server struct {
	store     *db.Store
	queue     *queue.Manager
	sync      *sync.Orchestrator
	monitor   *sync.Monitor
	session   models.Session
	gatherer  prometheus.Gatherer
	logger    *zap.Logger
	templates *template.Template
	router    *gin.Engine
}

func NewServer(opts Options) (*Server, error) {
	funcMap := template.FuncMap{
		"lower": func(s models.OrderStatus) string { return strings.ToLower(string(s)) },
		"when": func(t *time.Time) string {
			if t == nil {
				return "nunca"
			}
			return t.Local().Format("02/01/2006 15:04")
		},
	}
	tmpl, err := template.New("").Funcs(funcMap).ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, err
	}

	s := &Server{
		store:     opts.Store,
		queue:     opts.Queue,
		sync:      opts.Sync,
		monitor:   opts.Monitor,
		session:   opts.Session,
		gatherer:  opts.Gatherer,
		logger:    opts.Logger,
		templates: tmpl,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.logger = s.logger.Named("web")
	if s.gatherer == nil {
		s.gatherer = prometheus.NewRegistry()
	}
	s.router = s.routes()
	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves on addr until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("local api listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/", s.handleDashboard)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	api := r.Group("/api")
	api.GET("/queue", s.handleListQueue)
	api.GET("/queue/counts", s.handleCounts)
	api.POST("/queue/drain", s.handleDrain)
	api.POST("/queue/retry", s.handleRetry)
	api.POST("/queue/purge", s.handlePurge)
	api.DELETE("/queue/:id", s.handleAcknowledge)
	api.POST("/orders", s.handleEnqueue)
	api.POST("/evaluate", s.handleEvaluate)
	api.GET("/approvals", s.handleListApprovals)
	api.POST("/approvals/:id/respond", s.handleRespond)
	api.GET("/approvers", s.handleApprovers)
	api.POST("/sync", s.handleSync)
	api.GET("/sync/status", s.handleSyncStatus)
	api.POST("/connectivity", s.handleConnectivity)
	return r
}

// statusFor maps the error taxonomy onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidPayload):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrNotApprover):
		return http.StatusForbidden
	case errors.Is(err, models.ErrAlreadyResponded),
		errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, models.ErrSyncInProgress),
		errors.Is(err, models.ErrDrainInProgress):
		return http.StatusConflict
	case errors.Is(err, models.ErrApprovalRequired),
		errors.Is(err, models.ErrRemoteRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrUnauthenticated):
		return http.StatusBadGateway
	case errors.Is(err, models.ErrNetworkUnavailable),
		errors.Is(err, models.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	body := gin.H{"error": err.Error()}
	var verr *models.ViolationsError
	if errors.As(err, &verr) {
		body["violations"] = verr.Violations
	}
	c.JSON(status, body)
}

func parseStatuses(raw string) ([]models.OrderStatus, error) {
	if raw == "" {
		return nil, nil
	}
	var out []models.OrderStatus
	for _, part := range strings.Split(raw, ",") {
		st := models.OrderStatus(strings.ToUpper(strings.TrimSpace(part)))
		if !st.Valid() {
			return nil, fmt.Errorf("%w: unknown status %q", models.ErrInvalidPayload, part)
		}
		out = append(out, st)
	}
	return out, nil
}

func (s *Server) handleDashboard(c *gin.Context) {
	ctx := c.Request.Context()
	counts, err := s.queue.Counts(ctx)
	if err != nil {
		s.fail(c, err)
		return
	}
	orders, err := s.queue.List(ctx, models.StatusPending, models.StatusInFlight, models.StatusFailed)
	if err != nil {
		s.fail(c, err)
		return
	}
	status, err := s.sync.Status(ctx)
	if err != nil {
		s.fail(c, err)
		return
	}
	online := false
	if s.monitor != nil {
		online, _ = s.monitor.Online()
	}

	var lastSync *time.Time
	if status.Metadata != nil {
		lastSync = status.Metadata.LastSyncAt
	}
	data := map[string]interface{}{
		"Title":    "Fila de pedidos",
		"Session":  s.session,
		"Counts":   counts,
		"Statuses": []models.OrderStatus{models.StatusPending, models.StatusInFlight, models.StatusFailed, models.StatusConfirmed},
		"Orders":   orders,
		"LastSync": lastSync,
		"Sync":     status,
		"Online":   online,
		"Degraded": s.store.Degraded(),
	}

	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if err := s.templates.ExecuteTemplate(c.Writer, "dashboard.html", data); err != nil {
		s.logger.Error("template error", zap.Error(err))
	}
}

func (s *Server) handleListQueue(c *gin.Context) {
	statuses, err := parseStatuses(c.Query("status"))
	if err != nil {
		s.fail(c, err)
		return
	}
	orders, err := s.queue.List(c.Request.Context(), statuses...)
	if err != nil {
		s.fail(c, err)
		return
	}
	if orders == nil {
		orders = []models.PendingOrder{}
	}
	c.JSON(http.StatusOK, orders)
}

func (s *Server) handleCounts(c *gin.Context) {
	counts, err := s.queue.Counts(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, counts)
}

func (s *Server) handleDrain(c *gin.Context) {
	report, err := s.queue.Drain(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	if report.Skipped {
		s.fail(c, models.ErrDrainInProgress)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleRetry(c *gin.Context) {
	scope := queue.RetryAll
	if c.Query("scope") == "retryable" {
		scope = queue.RetryRetryableOnly
	}
	report, err := s.queue.RetryFailed(c.Request.Context(), scope)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) handlePurge(c *gin.Context) {
	n, err := s.queue.Purge(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"purged": n})
}

func (s *Server) handleAcknowledge(c *gin.Context) {
	if err := s.queue.Acknowledge(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type orderRequest struct {
	models.OrderDraft
	Origin   models.Origin        `json:"origin"`
	LeadID   string               `json:"lead_id"`
	Approval *queue.ApprovalInput `json:"approval"`
}

func (s *Server) handleEnqueue(c *gin.Context) {
	var req orderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, errors.Join(models.ErrInvalidPayload, err))
		return
	}
	res, err := s.queue.Enqueue(c.Request.Context(), queue.EnqueueRequest{
		Draft:    req.OrderDraft,
		Origin:   req.Origin,
		LeadID:   req.LeadID,
		Seller:   s.session,
		Approval: req.Approval,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (s *Server) handleEvaluate(c *gin.Context) {
	var draft models.OrderDraft
	if err := c.ShouldBindJSON(&draft); err != nil {
		s.fail(c, errors.Join(models.ErrInvalidPayload, err))
		return
	}
	if draft.CompanyID == "" {
		draft.CompanyID = s.session.CompanyID
	}
	violations, totals, err := s.queue.Evaluate(c.Request.Context(), draft)
	if err != nil {
		s.fail(c, err)
		return
	}
	if violations == nil {
		violations = []models.Violation{}
	}
	c.JSON(http.StatusOK, gin.H{"violations": violations, "totals": totals})
}

func (s *Server) handleListApprovals(c *gin.Context) {
	var statuses []models.ApprovalStatus
	if raw := c.Query("status"); raw != "" {
		statuses = append(statuses, models.ApprovalStatus(strings.ToUpper(raw)))
	}
	approvals, err := s.queue.Approvals(c.Request.Context(), statuses...)
	if err != nil {
		s.fail(c, err)
		return
	}
	if approvals == nil {
		approvals = []models.ApprovalRequest{}
	}
	c.JSON(http.StatusOK, approvals)
}

type respondRequest struct {
	Status        models.ApprovalStatus `json:"status"`
	Justification string                `json:"justification"`
}

func (s *Server) handleRespond(c *gin.Context) {
	var req respondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, errors.Join(models.ErrInvalidPayload, err))
		return
	}
	a, err := s.queue.RespondApproval(c.Request.Context(), c.Param("id"), req.Status, req.Justification, s.session)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (s *Server) handleApprovers(c *gin.Context) {
	users, err := s.store.Approvers(c.Request.Context(), s.session.CompanyID)
	if err != nil {
		s.fail(c, err)
		return
	}
	if users == nil {
		users = []models.User{}
	}
	c.JSON(http.StatusOK, users)
}

func (s *Server) handleSync(c *gin.Context) {
	report, err := s.sync.OnForegroundTrigger(c.Request.Context(), nil)
	switch {
	case errors.Is(err, models.ErrStaleReferenceData):
		// Tables that did refresh are kept; report which did not.
		c.JSON(http.StatusOK, gin.H{"report": report, "stale": true, "error": err.Error()})
	case err != nil:
		s.fail(c, err)
	default:
		c.JSON(http.StatusOK, gin.H{"report": report, "stale": false})
	}
}

func (s *Server) handleSyncStatus(c *gin.Context) {
	status, err := s.sync.Status(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	body := gin.H{"sync": status, "degraded": s.store.Degraded()}
	if s.monitor != nil {
		online, since := s.monitor.Online()
		body["online"] = online
		body["online_since"] = since
	}
	c.JSON(http.StatusOK, body)
}

type connectivityRequest struct {
	Online bool `json:"online"`
}

func (s *Server) handleConnectivity(c *gin.Context) {
	var req connectivityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, errors.Join(models.ErrInvalidPayload, err))
		return
	}
	if s.monitor == nil {
		s.fail(c, errors.New("connectivity monitor not configured"))
		return
	}
	reconnected := s.monitor.Report(c.Request.Context(), req.Online)
	c.JSON(http.StatusOK, gin.H{"online": req.Online, "reconnected": reconnected})
}
