// Package server exposes the engine over HTTP: incident ingestion, the
// approval surface, audit export, the admin override path, and health.
// It also owns config hot reload.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/soarhq/riposte/internal/approval"
	"github.com/soarhq/riposte/internal/audit"
	"github.com/soarhq/riposte/internal/classify"
	"github.com/soarhq/riposte/internal/config"
	"github.com/soarhq/riposte/internal/engine"
	"github.com/soarhq/riposte/internal/model"
	"github.com/soarhq/riposte/internal/override"
	"github.com/soarhq/riposte/internal/runbook"
	"github.com/soarhq/riposte/internal/store"
)

// Config wires a Server.
type Config struct {
	Addr       string
	ConfigPath string // watched and re-read on reload

	Engine    *engine.Engine
	Holder    *config.Holder
	Store     *store.Store
	Audit     *audit.Log
	Overrides *override.Store
	Logger    *zap.Logger
}

// Server is the HTTP front of the engine.
type Server struct {
	cfg    Config
	log    *zap.Logger
	router *gin.Engine
	http   *http.Server
}

// New builds the server and its routes.
func New(cfg Config) (*Server, error) {
	if cfg.Engine == nil || cfg.Holder == nil || cfg.Store == nil || cfg.Audit == nil {
		return nil, errors.New("server: missing required collaborator")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	s := &Server{cfg: cfg, log: logger, router: router}
	s.routes()
	s.http = &http.Server{Addr: cfg.Addr, Handler: router}
	return s, nil
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is cancelled, then shuts down gracefully and
// drains in-flight incidents.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server starting", zap.String("addr", s.cfg.Addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := s.http.Shutdown(shutdownCtx)
	s.cfg.Engine.Drain()
	return err
}

func (s *Server) routes() {
	s.router.GET("/healthz", s.health)
	s.router.GET("/v1/status", s.status)

	s.router.POST("/v1/incidents", s.ingest)
	s.router.GET("/v1/incidents", s.listIncidents)
	s.router.GET("/v1/incidents/review", s.reviewQueue)
	s.router.GET("/v1/incidents/:id", s.getIncident)

	s.router.GET("/v1/approvals", s.listApprovals)
	s.router.POST("/v1/approvals/:handle", s.resolveApproval)

	s.router.GET("/v1/audit/export", s.auditExport)
	s.router.GET("/v1/audit/verify", s.auditVerify)

	s.router.GET("/v1/admin/overrides", s.listOverrides)
	s.router.POST("/v1/admin/overrides", s.createOverride)
	s.router.DELETE("/v1/admin/overrides/:id", s.revokeOverride)
	s.router.POST("/v1/admin/reload", s.reload)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) status(c *gin.Context) {
	counts, err := s.cfg.Store.CountByState()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	snap := s.cfg.Holder.Current()
	c.JSON(http.StatusOK, gin.H{
		"autonomy":    snap.Config.Autonomy,
		"config_hash": snap.Hash,
		"in_flight":   s.cfg.Engine.Safety().TotalInFlight(),
		"incidents":   counts,
	})
}

type ingestRequest struct {
	Event             model.IncidentEvent `json:"event"`
	CommanderOverride bool                `json:"commander_override"`
}

func (s *Server) ingest(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Event.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "event id is required"})
		return
	}
	id := s.cfg.Engine.Go(context.Background(), req.Event, engine.SubmitOptions{
		CommanderOverride: req.CommanderOverride,
	})
	c.JSON(http.StatusAccepted, gin.H{"incident_id": id})
}

func (s *Server) listIncidents(c *gin.Context) {
	state := model.IncidentState(c.Query("state"))
	incidents, err := s.cfg.Store.ListIncidents(state, 200)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"incidents": incidents})
}

func (s *Server) reviewQueue(c *gin.Context) {
	queue, err := s.cfg.Store.ReviewQueue()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"incidents": queue})
}

func (s *Server) getIncident(c *gin.Context) {
	id := c.Param("id")
	inc, err := s.cfg.Store.GetIncident(id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	execs, err := s.cfg.Store.ExecutionsFor(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	vers, err := s.cfg.Store.VerificationsFor(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	trail, err := audit.DecisionTrail(s.cfg.Audit.Path(), audit.TrailFilter{IncidentID: id})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"incident":      inc,
		"executions":    execs,
		"verifications": vers,
		"trail":         trail,
	})
}

func (s *Server) listApprovals(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"pending": s.cfg.Engine.Broker().Pending()})
}

type decisionRequest struct {
	Approver string `json:"approver"`
	Approve  bool   `json:"approve"`
}

func (s *Server) resolveApproval(c *gin.Context) {
	var req decisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Approver == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "approver identity is required"})
		return
	}
	err := s.cfg.Engine.Broker().Resolve(c.Param("handle"), req.Approver, req.Approve)
	switch {
	case errors.Is(err, approval.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, approval.ErrDuplicateApprover):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, approval.ErrAlreadyResolved):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		status, _ := s.cfg.Engine.Broker().Get(c.Param("handle"))
		c.JSON(http.StatusOK, status)
	}
}

func (s *Server) auditExport(c *gin.Context) {
	trail, err := audit.DecisionTrail(s.cfg.Audit.Path(), audit.TrailFilter{
		IncidentID: c.Query("incident_id"),
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, trail)
}

func (s *Server) auditVerify(c *gin.Context) {
	res := audit.Verify(s.cfg.Audit.Path())
	code := http.StatusOK
	if !res.Valid {
		code = http.StatusConflict
	}
	c.JSON(code, res)
}

func (s *Server) listOverrides(c *gin.Context) {
	if s.cfg.Overrides == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "override store not configured"})
		return
	}
	tokens, err := s.cfg.Overrides.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"overrides": tokens})
}

type overrideRequest struct {
	Reason    string `json:"reason"`
	GrantedBy string `json:"granted_by"`
	Duration  string `json:"duration"`
}

func (s *Server) createOverride(c *gin.Context) {
	if s.cfg.Overrides == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "override store not configured"})
		return
	}
	var req overrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	duration := override.DefaultDuration
	if req.Duration != "" {
		d, err := time.ParseDuration(req.Duration)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		duration = d
	}
	token, err := s.cfg.Overrides.Create(req.Reason, req.GrantedBy, duration)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.auditAdmin(audit.ComponentOverride, "override_granted",
		"granted_by="+token.GrantedBy+" reason="+token.Reason)
	c.JSON(http.StatusCreated, token)
}

func (s *Server) revokeOverride(c *gin.Context) {
	if s.cfg.Overrides == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "override store not configured"})
		return
	}
	if err := s.cfg.Overrides.Revoke(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	s.auditAdmin(audit.ComponentOverride, "override_revoked", c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"revoked": c.Param("id")})
}

// reload re-reads the config file and swaps the snapshot plus the
// runbook and rule catalogs. In-flight incidents keep what they have.
func (s *Server) reload(c *gin.Context) {
	if err := s.Reload(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	snap := s.cfg.Holder.Current()
	c.JSON(http.StatusOK, gin.H{"autonomy": snap.Config.Autonomy, "config_hash": snap.Hash})
}

// Reload performs the actual hot reload; the fsnotify watcher and the
// admin endpoint both land here.
func (s *Server) Reload() error {
	cfg, hash, err := config.LoadWithHash(s.cfg.ConfigPath)
	if err != nil {
		return err
	}

	registry, err := runbook.Load(cfg.RunbookPath)
	if err != nil {
		return err
	}
	var classifier *classify.Classifier
	if cfg.RulesPath != "" {
		rules, _, err := classify.LoadRules(cfg.RulesPath)
		if err != nil {
			return err
		}
		classifier = classify.New(rules)
	} else {
		classifier = classify.New(classify.DefaultRules())
	}

	s.cfg.Holder.Swap(cfg, hash)
	s.cfg.Engine.SwapCatalogs(registry, classifier)
	s.auditAdmin(audit.ComponentConfig, "config_reloaded", "autonomy="+cfg.Autonomy)
	s.log.Info("configuration reloaded",
		zap.String("autonomy", cfg.Autonomy), zap.String("hash", hash))
	return nil
}

func (s *Server) auditAdmin(component, decision, reason string) {
	snap := s.cfg.Holder.Current()
	severity := "high"
	if component == audit.ComponentOverride {
		severity = "critical"
	}
	err := s.cfg.Audit.Record(audit.Entry{
		Component:  component,
		Decision:   decision,
		Reason:     reason,
		Severity:   severity,
		ConfigHash: snap.Hash,
	})
	if err != nil {
		s.log.Error("audit write failed", zap.Error(err))
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
