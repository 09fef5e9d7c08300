// Package api serves the prediction service over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rcliao/symbol-predict/internal/metrics"
	"github.com/rcliao/symbol-predict/internal/model"
	"github.com/rcliao/symbol-predict/internal/predict"
	"github.com/rcliao/symbol-predict/internal/store"
)

type selectionRequest struct {
	Context []string `json:"context"`
	Token   string   `json:"token" binding:"required"`
}

type queryRequest struct {
	Context []string `json:"context"`
}

type tokenRequest struct {
	Label string `json:"label" binding:"required"`
	Meta  string `json:"meta"`
}

// Server exposes a predict.Service as JSON endpoints.
type Server struct {
	svc     *predict.Service
	tokens  store.TokenWriter
	metrics *metrics.Metrics
	logger  *slog.Logger
	router  *gin.Engine
}

// New builds the router. tokens may be nil, which disables token writes.
func New(svc *predict.Service, tokens store.TokenWriter, m *metrics.Metrics, logger *slog.Logger) *Server {
	if m == nil {
		m = metrics.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{svc: svc, tokens: tokens, metrics: m, logger: logger}

	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/healthz", s.health)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))

	v1 := router.Group("/v1/scopes/:scope")
	{
		v1.POST("/selections", s.recordSelection)
		v1.POST("/predictions", s.predictNext)
		v1.POST("/explanations", s.explain)
		v1.PUT("/tokens/:id", s.putToken)
		v1.POST("/tokens/refresh", s.refreshTokens)
	}
	s.router = router
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) recordSelection(c *gin.Context) {
	var req selectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	scope := c.Param("scope")
	res, err := s.svc.RecordSelection(c.Request.Context(), scope, req.Context, req.Token)
	if err != nil {
		s.fail(c, "record selection", scope, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) predictNext(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	scope := c.Param("scope")
	res, err := s.svc.PredictNext(c.Request.Context(), scope, req.Context)
	if err != nil {
		s.fail(c, "predict", scope, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) explain(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	scope := c.Param("scope")
	exp, err := s.svc.Explain(c.Request.Context(), scope, req.Context)
	if err != nil {
		s.fail(c, "explain", scope, err)
		return
	}
	c.JSON(http.StatusOK, exp)
}

func (s *Server) putToken(c *gin.Context) {
	if s.tokens == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "token writes are disabled"})
		return
	}
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	scope := c.Param("scope")
	tok := model.Token{ID: c.Param("id"), Label: req.Label, Meta: req.Meta}
	if err := s.tokens.PutToken(c.Request.Context(), scope, tok); err != nil {
		s.fail(c, "put token", scope, err)
		return
	}
	c.JSON(http.StatusOK, tok)
}

func (s *Server) refreshTokens(c *gin.Context) {
	scope := c.Param("scope")
	if err := s.svc.RefreshTokens(c.Request.Context(), scope); err != nil {
		s.logger.Warn("token refresh failed", "scope", scope, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "token refresh failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "refreshed", "scope": scope})
}

func (s *Server) fail(c *gin.Context, op, scope string, err error) {
	if predict.IsValidation(err) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.logger.Error(op+" failed", "scope", scope, "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": op + " failed"})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
