// Package api exposes the preview session over a local HTTP control API and a
// websocket event stream.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/xkilldash9x/humshakals/api/schemas"
	"github.com/xkilldash9x/humshakals/internal/orchestrator"
	"github.com/xkilldash9x/humshakals/internal/state"
)

const shutdownTimeout = 10 * time.Second

// Server serves the control API for one orchestrator.
type Server struct {
	orch   *orchestrator.Orchestrator
	log    *zap.Logger
	engine *gin.Engine
	hub    *Hub
}

// NewServer builds the router. Streams are not fed until Serve or Attach.
func NewServer(orch *orchestrator.Orchestrator, logger *zap.Logger) *Server {
	s := &Server{
		orch: orch,
		log:  logger.Named("api"),
		hub:  NewHub(logger),
	}
	s.engine = gin.New()
	s.engine.Use(gin.Recovery(), requestLogger(s.log))
	s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

// Hub returns the websocket hub.
func (s *Server) Hub() *Hub { return s.hub }

// Attach feeds pocket notifications and state changes into the stream until
// the returned function is called.
func (s *Server) Attach(ctx context.Context) (detach func()) {
	ctx, cancel := context.WithCancel(ctx)
	notifications, unsubscribe := s.orch.Pocket().Subscribe()
	unwatch := s.orch.Store().Subscribe(func(_, next state.State) {
		s.hub.Broadcast(Message{Type: MessageState, Data: next})
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.hub.Forward(ctx, notifications)
	}()
	return func() {
		unwatch()
		cancel()
		<-done
		unsubscribe()
	}
}

// Run listens on addr and serves until ctx is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.engine, ReadHeaderTimeout: 10 * time.Second}
	detach := s.Attach(ctx)
	defer detach()

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Control API listening.", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		s.hub.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// Hijacked websocket connections are not tracked by Shutdown.
	s.hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("Control API shutdown was not clean.", zap.Error(err))
		return err
	}
	<-errCh
	s.log.Info("Control API stopped.")
	return nil
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("Request served.",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

func (s *Server) routes() {
	r := s.engine
	r.GET("/health", func(c *gin.Context) { ok(c, gin.H{"status": "ok"}) })
	r.GET("/ws", func(c *gin.Context) { s.hub.Serve(c.Writer, c.Request) })

	api := r.Group("/api")
	{
		api.GET("/version", s.getVersion)
		api.GET("/state", s.getState)
		api.POST("/navigate", s.postNavigate)
		api.PUT("/touch", s.putTouch)
		api.PUT("/rotate", s.putRotate)
		api.PUT("/zoom", s.putZoom)
		api.POST("/screenshots", s.postScreenshotAll)

		contexts := api.Group("/contexts")
		{
			contexts.GET("", s.getContexts)
			contexts.POST("/:id/:action", s.postContextAction)
			contexts.PUT("/:id/mirroring", s.putMirroring)
			contexts.GET("/:id/events", s.getEvents)
			contexts.DELETE("/:id/events", s.deleteEvents)
		}

		devices := api.Group("/devices")
		{
			devices.GET("", s.getDevices)
			devices.POST("", s.postDevice)
			devices.DELETE("/:id", s.deleteDevice)
		}

		suites := api.Group("/suites")
		{
			suites.GET("", s.getSuites)
			suites.POST("", s.postSuite)
			suites.PUT("/active", s.putActiveSuite)
			suites.POST("/active/devices/:id", s.toggleSuiteDevice)
		}

		api.GET("/rules", s.getRules)
		api.PATCH("/rules", s.patchRules)
	}
}

// -- Session --

func (s *Server) getVersion(c *gin.Context) {
	ok(c, gin.H{"version": s.orch.AppVersion()})
}

func (s *Server) getState(c *gin.Context) {
	ok(c, s.orch.Store().Get())
}

type navigateRequest struct {
	Address string `json:"address" binding:"required"`
}

func (s *Server) postNavigate(c *gin.Context) {
	var req navigateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	addr := s.orch.Navigate(req.Address)
	if addr == "" {
		fail(c, http.StatusBadRequest, errors.New("address is empty"))
		return
	}
	ok(c, gin.H{"address": addr})
}

type toggleRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

func (s *Server) putTouch(c *gin.Context) {
	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	if err := s.orch.SetTouch(c.Request.Context(), *req.Enabled); err != nil {
		failFor(c, err)
		return
	}
	ok(c, s.orch.Store().Get())
}

func (s *Server) putRotate(c *gin.Context) {
	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	if err := s.orch.SetRotate(c.Request.Context(), *req.Enabled); err != nil {
		failFor(c, err)
		return
	}
	ok(c, s.orch.Store().Get())
}

type zoomRequest struct {
	Zoom float64 `json:"zoom" binding:"required,gt=0"`
}

func (s *Server) putZoom(c *gin.Context) {
	var req zoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	ok(c, s.orch.Store().Dispatch(state.SetZoom{Zoom: req.Zoom}))
}

func (s *Server) postScreenshotAll(c *gin.Context) {
	paths, err := s.orch.ScreenshotAll(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusMultiStatus, Response{Success: false, Data: gin.H{"paths": paths}, Error: err.Error()})
		return
	}
	ok(c, gin.H{"paths": paths})
}

// -- Contexts --

func (s *Server) getContexts(c *gin.Context) {
	ok(c, s.orch.Snapshots())
}

func (s *Server) postContextAction(c *gin.Context) {
	ctx, id := c.Request.Context(), c.Param("id")
	var (
		err  error
		data interface{}
	)
	switch c.Param("action") {
	case "reload":
		err = s.orch.Reload(ctx, id)
	case "retry":
		err = s.orch.Retry(ctx, id)
	case "back":
		err = s.orch.GoBack(ctx, id)
	case "forward":
		err = s.orch.GoForward(ctx, id)
	case "scroll-top":
		err = s.orch.ScrollToTop(ctx, id)
	case "devtools":
		err = s.orch.OpenDevTools(ctx, id)
	case "screenshot":
		var path string
		path, err = s.orch.Screenshot(ctx, id)
		data = gin.H{"path": path}
	case "report":
		var path string
		path, err = s.orch.SaveReport(ctx, id)
		data = gin.H{"path": path}
	default:
		fail(c, http.StatusNotFound, fmt.Errorf("unknown action %q", c.Param("action")))
		return
	}
	if err != nil {
		failFor(c, err)
		return
	}
	if data == nil {
		message(c, "ok")
		return
	}
	ok(c, data)
}

func (s *Server) putMirroring(c *gin.Context) {
	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	if err := s.orch.SetMirroring(c.Param("id"), *req.Enabled); err != nil {
		failFor(c, err)
		return
	}
	message(c, "ok")
}

func (s *Server) getEvents(c *gin.Context) {
	events := s.orch.Pocket().Events(c.Param("id"))
	if events == nil {
		events = []schemas.CaughtEvent{}
	}
	ok(c, events)
}

func (s *Server) deleteEvents(c *gin.Context) {
	s.orch.Pocket().Clear(c.Param("id"))
	message(c, "cleared")
}

// -- Devices and suites --

func (s *Server) getDevices(c *gin.Context) {
	reg := s.orch.Registry()
	if t := c.Query("type"); t != "" {
		class := schemas.DeviceClass(strings.ToLower(t))
		if !class.Valid() {
			fail(c, http.StatusBadRequest, fmt.Errorf("unknown device type %q", t))
			return
		}
		ok(c, reg.ListByType(class))
		return
	}
	list, err := reg.Filter(c.Query("q"))
	if err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	ok(c, list)
}

func (s *Server) postDevice(c *gin.Context) {
	var d schemas.DeviceProfile
	if err := c.ShouldBindJSON(&d); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	added, err := s.orch.Registry().AddCustom(c.Request.Context(), d)
	if err != nil {
		failFor(c, err)
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: added})
}

func (s *Server) deleteDevice(c *gin.Context) {
	ctx := c.Request.Context()
	if err := s.orch.Registry().RemoveCustom(ctx, c.Param("id")); err != nil {
		failFor(c, err)
		return
	}
	if err := s.orch.Reconcile(ctx); err != nil {
		s.log.Warn("Reconcile after device removal reported errors.", zap.Error(err))
	}
	message(c, "removed")
}

func (s *Server) getSuites(c *gin.Context) {
	reg := s.orch.Registry()
	ok(c, gin.H{"active": reg.Active().ID, "suites": reg.Suites()})
}

func (s *Server) postSuite(c *gin.Context) {
	var suite schemas.PreviewSuite
	if err := c.ShouldBindJSON(&suite); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	added, err := s.orch.Registry().AddSuite(c.Request.Context(), suite)
	if err != nil {
		failFor(c, err)
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: added})
}

type suiteRequest struct {
	ID string `json:"id" binding:"required"`
}

func (s *Server) putActiveSuite(c *gin.Context) {
	var req suiteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	if err := s.orch.UseSuite(c.Request.Context(), req.ID); err != nil {
		failFor(c, err)
		return
	}
	ok(c, s.orch.Registry().Active())
}

func (s *Server) toggleSuiteDevice(c *gin.Context) {
	if err := s.orch.ToggleDevice(c.Request.Context(), c.Param("id")); err != nil {
		failFor(c, err)
		return
	}
	ok(c, s.orch.Registry().Active())
}

// -- Rules --

func (s *Server) getRules(c *gin.Context) {
	ok(c, s.orch.Pocket().Rules())
}

func (s *Server) patchRules(c *gin.Context) {
	var patch schemas.PocketRulesPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	ok(c, s.orch.SetRules(c.Request.Context(), patch))
}
