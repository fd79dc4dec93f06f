// Package server exposes the ops API: health, run history and metrics behind
// JWT auth.
package server

import (
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/courseforge/courseforge/config"
	"github.com/courseforge/courseforge/internal/store"
	"github.com/courseforge/courseforge/internal/telemetry"
)

// Server is the ops HTTP server.
type Server struct {
	echo   *echo.Echo
	cfg    config.ServerConfig
	logger *log.Logger
}

// New assembles the echo server and its routes. st may be nil when run history
// is not configured; tel may be nil when telemetry is disabled.
func New(cfg config.ServerConfig, st *store.Store, tel *telemetry.Telemetry, logger *log.Logger) (*Server, error) {
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("server.jwt_secret is required")
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	if tel != nil {
		e.GET("/metrics", echo.WrapHandler(tel.Handler()))
	}

	secret := []byte(cfg.JWTSecret)
	api := e.Group("/api")

	auth := &AuthHandler{Store: st, Secret: secret}
	auth.Register(api.Group("/auth"))

	runs := &RunsHandler{}
	if st != nil {
		runs.Runs = st
	}
	runsGroup := api.Group("/runs")
	runsGroup.Use(AuthMiddleware(secret))
	runs.Register(runsGroup)

	return &Server{echo: e, cfg: cfg, logger: logger}, nil
}

// Handler returns the underlying HTTP handler.
func (s *Server) Handler() http.Handler { return s.echo }

// Start serves on the configured address until the listener fails.
func (s *Server) Start() error {
	s.logger.Printf("listening on %s", s.cfg.Address)
	return s.echo.Start(s.cfg.Address)
}
