package main

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/chatwarden/warden/ledger"
	"github.com/chatwarden/warden/punish"

	"github.com/carlmjohnson/versioninfo"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	slogecho "github.com/samber/slog-echo"
)

type GenericStatus struct {
	Daemon  string `json:"daemon"`
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Message string `json:"message,omitempty"`
}

type SubjectWarnings struct {
	Subject string                 `json:"subject"`
	Active  int                    `json:"active"`
	Records []ledger.WarningRecord `json:"records"`
}

type StatsResponse struct {
	Warnings     ledger.Totals        `json:"warnings"`
	MutesPending int                  `json:"mutes_pending"`
	Mutes        []punish.Restriction `json:"mutes"`
}

// Admin API routes. Everything except the health check requires the admin
// token as a bearer token, when one is configured.
func (s *Server) setupAPI(bind, adminToken string) {
	e := echo.New()

	var (
		httpTimeout        = 1 * time.Minute
		httpMaxHeaderBytes = 1 * (1024 * 1024)
	)
	s.echo = e
	s.httpd = &http.Server{
		Handler:        e,
		Addr:           bind,
		WriteTimeout:   httpTimeout,
		ReadTimeout:    httpTimeout,
		MaxHeaderBytes: httpMaxHeaderBytes,
	}

	e.HideBanner = true
	e.Use(slogecho.New(s.logger))
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("64K"))
	e.HTTPErrorHandler = s.errorHandler

	e.GET("/_health", s.HandleHealthCheck)

	api := e.Group("/api/v1")
	if adminToken != "" {
		api.Use(middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
			Validator: func(key string, c echo.Context) (bool, error) {
				return subtle.ConstantTimeCompare([]byte(key), []byte(adminToken)) == 1, nil
			},
		}))
	} else {
		s.logger.Warn("admin API is not authenticated; set --admin-token")
	}
	api.GET("/warnings/:subject", s.HandleSubjectWarnings)
	api.GET("/stats", s.HandleStats)
}

func (s *Server) RunAPI() error {
	slog.Info("starting server", "bind", s.httpd.Addr)
	if err := s.httpd.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) errorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	var errorMessage string
	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code
		errorMessage = fmt.Sprintf("%s", he.Message)
	}
	if code >= 500 {
		s.logger.Warn("warden-http-internal-error", "err", err)
	}
	c.JSON(code, GenericStatus{Status: "error", Daemon: "warden", Message: errorMessage})
}

func (s *Server) HandleHealthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, GenericStatus{Status: "ok", Daemon: "warden", Version: versioninfo.Short()})
}

func (s *Server) HandleSubjectWarnings(c echo.Context) error {
	subject := c.Param("subject")
	records, err := s.ledger.List(c.Request().Context(), subject)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, SubjectWarnings{
		Subject: subject,
		Active:  ledger.CountActive(records),
		Records: records,
	})
}

// Optional "guild" query parameter limits the listed mutes to one guild.
func (s *Server) HandleStats(c echo.Context) error {
	totals, err := s.ledger.Totals(c.Request().Context())
	if err != nil {
		return err
	}
	mutes := s.mutes.Pending(c.QueryParam("guild"))
	return c.JSON(http.StatusOK, StatsResponse{
		Warnings:     *totals,
		MutesPending: len(mutes),
		Mutes:        mutes,
	})
}
