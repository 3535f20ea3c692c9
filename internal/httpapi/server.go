// Package httpapi exposes the job service over HTTP.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/reel-service/internal/core"
	"github.com/book-expert/reel-service/internal/history"
	"github.com/book-expert/reel-service/internal/service"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const (
	shutdownTimeout     = 10 * time.Second
	defaultHistoryLimit = 50
)

// JobService runs one job.
type JobService interface {
	Execute(ctx context.Context, query core.Query) (*service.Result, error)
}

// HistoryReader lists recently processed items.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]history.Record, error)
}

// Server serves the job API. Store and History are optional; their routes
// answer 404 when unset.
type Server struct {
	echo    *echo.Echo
	jobs    JobService
	store   core.ArtifactStore
	history HistoryReader
	log     *logger.Logger
}

// New creates the server and registers its routes.
func New(jobs JobService, store core.ArtifactStore, historyReader HistoryReader, log *logger.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	s := &Server{echo: e, jobs: jobs, store: store, history: historyReader, log: log}

	e.GET("/health", s.health)
	e.POST("/jobs", s.createJob)
	e.GET("/jobs/:id/manifest", s.manifest)
	e.GET("/history", s.recent)

	return s
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	errChan := make(chan error, 1)

	go func() {
		s.log.Info("HTTP API listening on %s", addr)
		errChan <- s.echo.Start(addr)
	}()

	select {
	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := s.echo.Shutdown(shutdownCtx)
	if err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}

	return nil
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) createJob(c echo.Context) error {
	var request service.JobRequest

	err := c.Bind(&request)
	if err != nil {
		return c.JSON(http.StatusBadRequest, service.NewReply(request, nil, err))
	}

	result, err := s.jobs.Execute(c.Request().Context(), request.Query())
	reply := service.NewReply(request, result, err)

	switch {
	case err == nil:
		return c.JSON(http.StatusOK, reply)
	case errors.Is(err, service.ErrInvalidQuery):
		return c.JSON(http.StatusBadRequest, reply)
	case errors.Is(err, core.ErrSourceUnavailable):
		return c.JSON(http.StatusBadGateway, reply)
	default:
		s.log.Error("Job request failed: %v", err)

		return c.JSON(http.StatusInternalServerError, reply)
	}
}

func (s *Server) manifest(c echo.Context) error {
	if s.store == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "artifact archive disabled"})
	}

	data, err := s.store.Download(c.Request().Context(), service.ManifestKey(c.Param("id")))
	if errors.Is(err, core.ErrArtifactNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "job not found"})
	}

	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSONBlob(http.StatusOK, data)
}

func (s *Server) recent(c echo.Context) error {
	if s.history == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "history disabled"})
	}

	limit := defaultHistoryLimit
	if l := c.QueryParam("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	records, err := s.history.Recent(c.Request().Context(), limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, records)
}
