// Package server exposes the runs database over HTTP for the
// dashboard and the CLI verbs.
package server

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/pierrot-lc/snake-search/api"
	"github.com/pierrot-lc/snake-search/envconfig"
	"github.com/pierrot-lc/snake-search/tracker"
	"github.com/pierrot-lc/snake-search/version"
)

// Server serves run metadata, metrics and plots.
type Server struct {
	store *tracker.Store
}

func NewServer(store *tracker.Store) *Server {
	return &Server{store: store}
}

// GenerateRoutes builds the gin handler with CORS configured from the
// environment.
func (s *Server) GenerateRoutes() http.Handler {
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowWildcard = true
	corsConfig.AllowBrowserExtensions = true
	corsConfig.AllowHeaders = []string{"Authorization", "Content-Type", "User-Agent", "Accept"}
	corsConfig.AllowOrigins = envconfig.AllowedOrigins()

	r := gin.New()
	r.Use(gin.Recovery(), cors.New(corsConfig))

	r.GET("/api/version", s.VersionHandler)
	r.GET("/api/runs", s.ListRunsHandler)
	r.GET("/api/runs/:id", s.RunHandler)
	r.GET("/api/runs/:id/metrics", s.MetricsHandler)
	r.GET("/api/runs/:id/plots/:name", s.PlotHandler)
	r.HEAD("/", func(c *gin.Context) { c.String(http.StatusOK, "") })
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, "snake-search is running") })

	return r
}

func (s *Server) VersionHandler(c *gin.Context) {
	c.JSON(http.StatusOK, api.VersionResponse{Version: version.Version})
}

func (s *Server) ListRunsHandler(c *gin.Context) {
	runs, err := s.store.Runs()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := api.RunsResponse{Runs: []api.RunSummary{}}
	for _, r := range runs {
		resp.Runs = append(resp.Runs, api.RunSummary{
			ID:        r.ID,
			Group:     r.Group,
			CreatedAt: r.CreatedAt,
			Finished:  r.Finished,
		})
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) RunHandler(c *gin.Context) {
	id := c.Param("id")
	run, err := s.store.Run(id)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := api.RunDetailResponse{
		RunSummary: api.RunSummary{
			ID:        run.ID,
			Group:     run.Group,
			CreatedAt: run.CreatedAt,
			Finished:  run.Finished,
		},
		Config: run.Config,
	}

	images, err := s.store.Images(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	for _, img := range images {
		resp.Plots = append(resp.Plots, filepath.Base(img.Path))
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) MetricsHandler(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.store.Run(id); errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}

	names, err := s.store.MetricNames(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := api.MetricsResponse{Run: id, Metrics: map[string][]api.MetricPoint{}}
	for _, name := range names {
		points, err := s.store.Metrics(id, name)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		series := make([]api.MetricPoint, 0, len(points))
		for _, p := range points {
			series = append(series, api.MetricPoint{Iteration: p.Iteration, Value: p.Value})
		}
		resp.Metrics[name] = series
	}

	c.JSON(http.StatusOK, resp)
}

// PlotHandler serves one rendered trajectory image from the run
// directory. The name is restricted to a plain file name so the run
// directory cannot be escaped.
func (s *Server) PlotHandler(c *gin.Context) {
	id := c.Param("id")
	name := c.Param("name")
	if name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid plot name"})
		return
	}

	c.File(filepath.Join(s.store.RunDir(id), name))
}

// Serve runs the HTTP server on the listener until the context is
// canceled, then shuts down gracefully.
func Serve(ctx context.Context, ln net.Listener, store *tracker.Store) error {
	s := NewServer(store)
	srv := &http.Server{Handler: s.GenerateRoutes()}

	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(ln)
	}()

	slog.Info("listening", "addr", ln.Addr())

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-done:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
