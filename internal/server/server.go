// Package server exposes the viewer over HTTP: the filter controls, layer
// features and popups, view state and a health endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tofunori/glacier-albedo-west-canada/internal/filter"
	"github.com/tofunori/glacier-albedo-west-canada/internal/layer"
	"github.com/tofunori/glacier-albedo-west-canada/internal/logger"
	"github.com/tofunori/glacier-albedo-west-canada/internal/popup"
	"github.com/tofunori/glacier-albedo-west-canada/internal/view"
	"github.com/tofunori/glacier-albedo-west-canada/pkg/albedo"
)

const defaultShutdownTimeout = 5 * time.Second

// Feature listing limits.
const (
	DefaultFeatureLimit = 1000
	MaxFeatureLimit     = 5000
)

// Server serves one viewer session.
type Server struct {
	viewer     *albedo.Viewer
	session    *layer.Session
	controller *filter.Controller
	view       *view.State
	popups     *popup.Builder
	router     chi.Router

	mu         sync.Mutex
	httpServer *http.Server
	addr       string
}

// New wires the HTTP API for a session. The controller and view state are
// shared with any other caller acting on the same session.
func New(viewer *albedo.Viewer, session *layer.Session, controller *filter.Controller, state *view.State) *Server {
	s := &Server{
		viewer:     viewer,
		session:    session,
		controller: controller,
		view:       state,
		popups:     popup.NewBuilder(),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Route("/filter", func(r chi.Router) {
			r.Get("/", s.handleGetFilter)
			r.Post("/", s.handleApplyFilter)
			r.Delete("/", s.handleClearFilter)
		})

		r.Get("/layers", s.handleListLayers)
		r.Route("/layers/{layer}", func(r chi.Router) {
			r.Get("/info", s.handleLayerInfo)
			r.Get("/features", s.handleFeatures)
			r.Get("/features/{id}/popup", s.handlePopup)
		})

		r.Get("/view", s.handleGetView)
		r.Put("/view/basemap", s.handleSetBasemap)
		r.Put("/view/layers/{layer}", s.handleSetLayerView)
		r.Post("/view/locate", s.handleLocate)
	})
	return r
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the bound address once Start is listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Start listens on the configured address and serves until ctx is done,
// then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.viewer.Server

	s.mu.Lock()
	if s.httpServer != nil {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.httpServer = &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	srv := s.httpServer
	s.mu.Unlock()

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		logger.Error("failed to start http server",
			"listen_address", cfg.ListenAddress,
			"error", err.Error(),
		)
		return fmt.Errorf("starting listener: %w", err)
	}

	s.mu.Lock()
	s.addr = listener.Addr().String()
	s.mu.Unlock()
	logger.Info("http server started", "address", listener.Addr().String())

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serving http: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	logger.Info("shutting down http server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	logger.Info("http server stopped")
	return nil
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
