package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ekisa-team/ttsd/internal/model"
	"github.com/ekisa-team/ttsd/internal/service"
)

// Info describes the service on the root and health endpoints.
type Info struct {
	Service           string
	Version           string
	ModelID           string
	DefaultSampleRate int
	SynthesisTimeout  time.Duration

	// ModelStatus reports the loader's progress on /health. When nil the status is
	// derived from whether a model is attached.
	ModelStatus func() (model.Status, error)
}

// Server is the HTTP surface of the daemon.
type Server struct {
	srv    *http.Server
	router chi.Router
}

// NewServer builds the router and registers every operation.
func NewServer(addr string, tts *service.TTS, info Info) *Server {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(requestID)
	router.Use(accessLog)
	router.Use(corsHandler())

	config := huma.DefaultConfig(info.Service, info.Version)
	config.Info.Description = "Text-to-speech synthesis service"
	api := humachi.New(router, config)

	NewTTSHandler(api, tts, info)

	writeTimeout := info.SynthesisTimeout + 30*time.Second
	if info.SynthesisTimeout <= 0 {
		writeTimeout = 0
	}

	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       time.Minute,
			WriteTimeout:      writeTimeout,
			IdleTimeout:       2 * time.Minute,
		},
		router: router,
	}
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve accepts connections on l until Shutdown.
func (s *Server) Serve(l net.Listener) error {
	slog.Info("HTTP server listening", "addr", l.Addr().String())

	if err := s.srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Listen binds the configured address so a port conflict is reported before Serve.
func (s *Server) Listen() (net.Listener, error) {
	l, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen for HTTP on %s: %w", s.srv.Addr, err)
	}
	return l, nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
