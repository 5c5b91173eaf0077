package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

type ServerOptions struct {
	Addr      string
	AuthToken string
	Version   string
	StartTime time.Time
}

func NewServer(opts ServerOptions, db DBChecker, mqtt MQTTChecker, ctl Controller, reload ReloadFunc, log zerolog.Logger) *Server {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(Logger(log))

	// Health and metrics stay unauthenticated for scrapers.
	health := NewHealthHandler(db, mqtt, opts.Version, opts.StartTime)
	r.Get("/api/v1/health", health.ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())

	admin := NewAdminHandler(ctl, reload)
	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(opts.AuthToken))
		r.Get("/api/v1/stats", admin.Stats)
		r.Post("/api/v1/pause", admin.Pause)
		r.Post("/api/v1/resume", admin.Resume)
		r.Post("/api/v1/reload", admin.Reload)
	})

	return &Server{
		http: &http.Server{
			Addr:         opts.Addr,
			Handler:      r,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		log: log,
	}
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
