package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"telegram-lessons-bot/internal/config"
	"telegram-lessons-bot/internal/domain/model"
	"telegram-lessons-bot/internal/usecase"
)

const (
	requestTimeout  = 15 * time.Second
	shutdownTimeout = 10 * time.Second
)

// HealthFunc reports whether a dependency is reachable.
type HealthFunc func(ctx context.Context) error

// Server serves health, metrics and, when a secret is configured, the
// admin API.
type Server struct {
	addr       string
	auth       *AuthManager
	health     HealthFunc
	admins     usecase.AdminUseCase
	broadcasts usecase.BroadcastUseCase
	lessons    usecase.LessonUseCase
	payments   usecase.PaymentUseCase
	statsUC    usecase.StatsUseCase
	log        *zerolog.Logger
}

func NewServer(
	cfg config.AdminConfig,
	health HealthFunc,
	admins usecase.AdminUseCase,
	broadcasts usecase.BroadcastUseCase,
	lessons usecase.LessonUseCase,
	payments usecase.PaymentUseCase,
	stats usecase.StatsUseCase,
	logger *zerolog.Logger,
) *Server {
	l := logger.With().Str("component", "HTTPServer").Logger()
	s := &Server{
		addr:       cfg.HTTPAddr,
		health:     health,
		admins:     admins,
		broadcasts: broadcasts,
		lessons:    lessons,
		payments:   payments,
		statsUC:    stats,
		log:        &l,
	}
	if cfg.APISecret != "" {
		s.auth = NewAuthManager(cfg.APISecret)
	}
	return s
}

// Handler builds the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID, AccessLog(s.log), Recover(s.log))

	r.Get("/healthz", s.healthz)
	r.Handle("/metrics", promhttp.Handler())

	if s.auth == nil {
		return r
	}
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(Timeout(requestTimeout), requireToken(s.auth, s.admins))

		r.Group(func(r chi.Router) {
			r.Use(requirePerm(model.PermBroadcast))
			r.Get("/broadcasts", s.listBroadcasts)
			r.Post("/broadcasts", s.createBroadcast)
			r.Get("/broadcasts/{id}", s.getBroadcast)
			r.Post("/broadcasts/{id}/cancel", s.cancelBroadcast)
		})
		r.Group(func(r chi.Router) {
			r.Use(requirePerm(model.PermLessons))
			r.Get("/lessons", s.listLessons)
			r.Post("/lessons", s.createLesson)
			r.Post("/lessons/{id}/active", s.setLessonActive)
		})
		r.With(requirePerm(model.PermRefunds)).Post("/purchases/{charge}/refund", s.refundPurchase)
		r.With(requirePerm(model.PermStats)).Get("/stats", s.stats)
	})
	return r
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.health(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.addr).Bool("admin_api", s.auth != nil).Msg("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	s.log.Info().Msg("HTTP server stopped")
	return nil
}
