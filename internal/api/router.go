// Package api exposes the offramp flow over HTTP and streams order status
// changes over websockets.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"offramp_go/internal/clock"
	"offramp_go/internal/domain"
	"offramp_go/internal/engine"
	"offramp_go/internal/infra"
	"offramp_go/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
)

// Services is everything the handlers call into.
type Services struct {
	Offramp   *service.Offramp
	Orders    *service.OrderStore
	Rates     *service.RateProvider
	Flow      *service.BankDetailFlow
	Submitter *service.Submitter
	Poller    *service.StatusPoller
	Events    *engine.Dispatcher
	// Wallet signs on behalf of the session. Nil means no wallet is connected.
	Wallet  domain.Wallet
	Logos   *infra.LogoCache
	Metrics *infra.Metrics
	Clock   clock.Clock
}

// Options configures the router.
type Options struct {
	AllowedOrigins []string
	RequestTimeout time.Duration
}

// Server holds the HTTP handlers.
type Server struct {
	svc      Services
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewServer(svc Services) *Server {
	if svc.Metrics == nil {
		svc.Metrics = infra.GlobalMetrics
	}
	if svc.Clock == nil {
		svc.Clock = clock.NewSystem()
	}
	return &Server{
		svc:    svc,
		logger: slog.Default().With(slog.String("module", "api")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Router builds the chi router with middleware and every route.
func (s *Server) Router(opts Options) *chi.Mux {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://*", "https://*"}
	}
	s.upgrader.CheckOrigin = originChecker(origins)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         300,
	}))

	// Streams outlive the request timeout.
	r.Get("/orders/{id}/stream", s.handleStream)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(opts.RequestTimeout))

		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)
		r.Get("/banks", s.handleBanks)
		r.Get("/assets", s.handleAssets)
		r.Get("/rates/{asset}/{chain}", s.handleRate)
		r.Post("/quotes", s.handleQuote)

		r.Get("/accounts", s.handleListAccounts)
		r.Delete("/accounts/{id}", s.handleDeleteAccount)

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", s.handleCreateOrder)
			r.Get("/latest", s.handleLatestOrder)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetOrder)
				r.Post("/refresh", s.handleRefresh)
				r.Post("/bank-details", s.handleBankDetails)
				r.Post("/back", s.handleBack)
				r.Post("/sign", s.handleSign)
				r.Post("/submit", s.handleSubmit)
				r.Get("/receipt", s.handleReceipt)
			})
		})
	})
	return r
}

// requestLogger logs one structured line per request.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		level := slog.LevelInfo
		if ww.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		s.logger.Log(r.Context(), level, "HTTP request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Int("bytes", ww.BytesWritten()),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
