// Package server exposes the ProtectedPay client over HTTP: signed,
// idempotent write routes, read routes and a websocket stream of contract
// events.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"protectedpay/internal/config"
	"protectedpay/internal/hmacauth"
	"protectedpay/internal/idempotency"
	"protectedpay/internal/protectedpay"
	"protectedpay/internal/wallet"
)

const (
	HeaderIdempotencyKey = "X-Idempotency-Key"
	HeaderRequestID      = "X-Request-Id"
)

// Wallet is the session surface the API drives. *wallet.Manager implements it.
type Wallet interface {
	Connect(ctx context.Context) (wallet.Session, error)
	Disconnect()
	Current() (wallet.Session, bool)
	RefreshBalance(ctx context.Context) (wallet.Session, error)
	Signer() protectedpay.Signer
}

type Options struct {
	Config *config.AppConfig
	Client protectedpay.Client
	Wallet Wallet
	Store  idempotency.Store
	Logger *zap.Logger
}

type Server struct {
	cfg     *config.AppConfig
	client  protectedpay.Client
	wallet  Wallet
	store   idempotency.Store
	logger  *zap.Logger
	hmac    *hmacauth.Verifier
	metrics *metricsRegistry
	hub     *eventHub

	httpServer  *http.Server
	dbHealthFn  func(context.Context) error
	rpcHealthFn func(context.Context) error

	// resubscribeDelay is the first wait before reopening a lost event
	// subscription; it doubles per failed attempt up to maxResubscribeDelay.
	resubscribeDelay time.Duration

	mu         sync.Mutex
	stopEvents context.CancelFunc
	eventsDone chan struct{}
}

const maxResubscribeDelay = time.Minute

func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := newMetricsRegistry()

	s := &Server{
		cfg:     opts.Config,
		client:  opts.Client,
		wallet:  opts.Wallet,
		store:   opts.Store,
		logger:  logger,
		metrics: metrics,
		hub:     newEventHub(logger, metrics),

		resubscribeDelay: time.Second,
	}
	s.hmac = &hmacauth.Verifier{
		Secret:  opts.Config.Service.HMACSecret,
		MaxSkew: opts.Config.Service.HMACClockSkew,
		Logger:  logger,
		OnReject: func(*http.Request, error) {
			metrics.incAuthRejection()
		},
	}

	if checker, ok := opts.Store.(interface{ Ping(context.Context) error }); ok {
		s.dbHealthFn = checker.Ping
	}
	if checker, ok := opts.Client.(protectedpay.HealthChecker); ok {
		s.rpcHealthFn = checker.Ping
	}

	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(opts.Config.Service.HTTPPort),
		Handler:           s.routes(),
		ReadHeaderTimeout: 15 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(middleware.RealIP)
	r.Use(loggerMiddleware(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.Service.CORSAllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", HeaderIdempotencyKey,
			hmacauth.HeaderSignature, hmacauth.HeaderTimestamp},
		ExposedHeaders: []string{HeaderRequestID},
		MaxAge:         300,
	}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Method(http.MethodGet, "/metrics", s.metrics.handler())
		r.Get("/events", s.hub.serveWS)

		r.Get("/session", s.handleSession)
		r.Get("/users/{address}", s.handleGetUser)
		r.Get("/users/{address}/profile", s.handleGetProfile)
		r.Get("/usernames/{username}", s.handleGetUsername)
		r.Get("/transfers/{id}", s.handleGetTransfer)
		r.Get("/accounts/{address}/pending-transfers", s.handlePendingTransfers)
		r.Get("/accounts/{address}/refundable-transfers", s.handleRefundableTransfers)
		r.Get("/accounts/{address}/transfers", s.handleUserTransfers)
		r.Get("/group-payments/{id}", s.handleGetGroupPayment)
		r.Get("/group-payments/{id}/contributions/{address}", s.handleGetContribution)
		r.Get("/savings-pots/{id}", s.handleGetSavingsPot)

		r.Group(func(r chi.Router) {
			r.Use(s.hmac.Middleware)
			r.Post("/session/connect", s.handleConnect)
			r.Post("/session/disconnect", s.handleDisconnect)

			r.Post("/users/register", s.idempotent(opRegister, s.register))
			r.Post("/transfers", s.idempotent(opSend, s.send))
			r.Post("/transfers/claim", s.idempotent(opClaim, s.claim))
			r.Post("/transfers/{id}/refund", s.idempotent(opRefund, s.refund))
			r.Post("/group-payments", s.idempotent(opCreateGroupPayment, s.createGroupPayment))
			r.Post("/group-payments/{id}/contributions", s.idempotent(opContributeGroupPayment, s.contributeGroupPayment))
			r.Post("/savings-pots", s.idempotent(opCreateSavingsPot, s.createSavingsPot))
			r.Post("/savings-pots/{id}/contributions", s.idempotent(opContributeSavingsPot, s.contributeSavingsPot))
			r.Post("/savings-pots/{id}/break", s.idempotent(opBreakPot, s.breakPot))
		})
	})
	return r
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// StartEvents subscribes to contract events and fans them out to stream
// clients until Shutdown. A subscription that ends on its own is reopened.
func (s *Server) StartEvents(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopEvents != nil {
		return nil
	}
	sub, err := s.client.SubscribeEvents(ctx, s.hub.broadcast)
	if err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.stopEvents, s.eventsDone = cancel, done
	go s.superviseEvents(runCtx, sub, done)
	return nil
}

// RestartEvents replaces the event subscription with a fresh one.
func (s *Server) RestartEvents(ctx context.Context) error {
	s.stopEventStream()
	return s.StartEvents(ctx)
}

func (s *Server) stopEventStream() {
	s.mu.Lock()
	cancel, done := s.stopEvents, s.eventsDone
	s.stopEvents, s.eventsDone = nil, nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (s *Server) superviseEvents(ctx context.Context, sub event.Subscription, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			sub.Unsubscribe()
			return
		case err := <-sub.Err():
			sub.Unsubscribe()
			s.logger.Warn("event subscription ended, resubscribing", zap.Error(err))
		}

		delay := s.resubscribeDelay
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			next, err := s.client.SubscribeEvents(ctx, s.hub.broadcast)
			if err == nil {
				sub = next
				s.metrics.incResubscribe()
				s.logger.Info("event subscription restored")
				break
			}
			delay = min(delay*2, maxResubscribeDelay)
			s.logger.Warn("resubscribe failed", zap.Duration("retry_in", delay), zap.Error(err))
		}
	}
}

// Start serves HTTP until Shutdown.
func (s *Server) Start(ctx context.Context) error {
	if err := s.StartEvents(ctx); err != nil {
		s.logger.Warn("event stream disabled", zap.Error(err))
	}
	s.logger.Info("API listening", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.stopEventStream()
	s.hub.close()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	overallHealthy := true

	rpcInfo := struct {
		Connected bool    `json:"connected"`
		LatencyMs float64 `json:"latency_ms"`
		Error     string  `json:"error,omitempty"`
	}{}

	if s.rpcHealthFn != nil {
		start := time.Now()
		rpcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.rpcHealthFn(rpcCtx); err != nil {
			rpcInfo.Error = err.Error()
			overallHealthy = false
		} else {
			rpcInfo.Connected = true
			rpcInfo.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
		}
	} else {
		rpcInfo.Connected = true
	}

	storeInfo := struct {
		Connected bool   `json:"connected"`
		Error     string `json:"error,omitempty"`
	}{Connected: true}

	if s.dbHealthFn != nil {
		dbCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.dbHealthFn(dbCtx); err != nil {
			storeInfo.Connected = false
			storeInfo.Error = err.Error()
			overallHealthy = false
		}
	}

	_, connected := s.wallet.Current()

	status := "healthy"
	if !overallHealthy {
		status = "degraded"
	}

	resp := struct {
		Status        string      `json:"status"`
		RPC           interface{} `json:"rpc"`
		Store         interface{} `json:"store"`
		Session       bool        `json:"session"`
		StreamClients int         `json:"stream_clients"`
	}{
		Status:        status,
		RPC:           rpcInfo,
		Store:         storeInfo,
		Session:       connected,
		StreamClients: s.hub.size(),
	}

	w.Header().Set("Content-Type", "application/json")
	if !overallHealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(HeaderRequestID, id)
		}
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r)
	})
}

func loggerMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Info("http request",
				zap.String("request_id", r.Header.Get(HeaderRequestID)),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr))
		})
	}
}
