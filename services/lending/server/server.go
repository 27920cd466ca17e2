package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"lendrisk/native/lending"
	"lendrisk/services/lending/engine"
	"lendrisk/services/lending/pricing"
)

const defaultBodyLimit = 1 << 20 // 1 MiB

// PriceFeed is the price source the API pushes observations into.
type PriceFeed interface {
	UpdateAll(observations []pricing.Observation) error
	Quotes(now time.Time) []pricing.Quote
}

// SweepRunner triggers an out of schedule overdue sweep.
type SweepRunner interface {
	RunOnce(ctx context.Context) (engine.SweepReport, error)
}

// Config controls the HTTP surface.
type Config struct {
	ServiceName    string
	Auth           AuthConfig
	RateLimit      RateLimit
	RequestTimeout time.Duration
	MaxBodyBytes   int64
	LogRequests    bool
}

// Server exposes the lending service over HTTP/JSON.
type Server struct {
	svc     *engine.Service
	feed    PriceFeed
	sweeps  SweepRunner
	cfg     Config
	logger  *slog.Logger
	auth    *Authenticator
	limiter *RateLimiter
	obs     *Observability
	clock   func() time.Time
}

// Option customises a Server.
type Option func(*Server)

// WithSweeper exposes POST /v1/sweeps.
func WithSweeper(runner SweepRunner) Option {
	return func(s *Server) { s.sweeps = runner }
}

// WithClock overrides the time source used to stamp price observations.
func WithClock(clock func() time.Time) Option {
	return func(s *Server) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// New constructs a Server. svc is required; a nil feed disables the price
// routes.
func New(svc *engine.Service, feed PriceFeed, cfg Config, logger *slog.Logger, opts ...Option) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("server: lending service required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultBodyLimit
	}
	s := &Server{
		svc:     svc,
		feed:    feed,
		cfg:     cfg,
		logger:  logger,
		auth:    NewAuthenticator(cfg.Auth, logger),
		limiter: NewRateLimiter(cfg.RateLimit),
		obs:     NewObservability(cfg.ServiceName, cfg.LogRequests, logger),
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.obs.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", s.obs.MetricsHandler())

	r.Route("/v1", func(v chi.Router) {
		v.Use(s.limiter.Middleware)
		v.Post("/quotes", s.handleQuote)
		v.Get("/loans/{id}", s.handleStatus)
		if s.feed != nil {
			v.Get("/prices", s.handleListPrices)
		}

		v.Group(func(m chi.Router) {
			m.Use(s.auth.Middleware)
			m.Post("/loans", s.handleCreateLoan)
			m.Post("/loans/{id}/fund", s.handleFund)
			m.Post("/loans/{id}/collateral/deposit", s.handleDeposit)
			m.Post("/loans/{id}/collateral/withdraw", s.handleWithdraw)
			m.Post("/loans/{id}/payments", s.handlePayment)
			m.Post("/loans/{id}/settle", s.handleSettle)
			m.Post("/loans/{id}/default", s.handleDefault)
			m.Post("/loans/{id}/archive", s.handleArchive)
			if s.feed != nil {
				m.Post("/prices", s.handlePushPrices)
			}
			if s.sweeps != nil {
				m.Post("/sweeps", s.handleSweep)
			}
		})
	})
	return r
}

type quoteRequest struct {
	Terms  lending.LoanTerms   `json:"terms"`
	Market lending.MarketState `json:"market"`
}

type fundRequest struct {
	Deposits []lending.Deposit `json:"deposits"`
}

type withdrawRequest struct {
	AssetID string          `json:"assetId"`
	Amount  decimal.Decimal `json:"amount"`
}

type amountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type pricesRequest struct {
	Observations []pricing.Observation `json:"observations"`
}

type pricesResponse struct {
	Accepted int             `json:"accepted"`
	Quotes   []pricing.Quote `json:"quotes"`
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if !s.decode(w, r, &req) {
		return
	}
	ctx, cancel := s.context(r)
	defer cancel()
	quote, err := s.svc.Quote(ctx, req.Terms, req.Market)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

func (s *Server) handleCreateLoan(w http.ResponseWriter, r *http.Request) {
	var req engine.CreateLoanRequest
	if !s.decode(w, r, &req) {
		return
	}
	ctx, cancel := s.context(r)
	defer cancel()
	loan, err := s.svc.CreateLoan(ctx, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/loans/"+loan.ID)
	writeJSON(w, http.StatusCreated, loan)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.context(r)
	defer cancel()
	view, err := s.svc.Status(ctx, chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleFund(w http.ResponseWriter, r *http.Request) {
	var req fundRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.respondState(w, r, func(ctx context.Context, id string) (*engine.LoanState, error) {
		return s.svc.FundLoan(ctx, id, req.Deposits)
	})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req lending.Deposit
	if !s.decode(w, r, &req) {
		return
	}
	s.respondState(w, r, func(ctx context.Context, id string) (*engine.LoanState, error) {
		return s.svc.DepositCollateral(ctx, id, req)
	})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.respondState(w, r, func(ctx context.Context, id string) (*engine.LoanState, error) {
		return s.svc.WithdrawCollateral(ctx, id, req.AssetID, req.Amount)
	})
}

func (s *Server) handlePayment(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !s.decode(w, r, &req) {
		return
	}
	ctx, cancel := s.context(r)
	defer cancel()
	receipt, err := s.svc.ApplyPayment(ctx, chi.URLParam(r, "id"), req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.respondState(w, r, func(ctx context.Context, id string) (*engine.LoanState, error) {
		return s.svc.SettleEarly(ctx, id, req.Amount)
	})
}

func (s *Server) handleDefault(w http.ResponseWriter, r *http.Request) {
	s.respondState(w, r, s.svc.MarkDefaulted)
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.context(r)
	defer cancel()
	loan, err := s.svc.ArchiveLoan(ctx, chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (s *Server) handleListPrices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, pricesResponse{Quotes: s.feed.Quotes(s.clock())})
}

func (s *Server) handlePushPrices(w http.ResponseWriter, r *http.Request) {
	var req pricesRequest
	if !s.decode(w, r, &req) {
		return
	}
	if len(req.Observations) == 0 {
		s.writeError(w, r, fmt.Errorf("%w: observations required", errBadRequest))
		return
	}
	now := s.clock().UTC()
	subject := SubjectFromContext(r.Context())
	batch := make([]pricing.Observation, len(req.Observations))
	for i, obs := range req.Observations {
		if obs.ObservedAt.IsZero() {
			obs.ObservedAt = now
		}
		if obs.Source == "" {
			obs.Source = subject
		}
		batch[i] = obs
	}
	if err := s.feed.UpdateAll(batch); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, pricesResponse{Accepted: len(batch), Quotes: s.feed.Quotes(now)})
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.context(r)
	defer cancel()
	report, err := s.sweeps.RunOnce(ctx)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) respondState(w http.ResponseWriter, r *http.Request, op func(context.Context, string) (*engine.LoanState, error)) {
	ctx, cancel := s.context(r)
	defer cancel()
	state, err := op(ctx, chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) context(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
}

// decode reads a JSON body, writing a 400 response and returning false when
// the body is malformed.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			err = fmt.Errorf("%w: request body required", errBadRequest)
		} else {
			err = fmt.Errorf("%w: %s", errBadRequest, strings.TrimPrefix(err.Error(), "json: "))
		}
		s.writeError(w, r, err)
		return false
	}
	return true
}
