package main

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"poolflow/auth"
	"poolflow/dispute"
	"poolflow/pool"
	"poolflow/timeline"
	"poolflow/wallet"
)

type ctxKey string

const ctxKeyAddress ctxKey = "address"

type poolService interface {
	Deploy(ctx context.Context, params pool.DeployParams) (pool.State, error)
	Get(ctx context.Context, address pool.Address) (pool.State, error)
	Players(ctx context.Context, address pool.Address) ([]pool.Address, error)
	Governance(ctx context.Context, address pool.Address) (pool.Governance, error)
	Enter(ctx context.Context, address, caller pool.Address, value *big.Int) (pool.State, error)
	PickWinner(ctx context.Context, address, caller pool.Address) (pool.Payout, error)
	RaiseDispute(ctx context.Context, address, caller pool.Address, reason string) (dispute.Record, error)
	ResolveDispute(ctx context.Context, address, caller pool.Address, note string) (pool.Resolution, error)
}

type disputeService interface {
	List(ctx context.Context, poolAddress string, status dispute.Status) ([]dispute.Record, error)
	Get(ctx context.Context, id string) (dispute.Record, error)
}

type eventService interface {
	List(ctx context.Context, filter timeline.Filter) ([]timeline.Event, error)
}

type walletService interface {
	GetByAddress(ctx context.Context, address string) (wallet.Account, error)
	Deposit(ctx context.Context, address string, amount *big.Int) (wallet.Account, error)
	SetAcceptsFunds(ctx context.Context, address string, accepts bool) (wallet.Account, error)
}

type authService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.Credential, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	VerifyToken(token string) (pool.Address, error)
}

// Server wires the HTTP surface to the domain services.
type Server struct {
	poolService    poolService
	disputeService disputeService
	eventService   eventService
	walletService  walletService
	authService    authService
	logger         log.FieldLogger
}

func (s *Server) log() log.FieldLogger {
	if s.logger == nil {
		return log.StandardLogger()
	}
	return s.logger
}

// Routes builds the router. Reads are public like contract views; every
// state-changing call acts as the address bound to the bearer token.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	r.Route("/api", func(api chi.Router) {
		api.Post("/auth/register", s.handleRegister)
		api.Post("/auth/login", s.handleLogin)

		api.Get("/pools/{address}", s.handlePool)
		api.Get("/pools/{address}/players", s.handlePlayers)
		api.Get("/pools/{address}/governance", s.handleGovernance)
		api.Get("/pools/{address}/events", s.handleEvents)
		api.Get("/pools/{address}/disputes", s.handleListDisputes)
		api.Get("/disputes/{id}", s.handleDispute)

		api.Group(func(authed chi.Router) {
			authed.Use(s.requireAuth)

			authed.Post("/pools", s.handleDeploy)
			authed.Post("/pools/{address}/entries", s.handleEnter)
			authed.Post("/pools/{address}/payouts", s.handlePickWinner)
			authed.Post("/pools/{address}/disputes", s.handleRaiseDispute)
			authed.Post("/pools/{address}/disputes/resolve", s.handleResolveDispute)

			authed.Get("/wallet", s.handleWallet)
			authed.Post("/wallet/deposits", s.handleDeposit)
			authed.Put("/wallet/accepts-funds", s.handleAcceptsFunds)
		})
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log().WithFields(log.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration":   time.Since(start),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("request served")
	})
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "missing bearer token")
			return
		}
		address, err := s.authService.VerifyToken(strings.TrimSpace(token))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyAddress, address)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func callerFrom(ctx context.Context) (pool.Address, bool) {
	address, ok := ctx.Value(ctxKeyAddress).(pool.Address)
	return address, ok && !address.IsZero()
}

func poolParam(w http.ResponseWriter, r *http.Request) (pool.Address, bool) {
	address, err := pool.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ADDRESS", "invalid pool address")
		return "", false
	}
	return address, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_JSON", "invalid request body")
		return false
	}
	return true
}

func parseWei(s string) (*big.Int, bool) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return nil, false
	}
	return v, true
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

// writeDomainError maps service sentinels to HTTP statuses. Order matters:
// ErrTransferFailed wraps the wallet's rejection, which alone maps the same way.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pool.ErrTransferFailed):
		writeError(w, http.StatusUnprocessableEntity, "TRANSFER_FAILED", err.Error())
	case errors.Is(err, wallet.ErrRejected):
		writeError(w, http.StatusUnprocessableEntity, "FUNDS_REJECTED", err.Error())
	case errors.Is(err, pool.ErrReservedAddress), errors.Is(err, wallet.ErrReservedAddress):
		writeError(w, http.StatusForbidden, "RESERVED_ADDRESS", err.Error())
	case errors.Is(err, pool.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "UNAUTHORIZED", err.Error())
	case errors.Is(err, pool.ErrNotAParticipant):
		writeError(w, http.StatusForbidden, "NOT_A_PARTICIPANT", err.Error())
	case errors.Is(err, pool.ErrInsufficientStake):
		writeError(w, http.StatusBadRequest, "INSUFFICIENT_STAKE", err.Error())
	case errors.Is(err, pool.ErrInvalidAddress):
		writeError(w, http.StatusBadRequest, "INVALID_ADDRESS", err.Error())
	case errors.Is(err, pool.ErrEmptyPool):
		writeError(w, http.StatusConflict, "EMPTY_POOL", err.Error())
	case errors.Is(err, pool.ErrNoActiveDispute):
		writeError(w, http.StatusConflict, "NO_ACTIVE_DISPUTE", err.Error())
	case errors.Is(err, pool.ErrDisputeActive), errors.Is(err, dispute.ErrAlreadyActive):
		writeError(w, http.StatusConflict, "DISPUTE_ACTIVE", err.Error())
	case errors.Is(err, pool.ErrPayoutInProgress):
		writeError(w, http.StatusConflict, "PAYOUT_IN_PROGRESS", err.Error())
	case errors.Is(err, pool.ErrAlreadyDeployed), errors.Is(err, auth.ErrAlreadyRegistered),
		errors.Is(err, wallet.ErrAccountExists):
		writeError(w, http.StatusConflict, "ALREADY_EXISTS", err.Error())
	case errors.Is(err, wallet.ErrInsufficientFunds):
		writeError(w, http.StatusPaymentRequired, "INSUFFICIENT_FUNDS", err.Error())
	case errors.Is(err, wallet.ErrInvalidAmount), errors.Is(err, dispute.ErrBadStatus),
		errors.Is(err, timeline.ErrMissingPool), errors.Is(err, auth.ErrWeakPassphrase):
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	case errors.Is(err, pool.ErrNotFound), errors.Is(err, wallet.ErrNotFound),
		errors.Is(err, dispute.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", err.Error())
	default:
		s.log().WithError(err).Error("unhandled service error")
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}
