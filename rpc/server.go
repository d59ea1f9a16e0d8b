package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"vaultdca/native/dca"
	nativecommon "vaultdca/native/common"
)

// Server exposes the DCA engine over HTTP for operators and integrations.
// It is a thin mapping layer: all validation and accounting live in the
// engine.
type Server struct {
	engine  *dca.Engine
	logger  *slog.Logger
	limiter *rate.Limiter
}

// NewServer builds a server around the engine. The limiter caps the total
// request rate across all clients; nil disables limiting.
func NewServer(engine *dca.Engine, logger *slog.Logger, limiter *rate.Limiter) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{engine: engine, logger: logger, limiter: limiter}
}

// Router assembles the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.throttle)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Route("/v1", func(r chi.Router) {
		r.Get("/global", s.handleGlobal)
		r.Get("/epochs/{epoch}", s.handleEpoch)
		r.Get("/positions/{addr}", s.handlePosition)
		r.Post("/positions/{addr}/deposit", s.handleDeposit)
		r.Post("/positions/{addr}/withdraw", s.handleWithdraw)
		r.Post("/dca/execute", s.handleExecute)
	})
	return r
}

func (s *Server) throttle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, errors.New("rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

type globalResponse struct {
	CurrentEpoch      uint64 `json:"currentEpoch"`
	EpochStartTime    int64  `json:"epochStartTime"`
	EpochInterval     int64  `json:"epochInterval"`
	TotalPrincipal    string `json:"totalPrincipal"`
	TotalShares       string `json:"totalShares"`
	TokenBalance      string `json:"tokenBalance"`
	PendingAllocation string `json:"pendingAllocation"`
}

func (s *Server) handleGlobal(w http.ResponseWriter, r *http.Request) {
	g, err := s.engine.Global()
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, globalResponse{
		CurrentEpoch:      g.CurrentEpoch,
		EpochStartTime:    g.EpochStartTime,
		EpochInterval:     g.EpochInterval,
		TotalPrincipal:    g.TotalPrincipal.String(),
		TotalShares:       g.TotalShares.String(),
		TokenBalance:      g.TokenBalance.String(),
		PendingAllocation: g.PendingAllocation.String(),
	})
}

type epochResponse struct {
	Epoch             uint64 `json:"epoch"`
	TotalPrincipal    string `json:"totalPrincipal"`
	YieldConverted    string `json:"yieldConverted"`
	SharesRedeemed    string `json:"sharesRedeemed"`
	TokensBought      string `json:"tokensBought"`
	ConversionRateWad string `json:"conversionRateWad"`
	SharePriceWad     string `json:"sharePriceWad"`
	ExecutedAt        int64  `json:"executedAt"`
}

func (s *Server) handleEpoch(w http.ResponseWriter, r *http.Request) {
	epoch, err := strconv.ParseUint(chi.URLParam(r, "epoch"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("epoch must be a positive integer"))
		return
	}
	rec, err := s.engine.EpochAt(epoch)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, epochResponse{
		Epoch:             rec.Epoch,
		TotalPrincipal:    rec.TotalPrincipal.String(),
		YieldConverted:    rec.YieldConverted.String(),
		SharesRedeemed:    rec.SharesRedeemed.String(),
		TokensBought:      rec.TokensBought.String(),
		ConversionRateWad: rec.ConversionRateWad.String(),
		SharePriceWad:     rec.SharePriceWad.String(),
		ExecutedAt:        rec.ExecutedAt,
	})
}

type positionResponse struct {
	Owner           string `json:"owner"`
	PrincipalShares string `json:"principalShares"`
	PrincipalAssets string `json:"principalAssets"`
	CheckpointEpoch uint64 `json:"checkpointEpoch"`
	SettledTokens   string `json:"settledTokens"`
	PreviewTokens   string `json:"previewTokens"`
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	owner, err := parseAddr(chi.URLParam(r, "addr"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	pos, err := s.engine.PositionOf(owner)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	preview, err := s.engine.PreviewSettle(owner)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, positionResponse{
		Owner:           hex.EncodeToString(pos.Owner[:]),
		PrincipalShares: pos.PrincipalShares.String(),
		PrincipalAssets: pos.PrincipalAssets.String(),
		CheckpointEpoch: pos.CheckpointEpoch,
		SettledTokens:   pos.SettledTokens.String(),
		PreviewTokens:   preview.String(),
	})
}

type depositRequest struct {
	Shares string `json:"shares"`
}

type depositResponse struct {
	CreditedAssets string `json:"creditedAssets"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	owner, err := parseAddr(chi.URLParam(r, "addr"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("malformed request body"))
		return
	}
	shares, err := parseAmount(req.Shares)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	assets, err := s.engine.Deposit(owner, shares)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.logger.Info("deposit accepted", "owner", hex.EncodeToString(owner[:]), "shares", shares.String())
	writeJSON(w, http.StatusOK, depositResponse{CreditedAssets: assets.String()})
}

type withdrawRequest struct {
	// Shares to withdraw; omitted or "all" exits the whole position. "0" is
	// a claim-only call.
	Shares string `json:"shares"`
}

type withdrawResponse struct {
	Assets     string `json:"assets"`
	TokensPaid string `json:"tokensPaid"`
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	owner, err := parseAddr(chi.URLParam(r, "addr"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req withdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("malformed request body"))
		return
	}

	var assets, tokens *big.Int
	if req.Shares == "" || strings.EqualFold(req.Shares, "all") {
		assets, tokens, err = s.engine.WithdrawAll(owner)
	} else {
		var shares *big.Int
		shares, err = parseAmount(req.Shares)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		assets, tokens, err = s.engine.Withdraw(owner, shares)
	}
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.logger.Info("withdrawal processed", "owner", hex.EncodeToString(owner[:]), "assets", assets.String(), "tokensPaid", tokens.String())
	writeJSON(w, http.StatusOK, withdrawResponse{Assets: assets.String(), TokensPaid: tokens.String()})
}

type executeRequest struct {
	Caller       string `json:"caller"`
	MinTokensOut string `json:"minTokensOut,omitempty"`
	RoutingData  string `json:"routingData,omitempty"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("malformed request body"))
		return
	}
	caller, err := parseAddr(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var minOut *big.Int
	if req.MinTokensOut != "" {
		minOut, err = parseAmount(req.MinTokensOut)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	var routing []byte
	if req.RoutingData != "" {
		routing, err = hex.DecodeString(strings.TrimPrefix(req.RoutingData, "0x"))
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("routingData must be hex"))
			return
		}
	}
	rec, err := s.engine.ExecuteDCA(caller, minOut, routing)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.logger.Info("epoch executed", "epoch", rec.Epoch, "tokensBought", rec.TokensBought.String())
	writeJSON(w, http.StatusOK, epochResponse{
		Epoch:             rec.Epoch,
		TotalPrincipal:    rec.TotalPrincipal.String(),
		YieldConverted:    rec.YieldConverted.String(),
		SharesRedeemed:    rec.SharesRedeemed.String(),
		TokensBought:      rec.TokensBought.String(),
		ConversionRateWad: rec.ConversionRateWad.String(),
		SharePriceWad:     rec.SharePriceWad.String(),
		ExecutedAt:        rec.ExecutedAt,
	})
}

// writeEngineError maps engine errors onto HTTP statuses. Precondition
// failures stay distinguishable through the error message.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, dca.ErrPositionNotFound), errors.Is(err, dca.ErrEpochNotFound), errors.Is(err, dca.ErrEpochInFuture):
		status = http.StatusNotFound
	case errors.Is(err, dca.ErrInvalidAmount), errors.Is(err, dca.ErrIntervalOutOfBounds):
		status = http.StatusBadRequest
	case errors.Is(err, dca.ErrInsufficientShares),
		errors.Is(err, dca.ErrIntervalNotElapsed),
		errors.Is(err, dca.ErrNoPrincipal),
		errors.Is(err, dca.ErrNoYield),
		errors.Is(err, dca.ErrAmountTooLow):
		status = http.StatusConflict
	case errors.Is(err, nativecommon.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, nativecommon.ErrModulePaused):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	writeError(w, status, err)
}

func parseAddr(raw string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil || len(decoded) != 20 {
		return addr, errors.New("address must be 20 hex-encoded bytes")
	}
	copy(addr[:], decoded)
	return addr, nil
}

func parseAmount(raw string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return nil, errors.New("amount must be a base-10 integer")
	}
	return v, nil
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
