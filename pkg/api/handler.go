package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/username/betflow/pkg/core"
	"github.com/username/betflow/pkg/state"
	"go.uber.org/zap"
)

const transactionRequestLimit = 1 << 20 // 1 MiB

// Enqueuer accepts signed transactions for submission
type Enqueuer interface {
	Enqueue(ctx context.Context, tx core.RawTransaction) error
}

// NonceSource reports the next nonce of an account
type NonceSource interface {
	GetNonce(ctx context.Context, address core.Address) (uint64, error)
}

// Handler holds the dependencies for API handlers
type Handler struct {
	State    *state.ProjectedState
	Users    *state.UserState
	Enqueuer Enqueuer
	Nonces   NonceSource
	Logger   *zap.Logger
}

// NewRouter creates and configures the HTTP router with all API routes
func (h *Handler) NewRouter() http.Handler {
	if h.Logger == nil {
		h.Logger = zap.NewNop()
	}
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/players", h.handlePlayers)
	r.Get("/statements", h.handleStatements)
	r.Get("/votes", h.handleVotes)
	r.Get("/answers", h.handleAnswers)
	r.Get("/game", h.handleGame)
	r.Get("/blocks", h.handleBlocks)
	r.Get("/users/{address}/transactions", h.handleUserTransactions)
	r.Get("/accounts/{address}/nonce", h.handleNonce)
	r.Post("/transactions", h.handleSubmit)

	return r
}

type statementView struct {
	core.Statement
	Votes []core.EventID
}

type gameView struct {
	Stopped                 bool
	StoppedEventID          core.EventID
	PrizeDistributed        bool
	PrizeDistributedEventID core.EventID
	Winners                 []core.Address
	WinnersEventID          core.EventID
	TransferValues          map[core.EventID]string
}

func (h *Handler) handlePlayers(w http.ResponseWriter, r *http.Request) {
	players := h.State.Players()
	out := make([]core.Player, 0, len(players))
	for _, p := range players {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventID < out[j].EventID })
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleStatements(w http.ResponseWriter, r *http.Request) {
	statements := h.State.Statements()
	out := make([]statementView, 0, len(statements))
	for _, st := range statements {
		votes := make([]core.EventID, 0, len(st.Votes))
		for id := range st.Votes {
			votes = append(votes, id)
		}
		sort.Slice(votes, func(i, j int) bool { return votes[i] < votes[j] })
		out = append(out, statementView{Statement: st, Votes: votes})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventID < out[j].EventID })
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleVotes(w http.ResponseWriter, r *http.Request) {
	votes := h.State.Votes()
	out := make([]core.Vote, 0, len(votes))
	for _, v := range votes {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventID < out[j].EventID })
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleAnswers(w http.ResponseWriter, r *http.Request) {
	answers := h.State.Answers()
	out := make([]core.Answer, 0, len(answers))
	for _, a := range answers {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventID < out[j].EventID })
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGame(w http.ResponseWriter, r *http.Request) {
	g := h.State.Game()
	view := gameView{
		Stopped:                 g.Stopped,
		StoppedEventID:          g.StoppedEventID,
		PrizeDistributed:        g.PrizeDistributed,
		PrizeDistributedEventID: g.PrizeDistributedEventID,
		Winners:                 g.Winners,
		WinnersEventID:          g.WinnersEventID,
		TransferValues:          make(map[core.EventID]string, len(g.TransferValues)),
	}
	// decimal strings keep values above 2^53 intact for JS clients
	for id, v := range g.TransferValues {
		view.TransferValues[id] = v.String()
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleBlocks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.State.History())
}

func (h *Handler) handleUserTransactions(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(chi.URLParam(r, "address"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}
	writeJSON(w, http.StatusOK, h.Users.History(addr))
}

func (h *Handler) handleNonce(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(chi.URLParam(r, "address"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}
	nonce, err := h.Nonces.GetNonce(r.Context(), addr)
	if err != nil {
		h.Logger.Warn("nonce lookup failed", zap.String("address", string(addr)), zap.Error(err))
		writeError(w, http.StatusBadGateway, "nonce lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"nonce": nonce})
}

type submitRequest struct {
	RawTransaction string `json:"raw_transaction"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, transactionRequestLimit))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	var req submitRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(req.RawTransaction, "0x"))
	if err != nil || len(raw) == 0 {
		writeError(w, http.StatusBadRequest, "raw_transaction must be non-empty hex")
		return
	}

	if err := h.Enqueuer.Enqueue(r.Context(), core.RawTransaction(raw)); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			writeError(w, http.StatusServiceUnavailable, "submission queue full")
			return
		}
		h.Logger.Error("enqueue failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func parseAddress(s string) (core.Address, bool) {
	if !common.IsHexAddress(s) {
		return "", false
	}
	return core.Address(common.HexToAddress(s).Hex()), true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
