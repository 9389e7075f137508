// Package api provides the HTTP handlers for placing bets, querying draw
// periods and operating the daily draw.
//
// All monetary values use shopspring/decimal and are encoded as JSON strings.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/dailydraw/lottery-engine/internal/draw"
	"github.com/dailydraw/lottery-engine/internal/model"
	"github.com/dailydraw/lottery-engine/internal/scheduler"
)

// Engine is the draw engine surface the handlers use.
type Engine interface {
	PlaceBet(ctx context.Context, userID, periodID string, selection []int, stake decimal.Decimal) (*draw.BetReceipt, error)
	CurrentPeriod(ctx context.Context) (*model.DrawPeriod, error)
	UpcomingPeriod(ctx context.Context) (*model.DrawPeriod, error)
	History(ctx context.Context, page, pageSize int) (*draw.Page, error)
	Result(ctx context.Context, periodID string) (*draw.DrawResult, error)
	UserBets(ctx context.Context, userID, periodID string) ([]model.Bet, error)
	AvailableNumbers(ctx context.Context, userID, periodID string) ([]int, error)
	Balance(ctx context.Context, userID string) (decimal.Decimal, error)
	TopUp(ctx context.Context, userID string, amount decimal.Decimal, ref string) (decimal.Decimal, error)
	Today() string
}

// Scheduler is the draw trigger surface the admin handlers use.
type Scheduler interface {
	RunManualDraw(ctx context.Context, date time.Time) bool
	SettleDrawn(ctx context.Context, periodID string) (*draw.SettlementResult, error)
	Status() scheduler.Status
	Stop()
	Restart(ctx context.Context)
}

// Handler serves the lottery API.
type Handler struct {
	engine     Engine
	sched      Scheduler
	ws         http.Handler
	adminToken string
	// base outlives requests; a restarted scheduler runs under it.
	base context.Context
}

// NewHandler creates the API handler. ws may be nil to disable the live
// event stream; an empty adminToken disables the admin routes.
func NewHandler(base context.Context, engine Engine, sched Scheduler, ws http.Handler, adminToken string) *Handler {
	return &Handler{engine: engine, sched: sched, ws: ws, adminToken: adminToken, base: base}
}

// Mount registers the /api/v1 routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		if h.ws != nil {
			r.Get("/ws", h.ws.ServeHTTP)
		}

		r.Get("/periods/current", h.CurrentPeriod)
		r.Get("/periods/upcoming", h.UpcomingPeriod)
		r.Get("/periods/history", h.History)
		r.Get("/periods/{periodID}/result", h.Result)

		r.Group(func(r chi.Router) {
			r.Use(RequireUser)
			r.Post("/bets", h.PlaceBet)
			r.Get("/bets", h.UserBets)
			r.Get("/balance", h.Balance)
			r.Get("/periods/{periodID}/available-numbers", h.AvailableNumbers)
		})

		if h.adminToken != "" {
			r.Route("/admin", func(r chi.Router) {
				r.Use(RequireAdmin(h.adminToken))
				r.Post("/draws", h.ManualDraw)
				r.Post("/draws/{periodID}/settle", h.SettleDrawn)
				r.Get("/scheduler", h.SchedulerStatus)
				r.Post("/scheduler/stop", h.StopScheduler)
				r.Post("/scheduler/restart", h.RestartScheduler)
				r.Post("/credits", h.Credit)
			})
		}
	})
}

// --- Request/Response types ---

// PlaceBetRequest is the JSON body for POST /bets. Number is shorthand for
// a one-number selection.
type PlaceBetRequest struct {
	PeriodID  string          `json:"period_id"` // YYYY-MM-DD, today when empty
	Selection []int           `json:"selection"`
	Number    *int            `json:"number,omitempty"`
	Stake     decimal.Decimal `json:"stake"` // zero means the fixed stake
}

// ManualDrawRequest is the JSON body for POST /admin/draws.
type ManualDrawRequest struct {
	Date string `json:"date"` // YYYY-MM-DD, today when empty
}

// CreditRequest is the JSON body for POST /admin/credits.
type CreditRequest struct {
	UserID    string          `json:"user_id"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference"`
}

// BalanceResponse reports a user's balance.
type BalanceResponse struct {
	UserID  string          `json:"user_id"`
	Balance decimal.Decimal `json:"balance"`
}

// --- HTTP Handlers ---

// PlaceBet handles POST /api/v1/bets
func (h *Handler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	var req PlaceBetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", "invalid_request", http.StatusBadRequest)
		return
	}
	selection := req.Selection
	if len(selection) == 0 && req.Number != nil {
		selection = []int{*req.Number}
	}

	receipt, err := h.engine.PlaceBet(r.Context(), UserID(r.Context()), req.PeriodID, selection, req.Stake)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

// UserBets handles GET /api/v1/bets?period_id=
func (h *Handler) UserBets(w http.ResponseWriter, r *http.Request) {
	bets, err := h.engine.UserBets(r.Context(), UserID(r.Context()), r.URL.Query().Get("period_id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bets)
}

// Balance handles GET /api/v1/balance
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r.Context())
	bal, err := h.engine.Balance(r.Context(), userID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{UserID: userID, Balance: bal})
}

// CurrentPeriod handles GET /api/v1/periods/current
func (h *Handler) CurrentPeriod(w http.ResponseWriter, r *http.Request) {
	p, err := h.engine.CurrentPeriod(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// UpcomingPeriod handles GET /api/v1/periods/upcoming
func (h *Handler) UpcomingPeriod(w http.ResponseWriter, r *http.Request) {
	p, err := h.engine.UpcomingPeriod(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// History handles GET /api/v1/periods/history?page=&page_size=
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	page, err := intParam(r, "page", 1)
	if err != nil {
		writeError(w, err.Error(), "invalid_request", http.StatusBadRequest)
		return
	}
	size, err := intParam(r, "page_size", draw.DefaultPageSize)
	if err != nil {
		writeError(w, err.Error(), "invalid_request", http.StatusBadRequest)
		return
	}

	p, err := h.engine.History(r.Context(), page, size)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Result handles GET /api/v1/periods/{periodID}/result
func (h *Handler) Result(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.Result(r.Context(), chi.URLParam(r, "periodID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// AvailableNumbers handles GET /api/v1/periods/{periodID}/available-numbers
// The literal period ID "current" means today.
func (h *Handler) AvailableNumbers(w http.ResponseWriter, r *http.Request) {
	periodID := chi.URLParam(r, "periodID")
	if periodID == "current" {
		periodID = h.engine.Today()
	}
	nums, err := h.engine.AvailableNumbers(r.Context(), UserID(r.Context()), periodID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"period_id": periodID, "numbers": nums})
}

// ManualDraw handles POST /api/v1/admin/draws
// Draws and settles the period of the given date right away.
func (h *Handler) ManualDraw(w http.ResponseWriter, r *http.Request) {
	var req ManualDrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, "invalid request body", "invalid_request", http.StatusBadRequest)
		return
	}
	periodID := req.Date
	if periodID == "" {
		periodID = h.engine.Today()
	}
	date, err := model.ParsePeriodID(periodID)
	if err != nil {
		writeError(w, "date must be YYYY-MM-DD", "invalid_request", http.StatusBadRequest)
		return
	}

	if !h.sched.RunManualDraw(r.Context(), date) {
		writeError(w, "draw not performed for "+periodID+": period is not open or settlement failed",
			"draw_not_performed", http.StatusConflict)
		return
	}
	res, err := h.engine.Result(r.Context(), periodID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	slog.Info("manual draw completed", "period", periodID, "winning", res.Period.WinningSelection)
	writeJSON(w, http.StatusOK, res)
}

// SettleDrawn handles POST /api/v1/admin/draws/{periodID}/settle
// Retries the settlement of a period left drawn by failed prize credits.
func (h *Handler) SettleDrawn(w http.ResponseWriter, r *http.Request) {
	res, err := h.sched.SettleDrawn(r.Context(), chi.URLParam(r, "periodID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// SchedulerStatus handles GET /api/v1/admin/scheduler
func (h *Handler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sched.Status())
}

// StopScheduler handles POST /api/v1/admin/scheduler/stop
func (h *Handler) StopScheduler(w http.ResponseWriter, r *http.Request) {
	h.sched.Stop()
	writeJSON(w, http.StatusOK, h.sched.Status())
}

// RestartScheduler handles POST /api/v1/admin/scheduler/restart
func (h *Handler) RestartScheduler(w http.ResponseWriter, r *http.Request) {
	h.sched.Restart(h.base)
	writeJSON(w, http.StatusOK, h.sched.Status())
}

// Credit handles POST /api/v1/admin/credits
// Applies an opaque top-up; the reference makes retries safe.
func (h *Handler) Credit(w http.ResponseWriter, r *http.Request) {
	var req CreditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", "invalid_request", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.Reference == "" {
		writeError(w, "user_id and reference are required", "invalid_request", http.StatusBadRequest)
		return
	}

	bal, err := h.engine.TopUp(r.Context(), req.UserID, req.Amount, req.Reference)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	slog.Info("balance credited", "user", req.UserID, "amount", req.Amount.String(), "ref", req.Reference)
	writeJSON(w, http.StatusOK, BalanceResponse{UserID: req.UserID, Balance: bal})
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.New(name + " must be an integer")
	}
	return n, nil
}
