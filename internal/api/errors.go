package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dailydraw/lottery-engine/internal/draw"
	"github.com/dailydraw/lottery-engine/internal/ledger"
	"github.com/dailydraw/lottery-engine/internal/model"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errorStatus = []struct {
	err    error
	code   string
	status int
}{
	{model.ErrInvalidSelection, "invalid_selection", http.StatusBadRequest},
	{model.ErrInvalidStake, "invalid_stake", http.StatusBadRequest},
	{ledger.ErrInvalidAmount, "invalid_amount", http.StatusBadRequest},
	{draw.ErrNotSingleNumber, "not_single_number", http.StatusBadRequest},
	{model.ErrInsufficientFunds, "insufficient_funds", http.StatusPaymentRequired},
	{model.ErrPeriodNotFound, "period_not_found", http.StatusNotFound},
	{model.ErrDrawClosed, "draw_closed", http.StatusConflict},
	{model.ErrDuplicateSelection, "duplicate_selection", http.StatusConflict},
	{model.ErrAlreadyDrawn, "already_drawn", http.StatusConflict},
	{model.ErrNotYetDrawn, "not_yet_drawn", http.StatusConflict},
	{model.ErrAlreadySettled, "already_settled", http.StatusConflict},
	{model.ErrCreditDelivery, "credit_delivery_failed", http.StatusBadGateway},
}

// writeEngineError maps engine errors to HTTP statuses. Unknown errors are
// logged and reported as 500 without detail.
func writeEngineError(w http.ResponseWriter, err error) {
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			writeError(w, err.Error(), e.code, e.status)
			return
		}
	}
	slog.Error("request failed", "err", err)
	writeError(w, "internal error", "internal", http.StatusInternalServerError)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message, code string, status int) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
