package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/boddenberg/fatura-engine/internal/domain"
	"github.com/boddenberg/fatura-engine/internal/ingest"
	"github.com/boddenberg/fatura-engine/internal/invoice"
)

// ============================================================
// Shared helper functions
// ============================================================

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// parseAsOf reads an optional date query parameter. The zero time means
// "today" to the service.
func parseAsOf(r *http.Request, name string) (time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return time.Time{}, nil
	}
	t, ok := ingest.ParseDate(v)
	if !ok {
		return time.Time{}, &domain.ErrValidation{Field: name, Message: "invalid date: " + v}
	}
	return t, nil
}

func parseIntParam(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, &domain.ErrValidation{Field: name, Message: "must be a non-negative integer"}
	}
	return n, nil
}

// forecastMonths maps an API horizon to the builder's. Absent means the
// configured default; an explicit 0 means no forecast.
func forecastMonths(n *int) int {
	if n == nil {
		return 0
	}
	if *n == 0 {
		return invoice.NoForecast
	}
	return *n
}

func parseForecastParam(r *http.Request, name string) (int, error) {
	if !r.URL.Query().Has(name) {
		return forecastMonths(nil), nil
	}
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || n < 0 {
		return 0, &domain.ErrValidation{Field: name, Message: "must be a non-negative integer"}
	}
	return forecastMonths(&n), nil
}

func validForecast(n *int) error {
	if n != nil && *n < 0 {
		return &domain.ErrValidation{Field: "forecastMonths", Message: "must be a non-negative integer"}
	}
	return nil
}

// parseBodyDate parses a required or optional date carried in a JSON body.
func parseBodyDate(field, v string, required bool) (time.Time, error) {
	if v == "" {
		if required {
			return time.Time{}, &domain.ErrValidation{Field: field, Message: "is required"}
		}
		return time.Time{}, nil
	}
	t, ok := ingest.ParseDate(v)
	if !ok {
		return time.Time{}, &domain.ErrValidation{Field: field, Message: "invalid date: " + v}
	}
	return t, nil
}

// handleServiceError maps domain errors to HTTP responses.
func handleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var notFound *domain.ErrNotFound
	var circuitOpen *domain.ErrCircuitOpen
	var timeout *domain.ErrTimeout
	var validation *domain.ErrValidation
	var configuration *domain.ErrConfiguration
	var unauthorized *domain.ErrUnauthorized
	var external *domain.ErrExternalService

	switch {
	case errors.As(err, &notFound):
		logger.Debug("not found", zap.String("error", err.Error()))
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &validation):
		logger.Debug("validation error", zap.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &configuration):
		logger.Warn("card configuration error", zap.String("error", err.Error()))
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &unauthorized):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.As(err, &circuitOpen):
		logger.Error("circuit breaker open", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &timeout), errors.Is(err, context.DeadlineExceeded):
		logger.Error("request timeout", zap.Error(err))
		writeError(w, http.StatusGatewayTimeout, err.Error())
	case errors.As(err, &external):
		logger.Error("external service error", zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, context.Canceled):
		logger.Debug("request cancelled")
		writeError(w, 499, "request cancelled")
	default:
		logger.Error("internal error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
