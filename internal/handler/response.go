package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/efreitasn/papertrade/internal/domain"
	"github.com/efreitasn/papertrade/internal/service"
)

// WriteJSON writes a JSON response with the given status code and data.
// Sets Content-Type to application/json before writing the status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data) // Write error intentionally ignored in response helper
}

// errorResponse is the standard error response format.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WriteError writes a standard error response with the given status code,
// error code, and human-readable message.
func WriteError(w http.ResponseWriter, status int, errorCode, message string) {
	WriteJSON(w, status, errorResponse{
		Error:   errorCode,
		Message: message,
	})
}

// ParseJSON decodes the request body as JSON into v. Unknown fields are
// rejected.
func ParseJSON(r *http.Request, v any) error {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(ct, "application/json") {
		return fmt.Errorf("Request body must be valid JSON with Content-Type: application/json")
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("Request body must be valid JSON with Content-Type: application/json")
	}

	return nil
}

// sentinelStatus maps domain sentinels to their HTTP status. The error
// code is the sentinel's text.
var sentinelStatus = []struct {
	err    error
	status int
}{
	{domain.ErrAccountNotFound, http.StatusNotFound},
	{domain.ErrOrderNotFound, http.StatusNotFound},
	{domain.ErrSymbolNotFound, http.StatusNotFound},
	{domain.ErrForbidden, http.StatusForbidden},
	{domain.ErrAccountExists, http.StatusConflict},
	{domain.ErrOrderSettled, http.StatusConflict},
	{domain.ErrInsufficientBalance, http.StatusUnprocessableEntity},
	{domain.ErrInsufficientHoldings, http.StatusUnprocessableEntity},
	{domain.ErrNoPrice, http.StatusServiceUnavailable},
}

// writeServiceError maps an error returned by a service to a response.
// Anything unrecognised is a 500 without details.
func writeServiceError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		WriteError(w, http.StatusBadRequest, "validation_error", validationErr.Message)
		return
	}

	for _, s := range sentinelStatus {
		if errors.Is(err, s.err) {
			WriteError(w, s.status, s.err.Error(), err.Error())
			return
		}
	}
	WriteError(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
}

// numeric accepts a JSON number or string and keeps its exact text, so
// decimal amounts are never routed through float64.
type numeric string

func (n *numeric) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*n = numeric(s)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(b, &num); err != nil {
		return err
	}
	*n = numeric(num.String())
	return nil
}

// OwnerHeader identifies the account owner of a request.
const OwnerHeader = "X-Owner-ID"

type ownerKey struct{}

// requireOwner rejects requests without a well-formed owner id with 401
// and stores the id in the request context. Websocket clients that cannot
// set headers may pass it as the owner_id query parameter.
func requireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := r.Header.Get(OwnerHeader)
		if owner == "" {
			owner = r.URL.Query().Get("owner_id")
		}
		if owner == "" {
			WriteError(w, http.StatusUnauthorized, "unauthorized", OwnerHeader+" header is required")
			return
		}
		if err := service.ValidateOwnerID(owner); err != nil {
			WriteError(w, http.StatusUnauthorized, "unauthorized", err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ownerKey{}, owner)))
	})
}

// ownerID returns the owner stored by requireOwner.
func ownerID(r *http.Request) string {
	owner, _ := r.Context().Value(ownerKey{}).(string)
	return owner
}
