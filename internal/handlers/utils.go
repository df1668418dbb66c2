package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
)

type contextKey string

const contextCallerKey contextKey = "caller"

// Caller identifies the authenticated user a request is attributed to.
// It is injected by the gate middleware; handlers never resolve
// credentials themselves.
type Caller struct {
	UserID int64
}

func withCaller(ctx context.Context, caller Caller) context.Context {
	return context.WithValue(ctx, contextCallerKey, caller)
}

func callerFromContext(ctx context.Context) (Caller, error) {
	caller, ok := ctx.Value(contextCallerKey).(Caller)
	if !ok || caller.UserID < 1 {
		return Caller{}, errors.New("missing caller")
	}
	return caller, nil
}

// Healthz reports process liveness.
func Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
