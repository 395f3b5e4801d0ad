package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/iago/gasometria-back/internal/service"
	"go.uber.org/zap"
)

const maxBodyBytes = 64 << 10

var errInvalidPayload = errors.New("invalid payload")

type APIDependencies struct {
	Jobs   *service.JobsService
	Logger *zap.Logger
	// BackgroundTimeout bounds a job started by the background endpoint.
	BackgroundTimeout time.Duration
}

type API struct {
	jobs              *service.JobsService
	logger            *zap.Logger
	backgroundTimeout time.Duration

	inflight sync.WaitGroup
}

func NewAPI(deps APIDependencies) *API {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.BackgroundTimeout <= 0 {
		deps.BackgroundTimeout = 2 * time.Minute
	}
	return &API{
		jobs:              deps.Jobs,
		logger:            deps.Logger,
		backgroundTimeout: deps.BackgroundTimeout,
	}
}

// Wait blocks until jobs started by the background endpoint finish.
func (api *API) Wait() {
	api.inflight.Wait()
}

type errorPayload struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, statusCode int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, errorPayload{Error: message})
}

func methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, value any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := decoder.Decode(value); err != nil {
		return errInvalidPayload
	}
	return nil
}
