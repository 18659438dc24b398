package router

import (
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/waddlebot/waddlebot-core/internal/events"
	"github.com/waddlebot/waddlebot-core/pkg/auth"
	werrors "github.com/waddlebot/waddlebot-core/pkg/errors"
	"github.com/waddlebot/waddlebot-core/pkg/logger"
)

// MaxBatchSize caps the batch ingest endpoint.
const MaxBatchSize = 100

// maxBatchWorkers bounds how many batch entries process at once.
const maxBatchWorkers = 16

// maxBodyBytes bounds request bodies on the ingest surface.
const maxBodyBytes = 1 << 20

type eventResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"session_id,omitempty"`
	Action    string `json:"action,omitempty"`
	Error     string `json:"error,omitempty"`
}

// HTTP serves the router REST surface.
type HTTP struct {
	svc *Service
	log *zap.Logger
}

// NewHTTP creates the REST handler set.
func NewHTTP(svc *Service, log *zap.Logger) *HTTP {
	return &HTTP{svc: svc, log: log.With(zap.String("module", "router.http"))}
}

// Register mounts the surface on mux, guarded by service auth. Each route
// tags its request context so handler log lines carry the component.
func (h *HTTP) Register(mux *http.ServeMux, secret, serviceKey string) {
	guard := func(component string, fn http.HandlerFunc) http.Handler {
		tagged := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fn(w, r.WithContext(logger.WithContext(r.Context(), component)))
		})
		return auth.Middleware(secret, serviceKey, tagged)
	}
	mux.Handle("POST /api/v1/router/events", guard("ingest", h.handleEvent))
	mux.Handle("POST /api/v1/router/events/batch", guard("ingest", h.handleBatch))
	mux.Handle("POST /api/v1/router/responses", guard("responses", h.handleResponse))
	mux.Handle("GET /api/v1/router/commands", guard("commands", h.handleCommands))
	mux.Handle("GET /api/v1/router/metrics", guard("metrics", h.handleMetrics))
}

func (h *HTTP) handleEvent(w http.ResponseWriter, r *http.Request) {
	env, err := decodeEnvelope(r)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := h.svc.Process(r.Context(), env)
	if err != nil && res == nil {
		logger.FromContext(r.Context(), h.log).Debug("event rejected",
			zap.String("event_id", env.EventID),
			zap.Error(err),
		)
		writeError(w, err)
		return
	}
	out := eventResponse{Success: err == nil, SessionID: res.SessionID, Action: res.Action}
	if err != nil {
		out.Error = safeMessage(err)
	}
	writeJSON(w, statusFor(err), out)
}

func (h *HTTP) handleBatch(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, werrors.ErrValidation)
		return
	}
	var envs []*events.Envelope
	if err := json.Unmarshal(body, &envs); err != nil {
		writeError(w, werrors.ErrValidation)
		return
	}
	if len(envs) == 0 || len(envs) > MaxBatchSize {
		writeError(w, werrors.ErrValidation)
		return
	}

	// Per-event results in input order. The batch shards by entity: shards
	// run concurrently while each entity's events stay FIFO.
	results := make([]eventResponse, len(envs))
	shards := make(map[string][]int, len(envs))
	for i, env := range envs {
		shards[env.EntityID] = append(shards[env.EntityID], i)
	}
	g, gctx := errgroup.WithContext(r.Context())
	g.SetLimit(maxBatchWorkers)
	for _, indexes := range shards {
		indexes := indexes
		g.Go(func() error {
			for _, i := range indexes {
				res, perr := h.svc.Process(gctx, envs[i])
				results[i] = eventResponse{Success: perr == nil}
				if res != nil {
					results[i].SessionID = res.SessionID
					results[i].Action = res.Action
				}
				if perr != nil {
					results[i].Error = safeMessage(perr)
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, res := range results {
		if !res.Success {
			failed++
		}
	}
	if failed > 0 {
		logger.FromContext(r.Context(), h.log).Debug("batch completed with failures",
			zap.Int("total", len(envs)),
			zap.Int("failed", failed),
		)
	}
	writeJSON(w, http.StatusOK, results)
}

func (h *HTTP) handleResponse(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, werrors.ErrValidation)
		return
	}
	resp := new(ModuleResponse)
	if err := json.Unmarshal(body, resp); err != nil {
		writeError(w, werrors.ErrValidation)
		return
	}
	if resp.SessionID == "" || resp.ExecutionID == "" {
		writeError(w, werrors.ErrValidation)
		return
	}
	h.svc.HandleResponse(resp)
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

func (h *HTTP) handleCommands(w http.ResponseWriter, r *http.Request) {
	cmds, err := h.svc.lookup.ActiveCommands(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cmds)
}

func (h *HTTP) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Stats())
}

func decodeEnvelope(r *http.Request) (*events.Envelope, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, werrors.ErrValidation
	}
	env, err := events.Unmarshal(body)
	if err != nil {
		return nil, werrors.ErrValidation
	}
	return env, nil
}

func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, werrors.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, werrors.ErrAuth):
		return http.StatusUnauthorized
	case errors.Is(err, werrors.ErrAuthz):
		return http.StatusForbidden
	case errors.Is(err, werrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, werrors.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, werrors.ErrDependencyUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, werrors.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// safeMessage returns the error kind only; internals never leak to callers.
func safeMessage(err error) string {
	switch {
	case errors.Is(err, werrors.ErrValidation):
		return "validation error"
	case errors.Is(err, werrors.ErrAuth):
		return "authentication required"
	case errors.Is(err, werrors.ErrAuthz):
		return "forbidden"
	case errors.Is(err, werrors.ErrNotFound):
		return "not found"
	case errors.Is(err, werrors.ErrRateLimited):
		return "rate limited"
	case errors.Is(err, werrors.ErrDependencyUnavailable):
		return "dependency unavailable"
	case errors.Is(err, werrors.ErrTimeout):
		return "timed out"
	default:
		return "internal error"
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]any{"success": false, "error": safeMessage(err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
