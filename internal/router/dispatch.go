package router

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/waddlebot/waddlebot-core/internal/events"
	"github.com/waddlebot/waddlebot-core/internal/repository/routing"
	werrors "github.com/waddlebot/waddlebot-core/pkg/errors"
	"github.com/waddlebot/waddlebot-core/pkg/jsoncodec"
	"github.com/waddlebot/waddlebot-core/pkg/metricsutil"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Transport names from the command record.
const (
	TransportContainer   = "container"
	TransportGRPC        = "grpc"
	TransportLambda      = "lambda"
	TransportGCPFunction = "gcp_function"
	TransportOpenWhisk   = "openwhisk"
)

// DefaultCommandTimeout applies when a command record carries no timeout_ms.
const DefaultCommandTimeout = 30 * time.Second

// DispatchRequest is the payload sent to an interaction module.
type DispatchRequest struct {
	Envelope    *events.Envelope `json:"event"`
	SessionID   string           `json:"session_id"`
	ExecutionID string           `json:"execution_id"`
	Command     string           `json:"command,omitempty"`
	Args        []string         `json:"args,omitempty"`
	CommunityID string           `json:"community_id"`
}

// ModuleResponse is what a module returns, synchronously or via the
// responses stream.
type ModuleResponse struct {
	SessionID      string         `json:"session_id"`
	ExecutionID    string         `json:"execution_id"`
	Success        bool           `json:"success"`
	ResponseAction string         `json:"response_action,omitempty"` // chat | overlay | none
	ResponseData   map[string]any `json:"response_data,omitempty"`
	Error          string         `json:"error,omitempty"`

	// Deferred marks an accepted dispatch whose real response arrives later
	// on the responses stream. Set locally, never by the module.
	Deferred bool `json:"-"`
}

// Dispatcher delivers a request to one interaction module over the
// command record's transport.
type Dispatcher struct {
	httpClient *http.Client
	token      func() (string, error)
	log        *zap.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	conns    map[string]*grpc.ClientConn
}

// NewDispatcher creates a Dispatcher. token mints the service token attached
// to every outbound call.
func NewDispatcher(token func() (string, error), log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		httpClient: &http.Client{},
		token:      token,
		log:        log.With(zap.String("module", "router.dispatch")),
		breakers:   make(map[string]*gobreaker.CircuitBreaker),
		conns:      make(map[string]*grpc.ClientConn),
	}
}

// Dispatch sends req to the module named by cmd, honoring cmd.TimeoutMs.
// Every target URL gets its own circuit breaker so one dead module cannot
// stall the pipeline.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd *routing.Command, req *DispatchRequest) (*ModuleResponse, error) {
	timeout := DefaultCommandTimeout
	if cmd.TimeoutMs > 0 {
		timeout = time.Duration(cmd.TimeoutMs) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	transport := cmd.Transport
	if transport == "" {
		transport = TransportContainer
	}
	start := time.Now()
	defer func() {
		metricsutil.DispatchDuration.WithLabelValues(transport).Observe(time.Since(start).Seconds())
	}()

	br := d.breaker(cmd.LocationURL)
	out, err := br.Execute(func() (interface{}, error) {
		switch cmd.Transport {
		case TransportGRPC:
			return d.dispatchGRPC(ctx, cmd, req)
		case TransportContainer, TransportLambda, TransportGCPFunction, TransportOpenWhisk, "":
			// Provider invokes (lambda, gcp_function, openwhisk) all reduce
			// to a POST of the payload against the provider's invoke URL.
			return d.dispatchHTTP(ctx, cmd, req)
		default:
			return nil, fmt.Errorf("%w: unknown transport %q", werrors.ErrValidation, cmd.Transport)
		}
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: module %s circuit open", werrors.ErrDependencyUnavailable, cmd.ModuleID)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: module %s", werrors.ErrTimeout, cmd.ModuleID)
		}
		return nil, err
	}
	return out.(*ModuleResponse), nil
}

func (d *Dispatcher) breaker(target string) *gobreaker.CircuitBreaker {
	d.mu.Lock()
	defer d.mu.Unlock()
	if br, ok := d.breakers[target]; ok {
		return br
	}
	br := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    target,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.Requests >= 5 && float64(c.TotalFailures)/float64(c.Requests) >= 0.6
		},
	})
	d.breakers[target] = br
	return br
}

func (d *Dispatcher) dispatchHTTP(ctx context.Context, cmd *routing.Command, req *DispatchRequest) (*ModuleResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal dispatch: %v", werrors.ErrInternal, err)
	}
	method := cmd.Method
	if method == "" {
		method = http.MethodPost
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, cmd.LocationURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", werrors.ErrInternal, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	token, err := d.token()
	if err != nil {
		return nil, fmt.Errorf("%w: mint token: %v", werrors.ErrInternal, err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return nil, fmt.Errorf("%w: module %s", werrors.ErrTimeout, cmd.ModuleID)
		}
		return nil, fmt.Errorf("%w: module %s: %v", werrors.ErrDependencyUnavailable, cmd.ModuleID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: module %s returned %d", werrors.ErrDependencyUnavailable, cmd.ModuleID, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: module %s returned %d", werrors.ErrValidation, cmd.ModuleID, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", werrors.ErrDependencyUnavailable, err)
	}
	out := &ModuleResponse{SessionID: req.SessionID, ExecutionID: req.ExecutionID}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return nil, fmt.Errorf("%w: malformed module response: %v", werrors.ErrValidation, err)
		}
	} else {
		// 2xx with an empty body means the module will answer on the
		// responses stream.
		out.Success = true
		out.Deferred = true
	}
	return out, nil
}

func (d *Dispatcher) dispatchGRPC(ctx context.Context, cmd *routing.Command, req *DispatchRequest) (*ModuleResponse, error) {
	conn, err := d.conn(cmd.LocationURL)
	if err != nil {
		return nil, fmt.Errorf("%w: dial module %s: %v", werrors.ErrDependencyUnavailable, cmd.ModuleID, err)
	}
	out := new(ModuleResponse)
	method := cmd.Method
	if method == "" {
		method = "/waddlebot.module.v1.InteractionModule/Execute"
	}
	if err := conn.Invoke(ctx, method, req, out); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: module %s", werrors.ErrTimeout, cmd.ModuleID)
		}
		return nil, fmt.Errorf("%w: module %s: %v", werrors.ErrDependencyUnavailable, cmd.ModuleID, err)
	}
	return out, nil
}

func (d *Dispatcher) conn(target string) (*grpc.ClientConn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.conns[target]; ok {
		return c, nil
	}
	c, err := grpc.NewClient(target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(jsoncodec.Name)),
	)
	if err != nil {
		return nil, err
	}
	d.conns[target] = c
	return c, nil
}

// Close releases pooled gRPC connections.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.conns {
		_ = c.Close()
	}
	d.conns = map[string]*grpc.ClientConn{}
}
