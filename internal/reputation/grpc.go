package reputation

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	werrors "github.com/waddlebot/waddlebot-core/pkg/errors"
)

// Wire messages for the reputation service. Exchanged over gRPC with the JSON
// codec; no generated protobuf bindings are committed.

// RecordEventRequest ingests one reputation event.
type RecordEventRequest struct {
	CommunityID    string         `json:"community_id"`
	UserID         string         `json:"user_id"`
	Platform       string         `json:"platform"`
	PlatformUserID string         `json:"platform_user_id"`
	EventType      string         `json:"event_type"`
	EntityID       string         `json:"entity_id"`
	EventID        string         `json:"event_id"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// RecordEventResponse reports the outcome.
type RecordEventResponse struct {
	Success bool    `json:"success"`
	Message string  `json:"message,omitempty"`
	Score   float64 `json:"score"`
	Label   string  `json:"label"`
	Error   string  `json:"error,omitempty"`
}

// GetScoreRequest reads a score.
type GetScoreRequest struct {
	CommunityID string `json:"community_id"`
	UserID      string `json:"user_id"`
}

// GetScoreResponse returns the score and tier label.
type GetScoreResponse struct {
	Success bool    `json:"success"`
	Score   float64 `json:"score"`
	Label   string  `json:"label"`
	Error   string  `json:"error,omitempty"`
}

// Server is the gRPC-facing interface of the reputation service.
type Server interface {
	RecordEvent(ctx context.Context, req *RecordEventRequest) (*RecordEventResponse, error)
	GetScore(ctx context.Context, req *GetScoreRequest) (*GetScoreResponse, error)
}

const serviceName = "waddlebot.reputation.v1.ReputationService"

// GRPCServer adapts Service to the wire interface.
type GRPCServer struct {
	svc *Service
	log *zap.Logger
}

// NewGRPCServer creates the adapter.
func NewGRPCServer(svc *Service, log *zap.Logger) *GRPCServer {
	return &GRPCServer{svc: svc, log: log.With(zap.String("module", "reputation.grpc"))}
}

// Compile-time check.
var _ Server = (*GRPCServer)(nil)

// RecordEvent implements the wire method.
func (g *GRPCServer) RecordEvent(ctx context.Context, req *RecordEventRequest) (*RecordEventResponse, error) {
	res, err := g.svc.RecordEvent(ctx, &RecordInput{
		CommunityID:    req.CommunityID,
		UserID:         req.UserID,
		Platform:       req.Platform,
		PlatformUserID: req.PlatformUserID,
		EventType:      req.EventType,
		EntityID:       req.EntityID,
		EventID:        req.EventID,
		Metadata:       req.Metadata,
	})
	if err != nil {
		if errors.Is(err, werrors.ErrValidation) {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		if errors.Is(err, werrors.ErrDependencyUnavailable) {
			return nil, status.Error(codes.Unavailable, "storage unavailable")
		}
		return nil, status.Error(codes.Internal, "record event failed")
	}
	msg := "recorded"
	if res.Duplicate {
		msg = "duplicate event ignored"
	}
	return &RecordEventResponse{
		Success: true,
		Message: msg,
		Score:   res.NewScore,
		Label:   string(res.Tier),
	}, nil
}

// GetScore implements the wire method.
func (g *GRPCServer) GetScore(ctx context.Context, req *GetScoreRequest) (*GetScoreResponse, error) {
	if req.CommunityID == "" || req.UserID == "" {
		return nil, status.Error(codes.InvalidArgument, "community_id and user_id are required")
	}
	score, tier, err := g.svc.GetScore(ctx, req.CommunityID, req.UserID)
	if err != nil {
		return nil, status.Error(codes.Unavailable, "storage unavailable")
	}
	return &GetScoreResponse{Success: true, Score: score, Label: string(tier)}, nil
}

// Register attaches the service to a gRPC server.
func Register(s *grpc.Server, srv Server) {
	s.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RecordEvent", Handler: recordEventHandler},
		{MethodName: "GetScore", Handler: getScoreHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "reputation/v1",
}

func recordEventHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(RecordEventRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).RecordEvent(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/RecordEvent"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Server).RecordEvent(ctx, req.(*RecordEventRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getScoreHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(GetScoreRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).GetScore(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/GetScore"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Server).GetScore(ctx, req.(*GetScoreRequest))
	}
	return interceptor(ctx, in, info, handler)
}
