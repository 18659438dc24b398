package grpcutil

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/waddlebot/waddlebot-core/pkg/auth"
)

// NewServiceTokenInterceptor returns a gRPC unary interceptor that requires a
// valid service token in the authorization metadata. Calls without one are
// rejected before the handler runs.
func NewServiceTokenInterceptor(secret string) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		_ *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		md, ok := metadata.FromIncomingContext(ctx)
		var tokenStr string
		if ok {
			authHeaders := md["authorization"]
			if len(authHeaders) > 0 {
				tokenStr = extractBearerToken(authHeaders[0])
			}
		}
		if tokenStr == "" {
			return nil, status.Error(codes.Unauthenticated, "missing service token")
		}
		claims, err := auth.VerifyServiceToken(tokenStr, secret)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, "invalid service token")
		}
		return handler(auth.NewContext(ctx, claims), req)
	}
}

// extractBearerToken extracts the token from the Authorization header value.
func extractBearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
