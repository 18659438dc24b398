package reputation

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/waddlebot/waddlebot-core/pkg/auth"
	"github.com/waddlebot/waddlebot-core/pkg/jsoncodec"
)

// Client calls the reputation service over gRPC with the JSON codec, minting
// a short-lived service token per call.
type Client struct {
	conn    *grpc.ClientConn
	secret  string
	service string
}

// NewClient dials the reputation service.
func NewClient(addr, secret, service string) (*Client, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(jsoncodec.Name)),
	)
	if err != nil {
		return nil, fmt.Errorf("dial reputation: %w", err)
	}
	return &Client{conn: conn, secret: secret, service: service}, nil
}

// Close releases the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) authCtx(ctx context.Context) (context.Context, error) {
	token, err := auth.MintServiceToken(c.secret, c.service, nil, time.Minute)
	if err != nil {
		return nil, fmt.Errorf("mint service token: %w", err)
	}
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token), nil
}

// RecordEvent ingests one reputation event.
func (c *Client) RecordEvent(ctx context.Context, req *RecordEventRequest) (*RecordEventResponse, error) {
	ctx, err := c.authCtx(ctx)
	if err != nil {
		return nil, err
	}
	out := new(RecordEventResponse)
	if err := c.conn.Invoke(ctx, "/"+serviceName+"/RecordEvent", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetScore reads the current score for a user.
func (c *Client) GetScore(ctx context.Context, req *GetScoreRequest) (*GetScoreResponse, error) {
	ctx, err := c.authCtx(ctx)
	if err != nil {
		return nil, err
	}
	out := new(GetScoreResponse)
	if err := c.conn.Invoke(ctx, "/"+serviceName+"/GetScore", req, out); err != nil {
		return nil, err
	}
	return out, nil
}
