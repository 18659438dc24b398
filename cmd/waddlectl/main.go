// Package main is the operator CLI: inspect commands, drain dead-letter
// queues, and query reputation scores.
//
// Usage:
//
//	waddlectl commands list
//	waddlectl dlq stats|drain -stream events:inbound
//	waddlectl score get -community <id> -user <id>
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	jsoniter "github.com/json-iterator/go"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/waddlebot/waddlebot-core/internal/reputation"
	"github.com/waddlebot/waddlebot-core/internal/stream"
	"github.com/waddlebot/waddlebot-core/pkg/redis"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func main() {
	if len(os.Args) < 3 {
		usage()
		os.Exit(1)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var err error
	switch os.Args[1] + " " + os.Args[2] {
	case "commands list":
		err = commandsList(ctx, os.Args[3:])
	case "dlq stats":
		err = dlqStats(ctx, os.Args[3:])
	case "dlq drain":
		err = dlqDrain(ctx, os.Args[3:])
	case "score get":
		err = scoreGet(ctx, os.Args[3:])
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: waddlectl <command>

  commands list                         list active command records
  dlq stats                             show dead-letter queue depths
  dlq drain -stream <name> [-n <max>]   re-publish dead-lettered entries
  score get -community <id> -user <id>  query a reputation score`)
}

// commandsList reads the router's command table over its REST surface.
func commandsList(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("commands list", flag.ExitOnError)
	addr := fs.String("addr", envOr("ROUTER_ADDR", "http://localhost:8000"), "router base URL")
	_ = fs.Parse(args)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, *addr+"/api/v1/router/commands", nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Service-Key", os.Getenv("SERVICE_API_KEY"))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("router returned %d: %s", resp.StatusCode, body)
	}
	var cmds []struct {
		Command   string `json:"Command"`
		Prefix    string `json:"Prefix"`
		Transport string `json:"Transport"`
		ModuleID  string `json:"ModuleID"`
		TimeoutMs int    `json:"TimeoutMs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&cmds); err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "COMMAND\tPREFIX\tTRANSPORT\tMODULE\tTIMEOUT_MS")
	for _, c := range cmds {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", c.Command, c.Prefix, c.Transport, c.ModuleID, c.TimeoutMs)
	}
	return w.Flush()
}

func dlqStats(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("dlq stats", flag.ExitOnError)
	_ = fs.Parse(args)
	rdb, err := dial()
	if err != nil {
		return err
	}
	defer rdb.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STREAM\tDLQ DEPTH")
	for _, s := range []string{stream.Inbound, stream.Commands, stream.Actions, stream.Responses} {
		depth, err := rdb.XLen(ctx, stream.DLQ(s)).Result()
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%d\n", s, depth)
	}
	return w.Flush()
}

// dlqDrain re-publishes dead-lettered payloads to their original stream and
// deletes the drained entries.
func dlqDrain(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("dlq drain", flag.ExitOnError)
	name := fs.String("stream", stream.Inbound, "original stream name")
	max := fs.Int("n", 100, "maximum entries to drain")
	_ = fs.Parse(args)

	rdb, err := dial()
	if err != nil {
		return err
	}
	defer rdb.Close()

	dlq := stream.DLQ(*name)
	msgs, err := rdb.XRangeN(ctx, dlq, "-", "+", int64(*max)).Result()
	if err != nil {
		return err
	}
	drained := 0
	for _, msg := range msgs {
		payload, ok := msg.Values["payload"].(string)
		if !ok || payload == "" {
			fmt.Fprintf(os.Stderr, "skipping %s: no payload\n", msg.ID)
			continue
		}
		eventID, _ := msg.Values["event_id"].(string)
		if err := rdb.XAdd(ctx, &goredis.XAddArgs{
			Stream: *name,
			Values: map[string]interface{}{"event_id": eventID, "payload": payload},
		}).Err(); err != nil {
			return fmt.Errorf("republish %s: %w", msg.ID, err)
		}
		if err := rdb.XDel(ctx, dlq, msg.ID).Err(); err != nil {
			return fmt.Errorf("delete %s: %w", msg.ID, err)
		}
		drained++
	}
	fmt.Printf("drained %d of %d entries from %s\n", drained, len(msgs), dlq)
	return nil
}

func scoreGet(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("score get", flag.ExitOnError)
	addr := fs.String("addr", envOr("REPUTATION_GRPC_ADDR", "localhost:50051"), "reputation gRPC address")
	community := fs.String("community", "", "community id")
	user := fs.String("user", "", "user id")
	_ = fs.Parse(args)
	if *community == "" || *user == "" {
		return fmt.Errorf("-community and -user are required")
	}
	secret := os.Getenv("SECRET_KEY")
	if secret == "" {
		return fmt.Errorf("SECRET_KEY is required")
	}

	client, err := reputation.NewClient(*addr, secret, "waddlectl")
	if err != nil {
		return err
	}
	defer client.Close()

	resp, err := client.GetScore(ctx, &reputation.GetScoreRequest{
		CommunityID: *community,
		UserID:      *user,
	})
	if err != nil {
		return err
	}
	fmt.Printf("community=%s user=%s score=%.1f label=%s\n", *community, *user, resp.Score, resp.Label)
	return nil
}

func dial() (*redis.Client, error) {
	return redis.NewClient(redis.Config{URL: envOr("REDIS_URL", "redis://localhost:6379")}, zap.NewNop())
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
