// Package agent provides the gRPC client for the external reasoning
// agent service that performs analysis, planning, and code-modification
// steps on behalf of the orchestrator.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/axtion-io/TestBoost-sub002/internal/engine"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"
)

// invokeMethod is the full method name of the agent's step endpoint.
// Requests and responses are schemaless structs: the step contract is
// a JSON-shaped payload in both directions, so no generated stubs are
// needed on this side.
const invokeMethod = "/testboost.agent.v1.AgentService/InvokeStep"

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
)

// Client is a gRPC client to the reasoning agent service.
type Client struct {
	conn   *grpc.ClientConn
	addr   string
	logger *slog.Logger
}

// Ensure Client implements the step invoker contract.
var _ engine.Invoker = (*Client)(nil)

// ClientConfig holds configuration for the gRPC client.
type ClientConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultClientConfig returns default configuration.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Address:          "localhost:50051",
		ConnectTimeout:   5 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// NewClient creates a gRPC client to the reasoning agent service and
// forces a connection attempt so bad endpoints fail at startup.
func NewClient(addr string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cfg := DefaultClientConfig()
	if addr != "" {
		cfg.Address = addr
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}

	// Build client connection (no network I/O yet).
	conn, err := grpc.NewClient(cfg.Address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to reasoning agent at %s: %w", cfg.Address, err)
	}

	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("reasoning agent at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to reasoning agent service", "address", cfg.Address)

	return &Client{conn: conn, addr: cfg.Address, logger: logger}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Close closes the gRPC connection.
func (c *Client) Close() {
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}

// Invoke sends one step to the agent and decodes its result. gRPC
// status errors pass through untouched so the retry engine can classify
// them (Unavailable/ResourceExhausted retryable, Unauthenticated fatal).
func (c *Client) Invoke(ctx context.Context, in engine.Input) (*engine.Output, error) {
	req, err := structpb.NewStruct(map[string]any{
		"session_id":   in.SessionID,
		"step_code":    in.StepCode,
		"project_path": in.ProjectPath,
		"workflow":     in.Workflow,
		"payload":      normalizePayload(in.Payload),
	})
	if err != nil {
		return nil, fmt.Errorf("encode step input: %w", err)
	}

	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, invokeMethod, req, resp); err != nil {
		return nil, err
	}

	return decodeOutput(resp.AsMap()), nil
}

// normalizePayload round-trips arbitrary values into structpb-safe ones.
func normalizePayload(payload map[string]any) map[string]any {
	if payload == nil {
		return map[string]any{}
	}
	return payload
}

func decodeOutput(m map[string]any) *engine.Output {
	out := &engine.Output{}
	if payload, ok := m["payload"].(map[string]any); ok {
		out.Payload = payload
	}
	if summary, ok := m["summary"].(string); ok {
		out.Summary = summary
	}
	drafts, ok := m["artifacts"].([]any)
	if !ok {
		return out
	}
	for _, raw := range drafts {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		draft := engine.ArtifactDraft{}
		if name, ok := entry["name"].(string); ok {
			draft.Name = name
		}
		if typ, ok := entry["type"].(string); ok {
			draft.Type = typ
		}
		if content, ok := entry["content"].(string); ok {
			draft.Content = content
		}
		if meta, ok := entry["metadata"].(map[string]any); ok {
			draft.Metadata = make(map[string]string, len(meta))
			for k, v := range meta {
				if s, ok := v.(string); ok {
					draft.Metadata[k] = s
				}
			}
		}
		if draft.Name != "" {
			out.Artifacts = append(out.Artifacts, draft)
		}
	}
	return out
}
