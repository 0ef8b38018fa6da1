package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// GatewayService is the gRPC service name exposed by the model sidecar.
	GatewayService = "persona.v1.PersonaGateway"
	generateMethod = "/" + GatewayService + "/Generate"
)

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
	errGatewayNotServing        = errors.New("gateway not serving")
)

// GrpcClient forwards generation requests to a model sidecar over gRPC.
// Requests and responses travel as google.protobuf.Struct values so the
// sidecar can be written in any language without shared generated code.
type GrpcClient struct {
	conn           *grpc.ClientConn
	health         grpc_health_v1.HealthClient
	addr           string
	requestTimeout time.Duration
	logger         *slog.Logger
}

// GrpcClientConfig holds configuration for the gRPC client.
type GrpcClientConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	RequestTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultGrpcClientConfig returns default configuration.
func DefaultGrpcClientConfig() GrpcClientConfig {
	return GrpcClientConfig{
		Address:          "localhost:50051",
		ConnectTimeout:   5 * time.Second,
		RequestTimeout:   30 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// NewGrpcClient connects to the sidecar at cfg.Address and waits until the
// connection is ready. Extra dial options are appended after the defaults.
func NewGrpcClient(cfg GrpcClientConfig, logger *slog.Logger, opts ...grpc.DialOption) (*GrpcClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultGrpcClientConfig()
	if cfg.Address == "" {
		cfg.Address = def.Address
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.KeepaliveTime <= 0 {
		cfg.KeepaliveTime = def.KeepaliveTime
	}
	if cfg.KeepaliveTimeout <= 0 {
		cfg.KeepaliveTimeout = def.KeepaliveTimeout
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, opts...)

	// Build client connection (no network I/O yet).
	conn, err := grpc.NewClient(cfg.Address, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to model gateway at %s: %w", cfg.Address, err)
	}

	// Force a connection attempt during startup so we fail fast on bad endpoints.
	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("model gateway at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to model gateway", "address", cfg.Address)

	return &GrpcClient{
		conn:           conn,
		health:         grpc_health_v1.NewHealthClient(conn),
		addr:           cfg.Address,
		requestTimeout: cfg.RequestTimeout,
		logger:         logger,
	}, nil
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

// Generate sends the history to the sidecar and returns its raw JSON reply.
// The sidecar answers either {"text": "<json>"} or the reply object itself.
func (c *GrpcClient) Generate(ctx context.Context, req Request) (string, error) {
	in, err := requestStruct(req)
	if err != nil {
		return "", &GatewayError{Provider: "grpc", Op: "encode", Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	out := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, generateMethod, in, out); err != nil {
		c.logger.Warn("Generate failed", "error", err, "conversation_id", req.ConversationID)
		return "", &GatewayError{Provider: "grpc", Op: "generate", Err: err}
	}

	if text, ok := out.GetFields()["text"]; ok {
		if _, isString := text.GetKind().(*structpb.Value_StringValue); isString {
			return text.GetStringValue(), nil
		}
	}
	data, err := json.Marshal(out.AsMap())
	if err != nil {
		return "", &GatewayError{Provider: "grpc", Op: "decode", Err: err}
	}
	return string(data), nil
}

// Ping reports whether the sidecar's health service says the gateway is serving.
func (c *GrpcClient) Ping(ctx context.Context) error {
	resp, err := c.health.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: GatewayService})
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
		return fmt.Errorf("%w: %s", errGatewayNotServing, resp.GetStatus())
	}
	return nil
}

// Close closes the gRPC connection.
func (c *GrpcClient) Close() error {
	if c.conn == nil {
		return nil
	}
	if err := c.conn.Close(); err != nil {
		c.logger.Warn("failed to close gRPC connection", "error", err)
		return err
	}
	return nil
}

func requestStruct(req Request) (*structpb.Struct, error) {
	history := make([]any, 0, len(req.History))
	for _, entry := range req.History {
		history = append(history, map[string]any{
			"role": string(entry.Role),
			"text": entry.Text,
		})
	}
	schema, err := schemaMap()
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(map[string]any{
		"conversation_id":    req.ConversationID,
		"system_instruction": req.SystemInstruction,
		"history":            history,
		"response_schema":    schema,
	})
}
