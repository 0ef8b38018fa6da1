package agent

import "context"

// Gateway defines the interface for a model backend.
// Implementations return the raw JSON text produced by the model.
type Gateway interface {
	// Generate runs one structured generation call.
	Generate(ctx context.Context, req Request) (string, error)

	// Close releases resources.
	Close() error
}

// GatewayFunc adapts a function to the Gateway interface.
type GatewayFunc func(ctx context.Context, req Request) (string, error)

// Generate calls f.
func (f GatewayFunc) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Close is a no-op.
func (f GatewayFunc) Close() error {
	return nil
}

// Ensure clients implement Gateway.
var (
	_ Gateway = (*GrpcClient)(nil)
	_ Gateway = (*GeminiClient)(nil)
)
