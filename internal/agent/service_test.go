package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceRespondWithoutGateway(t *testing.T) {
	t.Parallel()

	svc := NewService(nil, time.Second, nil, nil)
	assert.False(t, svc.Available())
	_, err := svc.Respond(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrNoGateway)
}

func TestServiceRespondParsesReply(t *testing.T) {
	t.Parallel()

	var got Request
	gw := GatewayFunc(func(_ context.Context, req Request) (string, error) {
		got = req
		return `{"responses":[{"text":"hello"}]}`, nil
	})
	svc := NewService(gw, time.Second, nil, nil)

	req := Request{
		ConversationID:    "convo-1",
		History:           []HistoryEntry{{Role: RoleSelf, Text: "hi"}},
		SystemInstruction: "be nice",
	}
	reply, err := svc.Respond(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, reply.Items, 1)
	assert.Equal(t, "hello", reply.Items[0].Text)
	assert.Equal(t, req, got)
}

func TestServiceRespondTimesOut(t *testing.T) {
	t.Parallel()

	gw := GatewayFunc(func(ctx context.Context, _ Request) (string, error) {
		<-ctx.Done()
		return "", &GatewayError{Provider: "test", Op: "generate", Err: errors.New("aborted")}
	})
	svc := NewService(gw, 20*time.Millisecond, nil, nil)

	_, err := svc.Respond(context.Background(), Request{ConversationID: "c"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	var gwErr *GatewayError
	assert.ErrorAs(t, err, &gwErr)
}

func TestServiceRespondMalformed(t *testing.T) {
	t.Parallel()

	gw := GatewayFunc(func(context.Context, Request) (string, error) {
		return "sorry, I can't do JSON", nil
	})
	svc := NewService(gw, time.Second, nil, nil)
	_, err := svc.Respond(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrMalformedReply)
}

func TestServicePingWithoutHealthCheck(t *testing.T) {
	t.Parallel()

	svc := NewService(GatewayFunc(func(context.Context, Request) (string, error) { return "{}", nil }), 0, nil, nil)
	assert.NoError(t, svc.Ping(context.Background()))
	assert.ErrorIs(t, NewService(nil, 0, nil, nil).Ping(context.Background()), ErrNoGateway)
}
