package taskflow

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/taskflow/transport"
)

func TestProducerFacadePublishes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app_conf.yml")
	require.NoError(t, os.WriteFile(path, []byte("service:\n  name: client\nevents:\n  pubsub_system: channel\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	var out bytes.Buffer
	producer, err := NewProducer(context.Background(), cfg, NewLogger(&out, "client", "debug"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = producer.Close() })

	traceID, err := producer.Publish(context.Background(), EventComplete, map[string]any{
		"task_name": "A",
		"uuid":      "u1",
		"trace_id":  "fixed",
	})
	require.NoError(t, err)
	assert.Equal(t, "fixed", traceID)
	assert.Contains(t, out.String(), "Published event")

	_, err = producer.Publish(context.Background(), "rename", map[string]any{})
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestNewProducerRequiresConfig(t *testing.T) {
	_, err := NewProducer(context.Background(), nil, NewLogger(&bytes.Buffer{}, "", "info"))
	assert.ErrorIs(t, err, ErrConfigRequired)
}

func TestDecodeEnvelope(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`{"type":"create","datetime":"2025-01-01T10:00:00","payload":{"task_name":"A","trace_id":"t-1"}}`))
	require.NoError(t, err)
	assert.Equal(t, EventCreate, env.Type)
	assert.Equal(t, "t-1", env.TraceID)

	_, err = DecodeEnvelope([]byte(`{"payload":{}}`))
	assert.Error(t, err)
}

func TestRegisterTransport(t *testing.T) {
	assert.Contains(t, Transports(), "kafka")
	assert.Contains(t, Transports(), "channel")

	RegisterTransport("facade-test", func(context.Context, transport.Config, watermill.LoggerAdapter) (transport.Transport, error) {
		return transport.Transport{}, nil
	}, transport.Capabilities{Name: "facade-test"})
	assert.Contains(t, Transports(), "facade-test")
}

func TestNewTraceID(t *testing.T) {
	assert.NotEqual(t, NewTraceID(), NewTraceID())
}
