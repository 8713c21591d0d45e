package queue

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gpilot-io/gpilot/pkg/models"
)

type testPayload struct {
	Name  string `json:"name"`
	Count int    `json:"count,omitempty"`
}

type strictPayload struct {
	Name string `json:"name"`
}

func (p *strictPayload) Validate() error {
	if p.Name == "" {
		return errors.New("name is required")
	}
	return nil
}

func noopHandler(context.Context, *models.Job, any, LogSink) error { return nil }

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register("deploys", "deploy.run", testPayload{}, noopHandler))

	// Duplicate (queue, type) is rejected
	err := r.Register("deploys", "deploy.run", testPayload{}, noopHandler)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")

	// Same type on another queue is fine
	require.NoError(t, r.Register("backups", "deploy.run", testPayload{}, noopHandler))
}

func TestRegistryRegisterValidation(t *testing.T) {
	r := NewRegistry()

	assert.Error(t, r.Register("", "deploy.run", testPayload{}, noopHandler))
	assert.Error(t, r.Register("deploys", "", testPayload{}, noopHandler))
	assert.Error(t, r.Register("deploys", "deploy.run", testPayload{}, nil))
	assert.Error(t, r.Register("deploys", "deploy.run", nil, noopHandler))
	assert.Error(t, r.Register("deploys", "deploy.run", "not a struct", noopHandler))

	// Pointer-to-struct prototypes are accepted
	assert.NoError(t, r.Register("deploys", "deploy.check", &testPayload{}, noopHandler))
}

func TestRegistryQueues(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("webhooks", "delivery.send", testPayload{}, noopHandler))
	require.NoError(t, r.Register("missions", "mission.run", testPayload{}, noopHandler))
	require.NoError(t, r.Register("missions", "mission.resume", testPayload{}, noopHandler))

	assert.Equal(t, []string{"missions", "webhooks"}, r.Queues())
}

func TestDecodePayload(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("deploys", "deploy.run", testPayload{}, noopHandler))
	reg, ok := r.lookup("deploys", "deploy.run")
	require.True(t, ok)

	t.Run("valid payload", func(t *testing.T) {
		decoded, err := reg.decodePayload([]byte(`{"name":"web","count":3}`))
		require.NoError(t, err)
		p, ok := decoded.(*testPayload)
		require.True(t, ok)
		assert.Equal(t, "web", p.Name)
		assert.Equal(t, 3, p.Count)
	})

	t.Run("empty payload decodes to zero value", func(t *testing.T) {
		decoded, err := reg.decodePayload(nil)
		require.NoError(t, err)
		assert.Equal(t, &testPayload{}, decoded)
	})

	t.Run("unknown field rejected", func(t *testing.T) {
		_, err := reg.decodePayload([]byte(`{"name":"web","bogus":true}`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bogus")
	})

	t.Run("malformed JSON rejected", func(t *testing.T) {
		_, err := reg.decodePayload([]byte(`{"name":`))
		assert.Error(t, err)
	})
}

func TestDecodePayloadValidatable(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("deploys", "deploy.strict", strictPayload{}, noopHandler))
	reg, ok := r.lookup("deploys", "deploy.strict")
	require.True(t, ok)

	_, err := reg.decodePayload([]byte(`{"name":""}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name is required")

	decoded, err := reg.decodePayload([]byte(`{"name":"ok"}`))
	require.NoError(t, err)
	assert.Equal(t, "ok", decoded.(*strictPayload).Name)
}

func TestPermanentError(t *testing.T) {
	base := errors.New("bad input")

	assert.Nil(t, Permanent(nil))
	assert.True(t, IsPermanent(Permanent(base)))
	assert.False(t, IsPermanent(base))

	// Survives further wrapping
	wrapped := fmt.Errorf("handler: %w", Permanent(base))
	assert.True(t, IsPermanent(wrapped))
	assert.True(t, errors.Is(wrapped, base))
}

func TestBackoffDelay(t *testing.T) {
	tests := []struct {
		name     string
		attempts int
		baseMS   int64
		min      time.Duration
		max      time.Duration
	}{
		{"first attempt", 1, 1000, 1000 * time.Millisecond, 1100 * time.Millisecond},
		{"second attempt doubles", 2, 1000, 2000 * time.Millisecond, 2200 * time.Millisecond},
		{"third attempt", 3, 1000, 4000 * time.Millisecond, 4400 * time.Millisecond},
		{"capped at sixty seconds", 10, 1000, 60 * time.Second, 66 * time.Second},
		{"zero attempts treated as first", 0, 500, 500 * time.Millisecond, 550 * time.Millisecond},
		{"zero base uses default", 1, 0, 1000 * time.Millisecond, 1100 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < 50; i++ {
				d := backoffDelay(tt.attempts, tt.baseMS)
				assert.GreaterOrEqual(t, d, tt.min)
				assert.LessOrEqual(t, d, tt.max)
			}
		})
	}
}
