package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoHandler(ctx context.Context, inv Invocation) (*Result, error) {
	return &Result{Output: inv.Input}, nil
}

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register("collector", HandlerFunc(echoHandler)))
	require.NoError(t, r.Register("analyzer", HandlerFunc(echoHandler)))

	h, ok := r.lookup("collector")
	assert.True(t, ok)
	assert.NotNil(t, h)

	_, ok = r.lookup("missing")
	assert.False(t, ok)

	assert.Equal(t, []string{"analyzer", "collector"}, r.Names())
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register("collector", HandlerFunc(echoHandler)))
	err := r.Register("collector", HandlerFunc(echoHandler))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestRegistryValidation(t *testing.T) {
	r := NewRegistry()

	assert.Error(t, r.Register("", HandlerFunc(echoHandler)))
	assert.Error(t, r.Register("collector", nil))
}
