package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthHandler_GetHealth(t *testing.T) {
	handler := NewHealthHandler("1.2.3")

	out, err := handler.GetHealth(context.Background(), &struct{}{})
	require.NoError(t, err)
	require.NotNil(t, out)

	assert.Equal(t, "healthy", out.Body.Status)
	assert.Equal(t, "1.2.3", out.Body.Version)
	assert.GreaterOrEqual(t, out.Body.UptimeSeconds, 0.0)
	assert.NotEmpty(t, out.Body.Timestamp)
}
