package api

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logwarden/logwarden/internal/config"
)

func TestRetroLookbackUsesRetentionCap(t *testing.T) {
	s, src := newTestServer(&config.Config{})

	// Retention cap, not the shorter dashboard display window.
	assert.Equal(t, 30, s.retroLookbackDays(context.Background()))

	raw, err := json.Marshal(config.MaintenanceSettings{DefaultRetentionDays: 45})
	require.NoError(t, err)
	require.NoError(t, src.SetAppConfig(context.Background(), config.KeyMaintenance, raw))
	s.resolver.Invalidate()

	assert.Equal(t, 45, s.retroLookbackDays(context.Background()))
}
