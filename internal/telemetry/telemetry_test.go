package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JuanCS-Dev/stepflow/config"
)

func TestInitDisabled(t *testing.T) {
	t.Parallel()

	providers, err := Init(config.TelemetryConfig{Enabled: false}, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, providers)
	assert.NoError(t, providers.Shutdown(context.Background()))
}

func TestShutdownNilReceiver(t *testing.T) {
	t.Parallel()

	var providers *Providers
	assert.NoError(t, providers.Shutdown(context.Background()))
}
