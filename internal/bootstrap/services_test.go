package bootstrap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telbill/robo-ops/config"
)

// Repositories only touch the database on use, so the full graph can be
// assembled without a live connection.
func TestNewServices_BuildsFullGraph(t *testing.T) {
	t.Parallel()

	cfg := config.AppConfig{}
	cfg.Sanitize()

	services := NewServices(&ServiceDeps{Config: &cfg})

	require.NotNil(t, services)
	assert.NotNil(t, services.Runs)
	assert.NotNil(t, services.Invoices)
	assert.NotNil(t, services.Orchestrator)
	assert.NotNil(t, services.Bus)
	assert.NotNil(t, services.Hub)
	assert.NotNil(t, services.Contracts)

	// Metrics are disabled by default; no sink or recorder should be wired.
	assert.Nil(t, services.Observability.MetricsSink)
	assert.Nil(t, services.Observability.Recorder)

	services.Close()
}

func TestNewServices_NilConfigUsesDefaults(t *testing.T) {
	t.Parallel()

	services := NewServices(&ServiceDeps{})
	require.NotNil(t, services)
	assert.Equal(t, 0, services.Bus.SessionCount())
	services.Close()
}

func TestServiceContainer_CloseNilSafe(t *testing.T) {
	t.Parallel()

	var c *ServiceContainer
	c.Close()
}
