package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTunnel(t *testing.T) {
	// Construction only; nothing is dialed until Start.
	tunnel, err := newTunnel("etl@bastion.example.com:22")
	require.NoError(t, err)
	require.NotNil(t, tunnel)
	assert.Equal(t, "bastion.example.com", tunnel.Server.Host)
}

func TestMaybeStartTunnelWithoutBastion(t *testing.T) {
	t.Setenv("ETL_SSH_BASTION", "")
	tunnel, err := maybeStartTunnel(nil)
	require.NoError(t, err)
	assert.Nil(t, tunnel)
}

func TestSplitLevels(t *testing.T) {
	assert.Equal(t, []string{"critical", "important", "audit", "reference"},
		splitLevels("critical,important,audit,reference"))
	assert.Equal(t, []string{"critical", "audit"}, splitLevels(" critical , ,audit,"))
	assert.Empty(t, splitLevels(""))
}
