package protocol_test

import (
	"path/filepath"
	"testing"

	"github.com/aretw0/kiln/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConnectionInfo_AllocatesDistinctPorts(t *testing.T) {
	info, err := protocol.NewConnectionInfo("127.0.0.1")
	require.NoError(t, err)

	ports := []int{info.ShellPort, info.IOPubPort, info.StdinPort, info.ControlPort, info.HeartbeatPort}
	seen := make(map[int]bool)
	for _, p := range ports {
		assert.Greater(t, p, 0)
		assert.False(t, seen[p], "port %d allocated twice", p)
		seen[p] = true
	}
	assert.NotEmpty(t, info.Key)
	assert.Equal(t, "hmac-sha256", info.SignatureScheme)
}

func TestConnectionFile_RoundTrip(t *testing.T) {
	info, err := protocol.NewConnectionInfo("127.0.0.1")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "kernel.json")
	require.NoError(t, info.WriteFile(path))

	back, err := protocol.ReadConnectionFile(path)
	require.NoError(t, err)

	assert.Equal(t, info.Key, back.Key)
	assert.Equal(t, info.ShellPort, back.ShellPort)
	assert.Equal(t, info.IOPubPort, back.IOPubPort)
	assert.Equal(t, info.Transport, back.Transport)
}

func TestConnectionInfo_Addr(t *testing.T) {
	info := &protocol.ConnectionInfo{Transport: "tcp", IP: "127.0.0.1", ShellPort: 5555}
	assert.Equal(t, "tcp://127.0.0.1:5555", info.Addr(info.ShellPort))
}
