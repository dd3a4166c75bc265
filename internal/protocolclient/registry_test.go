package protocolclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistryHasThreeProtocols(t *testing.T) {
	r := Default()
	assert.Equal(t, []string{"modbus", "mqtt", "opcua"}, r.Protocols())
}

func TestRegistryBuildUnknownProtocol(t *testing.T) {
	r := NewRegistry()
	_, err := r.Build("bacnet", SourceSpec{Name: "x"})
	assert.Error(t, err)
}

func TestRegistryBuildOPCUA(t *testing.T) {
	r := Default()
	c, err := r.Build("opcua", SourceSpec{Name: "plc1", Endpoint: "opc.tcp://host:4840"})
	require.NoError(t, err)
	assert.Equal(t, "opc.tcp://host:4840", c.Endpoint())
}
