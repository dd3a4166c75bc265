package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const minimalYAML = `
sources:
  - name: line1-opcua
    protocol: OPCUA
    endpoint: opc.tcp://10.0.0.5:4840
    enabled: true
zerobus:
  enabled: true
  workspace_host: ${env:OTGW_TEST_HOST}
  auth:
    client_id: svc-account
    client_secret: ${credential:zerobus-secret}
  target:
    catalog: main
    schema: telemetry
    table: raw_events
backpressure:
  memory_queue:
    max_size: 5000
    drop_policy: drop_oldest
`

func TestLoadConfigDefaultsAndLowercaseProtocol(t *testing.T) {
	path := writeTempConfig(t, minimalYAML)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	cfg.applyDefaults()
	assert.Equal(t, "opcua", cfg.Sources[0].Protocol)
	assert.Equal(t, 500, cfg.Zerobus.Batch.MaxRecords)
	assert.Equal(t, "JSON", cfg.Zerobus.Stream.RecordType)
	assert.Equal(t, 5000, cfg.Backpressure.MemoryQueue.MaxSize)
	assert.Equal(t, "drop_oldest", cfg.Backpressure.MemoryQueue.DropPolicy)
}

func TestApplyDefaultsLeavesFleetMirrorDisabledByDefault(t *testing.T) {
	path := writeTempConfig(t, minimalYAML)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	cfg.applyDefaults()
	assert.Empty(t, cfg.FleetMirror.RedisAddr)
	assert.Empty(t, cfg.FleetMirror.GatewayID)
	assert.Equal(t, 30, cfg.FleetMirror.IntervalSeconds)
}

func TestApplyDefaultsFillsGatewayIDWhenMirrorConfigured(t *testing.T) {
	path := writeTempConfig(t, minimalYAML)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	cfg.FleetMirror.RedisAddr = "redis.internal:6379"
	cfg.applyDefaults()
	assert.NotEmpty(t, cfg.FleetMirror.GatewayID)
}

func TestResolveReferences(t *testing.T) {
	path := writeTempConfig(t, minimalYAML)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	t.Setenv("OTGW_TEST_HOST", "workspace.example.com")
	resolved := map[string]string{"zerobus-secret": "s3cr3t"}
	err = cfg.ResolveReferences(func(key string) (string, error) {
		v, ok := resolved[key]
		if !ok {
			return "", assert.AnError
		}
		return v, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "workspace.example.com", cfg.Zerobus.WorkspaceHost)
	assert.Equal(t, "s3cr3t", cfg.Zerobus.Auth.ClientSecret)
}

func TestResolveReferencesMissingCredentialResolver(t *testing.T) {
	path := writeTempConfig(t, minimalYAML)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	err = cfg.ResolveReferences(nil)
	assert.Error(t, err)
}

func TestValidateRequiresSourcesAndZerobusTarget(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()
	assert.Error(t, cfg.Validate(), "no sources should fail validation")

	cfg.Sources = []SourceConfig{{Name: "a", Protocol: "mqtt"}}
	assert.NoError(t, cfg.Validate())

	cfg.Zerobus.Enabled = true
	assert.Error(t, cfg.Validate(), "zerobus enabled without auth/target should fail")
}

func TestValidateRejectsUnknownProtocolAndDuplicateNames(t *testing.T) {
	cfg := &Config{
		Sources: []SourceConfig{
			{Name: "a", Protocol: "opcua"},
			{Name: "a", Protocol: "mqtt"},
		},
	}
	cfg.applyDefaults()
	assert.Error(t, cfg.Validate(), "duplicate source names should fail")

	cfg2 := &Config{Sources: []SourceConfig{{Name: "a", Protocol: "bacnet"}}}
	cfg2.applyDefaults()
	assert.Error(t, cfg2.Validate(), "unknown protocol should fail")
}

func TestManagerReloadSwapsAtomically(t *testing.T) {
	path := writeTempConfig(t, minimalYAML)
	m, err := NewManager(path, func(key string) (string, error) { return "secret", nil })
	require.NoError(t, err)

	first := m.Get()
	require.Len(t, first.Sources, 1)

	require.NoError(t, os.WriteFile(path, []byte(minimalYAML+"\n"), 0o644))
	require.NoError(t, m.Reload())

	second := m.Get()
	assert.Equal(t, first.Sources[0].Name, second.Sources[0].Name)
}
