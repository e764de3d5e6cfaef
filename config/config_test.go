package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefaultFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.FileExists(t, path)

	require.Equal(t, ":8645", cfg.RPCAddress)
	require.Equal(t, ":9464", cfg.MetricsAddress)
	require.Equal(t, "sour-local", cfg.NetworkName)
	require.Equal(t, uint32(200), cfg.Protocol.PinchBps)
	require.Equal(t, uint32(5000), cfg.Protocol.TreasuryShareBps)
	require.Equal(t, uint32(3000), cfg.Protocol.KeepersShareBps)
	require.Equal(t, uint32(2000), cfg.Protocol.CommonsShareBps)
	require.Equal(t, uint32(50), cfg.Treasury.KeeperRewardBps)

	threshold, err := cfg.BatchThreshold()
	require.NoError(t, err)
	require.Equal(t, "1000000", threshold.String())

	// A second load reads the file it just wrote.
	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.RPCAddress, reloaded.RPCAddress)
}

func TestLoadExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := `
RPCAddress = ":7000"
DataDir = "/tmp/sourd-test"
NetworkName = "sour-test"

[protocol]
PinchBps = 300
TreasuryShareBps = 4000
KeepersShareBps = 4000
CommonsShareBps = 2000

[treasury]
BatchThreshold = "5000000"
KeeperRewardBps = 25
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":7000", cfg.RPCAddress)
	require.Equal(t, "/tmp/sourd-test", cfg.DataDir)
	require.Equal(t, "sour-test", cfg.NetworkName)
	require.Equal(t, uint32(300), cfg.Protocol.PinchBps)
	require.Equal(t, uint32(25), cfg.Treasury.KeeperRewardBps)

	// Unset fields pick up defaults.
	require.Equal(t, ":9464", cfg.MetricsAddress)

	threshold, err := cfg.BatchThreshold()
	require.NoError(t, err)
	require.Equal(t, "5000000", threshold.String())
}

func TestLoadRejectsInvalidShares(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := `
[protocol]
PinchBps = 200
TreasuryShareBps = 5000
KeepersShareBps = 3000
CommonsShareBps = 1000
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "sum to 10000")
}

func TestLoadRejectsBadThreshold(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := `
[protocol]
TreasuryShareBps = 5000
KeepersShareBps = 3000
CommonsShareBps = 2000

[treasury]
BatchThreshold = "not-a-number"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "BatchThreshold")
}

func TestLoadRejectsExcessivePinch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := `
[protocol]
PinchBps = 6000
TreasuryShareBps = 5000
KeepersShareBps = 3000
CommonsShareBps = 2000
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "PinchBps")
}
