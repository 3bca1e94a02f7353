package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "127.0.0.1:8920", cfg.Listen)
	assert.Equal(t, 30, cfg.DiscoveryTimeout)
	assert.True(t, cfg.EnableSearch)
	require.NotNil(t, cfg.Logging)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Logging.SanitizeSecrets)
	require.NotNil(t, cfg.Observability)
	assert.True(t, cfg.Observability.MetricsEnabled)
	assert.False(t, cfg.Observability.TracingEnabled)
}

func TestValidate_NormalizesZeroValues(t *testing.T) {
	cfg := &Config{}

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "127.0.0.1:8920", cfg.Listen)
	assert.Equal(t, 30, cfg.DiscoveryTimeout)
	assert.Equal(t, 20, cfg.SearchLimit)
	assert.NotNil(t, cfg.Logging)
	assert.NotNil(t, cfg.Observability)
}

func TestValidate_RejectsRelativeBaseURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BaseURL = "/just/a/path"

	assert.Error(t, cfg.Validate())
}

func TestCallbackBaseURL(t *testing.T) {
	tests := []struct {
		name    string
		listen  string
		baseURL string
		want    string
	}{
		{
			name:   "derived from listen",
			listen: "127.0.0.1:8920",
			want:   "http://127.0.0.1:8920/api/v1/auth/callback",
		},
		{
			name:   "bare port listen",
			listen: ":8920",
			want:   "http://127.0.0.1:8920/api/v1/auth/callback",
		},
		{
			name:    "explicit base url wins",
			listen:  ":8920",
			baseURL: "https://dock.example.com",
			want:    "https://dock.example.com/api/v1/auth/callback",
		},
		{
			name:    "trailing slash trimmed",
			listen:  ":8920",
			baseURL: "https://dock.example.com/",
			want:    "https://dock.example.com/api/v1/auth/callback",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Listen: tt.listen, BaseURL: tt.baseURL}
			assert.Equal(t, tt.want, cfg.CallbackBaseURL())
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mcpdock.json")
	content := `{
		"listen": "0.0.0.0:9000",
		"data_dir": "` + dir + `",
		"discovery_timeout": 5,
		"logging": {"level": "debug", "enable_console": true}
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.Listen)
	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, 5, cfg.DiscoveryTimeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadFromFile_EmptyFileMeansDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mcpdock.json")
	require.NoError(t, os.WriteFile(path, []byte(""), 0o600))

	t.Setenv("MCPDOCK_DATA", dir)
	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8920", cfg.Listen)
	assert.Equal(t, dir, cfg.DataDir)
}

func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("MCPDOCK_DATA", dir)
	t.Setenv("MCPDOCK_LISTEN", "127.0.0.1:9999")
	t.Setenv("MCPDOCK_API_KEY", "s3cret")

	cfg, err := LoadFromFile("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9999", cfg.Listen)
	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, "s3cret", cfg.APIKey)
}

func TestSaveConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "mcpdock.json")

	cfg := DefaultConfig()
	cfg.DataDir = dir
	cfg.Listen = "127.0.0.1:8123"
	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8123", loaded.Listen)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestGetConfigPath(t *testing.T) {
	assert.Equal(t, filepath.Join("/tmp/data", ConfigFileName), GetConfigPath("/tmp/data"))
	assert.Contains(t, GetConfigPath(""), DefaultDataDir)
}
