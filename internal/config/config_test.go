package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdirTemp moves into an empty directory so no config file is discovered.
func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name        string
		env         map[string]string
		file        string
		wantErr     bool
		validateCfg func(*testing.T, *Config)
	}{
		{
			name: "defaults",
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
				assert.Equal(t, int64(10<<20), cfg.Server.MaxUploadBytes)
				assert.Equal(t, []string{"http://localhost:8080"}, cfg.Security.AllowedOrigins)
				assert.True(t, cfg.Security.RateLimit.Enabled)
				assert.Equal(t, "memory", cfg.Storage.Driver)
				assert.Equal(t, 10*time.Second, cfg.Storage.Timeout)
				assert.Equal(t, "KPI", cfg.Ingest.SheetName)
				assert.Equal(t, 0.02, cfg.Ingest.DurationTolerance)
				assert.Equal(t, 5, cfg.Ingest.MaxReportedErrors)
				assert.Equal(t, "json", cfg.Logging.Format)
			},
		},
		{
			name: "environment overrides",
			env: map[string]string{
				"KPI_SERVER_PORT":                     "9090",
				"KPI_SECURITY_ALLOWED_ORIGINS":        "http://a.example,https://b.example",
				"KPI_STORAGE_DRIVER":                  "file",
				"KPI_STORAGE_DATA_DIR":                "/var/lib/kpi",
				"KPI_INGEST_DURATION_TOLERANCE_HOURS": "0.05",
				"KPI_LOGGING_FORMAT":                  "text",
			},
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 9090, cfg.Server.Port)
				assert.Equal(t, []string{"http://a.example", "https://b.example"}, cfg.Security.AllowedOrigins)
				assert.Equal(t, "file", cfg.Storage.Driver)
				assert.Equal(t, "/var/lib/kpi", cfg.Storage.DataDir)
				assert.Equal(t, 0.05, cfg.Ingest.DurationTolerance)
				assert.Equal(t, "json", cfg.Logging.Format, "validate forces json")
			},
		},
		{
			name: "file overlay keeps unset defaults",
			file: "server:\n  port: 7070\ningest:\n  sheet_name: Stages\n",
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 7070, cfg.Server.Port)
				assert.Equal(t, "Stages", cfg.Ingest.SheetName)
				assert.Equal(t, 5, cfg.Ingest.MaxReportedErrors)
			},
		},
		{
			name: "env wins over file",
			file: "server:\n  port: 7070\n",
			env:  map[string]string{"KPI_SERVER_PORT": "6060"},
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 6060, cfg.Server.Port)
			},
		},
		{
			name:    "invalid port",
			env:     map[string]string{"KPI_SERVER_PORT": "99999"},
			wantErr: true,
		},
		{
			name:    "unknown driver",
			env:     map[string]string{"KPI_STORAGE_DRIVER": "mongo"},
			wantErr: true,
		},
		{
			name:    "postgres without url",
			env:     map[string]string{"KPI_STORAGE_DRIVER": "postgres"},
			wantErr: true,
		},
		{
			name:    "malformed duration",
			env:     map[string]string{"KPI_STORAGE_TIMEOUT": "soon"},
			wantErr: true,
		},
		{
			name:    "malformed file",
			file:    "server: [",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := chdirTemp(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			path := ""
			if tt.file != "" {
				path = filepath.Join(dir, "kpiledger.yaml")
				require.NoError(t, os.WriteFile(path, []byte(tt.file), 0o600))
			}

			cfg, err := Load(path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.validateCfg(t, cfg)
		})
	}
}

func TestLoad_DiscoversFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "kpiledger.yaml"), []byte("server:\n  port: 5050\n"), 0o600))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 5050, cfg.Server.Port)
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.validate())
}
