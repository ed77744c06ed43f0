package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoader_LoadMissingFileReturnsDefaults(t *testing.T) {
	loader := NewLoader(filepath.Join(t.TempDir(), "does-not-exist.json"))

	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Persistence.Backend)
	assert.NotEmpty(t, cfg.DataDir)
	assert.NotEmpty(t, cfg.Logging.File)
	assert.NotEmpty(t, cfg.Persistence.SQLitePath)
}

func TestLoader_LoadFromFile(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "intervox.json")

	content := `{
		"server": {"port": 9999, "host": "127.0.0.1"},
		"speech": {"api_key": "sk_from_file", "voice_id": "custom-voice"},
		"persistence": {"backend": "supabase", "supabase_url": "https://x.supabase.co", "supabase_key": "key"},
		"data_dir": "` + tempDir + `"
	}`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0600))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "sk_from_file", cfg.Speech.APIKey)
	assert.Equal(t, "custom-voice", cfg.Speech.VoiceID)
	assert.Equal(t, "supabase", cfg.Persistence.Backend)

	// Defaults survive for keys the file omits
	assert.Equal(t, "conversations", cfg.Persistence.Table)
	assert.Equal(t, filepath.Join(tempDir, "intervox.log"), cfg.Logging.File)
}

func TestLoader_EnvOverridesSecret(t *testing.T) {
	t.Setenv("INTERVOX_SPEECH_API_KEY", "sk_from_env")

	loader := NewLoader(filepath.Join(t.TempDir(), "missing.json"))
	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, "sk_from_env", cfg.Speech.APIKey)
}

func TestLoader_SaveRoundTrip(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "intervox.json")
	loader := NewLoader(configPath)

	cfg := DefaultConfig()
	cfg.Server.Port = 18080
	cfg.Speech.APIKey = "sk_saved"
	cfg.DataDir = tempDir

	require.NoError(t, loader.Save(cfg))

	loaded, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 18080, loaded.Server.Port)
	assert.Equal(t, "sk_saved", loaded.Speech.APIKey)
}

func TestLoader_GetConfigPath(t *testing.T) {
	loader := NewLoader("/tmp/custom.json")
	assert.Equal(t, "/tmp/custom.json", loader.GetConfigPath())

	loader = NewLoader("")
	assert.Contains(t, loader.GetConfigPath(), ".intervox")
}
