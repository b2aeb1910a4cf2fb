package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Default configuration tests
// =============================================================================

func TestNewConfig_ReturnsDefaults(t *testing.T) {
	cfg := NewConfig()
	require.NotNil(t, cfg)

	assert.Equal(t, 1500, cfg.Ingestion.ChunkSize)
	assert.Equal(t, 200, cfg.Ingestion.ChunkOverlapBase)
	assert.Equal(t, runtime.NumCPU(), cfg.Ingestion.Workers)
	assert.Equal(t, "sync", cfg.Ingestion.DurabilityMode)

	assert.Equal(t, 8, cfg.Retrieval.TopK)
	assert.Equal(t, 4, cfg.Retrieval.MaxVariants)
	assert.Equal(t, 0.5, cfg.Retrieval.SimilarityThreshold)
	assert.Equal(t, 0.2, cfg.Retrieval.VariantAgreementThreshold)
	assert.Equal(t, 0.3, cfg.Retrieval.DiversityWeight)
	assert.True(t, cfg.Retrieval.RerankEnabled)
	assert.Equal(t, 20, cfg.Retrieval.RerankTopK)
	assert.True(t, cfg.Retrieval.SourceDiversityEnabled)
	assert.Equal(t, 3, cfg.Retrieval.MaxChunksPerDoc)
	assert.Equal(t, 2, cfg.Retrieval.MinSourceTypes)

	assert.Equal(t, "", cfg.Embedder.Provider) // empty triggers auto-detection
	assert.Equal(t, 32, cfg.Embedder.BatchSize)
	assert.True(t, cfg.Embedder.AdaptiveBatchingEnabled)
	assert.Equal(t, 0.4, cfg.Embedder.AvailableMemoryFraction)

	assert.Equal(t, 60, cfg.LLM.RequestsPerMinute)
	assert.Equal(t, 5, cfg.LLM.CircuitMaxFailures)
	assert.Equal(t, 1000, cfg.LLM.MaxTokens)
	assert.Equal(t, 0.1, cfg.LLM.Temperature)

	assert.Equal(t, 20, cfg.Conversation.MaxHistory)
	assert.Equal(t, 6, cfg.Conversation.MaxRelevantHistory)
	assert.Equal(t, 4000, cfg.Conversation.MaxContextLength)
	assert.Equal(t, Duration(24*time.Hour), cfg.Conversation.IdleTimeout)
	assert.Equal(t, 10, cfg.Conversation.MaxDecomposedQueries)
	assert.True(t, cfg.Conversation.ValidationEnabled)
	assert.Equal(t, "memory", cfg.Conversation.StateBackend)

	assert.Equal(t, 2, cfg.Memory.MaxLoadedModels)

	assert.False(t, cfg.ExternalSource.Enabled)
	assert.Equal(t, "servicenow", cfg.ExternalSource.Kind)

	assert.Equal(t, "direct", cfg.Server.Transport)
	assert.Equal(t, "info", cfg.Server.LogLevel)
	assert.NotEmpty(t, cfg.Server.DataDir)
}

func TestConfig_VersionDefaultsToOne(t *testing.T) {
	cfg := NewConfig()
	assert.Equal(t, 1, cfg.Version)
}

// =============================================================================
// Configuration file loading tests
// =============================================================================

func TestLoad_NoConfigFile_ReturnsDefaults(t *testing.T) {
	tmpDir := t.TempDir()

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, 8, cfg.Retrieval.TopK)
}

func TestLoad_YamlFile_OverridesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configContent := `
version: 1
retrieval:
  top_k: 12
  diversity_weight: 0.5
ingestion:
  chunk_size: 2000
`
	err := os.WriteFile(filepath.Join(tmpDir, "ragcore.yaml"), []byte(configContent), 0o644)
	require.NoError(t, err)

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Retrieval.TopK)
	assert.Equal(t, 0.5, cfg.Retrieval.DiversityWeight)
	assert.Equal(t, 2000, cfg.Ingestion.ChunkSize)
}

func TestLoad_YmlExtension_IsRecognized(t *testing.T) {
	tmpDir := t.TempDir()
	configContent := `
version: 1
embedder:
  provider: static
`
	err := os.WriteFile(filepath.Join(tmpDir, "ragcore.yml"), []byte(configContent), 0o644)
	require.NoError(t, err)

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, "static", cfg.Embedder.Provider)
}

func TestLoad_YamlPreferredOverYml(t *testing.T) {
	tmpDir := t.TempDir()
	yamlContent := `
version: 1
embedder:
  provider: ollama
`
	ymlContent := `
version: 1
embedder:
  provider: static
`
	err := os.WriteFile(filepath.Join(tmpDir, "ragcore.yaml"), []byte(yamlContent), 0o644)
	require.NoError(t, err)
	err = os.WriteFile(filepath.Join(tmpDir, "ragcore.yml"), []byte(ymlContent), 0o644)
	require.NoError(t, err)

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, "ollama", cfg.Embedder.Provider)
}

func TestLoad_InvalidYaml_ReturnsError(t *testing.T) {
	tmpDir := t.TempDir()
	invalidContent := `
version: 1
retrieval:
  top_k: [invalid yaml syntax
`
	err := os.WriteFile(filepath.Join(tmpDir, "ragcore.yaml"), []byte(invalidContent), 0o644)
	require.NoError(t, err)

	cfg, err := Load(tmpDir)

	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "parse")
}

func TestLoad_InvalidFieldType_ReturnsError(t *testing.T) {
	tmpDir := t.TempDir()
	invalidContent := `
version: 1
retrieval:
  top_k: "not-a-number"
`
	err := os.WriteFile(filepath.Join(tmpDir, "ragcore.yaml"), []byte(invalidContent), 0o644)
	require.NoError(t, err)

	cfg, err := Load(tmpDir)

	require.Error(t, err)
	assert.Nil(t, cfg)
}

// =============================================================================
// Project root discovery tests
// =============================================================================

func TestFindProjectRoot_GitDirectory_ReturnsGitRoot(t *testing.T) {
	tmpDir := t.TempDir()
	gitDir := filepath.Join(tmpDir, ".git")
	nestedDir := filepath.Join(tmpDir, "src", "internal")
	require.NoError(t, os.Mkdir(gitDir, 0o755))
	require.NoError(t, os.MkdirAll(nestedDir, 0o755))

	root, err := FindProjectRoot(nestedDir)

	require.NoError(t, err)
	assert.Equal(t, tmpDir, root)
}

func TestFindProjectRoot_ConfigFile_ReturnsConfigLocation(t *testing.T) {
	tmpDir := t.TempDir()
	nestedDir := filepath.Join(tmpDir, "src", "internal")
	require.NoError(t, os.MkdirAll(nestedDir, 0o755))
	err := os.WriteFile(filepath.Join(tmpDir, "ragcore.yaml"), []byte("version: 1"), 0o644)
	require.NoError(t, err)

	root, err := FindProjectRoot(nestedDir)

	require.NoError(t, err)
	assert.Equal(t, tmpDir, root)
}

func TestFindProjectRoot_NoMarkers_ReturnsCurrentDir(t *testing.T) {
	tmpDir := t.TempDir()

	root, err := FindProjectRoot(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, tmpDir, root)
}

// =============================================================================
// Environment variable override tests
// =============================================================================

func TestLoad_EnvVarOverridesProvider(t *testing.T) {
	tmpDir := t.TempDir()
	configContent := `
version: 1
embedder:
  provider: llama
`
	err := os.WriteFile(filepath.Join(tmpDir, "ragcore.yaml"), []byte(configContent), 0o644)
	require.NoError(t, err)
	t.Setenv("RAGCORE_EMBEDDER_PROVIDER", "static")

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, "static", cfg.Embedder.Provider)
}

func TestLoad_EnvVarOverridesModel(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("RAGCORE_EMBEDDER_MODEL", "all-minilm")

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, "all-minilm", cfg.Embedder.Model)
}

func TestLoad_EnvVarOverridesLogLevel(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("RAGCORE_LOG_LEVEL", "debug")

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Server.LogLevel)
}

func TestLoad_EnvVarOverridesTopK(t *testing.T) {
	tmpDir := t.TempDir()
	configContent := `
version: 1
retrieval:
  top_k: 10
`
	err := os.WriteFile(filepath.Join(tmpDir, "ragcore.yaml"), []byte(configContent), 0o644)
	require.NoError(t, err)
	t.Setenv("RAGCORE_TOP_K", "15")

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, 15, cfg.Retrieval.TopK)
}

func TestLoad_EnvVarOverridesDiversityWeight(t *testing.T) {
	tmpDir := t.TempDir()
	configContent := `
version: 1
retrieval:
  diversity_weight: 0.4
`
	err := os.WriteFile(filepath.Join(tmpDir, "ragcore.yaml"), []byte(configContent), 0o644)
	require.NoError(t, err)
	t.Setenv("RAGCORE_DIVERSITY_WEIGHT", "0.6")

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, 0.6, cfg.Retrieval.DiversityWeight)
}

func TestLoad_EnvVarEmptyString_DoesNotOverride(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("RAGCORE_EMBEDDER_PROVIDER", "")

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, "", cfg.Embedder.Provider)
}

// =============================================================================
// User/global configuration tests
// =============================================================================

func TestGetUserConfigPath_DefaultsToXDGLocation(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "")

	path := GetUserConfigPath()

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	expected := filepath.Join(home, ".config", "ragcore", "config.yaml")
	assert.Equal(t, expected, path)
}

func TestGetUserConfigPath_RespectsXDGConfigHome(t *testing.T) {
	customConfig := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", customConfig)

	path := GetUserConfigPath()

	expected := filepath.Join(customConfig, "ragcore", "config.yaml")
	assert.Equal(t, expected, path)
}

func TestGetUserConfigDir_ReturnsParentOfConfigPath(t *testing.T) {
	dir := GetUserConfigDir()
	path := GetUserConfigPath()

	assert.Equal(t, filepath.Dir(path), dir)
}

func TestUserConfigExists_ReturnsFalseWhenMissing(t *testing.T) {
	emptyDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", emptyDir)

	exists := UserConfigExists()

	assert.False(t, exists)
}

func TestUserConfigExists_ReturnsTrueWhenPresent(t *testing.T) {
	configDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", configDir)
	ragcoreDir := filepath.Join(configDir, "ragcore")
	require.NoError(t, os.MkdirAll(ragcoreDir, 0o755))
	configPath := filepath.Join(ragcoreDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("version: 1"), 0o644))

	exists := UserConfigExists()

	assert.True(t, exists)
}

func TestLoad_UserConfigOverridesDefaults(t *testing.T) {
	configDir := t.TempDir()
	projectDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", configDir)

	ragcoreDir := filepath.Join(configDir, "ragcore")
	require.NoError(t, os.MkdirAll(ragcoreDir, 0o755))
	userConfig := `
version: 1
llm:
  endpoint: http://custom-host:11434
`
	require.NoError(t, os.WriteFile(filepath.Join(ragcoreDir, "config.yaml"), []byte(userConfig), 0o644))

	cfg, err := Load(projectDir)

	require.NoError(t, err)
	assert.Equal(t, "http://custom-host:11434", cfg.LLM.Endpoint)
}

func TestLoad_ProjectConfigOverridesUserConfig(t *testing.T) {
	configDir := t.TempDir()
	projectDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", configDir)

	ragcoreDir := filepath.Join(configDir, "ragcore")
	require.NoError(t, os.MkdirAll(ragcoreDir, 0o755))
	userConfig := `
version: 1
embedder:
  provider: ollama
  model: user-model
`
	require.NoError(t, os.WriteFile(filepath.Join(ragcoreDir, "config.yaml"), []byte(userConfig), 0o644))

	projectConfig := `
version: 1
embedder:
  model: project-model
`
	require.NoError(t, os.WriteFile(filepath.Join(projectDir, "ragcore.yaml"), []byte(projectConfig), 0o644))

	cfg, err := Load(projectDir)

	require.NoError(t, err)
	assert.Equal(t, "project-model", cfg.Embedder.Model)
	assert.Equal(t, "ollama", cfg.Embedder.Provider)
}

func TestLoad_EnvVarOverridesUserAndProjectConfig(t *testing.T) {
	configDir := t.TempDir()
	projectDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", configDir)
	t.Setenv("RAGCORE_EMBEDDER_MODEL", "env-model")

	ragcoreDir := filepath.Join(configDir, "ragcore")
	require.NoError(t, os.MkdirAll(ragcoreDir, 0o755))
	userConfig := `
version: 1
embedder:
  model: user-model
`
	require.NoError(t, os.WriteFile(filepath.Join(ragcoreDir, "config.yaml"), []byte(userConfig), 0o644))

	projectConfig := `
version: 1
embedder:
  model: project-model
`
	require.NoError(t, os.WriteFile(filepath.Join(projectDir, "ragcore.yaml"), []byte(projectConfig), 0o644))

	cfg, err := Load(projectDir)

	require.NoError(t, err)
	assert.Equal(t, "env-model", cfg.Embedder.Model)
}

func TestLoad_InvalidUserConfig_ReturnsError(t *testing.T) {
	configDir := t.TempDir()
	projectDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", configDir)

	ragcoreDir := filepath.Join(configDir, "ragcore")
	require.NoError(t, os.MkdirAll(ragcoreDir, 0o755))
	invalidConfig := `
version: 1
embedder:
  model: [invalid yaml
`
	require.NoError(t, os.WriteFile(filepath.Join(ragcoreDir, "config.yaml"), []byte(invalidConfig), 0o644))

	cfg, err := Load(projectDir)

	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "user config")
}

func TestLoad_DurationStrings_AreParsed(t *testing.T) {
	tmpDir := t.TempDir()
	configContent := `
version: 1
llm:
  timeout: 45s
  min_interval: 250ms
conversation:
  idle_timeout: 12h
external_source:
  poll_interval: 5m
`
	err := os.WriteFile(filepath.Join(tmpDir, "ragcore.yaml"), []byte(configContent), 0o644)
	require.NoError(t, err)

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.LLM.Timeout.Std())
	assert.Equal(t, 250*time.Millisecond, cfg.LLM.MinInterval.Std())
	assert.Equal(t, 12*time.Hour, cfg.Conversation.IdleTimeout.Std())
	assert.Equal(t, 5*time.Minute, cfg.ExternalSource.PollInterval.Std())
}

func TestLoad_InvalidDurationString_ReturnsError(t *testing.T) {
	tmpDir := t.TempDir()
	configContent := `
llm:
  timeout: notaduration
`
	err := os.WriteFile(filepath.Join(tmpDir, "ragcore.yaml"), []byte(configContent), 0o644)
	require.NoError(t, err)

	_, err = Load(tmpDir)
	require.Error(t, err)
}
