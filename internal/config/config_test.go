package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_ValidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "ampli.yml")

	validConfig := `version: "1.0"
work_dir: /data/run1
manifest:
  path: samples.tsv
  line_ending: crlf
  check_paths: false
runner:
  mode: docker
  image: quay.io/qiime2/amplicon:2024.10
denoise:
  trunc_len_f: 240
  trunc_len_r: 200
  threads: 8
phylogeny:
  threads: 4
classify:
  jar: /opt/rdp/classifier.jar
  confidence: 0.8
ledger:
  redis_url: redis://localhost:6379/0
  namespace: gut-study
`
	require.NoError(t, os.WriteFile(configPath, []byte(validConfig), 0644))

	cfg, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, "/data/run1", cfg.WorkDir)
	assert.Equal(t, "samples.tsv", cfg.Manifest.Path)
	assert.Equal(t, "crlf", cfg.Manifest.LineEnding)
	assert.False(t, *cfg.Manifest.CheckPaths)
	assert.Equal(t, "docker", cfg.Runner.Mode)
	assert.Equal(t, "quay.io/qiime2/amplicon:2024.10", cfg.Runner.Image)
	assert.Equal(t, DefaultClassifierImage, cfg.Runner.ClassifierImage)
	assert.Equal(t, 240, cfg.Denoise.TruncLenF)
	assert.Equal(t, 200, cfg.Denoise.TruncLenR)
	assert.Equal(t, 8, cfg.Denoise.Threads)
	assert.Equal(t, 4, cfg.Phylogeny.Threads)
	assert.Equal(t, 0.8, cfg.Classify.Confidence)
	assert.Equal(t, "gut-study", cfg.Ledger.Namespace)
}

func TestLoad_FileNotFound(t *testing.T) {
	cfg, err := Load("/nonexistent/ampli.yml")
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "failed to read config")
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "ampli.yml")
	require.NoError(t, os.WriteFile(configPath, []byte("version: \"1.0\"\nrunner:\n  - not\n   a map\n"), 0644))

	cfg, err := Load(configPath)
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestValidate_Defaults(t *testing.T) {
	cfg := &Config{Version: "1.0"}
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DefaultWorkDir, cfg.WorkDir)
	assert.Equal(t, "manifest.tsv", cfg.Manifest.Path)
	assert.Equal(t, "lf", cfg.Manifest.LineEnding)
	require.NotNil(t, cfg.Manifest.CheckPaths)
	assert.True(t, *cfg.Manifest.CheckPaths)
	assert.Equal(t, "local", cfg.Runner.Mode)
	assert.Equal(t, "qiime", cfg.Runner.Qiime)
	assert.Equal(t, "biom", cfg.Runner.Biom)
	assert.Equal(t, "java", cfg.Runner.Java)
	assert.Equal(t, DefaultImportType, cfg.Import.Type)
	assert.Equal(t, DefaultImportFormat, cfg.Import.InputFormat)
	assert.Equal(t, "optional", cfg.Import.Summarize)
	assert.Equal(t, DefaultProbeReads, cfg.Denoise.ProbeReads)
	assert.Equal(t, DefaultConfidence, cfg.Classify.Confidence)
	assert.Equal(t, DefaultGene, cfg.Classify.Gene)
	assert.Equal(t, DefaultClassifierMemory, cfg.Classify.Memory)
	assert.Equal(t, DefaultNamespace, cfg.Ledger.Namespace)
	assert.Equal(t, time.Duration(0), cfg.Runner.TimeoutDuration())
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"unsupported version", func(c *Config) { c.Version = "2.0" }, "unsupported version: 2.0"},
		{"line ending", func(c *Config) { c.Manifest.LineEnding = "cr" }, "invalid manifest.line_ending"},
		{"runner mode", func(c *Config) { c.Runner.Mode = "k8s" }, "invalid runner.mode"},
		{"timeout syntax", func(c *Config) { c.Runner.Timeout = "forever" }, "invalid runner.timeout"},
		{"timeout sign", func(c *Config) { c.Runner.Timeout = "-1m" }, "runner.timeout must be positive"},
		{"summarize", func(c *Config) { c.Import.Summarize = "always" }, "invalid import.summarize"},
		{"negative trunc", func(c *Config) { c.Denoise.TruncLenF = -1 }, "denoise.trunc_len_f must be >= 0"},
		{"negative threads", func(c *Config) { c.Phylogeny.Threads = -2 }, "phylogeny.threads must be >= 0"},
		{"confidence range", func(c *Config) { c.Classify.Confidence = 1.5 }, "classify.confidence must be within"},
		{"missing training", func(c *Config) { c.Classify.Training = "/nope/rRNAClassifier.properties" }, "classify.training does not exist"},
		{"namespace", func(c *Config) { c.Ledger.Namespace = "Bad_Name" }, "invalid ledger.namespace"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Version: "1.0"}
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadOrDefault(t *testing.T) {
	t.Run("missing file falls back to defaults", func(t *testing.T) {
		cfg, found, err := LoadOrDefault(filepath.Join(t.TempDir(), "ampli.yml"))
		require.NoError(t, err)
		assert.False(t, found)
		assert.Equal(t, "local", cfg.Runner.Mode)
	})

	t.Run("invalid file is an error", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ampli.yml")
		require.NoError(t, os.WriteFile(path, []byte("version: \"0.9\"\n"), 0644))
		_, found, err := LoadOrDefault(path)
		require.Error(t, err)
		assert.True(t, found)
	})
}
