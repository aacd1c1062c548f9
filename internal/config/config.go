package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the configuration file looked up in the working directory.
const DefaultPath = "ampli.yml"

// Defaults applied by Validate when a field is left empty.
const (
	DefaultWorkDir          = "ampli-work"
	DefaultImportType       = "SampleData[PairedEndSequencesWithQuality]"
	DefaultImportFormat     = "PairedEndFastqManifestPhred33V2"
	DefaultQiimeImage       = "quay.io/qiime2/amplicon:2024.5"
	DefaultClassifierImage  = "eclipse-temurin:17-jre"
	DefaultConfidence       = 0.5
	DefaultClassifierMemory = "1g"
	DefaultGene             = "16srrna"
	DefaultNamespace        = "default"
	DefaultProbeReads       = 1000
)

// namespacePattern keeps ledger namespaces safe inside Redis key patterns.
var namespacePattern = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])?$`)

// Config represents the top-level ampli.yml configuration
type Config struct {
	Version   string          `yaml:"version"`
	WorkDir   string          `yaml:"work_dir,omitempty"`
	Manifest  ManifestConfig  `yaml:"manifest"`
	Runner    RunnerConfig    `yaml:"runner"`
	Import    ImportConfig    `yaml:"import"`
	Denoise   DenoiseConfig   `yaml:"denoise"`
	Phylogeny PhylogenyConfig `yaml:"phylogeny"`
	Classify  ClassifyConfig  `yaml:"classify"`
	Ledger    LedgerConfig    `yaml:"ledger"`
}

// ManifestConfig controls how the sample manifest is written and checked.
type ManifestConfig struct {
	Path       string `yaml:"path,omitempty"`
	LineEnding string `yaml:"line_ending,omitempty"` // lf, crlf or native
	CheckPaths *bool  `yaml:"check_paths,omitempty"` // default true
}

// RunnerConfig selects where the external tools execute.
type RunnerConfig struct {
	Mode            string `yaml:"mode,omitempty"`             // local or docker
	Image           string `yaml:"image,omitempty"`            // qiime/biom image (docker mode)
	ClassifierImage string `yaml:"classifier_image,omitempty"` // java image (docker mode)
	Qiime           string `yaml:"qiime,omitempty"`
	Biom            string `yaml:"biom,omitempty"`
	Java            string `yaml:"java,omitempty"`
	Timeout         string `yaml:"timeout,omitempty"` // Go duration, empty = no limit
}

// ImportConfig holds the importer's type tag and input format.
type ImportConfig struct {
	Type        string `yaml:"type,omitempty"`
	InputFormat string `yaml:"input_format,omitempty"`
	Summarize   string `yaml:"summarize,omitempty"` // required, optional or skip
}

// DenoiseConfig holds DADA2 truncation parameters.
// Truncation lengths have no default: they trade read length against overlap
// and must be chosen per dataset.
type DenoiseConfig struct {
	TruncLenF  int `yaml:"trunc_len_f,omitempty"`
	TruncLenR  int `yaml:"trunc_len_r,omitempty"`
	TrimLeftF  int `yaml:"trim_left_f,omitempty"`
	TrimLeftR  int `yaml:"trim_left_r,omitempty"`
	Threads    int `yaml:"threads,omitempty"`     // 0 lets DADA2 use every core
	ProbeReads int `yaml:"probe_reads,omitempty"` // reads sampled per FASTQ for the length check
}

// PhylogenyConfig holds the MAFFT/FastTree pass-through.
type PhylogenyConfig struct {
	Threads int `yaml:"threads,omitempty"`
}

// ClassifyConfig configures the RDP classifier.
type ClassifyConfig struct {
	Jar        string  `yaml:"jar,omitempty"`
	Training   string  `yaml:"training,omitempty"` // rRNAClassifier.properties of a custom training set
	Gene       string  `yaml:"gene,omitempty"`     // built-in gene when no training set is given
	Confidence float64 `yaml:"confidence,omitempty"`
	Memory     string  `yaml:"memory,omitempty"` // JVM -Xmx value
}

// LedgerConfig points at the Redis instance holding provenance records.
// An empty RedisURL disables the ledger and result reuse.
type LedgerConfig struct {
	RedisURL  string `yaml:"redis_url,omitempty"`
	Namespace string `yaml:"namespace,omitempty"`
}

// Default returns a validated configuration with every default applied.
func Default() *Config {
	c := &Config{Version: "1.0"}
	if err := c.Validate(); err != nil {
		panic(fmt.Sprintf("default configuration is invalid: %v", err))
	}
	return c
}

// Validate performs strict validation on the configuration and fills in defaults
func (c *Config) Validate() error {
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if c.WorkDir == "" {
		c.WorkDir = DefaultWorkDir
	}

	if err := c.Manifest.validate(); err != nil {
		return err
	}
	if err := c.Runner.validate(); err != nil {
		return err
	}
	if err := c.Import.validate(); err != nil {
		return err
	}
	if err := c.Denoise.validate(); err != nil {
		return err
	}
	if c.Phylogeny.Threads < 0 {
		return fmt.Errorf("phylogeny.threads must be >= 0, got %d", c.Phylogeny.Threads)
	}
	if err := c.Classify.validate(); err != nil {
		return err
	}
	if err := c.Ledger.validate(); err != nil {
		return err
	}

	return nil
}

func (m *ManifestConfig) validate() error {
	if m.Path == "" {
		m.Path = "manifest.tsv"
	}
	switch m.LineEnding {
	case "":
		m.LineEnding = "lf"
	case "lf", "crlf", "native":
	default:
		return fmt.Errorf("invalid manifest.line_ending: %s (must be 'lf', 'crlf' or 'native')", m.LineEnding)
	}
	if m.CheckPaths == nil {
		check := true
		m.CheckPaths = &check
	}
	return nil
}

func (r *RunnerConfig) validate() error {
	switch r.Mode {
	case "":
		r.Mode = "local"
	case "local", "docker":
	default:
		return fmt.Errorf("invalid runner.mode: %s (must be 'local' or 'docker')", r.Mode)
	}
	if r.Image == "" {
		r.Image = DefaultQiimeImage
	}
	if r.ClassifierImage == "" {
		r.ClassifierImage = DefaultClassifierImage
	}
	if r.Qiime == "" {
		r.Qiime = "qiime"
	}
	if r.Biom == "" {
		r.Biom = "biom"
	}
	if r.Java == "" {
		r.Java = "java"
	}
	if r.Timeout != "" {
		d, err := time.ParseDuration(r.Timeout)
		if err != nil {
			return fmt.Errorf("invalid runner.timeout: %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("runner.timeout must be positive, got %s", r.Timeout)
		}
	}
	return nil
}

// TimeoutDuration returns the parsed runner timeout, zero when unlimited.
func (r *RunnerConfig) TimeoutDuration() time.Duration {
	if r.Timeout == "" {
		return 0
	}
	d, _ := time.ParseDuration(r.Timeout)
	return d
}

func (i *ImportConfig) validate() error {
	if i.Type == "" {
		i.Type = DefaultImportType
	}
	if i.InputFormat == "" {
		i.InputFormat = DefaultImportFormat
	}
	switch i.Summarize {
	case "":
		i.Summarize = "optional"
	case "required", "optional", "skip":
	default:
		return fmt.Errorf("invalid import.summarize: %s (must be 'required', 'optional' or 'skip')", i.Summarize)
	}
	return nil
}

func (d *DenoiseConfig) validate() error {
	for name, v := range map[string]int{
		"trunc_len_f": d.TruncLenF,
		"trunc_len_r": d.TruncLenR,
		"trim_left_f": d.TrimLeftF,
		"trim_left_r": d.TrimLeftR,
		"threads":     d.Threads,
	} {
		if v < 0 {
			return fmt.Errorf("denoise.%s must be >= 0, got %d", name, v)
		}
	}
	if d.ProbeReads < 0 {
		return fmt.Errorf("denoise.probe_reads must be >= 0, got %d", d.ProbeReads)
	}
	if d.ProbeReads == 0 {
		d.ProbeReads = DefaultProbeReads
	}
	return nil
}

func (c *ClassifyConfig) validate() error {
	if c.Confidence == 0 {
		c.Confidence = DefaultConfidence
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		return fmt.Errorf("classify.confidence must be within (0, 1], got %g", c.Confidence)
	}
	if c.Memory == "" {
		c.Memory = DefaultClassifierMemory
	}
	if c.Training == "" && c.Gene == "" {
		c.Gene = DefaultGene
	}
	if c.Training != "" {
		if _, err := os.Stat(c.Training); os.IsNotExist(err) {
			return fmt.Errorf("classify.training does not exist: %s", c.Training)
		}
	}
	return nil
}

func (l *LedgerConfig) validate() error {
	if l.Namespace == "" {
		l.Namespace = DefaultNamespace
	}
	if !namespacePattern.MatchString(l.Namespace) || len(l.Namespace) > 63 {
		return fmt.Errorf("invalid ledger.namespace '%s': must be lowercase alphanumeric with hyphens (not at start/end), max 63 characters", l.Namespace)
	}
	return nil
}

// Load reads and validates ampli.yml from the specified path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// LoadOrDefault loads path when it exists and falls back to Default otherwise.
// A file that exists but fails to parse or validate is still an error.
func LoadOrDefault(path string) (*Config, bool, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), false, nil
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, true, err
	}
	return cfg, true, nil
}
