package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/marcelsud/finsync/webhook"
	"github.com/marcelsud/finsync/webhook/security"
)

/* SourceLoader manages per-source settings from sources.yaml
 * Provides in-memory lookup for fast access
 */

// SourcesFile represents the structure of sources.yaml
type SourcesFile struct {
	Sources []SourceConfig `yaml:"sources"`
}

// SourceConfig represents a single webhook source in the YAML file
type SourceConfig struct {
	Source                string `yaml:"source"`
	Secret                string `yaml:"secret"`
	SignatureVerification *bool  `yaml:"signature_verification"` // Optional: default true when a secret is set
	ReplayProtection      *bool  `yaml:"replay_protection"`      // Optional: default true
	ToleranceSeconds      int    `yaml:"tolerance_seconds"`
	NonceTTLHours         int    `yaml:"nonce_ttl_hours"`
	Enabled               *bool  `yaml:"enabled"` // Optional: default true
}

// Source holds the validated settings for one webhook source
type Source struct {
	Source   webhook.Source
	Security security.Config
	Enabled  bool
}

// SourceLoader holds the loaded sources
type SourceLoader struct {
	sources map[webhook.Source]*Source
}

// NewSourceLoader creates a new source loader
func NewSourceLoader() *SourceLoader {
	return &SourceLoader{
		sources: make(map[webhook.Source]*Source),
	}
}

// Load reads and parses the sources.yaml file
func (l *SourceLoader) Load(filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("reading sources file: %w", err)
	}

	var file SourcesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing sources YAML: %w", err)
	}

	for _, sc := range file.Sources {
		source, err := l.convert(sc)
		if err != nil {
			return err
		}
		l.sources[source.Source] = source
	}

	return nil
}

// convert validates one YAML entry and applies defaults
func (l *SourceLoader) convert(sc SourceConfig) (*Source, error) {
	source := webhook.NewSource(sc.Source)
	if err := source.Validate(); err != nil {
		return nil, fmt.Errorf("invalid source %q: %w", sc.Source, err)
	}

	// Signature verification defaults on when a secret is configured;
	// replay protection defaults on unconditionally
	verify := sc.Secret != ""
	if sc.SignatureVerification != nil {
		verify = *sc.SignatureVerification
	}
	if verify && sc.Secret == "" {
		return nil, fmt.Errorf("signature_verification requires a secret for source %s", sc.Source)
	}

	replay := true
	if sc.ReplayProtection != nil {
		replay = *sc.ReplayProtection
	}

	if sc.ToleranceSeconds < 0 {
		return nil, fmt.Errorf("tolerance_seconds cannot be negative for source %s", sc.Source)
	}
	if sc.NonceTTLHours < 0 {
		return nil, fmt.Errorf("nonce_ttl_hours cannot be negative for source %s", sc.Source)
	}

	enabled := true
	if sc.Enabled != nil {
		enabled = *sc.Enabled
	}

	return &Source{
		Source: source,
		Security: security.Config{
			Secret:                sc.Secret,
			SignatureVerification: verify,
			ReplayProtection:      replay,
			Tolerance:             time.Duration(sc.ToleranceSeconds) * time.Second,
			NonceTTL:              time.Duration(sc.NonceTTLHours) * time.Hour,
		},
		Enabled: enabled,
	}, nil
}

// Get retrieves a source by its identifier
func (l *SourceLoader) Get(source webhook.Source) (*Source, error) {
	entry, exists := l.sources[source]
	if !exists {
		return nil, fmt.Errorf("source not configured: %s", source)
	}
	return entry, nil
}

// List returns all loaded sources
func (l *SourceLoader) List() []*Source {
	sources := make([]*Source, 0, len(l.sources))
	for _, entry := range l.sources {
		sources = append(sources, entry)
	}
	return sources
}

// Exists checks if a source is configured
func (l *SourceLoader) Exists(source webhook.Source) bool {
	_, exists := l.sources[source]
	return exists
}
