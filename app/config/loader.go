package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Loader handles loading and validation of bank source definitions
type Loader struct {
	sourcesDir string
}

// NewLoader creates a new source definition loader
func NewLoader(sourcesDir string) *Loader {
	return &Loader{sourcesDir: sourcesDir}
}

// LoadAll loads all YAML source definition files from the sources directory
func (l *Loader) LoadAll() (map[string]*SourceConfig, error) {
	configs := make(map[string]*SourceConfig)

	if _, err := os.Stat(l.sourcesDir); os.IsNotExist(err) {
		return configs, nil // Return empty map if directory doesn't exist
	}

	files, err := filepath.Glob(filepath.Join(l.sourcesDir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("failed to find YAML files: %w", err)
	}

	ymlFiles, err := filepath.Glob(filepath.Join(l.sourcesDir, "*.yml"))
	if err != nil {
		return nil, fmt.Errorf("failed to find YML files: %w", err)
	}
	files = append(files, ymlFiles...)

	for _, file := range files {
		config, err := l.loadFile(file)
		if err != nil {
			return nil, fmt.Errorf("error loading %s: %w", file, err)
		}

		if err := l.validate(config); err != nil {
			return nil, fmt.Errorf("invalid source definition %s: %w", file, err)
		}

		configs[config.Source.Slug] = config
	}

	return configs, nil
}

// loadFile loads a single YAML source definition file
func (l *Loader) loadFile(path string) (*SourceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var config SourceConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	l.setDefaults(&config)

	return &config, nil
}

func (l *Loader) setDefaults(config *SourceConfig) {
	if config.Matching.Enabled == nil {
		enabled := true
		config.Matching.Enabled = &enabled
	}
}

// validate validates the source definition
func (l *Loader) validate(config *SourceConfig) error {
	if config.Source.Slug == "" {
		return fmt.Errorf("source slug is required")
	}
	if config.Source.Name == "" {
		return fmt.Errorf("source name is required")
	}

	if len(config.Matching.SenderDomains) == 0 && len(config.Matching.SenderEmails) == 0 {
		return fmt.Errorf("at least one sender domain or sender email is required")
	}

	if config.Matching.Priority < 0 {
		return fmt.Errorf("priority must be non-negative")
	}

	return nil
}
