package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	ssconfig "github.com/c360studio/semstreams/config"
	"gopkg.in/yaml.v3"
)

const (
	// ProjectConfigFile is the name of the project-level config file
	ProjectConfigFile = "planwright.yaml"
	// UserConfigDir is the directory for user-level config
	UserConfigDir = ".config/planwright"
	// UserConfigFile is the name of the user-level config file
	UserConfigFile = "config.yaml"
)

// expandEnv substitutes ${VAR} and ${VAR:-default} references so config
// files can carry credentials and endpoints without hardcoding them.
func expandEnv(s string) string {
	return ssconfig.ExpandEnvWithDefaults(s)
}

// Loader handles configuration loading with layered precedence
type Loader struct {
	logger *slog.Logger
}

// NewLoader creates a new configuration loader
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// Load loads configuration with layered precedence:
// 1. Default config
// 2. User config (~/.config/planwright/config.yaml)
// 3. Project config (explicit path, or planwright.yaml in current or
// parent directories)
// Overlay files contribute only the fields they set.
func (l *Loader) Load(explicitPath string) (*Config, error) {
	// Start with defaults
	config := DefaultConfig()

	// Load user config
	userConfigPath := l.userConfigPath()
	if userConfigPath != "" {
		if overlay, err := loadOverlay(userConfigPath); err == nil {
			l.logger.Debug("Loaded user config", slog.String("path", userConfigPath))
			config.Merge(overlay)
		} else if !os.IsNotExist(err) {
			l.logger.Warn("Failed to load user config", slog.String("path", userConfigPath), slog.String("error", err.Error()))
		}
	}

	// Load project config
	projectConfigPath := explicitPath
	if projectConfigPath == "" {
		projectConfigPath = l.findProjectConfig()
	}
	if projectConfigPath != "" {
		overlay, err := loadOverlay(projectConfigPath)
		if err != nil {
			// An explicitly named file must load; a discovered one
			// failing is only worth a warning.
			if explicitPath != "" {
				return nil, err
			}
			l.logger.Warn("Failed to load project config", slog.String("path", projectConfigPath), slog.String("error", err.Error()))
		} else {
			l.logger.Debug("Loaded project config", slog.String("path", projectConfigPath))
			config.Merge(overlay)
		}
	} else {
		l.logger.Debug("No project config found")
	}

	// Validate final config
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// loadOverlay parses a config file without layering defaults underneath,
// so merging it only touches the fields the file actually sets.
func loadOverlay(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	overlay := &Config{}
	expanded := expandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), overlay); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return overlay, nil
}

// EnsureUserConfig creates the user config file with defaults if it doesn't exist
func (l *Loader) EnsureUserConfig() error {
	userConfigPath := l.userConfigPath()
	if userConfigPath == "" {
		return fmt.Errorf("cannot determine user home directory")
	}

	// Check if it already exists
	if _, err := os.Stat(userConfigPath); err == nil {
		return nil // Already exists
	}

	// Create default config
	config := DefaultConfig()
	if err := config.SaveToFile(userConfigPath); err != nil {
		return err
	}

	l.logger.Info("Created default user config", slog.String("path", userConfigPath))
	return nil
}

// userConfigPath returns the path to the user config file
func (l *Loader) userConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, UserConfigDir, UserConfigFile)
}

// findProjectConfig searches for planwright.yaml in current and parent directories
func (l *Loader) findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	dir := cwd
	for {
		configPath := filepath.Join(dir, ProjectConfigFile)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		// Move to parent directory
		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			break
		}
		dir = parent
	}

	return ""
}
