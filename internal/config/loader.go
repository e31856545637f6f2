package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "ACEQL_"
)

// nestedSections are config sections that contain sub-sections, so their
// environment keys need a second dot: ACEQL_RETRIEVAL_CHROMEM_PATH -> retrieval.chromem.path.
var nestedSections = map[string][]string{
	"retrieval": {"chromem", "qdrant"},
}

// LoadWithFile loads configuration from a YAML file, then overrides with environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (ACEQL_SERVER_HTTP_PORT, ACEQL_LLM_MODEL, etc.)
//  2. YAML config file (~/.config/aceql/config.yaml)
//  3. Hardcoded defaults
//
// A missing file is not an error. Files must live in ~/.config/aceql/ or
// /etc/aceql/, be at most 1MB and carry 0600 or 0400 permissions.
//
// # Environment Variable Mapping
//
//	ACEQL_SERVER_HTTP_PORT        -> server.http_port
//	ACEQL_LLM_API_KEY             -> llm.api_key
//	ACEQL_RETRIEVAL_QDRANT_HOST   -> retrieval.qdrant.host
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "aceql", "config.yaml")
	}

	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		// Validate through the opened descriptor to avoid a TOCTOU race.
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if err := validateConfigFileProperties(info); err != nil {
			return nil, fmt.Errorf("config file validation failed: %w", err)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Config{Secrets: SecretsConfig{Enabled: true}}
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// envKey maps ACEQL_SECTION_FIELD_NAME to section.field_name, splitting on the
// first underscore only, with one extra level for nested sections.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}

	section, field := parts[0], parts[1]
	for _, sub := range nestedSections[section] {
		if strings.HasPrefix(field, sub+"_") {
			return section + "." + sub + "." + strings.TrimPrefix(field, sub+"_")
		}
	}
	return section + "." + field
}

// validateConfigPath checks if path is in allowed directories.
// This validation runs even if the file doesn't exist yet.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	resolvedPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		// Path may not exist yet.
		resolvedPath = absPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	allowedDirs := []string{
		filepath.Join(home, ".config", "aceql"),
		"/etc/aceql",
	}
	for _, dir := range allowedDirs {
		if strings.HasPrefix(resolvedPath, dir+string(filepath.Separator)) {
			return nil
		}
	}

	return fmt.Errorf("config file must be in ~/.config/aceql/ or /etc/aceql/")
}

// validateConfigFileProperties checks file permissions and size.
func validateConfigFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}

	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	return nil
}
