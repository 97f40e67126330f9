package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var entryNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Load reads and parses a YAML configuration file at path.
// If path does not exist or is empty, it returns an empty Config with no errors.
// If the YAML is malformed, it returns nil config with a parse error.
// For validation errors, it returns a valid config with invalid fields cleared
// (so defaults apply) plus errors describing what was reset.
func Load(path string) (*Config, []error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, []error{fmt.Errorf("failed to read config file: %w", err)}
	}

	if len(strings.TrimSpace(string(data))) == 0 {
		return &Config{}, nil
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, []error{fmt.Errorf("failed to parse config YAML: %w", err)}
	}

	var validationErrors []error

	if name := strings.TrimSpace(cfg.Name); name != "" && !entryNamePattern.MatchString(name) {
		validationErrors = append(validationErrors, fmt.Errorf("name: must contain only letters, digits, '-' or '_', got %q", cfg.Name))
		cfg.Name = ""
	}

	for _, field := range []struct {
		key   string
		value *string
	}{
		{"sourceDir", &cfg.SourceDir},
		{"entry", &cfg.Entry},
		{"template", &cfg.Template},
	} {
		if err := validateRelative(*field.value); err != nil {
			validationErrors = append(validationErrors, fmt.Errorf("%s: %w", field.key, err))
			*field.value = ""
		}
	}

	cfg.Server.Browser = strings.TrimSpace(cfg.Server.Browser)

	proxies := cfg.Server.Proxy[:0]
	for i, rule := range cfg.Server.Proxy {
		if err := validateProxy(rule); err != nil {
			validationErrors = append(validationErrors, fmt.Errorf("server.proxy[%d]: %w", i, err))
			continue
		}
		proxies = append(proxies, rule)
	}
	cfg.Server.Proxy = proxies

	return &cfg, validationErrors
}

// validateProxy requires an absolute request path and an http(s) target.
func validateProxy(rule ProxyRule) error {
	if !strings.HasPrefix(rule.Path, "/") {
		return fmt.Errorf("path must start with '/', got %q", rule.Path)
	}
	u, err := url.Parse(rule.Target)
	if err != nil {
		return fmt.Errorf("invalid target %q: %w", rule.Target, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("target must be an http or https URL, got %q", rule.Target)
	}
	return nil
}

// validateRelative rejects paths that are absolute or escape the project root.
func validateRelative(p string) error {
	if p == "" {
		return nil
	}
	if filepath.IsAbs(p) {
		return fmt.Errorf("must be relative to the project root, got %q", p)
	}
	clean := filepath.Clean(p)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Errorf("must stay inside the project root, got %q", p)
	}
	return nil
}
