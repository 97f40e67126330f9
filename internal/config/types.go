package config

import "path/filepath"

// DefaultFile is the project config file looked up in the project root.
const DefaultFile = "devkit.yaml"

const (
	defaultName      = "app"
	defaultSourceDir = "src"
	defaultEntry     = "index.jsx"
	defaultTemplate  = "static/index.html"
)

// Config is the top-level configuration parsed from devkit.yaml.
type Config struct {
	Name      string       `yaml:"name"      json:"name"`
	SourceDir string       `yaml:"sourceDir" json:"sourceDir"`
	Entry     string       `yaml:"entry"     json:"entry"`
	Template  string       `yaml:"template"  json:"template"`
	Server    ServerConfig `yaml:"server"    json:"server"`
}

// ServerConfig controls the dev server's optional behavior.
type ServerConfig struct {
	// Open launches a browser once the listener is bound. Nil means true.
	Open *bool `yaml:"open" json:"open"`
	// Browser names the application to launch ("chrome", "firefox"). Empty uses the system default.
	Browser string `yaml:"browser" json:"browser"`
	// HistoryFallback serves index.html from the static fallback for unknown extensionless paths.
	HistoryFallback bool `yaml:"historyFallback" json:"historyFallback"`
	// NoInfo suppresses per-request logging from the dev middleware. Nil means true.
	NoInfo *bool `yaml:"noInfo" json:"noInfo"`
	// Proxy forwards matching request paths to another server, e.g. a local API.
	Proxy []ProxyRule `yaml:"proxy" json:"proxy"`
}

// ProxyRule forwards requests under Path to Target.
type ProxyRule struct {
	Path   string `yaml:"path"   json:"path"`
	Target string `yaml:"target" json:"target"`
}

// OpenBrowser reports whether the browser should be launched.
func (s ServerConfig) OpenBrowser() bool {
	return s.Open == nil || *s.Open
}

// Quiet reports whether per-request logging is suppressed.
func (s ServerConfig) Quiet() bool {
	return s.NoInfo == nil || *s.NoInfo
}

// Project is the resolved on-disk layout of the application being built.
type Project struct {
	Root      string
	EntryName string
	SourceDir string
	Entry     string
	Template  string
}

// SourcePath is the absolute source root.
func (p Project) SourcePath() string {
	return filepath.Join(p.Root, p.SourceDir)
}

// EntryPath is the absolute path of the application entry module.
func (p Project) EntryPath() string {
	return filepath.Join(p.SourcePath(), p.Entry)
}

// TemplatePath is the absolute path of the HTML template.
func (p Project) TemplatePath() string {
	return filepath.Join(p.Root, p.Template)
}

// Project resolves the layout rooted at root, filling defaults for unset fields.
// A nil Config yields the default layout.
func (c *Config) Project(root string) Project {
	p := Project{
		Root:      root,
		EntryName: defaultName,
		SourceDir: defaultSourceDir,
		Entry:     defaultEntry,
		Template:  defaultTemplate,
	}
	if c == nil {
		return p
	}
	if c.Name != "" {
		p.EntryName = c.Name
	}
	if c.SourceDir != "" {
		p.SourceDir = c.SourceDir
	}
	if c.Entry != "" {
		p.Entry = c.Entry
	}
	if c.Template != "" {
		p.Template = c.Template
	}
	return p
}

// DefaultProject returns the default layout rooted at root.
func DefaultProject(root string) Project {
	var c *Config
	return c.Project(root)
}
