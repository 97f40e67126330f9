// Package pipeline derives the declarative bundle pipeline from the build environment.
package pipeline

import "slices"

// Mode selects the build flavor.
type Mode string

const (
	ModeDevelopment Mode = "development"
	ModeProduction  Mode = "production"
)

// AssetClass names a family of files handled by one rule.
type AssetClass string

const (
	ClassScripts     AssetClass = "scripts"
	ClassStylesheets AssetClass = "stylesheets"
	ClassImages      AssetClass = "images"
	ClassFonts       AssetClass = "fonts"
)

// Transform names understood by the compiler.
const (
	TransformBabel      = "babel"
	TransformCSS        = "css"
	TransformStyle      = "style"
	TransformCSSExtract = "css-extract"
	TransformFile       = "file"
)

// PluginKind names a build plugin.
type PluginKind string

const (
	PluginProvide         PluginKind = "provide"
	PluginHTMLTemplate    PluginKind = "html-template"
	PluginMinify          PluginKind = "minify"
	PluginCSSExtract      PluginKind = "css-extract"
	PluginHotReload       PluginKind = "hot-reload"
	PluginNoEmitOnErrors  PluginKind = "no-emit-on-errors"
	PluginOccurrenceOrder PluginKind = "occurrence-order"
)

// Output suffixes. Exactly one applies per mode.
const (
	SuffixProduction  = ".js"
	SuffixDevelopment = ".dev.js"
)

// Live-update wiring shared by the pipeline, the compiler and the dev server.
const (
	LiveClientModule = "devkit/live-client"
	LiveUpdatePath   = "/__devkit/hmr"
)

// Description is the fully assembled pipeline for one build. It is a value:
// Derive returns a fresh one per call and nothing mutates it afterwards.
type Description struct {
	Mode         Mode         `json:"mode"         yaml:"mode"`
	Target       string       `json:"target"       yaml:"target"`
	Context      string       `json:"context"      yaml:"context"`
	Entry        Entry        `json:"entry"        yaml:"entry"`
	Output       Output       `json:"output"       yaml:"output"`
	Resolve      []string     `json:"resolve"      yaml:"resolve"`
	Rules        []Rule       `json:"rules"        yaml:"rules"`
	Plugins      []Plugin     `json:"plugins"      yaml:"plugins"`
	Externals    []External   `json:"externals"    yaml:"externals"`
	Devtool      string       `json:"devtool,omitempty" yaml:"devtool,omitempty"`
	Optimization Optimization `json:"optimization" yaml:"optimization"`
}

// Entry is the single named application chunk and the modules it is built from, in order.
type Entry struct {
	Name    string   `json:"name"    yaml:"name"`
	Modules []string `json:"modules" yaml:"modules"`
}

// Output is where and how the bundle is written.
type Output struct {
	Path       string `json:"path"       yaml:"path"`
	Filename   string `json:"filename"   yaml:"filename"`
	Suffix     string `json:"suffix"     yaml:"suffix"`
	PublicPath string `json:"publicPath" yaml:"publicPath"`
}

// Rule maps files matching Test to an ordered transform chain.
// Test and Exclude use Go regexp syntax.
type Rule struct {
	Class   AssetClass `json:"class"             yaml:"class"`
	Test    string     `json:"test"              yaml:"test"`
	Exclude string     `json:"exclude,omitempty" yaml:"exclude,omitempty"`
	Use     []Loader   `json:"use"               yaml:"use"`
}

// Loader is one named transform with its options.
type Loader struct {
	Name    string            `json:"name"              yaml:"name"`
	Options map[string]string `json:"options,omitempty" yaml:"options,omitempty"`
}

// Plugin is one named build plugin with its options.
type Plugin struct {
	Kind    PluginKind        `json:"kind"              yaml:"kind"`
	Options map[string]string `json:"options,omitempty" yaml:"options,omitempty"`
}

// External is a module resolved from a runtime global instead of being bundled.
type External struct {
	Module string `json:"module" yaml:"module"`
	Global string `json:"global" yaml:"global"`
}

// Optimization controls minification and chunk splitting.
type Optimization struct {
	Minimize     bool   `json:"minimize"     yaml:"minimize"`
	VendorChunk  string `json:"vendorChunk"  yaml:"vendorChunk"`
	VendorTest   string `json:"vendorTest"   yaml:"vendorTest"`
	RuntimeChunk bool   `json:"runtimeChunk" yaml:"runtimeChunk"`
}

// Production reports whether the description targets production.
func (d Description) Production() bool {
	return d.Mode == ModeProduction
}

// OutputFile is the emitted bundle name, e.g. "app.dev.js".
func (d Description) OutputFile() string {
	return d.Entry.Name + d.Output.Suffix
}

// HasPlugin reports whether a plugin of kind is present.
func (d Description) HasPlugin(kind PluginKind) bool {
	_, ok := d.Plugin(kind)
	return ok
}

// Plugin returns the first plugin of kind.
func (d Description) Plugin(kind PluginKind) (Plugin, bool) {
	i := slices.IndexFunc(d.Plugins, func(p Plugin) bool { return p.Kind == kind })
	if i < 0 {
		return Plugin{}, false
	}
	return d.Plugins[i], true
}

// Rule returns the rule for class.
func (d Description) Rule(class AssetClass) (Rule, bool) {
	i := slices.IndexFunc(d.Rules, func(r Rule) bool { return r.Class == class })
	if i < 0 {
		return Rule{}, false
	}
	return d.Rules[i], true
}

// ExternalFor returns the global bound to module.
func (d Description) ExternalFor(module string) (string, bool) {
	for _, e := range d.Externals {
		if e.Module == module {
			return e.Global, true
		}
	}
	return "", false
}

// LoaderNames lists the transform names of the rule in order.
func (r Rule) LoaderNames() []string {
	names := make([]string, len(r.Use))
	for i, l := range r.Use {
		names[i] = l.Name
	}
	return names
}
