package pipeline

import (
	"fmt"
	"maps"
	"net"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/rathix/cashier-devkit/internal/buildenv"
	"github.com/rathix/cashier-devkit/internal/config"
)

type ruleSpec struct {
	class   AssetClass
	test    string
	exclude string
	use     map[Mode][]Loader
}

type pluginSpec struct {
	kind    PluginKind
	modes   []Mode // nil means every mode
	options func(derivation) map[string]string
}

type derivation struct {
	mode    Mode
	env     buildenv.Environment
	project config.Project
}

var (
	outputDirs = map[Mode]string{
		ModeDevelopment: "dist",
		ModeProduction:  "build",
	}
	suffixes = map[Mode]string{
		ModeDevelopment: SuffixDevelopment,
		ModeProduction:  SuffixProduction,
	}
	resolveExtensions = []string{".js", ".jsx", ".json"}

	developmentOnly = []Mode{ModeDevelopment}
	productionOnly  = []Mode{ModeProduction}
)

var ruleTable = []ruleSpec{
	{
		class:   ClassScripts,
		test:    `\.jsx?$`,
		exclude: `node_modules`,
		use: everyMode(
			Loader{Name: TransformBabel, Options: map[string]string{"presets": "@babel/preset-env"}},
		),
	},
	{
		class: ClassStylesheets,
		test:  `\.css$`,
		use: map[Mode][]Loader{
			ModeProduction: {
				{Name: TransformCSSExtract},
				{Name: TransformCSS},
			},
			ModeDevelopment: {
				{Name: TransformStyle},
				{Name: TransformCSS, Options: map[string]string{"importLoaders": "1"}},
			},
		},
	},
	{
		class: ClassImages,
		test:  `(?i)\.(jpe?g|png|gif|svg)$`,
		use: everyMode(
			Loader{Name: TransformFile, Options: map[string]string{
				"name":   "img/[hash].[ext]",
				"hash":   "sha512",
				"digest": "hex",
			}},
		),
	},
	{
		class: ClassFonts,
		test:  `\.(woff(2)?|ttf|eot)(\?v=\d+\.\d+\.\d+)?$`,
		use: everyMode(
			Loader{Name: TransformFile, Options: map[string]string{
				"name":       "[name].[ext]",
				"outputPath": "fonts/",
				"limit":      "50000",
			}},
		),
	},
}

var pluginTable = []pluginSpec{
	{
		kind: PluginProvide,
		options: fixed(map[string]string{
			"React":    "react",
			"ReactDOM": "react-dom",
		}),
	},
	{
		kind: PluginHTMLTemplate,
		options: func(d derivation) map[string]string {
			return map[string]string{
				"filename": "index.html",
				"template": d.project.TemplatePath(),
			}
		},
	},
	{
		kind:  PluginMinify,
		modes: productionOnly,
		options: fixed(map[string]string{
			"compress": "true",
			"ecma":     "2015",
		}),
	},
	{
		kind:    PluginCSSExtract,
		modes:   productionOnly,
		options: fixed(map[string]string{"filename": "css/[name].css"}),
	},
	{
		kind:    PluginHotReload,
		modes:   developmentOnly,
		options: fixed(map[string]string{"path": LiveUpdatePath}),
	},
	{kind: PluginNoEmitOnErrors, modes: developmentOnly},
	{kind: PluginOccurrenceOrder, modes: developmentOnly},
}

var externalsTable = []External{
	{Module: "react", Global: "React"},
	{Module: "react-dom", Global: "ReactDOM"},
}

// Derive assembles the pipeline description for env and project. It has no side
// effects and returns structurally identical values for identical inputs.
func Derive(env buildenv.Environment, project config.Project) Description {
	env = env.WithDefaults()
	mode := ModeDevelopment
	if env.Production {
		mode = ModeProduction
	}
	d := derivation{mode: mode, env: env, project: project}

	desc := Description{
		Mode:    mode,
		Target:  "web",
		Context: project.Root,
		Entry: Entry{
			Name:    project.EntryName,
			Modules: entryModules(d),
		},
		Output: Output{
			Path:       filepath.Join(project.Root, outputDirs[mode]),
			Filename:   "[name]" + suffixes[mode],
			Suffix:     suffixes[mode],
			PublicPath: "/",
		},
		Resolve:   slices.Clone(resolveExtensions),
		Rules:     rules(mode),
		Plugins:   plugins(d),
		Externals: slices.Clone(externalsTable),
		Optimization: Optimization{
			Minimize:    mode == ModeProduction,
			VendorChunk: "vendors",
			VendorTest:  `[\\/]node_modules[\\/]`,
		},
	}
	if mode == ModeDevelopment {
		desc.Devtool = "source-map"
	}
	return desc
}

// LiveClientEntry is the module descriptor that connects a page to the dev server's
// live-update stream.
func LiveClientEntry(env buildenv.Environment) string {
	env = env.WithDefaults()
	addr := net.JoinHostPort(env.Host, strconv.Itoa(int(env.Port)))
	return fmt.Sprintf("%s?path=http://%s%s&reload=true", LiveClientModule, addr, LiveUpdatePath)
}

func entryModules(d derivation) []string {
	modules := []string{d.project.EntryPath()}
	if d.mode == ModeDevelopment {
		modules = append(modules, LiveClientEntry(d.env))
	}
	return modules
}

func rules(mode Mode) []Rule {
	out := make([]Rule, 0, len(ruleTable))
	for _, row := range ruleTable {
		use := row.use[mode]
		if len(use) == 0 {
			continue
		}
		out = append(out, Rule{
			Class:   row.class,
			Test:    row.test,
			Exclude: row.exclude,
			Use:     cloneLoaders(use),
		})
	}
	return out
}

func plugins(d derivation) []Plugin {
	out := make([]Plugin, 0, len(pluginTable))
	for _, row := range pluginTable {
		if row.modes != nil && !slices.Contains(row.modes, d.mode) {
			continue
		}
		p := Plugin{Kind: row.kind}
		if row.options != nil {
			p.Options = row.options(d)
		}
		out = append(out, p)
	}
	return out
}

func everyMode(loaders ...Loader) map[Mode][]Loader {
	return map[Mode][]Loader{
		ModeDevelopment: loaders,
		ModeProduction:  loaders,
	}
}

func fixed(opts map[string]string) func(derivation) map[string]string {
	return func(derivation) map[string]string {
		return maps.Clone(opts)
	}
}

func cloneLoaders(in []Loader) []Loader {
	out := make([]Loader, len(in))
	for i, l := range in {
		out[i] = Loader{Name: l.Name, Options: maps.Clone(l.Options)}
	}
	return out
}
