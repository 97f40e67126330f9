package compiler

import (
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/evanw/esbuild/pkg/api"
	"go.trai.ch/zerr"

	"github.com/rathix/cashier-devkit/internal/pipeline"
)

var ecmaTargets = map[string]api.Target{
	"5":    api.ES5,
	"2015": api.ES2015,
	"2016": api.ES2016,
	"2017": api.ES2017,
	"2018": api.ES2018,
	"2019": api.ES2019,
	"2020": api.ES2020,
	"next": api.ESNext,
}

// Esbuild compiles descriptions with esbuild's Go API. Compiles run on
// esbuild's own goroutines; Esbuild itself holds no per-build state.
type Esbuild struct {
	logger *slog.Logger
	build  func(api.BuildOptions) api.BuildResult
}

// NewEsbuild creates an esbuild-backed compiler.
func NewEsbuild(logger *slog.Logger) *Esbuild {
	return &Esbuild{logger: logger, build: api.Build}
}

// build holds the per-compile wiring derived from one description.
type build struct {
	desc      pipeline.Description
	options   api.BuildOptions
	assets    *assetCollector
	cssOutput string // rename target for extracted CSS, empty when CSS is not extracted
	template  string
}

// Compile runs one build. Esbuild builds cannot be interrupted, so ctx is only
// checked before and after the build.
func (c *Esbuild) Compile(ctx context.Context, desc pipeline.Description) (*ArtifactSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b, err := prepare(desc)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result := c.build(b.options)
	c.logger.Debug("esbuild finished",
		"mode", desc.Mode,
		"errors", len(result.Errors),
		"warnings", len(result.Warnings),
		"duration", time.Since(start),
	)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	warnings := convertMessages(result.Warnings)
	if len(result.Errors) > 0 {
		return nil, &CompileError{Errors: convertMessages(result.Errors), Warnings: warnings}
	}

	return b.collect(result.OutputFiles, warnings)
}

func prepare(desc pipeline.Description) (*build, error) {
	b := &build{
		desc:   desc,
		assets: newAssetCollector(),
	}
	b.options = api.BuildOptions{
		AbsWorkingDir:     desc.Context,
		Bundle:            true,
		Write:             false,
		Outfile:           filepath.Join(desc.Output.Path, desc.OutputFile()),
		Platform:          api.PlatformBrowser,
		Format:            api.FormatIIFE,
		ResolveExtensions: slices.Clone(desc.Resolve),
		PublicPath:        desc.Output.PublicPath,
		LogLevel:          api.LogLevelSilent,
		Loader:            map[string]api.Loader{},
		Stdin: &api.StdinOptions{
			Contents:   entrySource(desc.Entry.Modules),
			ResolveDir: desc.Context,
			Sourcefile: "<entry:" + desc.Entry.Name + ">",
			Loader:     api.LoaderJS,
		},
	}
	if desc.Devtool == "source-map" {
		b.options.Sourcemap = api.SourceMapLinked
	}

	if err := b.applyRules(); err != nil {
		return nil, err
	}
	if err := b.applyPlugins(); err != nil {
		return nil, err
	}
	b.options.Plugins = append(b.options.Plugins, globalsPlugin(desc.Externals))
	return b, nil
}

func (b *build) applyRules() error {
	var fileRules []fileRule
	for _, rule := range b.desc.Rules {
		chain := strings.Join(rule.LoaderNames(), "!")
		switch chain {
		case pipeline.TransformBabel:
			for _, ext := range []string{".js", ".jsx"} {
				b.options.Loader[ext] = api.LoaderJSX
			}
		case pipeline.TransformStyle + "!" + pipeline.TransformCSS:
			b.options.Plugins = append(b.options.Plugins, styleInjectPlugin(rule.Test))
		case pipeline.TransformCSSExtract + "!" + pipeline.TransformCSS:
			b.options.Loader[".css"] = api.LoaderCSS
		case pipeline.TransformFile:
			fr, err := newFileRule(rule)
			if err != nil {
				return err
			}
			fileRules = append(fileRules, fr)
		default:
			return zerr.With(zerr.With(ErrUnsupportedTransform, "class", string(rule.Class)), "chain", chain)
		}
	}
	if len(fileRules) > 0 {
		b.options.Plugins = append(b.options.Plugins, assetPlugin(fileRules, b.desc.Output.PublicPath, b.assets))
	}
	return nil
}

func (b *build) applyPlugins() error {
	for _, p := range b.desc.Plugins {
		switch p.Kind {
		case pipeline.PluginProvide:
			inject, plugin := providePlugin(p.Options, b.desc)
			b.options.Inject = append(b.options.Inject, inject...)
			if plugin != nil {
				b.options.Plugins = append(b.options.Plugins, *plugin)
			}
		case pipeline.PluginHTMLTemplate:
			b.template = p.Options["template"]
		case pipeline.PluginMinify:
			target, ok := ecmaTargets[p.Options["ecma"]]
			if !ok {
				return zerr.With(zerr.With(ErrInvalidOption, "plugin", string(p.Kind)), "ecma", p.Options["ecma"])
			}
			b.options.Target = target
			b.options.MinifyWhitespace = true
			b.options.MinifyIdentifiers = true
			b.options.MinifySyntax = p.Options["compress"] == "true"
		case pipeline.PluginCSSExtract:
			name := p.Options["filename"]
			if name == "" {
				name = "[name].css"
			}
			b.cssOutput = strings.ReplaceAll(name, "[name]", b.desc.Entry.Name)
		case pipeline.PluginHotReload:
			b.options.Plugins = append(b.options.Plugins, liveClientPlugin())
		case pipeline.PluginNoEmitOnErrors, pipeline.PluginOccurrenceOrder:
			// esbuild never emits on error and orders modules deterministically.
		default:
			return zerr.With(ErrUnsupportedPlugin, "plugin", string(p.Kind))
		}
	}
	return nil
}

func (b *build) collect(outputs []api.OutputFile, warnings []Message) (*ArtifactSet, error) {
	var files []Artifact
	var scripts, styles []string
	for _, out := range outputs {
		rel, err := filepath.Rel(b.desc.Output.Path, out.Path)
		if err != nil {
			return nil, zerr.With(zerr.Wrap(err, "output escaped the output directory"), "path", out.Path)
		}
		rel = filepath.ToSlash(rel)
		switch filepath.Ext(rel) {
		case ".css":
			if b.cssOutput != "" {
				rel = b.cssOutput
			}
			styles = append(styles, b.desc.Output.PublicPath+rel)
		case ".js":
			scripts = append(scripts, b.desc.Output.PublicPath+rel)
		}
		files = append(files, Artifact{Path: rel, Contents: out.Contents})
	}
	files = append(files, b.assets.artifacts()...)

	if b.template != "" {
		page, err := renderTemplate(b.template, scripts, styles)
		if err != nil {
			return nil, &CompileError{
				Errors:   []Message{{File: b.template, Text: err.Error(), Plugin: string(pipeline.PluginHTMLTemplate)}},
				Warnings: warnings,
			}
		}
		files = append(files, Artifact{Path: "index.html", Contents: page})
	}

	return NewArtifactSet(files, warnings), nil
}

// entrySource is the synthetic entry module that imports every entry in order,
// so all of them land in the single named chunk.
func entrySource(modules []string) string {
	var b strings.Builder
	for _, m := range modules {
		quoted, _ := json.Marshal(filepath.ToSlash(m))
		b.WriteString("import ")
		b.Write(quoted)
		b.WriteString(";\n")
	}
	return b.String()
}

func convertMessages(msgs []api.Message) []Message {
	if len(msgs) == 0 {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = Message{Text: m.Text, Plugin: m.PluginName}
		if m.Location != nil {
			out[i].File = m.Location.File
			out[i].Line = m.Location.Line
			out[i].Column = m.Location.Column
		}
	}
	return out
}
