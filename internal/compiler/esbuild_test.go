package compiler

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rathix/cashier-devkit/internal/buildenv"
	"github.com/rathix/cashier-devkit/internal/config"
	"github.com/rathix/cashier-devkit/internal/pipeline"
)

const testTemplate = `<!DOCTYPE html>
<html><head><title>cashier</title></head><body><div id="root"></div></body></html>`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFile(t *testing.T, name, contents string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(name), 0o755))
	require.NoError(t, os.WriteFile(name, []byte(contents), 0o644))
}

// scaffold lays out a minimal project and returns its root.
func scaffold(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "static", "index.html"), testTemplate)
	writeFile(t, filepath.Join(root, "src", "main.css"), "body { color: red; }\n")
	writeFile(t, filepath.Join(root, "src", "logo.png"), "\x89PNG fake image")
	writeFile(t, filepath.Join(root, "src", "index.jsx"), `import React from "react";
import ReactDOM from "react-dom";
import "./main.css";
import logo from "./logo.png";

ReactDOM.render(<img src={logo} />, document.getElementById("root"));
`)
	return root
}

func describe(root string, production bool) pipeline.Description {
	return pipeline.Derive(buildenv.Environment{Production: production}, config.DefaultProject(root))
}

func fakeCompiler(result api.BuildResult, seen *api.BuildOptions) *Esbuild {
	c := NewEsbuild(discardLogger())
	c.build = func(opts api.BuildOptions) api.BuildResult {
		if seen != nil {
			*seen = opts
		}
		return result
	}
	return c
}

func pluginNames(opts api.BuildOptions) []string {
	names := make([]string, len(opts.Plugins))
	for i, p := range opts.Plugins {
		names[i] = p.Name
	}
	return names
}

func TestPrepareDevelopment(t *testing.T) {
	desc := describe("/work/cashier", false)
	b, err := prepare(desc)
	require.NoError(t, err)

	assert.Equal(t, "/work/cashier/dist/app.dev.js", b.options.Outfile)
	assert.Equal(t, api.SourceMapLinked, b.options.Sourcemap)
	assert.Equal(t, api.LoaderJSX, b.options.Loader[".jsx"])
	assert.False(t, b.options.MinifyWhitespace)
	assert.Empty(t, b.cssOutput)
	assert.Equal(t, "/work/cashier/static/index.html", b.template)
	assert.Equal(t,
		[]string{"devkit-style", "devkit-assets", "devkit-live-client", "devkit-externals"},
		pluginNames(b.options))
	assert.Contains(t, b.options.Stdin.Contents, `import "devkit/live-client?path=http://localhost:3000/__devkit/hmr&reload=true";`)
}

func TestPrepareProduction(t *testing.T) {
	b, err := prepare(describe("/work/cashier", true))
	require.NoError(t, err)

	assert.Equal(t, "/work/cashier/build/app.js", b.options.Outfile)
	assert.Equal(t, api.SourceMapNone, b.options.Sourcemap)
	assert.Equal(t, api.ES2015, b.options.Target)
	assert.True(t, b.options.MinifyWhitespace)
	assert.True(t, b.options.MinifySyntax)
	assert.Equal(t, api.LoaderCSS, b.options.Loader[".css"])
	assert.Equal(t, "css/app.css", b.cssOutput)
	assert.Empty(t, b.options.Inject, "externals need no provide injection")
	assert.NotContains(t, pluginNames(b.options), "devkit-live-client")
}

func TestPrepareRejectsUnknownShapes(t *testing.T) {
	desc := describe("/work/cashier", true)
	desc.Rules = append(desc.Rules, pipeline.Rule{
		Class: "sass",
		Test:  `\.scss$`,
		Use:   []pipeline.Loader{{Name: "sass"}},
	})
	_, err := prepare(desc)
	assert.ErrorIs(t, err, ErrUnsupportedTransform)

	desc = describe("/work/cashier", true)
	desc.Plugins = append(desc.Plugins, pipeline.Plugin{Kind: "bundle-analyzer"})
	_, err = prepare(desc)
	assert.ErrorIs(t, err, ErrUnsupportedPlugin)

	desc = describe("/work/cashier", true)
	for i := range desc.Plugins {
		if desc.Plugins[i].Kind == pipeline.PluginMinify {
			desc.Plugins[i].Options["ecma"] = "1999"
		}
	}
	_, err = prepare(desc)
	assert.ErrorIs(t, err, ErrInvalidOption)
}

func TestProvideInjectsNonExternalModules(t *testing.T) {
	desc := describe("/work/cashier", false)
	inject, plugin := providePlugin(map[string]string{"React": "react", "_": "lodash", "$": "jquery"}, desc)
	require.NotNil(t, plugin)
	assert.Equal(t, []string{"devkit-provide:$", "devkit-provide:_"}, inject)
}

func TestCompileCollectsOutputs(t *testing.T) {
	root := scaffold(t)
	desc := describe(root, true)
	out := desc.Output.Path

	var seen api.BuildOptions
	c := fakeCompiler(api.BuildResult{
		OutputFiles: []api.OutputFile{
			{Path: filepath.Join(out, "app.js"), Contents: []byte("console.log(1)")},
			{Path: filepath.Join(out, "app.css"), Contents: []byte("body{}")},
		},
		Warnings: []api.Message{{Text: "unused import", Location: &api.Location{File: "src/index.jsx", Line: 3}}},
	}, &seen)

	set, err := c.Compile(context.Background(), desc)
	require.NoError(t, err)

	assert.Equal(t, []string{"app.js", "css/app.css", "index.html"}, set.Paths())
	require.Len(t, set.Warnings, 1)
	assert.Equal(t, "src/index.jsx:3:0: unused import", set.Warnings[0].String())

	page, ok := set.Get("index.html")
	require.True(t, ok)
	assert.Contains(t, string(page.Contents), `<script type="text/javascript" src="/app.js"></script>`)
	assert.Contains(t, string(page.Contents), `<link href="/css/app.css" rel="stylesheet"/>`)
	assert.Contains(t, string(page.Contents), `<div id="root"></div>`)
	assert.Equal(t, root, seen.AbsWorkingDir)
}

func TestCompileReportsErrors(t *testing.T) {
	c := fakeCompiler(api.BuildResult{
		Errors: []api.Message{{Text: `Could not resolve "./missing"`, PluginName: "devkit-assets"}},
	}, nil)

	set, err := c.Compile(context.Background(), describe(t.TempDir(), false))
	assert.Nil(t, set)

	var compileErr *CompileError
	require.ErrorAs(t, err, &compileErr)
	require.Len(t, compileErr.Errors, 1)
	assert.Equal(t, "devkit-assets", compileErr.Errors[0].Plugin)
	assert.Contains(t, err.Error(), "missing")
}

func TestCompileMissingTemplateFails(t *testing.T) {
	desc := describe(t.TempDir(), false)
	c := fakeCompiler(api.BuildResult{
		OutputFiles: []api.OutputFile{{Path: filepath.Join(desc.Output.Path, "app.dev.js"), Contents: []byte("1")}},
	}, nil)

	_, err := c.Compile(context.Background(), desc)
	var compileErr *CompileError
	require.ErrorAs(t, err, &compileErr)
	assert.Equal(t, string(pipeline.PluginHTMLTemplate), compileErr.Errors[0].Plugin)
}

func TestCompileHonorsCanceledContext(t *testing.T) {
	called := false
	c := NewEsbuild(discardLogger())
	c.build = func(api.BuildOptions) api.BuildResult {
		called = true
		return api.BuildResult{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Compile(ctx, describe(t.TempDir(), false))
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestEsbuildProductionBundle(t *testing.T) {
	root := scaffold(t)
	set, err := NewEsbuild(discardLogger()).Compile(context.Background(), describe(root, true))
	require.NoError(t, err)

	js, ok := set.Get("app.js")
	require.True(t, ok)
	assert.Contains(t, string(js.Contents), `globalThis.React`)
	assert.NotContains(t, string(js.Contents), "\n\n", "bundle should be minified")

	css, ok := set.Get("css/app.css")
	require.True(t, ok)
	assert.Contains(t, string(css.Contents), "red")

	var image string
	for _, p := range set.Paths() {
		if strings.HasPrefix(p, "img/") {
			image = p
		}
	}
	require.NotEmpty(t, image, "image should be copied")
	assert.Regexp(t, `^img/[0-9a-f]{128}\.png$`, image)
	assert.Contains(t, string(js.Contents), "/"+image)
}

func TestEsbuildDevelopmentBundle(t *testing.T) {
	root := scaffold(t)
	set, err := NewEsbuild(discardLogger()).Compile(context.Background(), describe(root, false))
	require.NoError(t, err)

	js, ok := set.Get("app.dev.js")
	require.True(t, ok)
	body := string(js.Contents)
	assert.Contains(t, body, "__DEVKIT_LIVE__")
	assert.Contains(t, body, "http://localhost:3000/__devkit/hmr")
	assert.Contains(t, body, `createElement("style")`)

	_, ok = set.Get("app.dev.js.map")
	assert.True(t, ok)
	_, ok = set.Get("css/app.css")
	assert.False(t, ok, "development injects styles instead of extracting them")
}

func TestFileRuleTarget(t *testing.T) {
	desc := describe("/work/cashier", true)
	fonts, _ := desc.Rule(pipeline.ClassFonts)
	fr, err := newFileRule(fonts)
	require.NoError(t, err)
	assert.Equal(t, "fonts/icons.woff2", fr.target("/x/icons.woff2", []byte("font")))

	images, _ := desc.Rule(pipeline.ClassImages)
	fr, err = newFileRule(images)
	require.NoError(t, err)
	first := fr.target("/x/logo.png", []byte("a"))
	assert.Equal(t, first, fr.target("/y/other.png", []byte("a")), "name depends on content only")
	assert.NotEqual(t, first, fr.target("/x/logo.png", []byte("b")))
}

func TestLiveClientOptions(t *testing.T) {
	opts, err := liveClientOptions(pipeline.LiveClientModule + "?path=http://10.0.0.2:4000/__devkit/hmr&reload=true")
	require.NoError(t, err)
	assert.JSONEq(t, `{"path":"http://10.0.0.2:4000/__devkit/hmr","reload":true}`, opts)

	opts, err = liveClientOptions(pipeline.LiveClientModule)
	require.NoError(t, err)
	assert.JSONEq(t, `{"path":"/__devkit/hmr","reload":false}`, opts)
}
