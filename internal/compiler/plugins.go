package compiler

import (
	"crypto/sha512"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"sync"

	"github.com/evanw/esbuild/pkg/api"
	"go.trai.ch/zerr"

	"github.com/rathix/cashier-devkit/internal/pipeline"
)

//go:embed client/live.js
var liveClientSource string

const (
	nsGlobal  = "devkit-global"
	nsAsset   = "devkit-asset"
	nsLive    = "devkit-live"
	nsProvide = "devkit-provide"
)

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// globalsPlugin resolves external modules to the window globals that provide them.
func globalsPlugin(externals []pipeline.External) api.Plugin {
	globals := make(map[string]string, len(externals))
	names := make([]string, 0, len(externals))
	for _, e := range externals {
		globals[e.Module] = e.Global
		names = append(names, regexp.QuoteMeta(e.Module))
	}
	filter := "^(" + strings.Join(names, "|") + ")$"

	return api.Plugin{
		Name: "devkit-externals",
		Setup: func(build api.PluginBuild) {
			if len(names) == 0 {
				return
			}
			build.OnResolve(api.OnResolveOptions{Filter: filter},
				func(args api.OnResolveArgs) (api.OnResolveResult, error) {
					return api.OnResolveResult{Path: args.Path, Namespace: nsGlobal}, nil
				})
			build.OnLoad(api.OnLoadOptions{Filter: ".*", Namespace: nsGlobal},
				func(args api.OnLoadArgs) (api.OnLoadResult, error) {
					contents := "module.exports = globalThis[" + jsString(globals[args.Path]) + "];\n"
					return api.OnLoadResult{Contents: &contents, Loader: api.LoaderJS}, nil
				})
		},
	}
}

// providePlugin makes free identifiers resolve to a module's default export.
// Identifiers bound to externals already exist as globals and need no injection.
func providePlugin(bindings map[string]string, desc pipeline.Description) ([]string, *api.Plugin) {
	provided := map[string]string{}
	for ident, module := range bindings {
		if _, external := desc.ExternalFor(module); external {
			continue
		}
		provided[ident] = module
	}
	if len(provided) == 0 {
		return nil, nil
	}

	idents := make([]string, 0, len(provided))
	for ident := range provided {
		idents = append(idents, ident)
	}
	slices.Sort(idents)
	inject := make([]string, len(idents))
	for i, ident := range idents {
		inject[i] = nsProvide + ":" + ident
	}

	return inject, &api.Plugin{
		Name: "devkit-provide",
		Setup: func(build api.PluginBuild) {
			build.OnResolve(api.OnResolveOptions{Filter: "^" + nsProvide + ":"},
				func(args api.OnResolveArgs) (api.OnResolveResult, error) {
					return api.OnResolveResult{
						Path:      strings.TrimPrefix(args.Path, nsProvide+":"),
						Namespace: nsProvide,
					}, nil
				})
			build.OnLoad(api.OnLoadOptions{Filter: ".*", Namespace: nsProvide},
				func(args api.OnLoadArgs) (api.OnLoadResult, error) {
					contents := "export { default as " + args.Path + " } from " + jsString(provided[args.Path]) + ";\n"
					return api.OnLoadResult{Contents: &contents, ResolveDir: desc.Context, Loader: api.LoaderJS}, nil
				})
		},
	}
}

// styleInjectPlugin loads stylesheets as modules that append a <style> element.
func styleInjectPlugin(test string) api.Plugin {
	return api.Plugin{
		Name: "devkit-style",
		Setup: func(build api.PluginBuild) {
			build.OnLoad(api.OnLoadOptions{Filter: test, Namespace: "file"},
				func(args api.OnLoadArgs) (api.OnLoadResult, error) {
					css, err := os.ReadFile(args.Path)
					if err != nil {
						return api.OnLoadResult{}, err
					}
					contents := "const css = " + jsString(string(css)) + ";\n" +
						"const el = document.createElement(\"style\");\n" +
						"el.setAttribute(\"data-devkit\", " + jsString(filepath.Base(args.Path)) + ");\n" +
						"el.textContent = css;\n" +
						"document.head.appendChild(el);\n" +
						"export default css;\n"
					return api.OnLoadResult{Contents: &contents, Loader: api.LoaderJS}, nil
				})
		},
	}
}

// liveClientPlugin serves the embedded live-update client. The import's query
// string carries the event stream URL and the reload flag.
func liveClientPlugin() api.Plugin {
	return api.Plugin{
		Name: "devkit-live-client",
		Setup: func(build api.PluginBuild) {
			build.OnResolve(api.OnResolveOptions{Filter: "^" + regexp.QuoteMeta(pipeline.LiveClientModule) + `(\?.*)?$`},
				func(args api.OnResolveArgs) (api.OnResolveResult, error) {
					return api.OnResolveResult{Path: args.Path, Namespace: nsLive}, nil
				})
			build.OnLoad(api.OnLoadOptions{Filter: ".*", Namespace: nsLive},
				func(args api.OnLoadArgs) (api.OnLoadResult, error) {
					opts, err := liveClientOptions(args.Path)
					if err != nil {
						return api.OnLoadResult{}, err
					}
					contents := "window.__DEVKIT_LIVE__ = " + opts + ";\n" + liveClientSource
					return api.OnLoadResult{Contents: &contents, Loader: api.LoaderJS}, nil
				})
		},
	}
}

func liveClientOptions(descriptor string) (string, error) {
	_, rawQuery, _ := strings.Cut(descriptor, "?")
	query, err := url.ParseQuery(rawQuery)
	if err != nil {
		return "", zerr.With(zerr.Wrap(err, "invalid live client descriptor"), "descriptor", descriptor)
	}
	endpoint := query.Get("path")
	if endpoint == "" {
		endpoint = pipeline.LiveUpdatePath
	}
	opts, err := json.Marshal(struct {
		Path   string `json:"path"`
		Reload bool   `json:"reload"`
	}{Path: endpoint, Reload: query.Get("reload") == "true"})
	if err != nil {
		return "", err
	}
	return string(opts), nil
}

// fileRule copies matching files into the output verbatim under a templated name.
type fileRule struct {
	test       string
	exclude    *regexp.Regexp
	name       string
	outputPath string
}

func newFileRule(rule pipeline.Rule) (fileRule, error) {
	if _, err := regexp.Compile(rule.Test); err != nil {
		return fileRule{}, zerr.With(zerr.Wrap(ErrInvalidOption, err.Error()), "test", rule.Test)
	}
	fr := fileRule{test: rule.Test, name: "[name].[ext]"}
	if rule.Exclude != "" {
		re, err := regexp.Compile(rule.Exclude)
		if err != nil {
			return fileRule{}, zerr.With(zerr.Wrap(ErrInvalidOption, err.Error()), "exclude", rule.Exclude)
		}
		fr.exclude = re
	}
	opts := rule.Use[0].Options
	if n := opts["name"]; n != "" {
		fr.name = n
	}
	fr.outputPath = opts["outputPath"]
	return fr, nil
}

// target expands the name template for a source file.
func (r fileRule) target(source string, contents []byte) string {
	base := filepath.Base(source)
	ext := filepath.Ext(base)
	name := r.name
	name = strings.ReplaceAll(name, "[name]", strings.TrimSuffix(base, ext))
	name = strings.ReplaceAll(name, "[ext]", strings.TrimPrefix(ext, "."))
	if strings.Contains(name, "[hash]") {
		sum := sha512.Sum512(contents)
		name = strings.ReplaceAll(name, "[hash]", hex.EncodeToString(sum[:]))
	}
	return path.Join(r.outputPath, name)
}

type assetCollector struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newAssetCollector() *assetCollector {
	return &assetCollector{files: map[string][]byte{}}
}

func (c *assetCollector) add(p string, contents []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.files[p] = contents
}

func (c *assetCollector) artifacts() []Artifact {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Artifact, 0, len(c.files))
	for p, contents := range c.files {
		out = append(out, Artifact{Path: p, Contents: contents})
	}
	slices.SortFunc(out, func(a, b Artifact) int { return strings.Compare(a.Path, b.Path) })
	return out
}

// assetPlugin copies files matched by the file rules into the output and
// resolves their imports to public URLs.
func assetPlugin(rules []fileRule, publicPath string, assets *assetCollector) api.Plugin {
	return api.Plugin{
		Name: "devkit-assets",
		Setup: func(build api.PluginBuild) {
			for _, rule := range rules {
				build.OnResolve(api.OnResolveOptions{Filter: rule.test},
					func(args api.OnResolveArgs) (api.OnResolveResult, error) {
						source, _, _ := strings.Cut(args.Path, "?")
						source, _, _ = strings.Cut(source, "#")
						if !filepath.IsAbs(source) {
							source = filepath.Join(args.ResolveDir, source)
						}
						if rule.exclude != nil && rule.exclude.MatchString(source) {
							return api.OnResolveResult{}, nil
						}
						contents, err := os.ReadFile(source)
						if err != nil {
							return api.OnResolveResult{}, err
						}
						target := rule.target(source, contents)
						assets.add(target, contents)

						publicURL := publicPath + target
						if args.Kind == api.ResolveCSSURLToken || args.Kind == api.ResolveCSSImportRule {
							return api.OnResolveResult{Path: publicURL, External: true}, nil
						}
						return api.OnResolveResult{Path: publicURL, Namespace: nsAsset}, nil
					})
			}
			build.OnLoad(api.OnLoadOptions{Filter: ".*", Namespace: nsAsset},
				func(args api.OnLoadArgs) (api.OnLoadResult, error) {
					contents := "export default " + jsString(args.Path) + ";\n"
					return api.OnLoadResult{Contents: &contents, Loader: api.LoaderJS}, nil
				})
		},
	}
}
