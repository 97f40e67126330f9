package pipeline

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/rathix/cashier-devkit/internal/buildenv"
	"github.com/rathix/cashier-devkit/internal/config"
)

const testRoot = "/work/cashier"

func project() config.Project {
	return config.DefaultProject(testRoot)
}

func sampleEnvs() []buildenv.Environment {
	var envs []buildenv.Environment
	for _, prod := range []bool{false, true} {
		for _, host := range []string{"", "localhost", "192.168.0.12", "::1"} {
			for _, port := range []uint16{0, 3000, 8081} {
				envs = append(envs, buildenv.Environment{Production: prod, Host: host, Port: port})
			}
		}
	}
	return envs
}

func TestSuffixIsTotalAndExclusive(t *testing.T) {
	for _, env := range sampleEnvs() {
		desc := Derive(env, project())
		if env.Production {
			assert.Equal(t, SuffixProduction, desc.Output.Suffix)
			assert.Equal(t, "build", filepath.Base(desc.Output.Path))
			assert.Equal(t, ModeProduction, desc.Mode)
		} else {
			assert.Equal(t, SuffixDevelopment, desc.Output.Suffix)
			assert.Equal(t, "dist", filepath.Base(desc.Output.Path))
			assert.Equal(t, ModeDevelopment, desc.Mode)
		}
		assert.Equal(t, "[name]"+desc.Output.Suffix, desc.Output.Filename)
	}
}

func TestDeriveIsDeterministic(t *testing.T) {
	for _, env := range sampleEnvs() {
		first := Derive(env, project())
		second := Derive(env, project())
		assert.Equal(t, first, second)

		var a, b bytes.Buffer
		require.NoError(t, Encode(&a, first, FormatJSON))
		require.NoError(t, Encode(&b, second, FormatJSON))
		assert.Equal(t, a.String(), b.String())
	}
}

func TestDerivedValuesAreIndependent(t *testing.T) {
	env := buildenv.Environment{Production: true}
	first := Derive(env, project())
	first.Plugins[0].Options["React"] = "preact"
	first.Rules[0].Use[0].Options["presets"] = "changed"
	first.Externals[0].Global = "Preact"

	second := Derive(env, project())
	assert.Equal(t, "react", second.Plugins[0].Options["React"])
	assert.Equal(t, "@babel/preset-env", second.Rules[0].Use[0].Options["presets"])
	assert.Equal(t, "React", second.Externals[0].Global)
}

func TestDevelopmentAddsLiveClientEntry(t *testing.T) {
	for _, host := range []string{"localhost", "10.0.0.7"} {
		for _, port := range []uint16{3000, 5050} {
			dev := Derive(buildenv.Environment{Host: host, Port: port}, project())
			prod := Derive(buildenv.Environment{Production: true, Host: host, Port: port}, project())

			require.Len(t, dev.Entry.Modules, len(prod.Entry.Modules)+1)
			extra := dev.Entry.Modules[len(dev.Entry.Modules)-1]
			assert.Contains(t, extra, host)
			assert.Contains(t, extra, ":"+strconv.Itoa(int(port)))
			assert.True(t, strings.HasPrefix(extra, LiveClientModule+"?"))
			assert.Contains(t, extra, LiveUpdatePath)
		}
	}
}

func TestPluginsByMode(t *testing.T) {
	prod := Derive(buildenv.Environment{Production: true}, project())
	assert.True(t, prod.HasPlugin(PluginMinify))
	assert.True(t, prod.HasPlugin(PluginCSSExtract))
	assert.False(t, prod.HasPlugin(PluginHotReload))
	assert.False(t, prod.HasPlugin(PluginNoEmitOnErrors))
	assert.False(t, prod.HasPlugin(PluginOccurrenceOrder))

	dev := Derive(buildenv.Environment{}, project())
	assert.False(t, dev.HasPlugin(PluginMinify))
	assert.False(t, dev.HasPlugin(PluginCSSExtract))
	assert.True(t, dev.HasPlugin(PluginHotReload))
	assert.True(t, dev.HasPlugin(PluginNoEmitOnErrors))
	assert.True(t, dev.HasPlugin(PluginOccurrenceOrder))

	for _, desc := range []Description{prod, dev} {
		require.GreaterOrEqual(t, len(desc.Plugins), 2)
		assert.Equal(t, PluginProvide, desc.Plugins[0].Kind)
		assert.Equal(t, PluginHTMLTemplate, desc.Plugins[1].Kind)
	}
}

func TestProvideBindsExternalGlobals(t *testing.T) {
	desc := Derive(buildenv.Environment{}, project())
	provide, ok := desc.Plugin(PluginProvide)
	require.True(t, ok)
	require.Len(t, provide.Options, 2)

	for ident, module := range provide.Options {
		global, ok := desc.ExternalFor(module)
		require.True(t, ok, "module %q must be external", module)
		assert.Equal(t, ident, global)
	}
}

func TestStylesheetChainBranchesOnMode(t *testing.T) {
	prod, ok := Derive(buildenv.Environment{Production: true}, project()).Rule(ClassStylesheets)
	require.True(t, ok)
	assert.Equal(t, []string{TransformCSSExtract, TransformCSS}, prod.LoaderNames())

	dev, ok := Derive(buildenv.Environment{}, project()).Rule(ClassStylesheets)
	require.True(t, ok)
	assert.Equal(t, []string{TransformStyle, TransformCSS}, dev.LoaderNames())
	assert.Equal(t, "1", dev.Use[1].Options["importLoaders"])
}

func TestRuleTestsCompileAndMatch(t *testing.T) {
	desc := Derive(buildenv.Environment{}, project())
	cases := map[AssetClass][]string{
		ClassScripts:     {"index.js", "App.jsx"},
		ClassStylesheets: {"main.css"},
		ClassImages:      {"logo.PNG", "photo.jpeg", "icon.svg"},
		ClassFonts:       {"font.woff2", "font.ttf?v=1.2.3"},
	}
	require.Len(t, desc.Rules, 4)
	for class, files := range cases {
		rule, ok := desc.Rule(class)
		require.True(t, ok, class)
		re, err := regexp.Compile(rule.Test)
		require.NoError(t, err, class)
		for _, f := range files {
			assert.True(t, re.MatchString(f), "%s should match %s", class, f)
		}
	}
}

func TestScenarioDevelopment(t *testing.T) {
	desc := Derive(buildenv.Environment{Production: false, Host: "localhost", Port: 3000}, project())
	assert.True(t, strings.HasSuffix(desc.Output.Path, "dist"))
	assert.Equal(t, "app.dev.js", desc.OutputFile())
	assert.Len(t, desc.Entry.Modules, 2)
	assert.Equal(t, "/work/cashier/src/index.jsx", desc.Entry.Modules[0])
	assert.Equal(t,
		"devkit/live-client?path=http://localhost:3000/__devkit/hmr&reload=true",
		desc.Entry.Modules[1])
	assert.Equal(t, "source-map", desc.Devtool)
	assert.False(t, desc.Optimization.Minimize)
}

func TestScenarioProduction(t *testing.T) {
	desc := Derive(buildenv.Environment{Production: true, Host: "localhost", Port: 3000}, project())
	assert.True(t, strings.HasSuffix(desc.Output.Path, "build"))
	assert.Equal(t, "app.js", desc.OutputFile())
	assert.Len(t, desc.Entry.Modules, 1)
	assert.True(t, desc.HasPlugin(PluginMinify))
	assert.True(t, desc.Optimization.Minimize)
	assert.Empty(t, desc.Devtool)
}

func TestLiveClientEntryDefaultsAndIPv6(t *testing.T) {
	assert.Equal(t,
		"devkit/live-client?path=http://localhost:3000/__devkit/hmr&reload=true",
		LiveClientEntry(buildenv.Environment{}))
	assert.Equal(t,
		"devkit/live-client?path=http://[::1]:4000/__devkit/hmr&reload=true",
		LiveClientEntry(buildenv.Environment{Host: "::1", Port: 4000}))
}

func TestEncodeFormats(t *testing.T) {
	desc := Derive(buildenv.Environment{}, project())

	var js bytes.Buffer
	require.NoError(t, Encode(&js, desc, FormatJSON))
	assert.Contains(t, js.String(), "&reload=true", "HTML escaping must be off")
	var fromJSON Description
	require.NoError(t, json.Unmarshal(js.Bytes(), &fromJSON))
	assert.Equal(t, desc.Output, fromJSON.Output)

	var ym bytes.Buffer
	require.NoError(t, Encode(&ym, desc, FormatYAML))
	var fromYAML Description
	require.NoError(t, yaml.Unmarshal(ym.Bytes(), &fromYAML))
	assert.Equal(t, desc.Entry, fromYAML.Entry)

	err := Encode(&bytes.Buffer{}, desc, Format("toml"))
	assert.ErrorIs(t, err, ErrUnknownFormat)
}
