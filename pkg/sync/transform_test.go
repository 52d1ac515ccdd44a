package sync

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidkik/deploy/pkg/errors"
)

func TestApply(t *testing.T) {
	fs = afero.NewMemMapFs()
	writeFile(t, "/site/a/b.scss", "body {}")
	writeFile(t, "/site/index.html", "<html>")

	var calls [][]string
	stubCommands(t, func(argv []string) ([]byte, error) {
		calls = append(calls, argv)
		return compileCommand(argv)
	})

	pipeline := NewPipeline([]Rule{compileRule})
	require.NoError(t, pipeline.Prepare())
	defer pipeline.Cleanup()

	artifact, err := pipeline.Apply(context.Background(), "/site/index.html")
	assert.NoError(t, err)
	assert.Equal(t, Artifact{Path: "/site/index.html", Extension: "html"}, artifact)
	assert.Empty(t, calls)

	artifact, err = pipeline.Apply(context.Background(), "/site/a/b.scss")
	require.NoError(t, err)
	assert.True(t, artifact.Transformed)
	assert.Equal(t, "css", artifact.Extension)
	assert.Equal(t, pipeline.scratchDir, filepath.Dir(artifact.Path))
	assert.True(t, strings.HasSuffix(artifact.Path, "-b.css"), artifact.Path)
	assert.Equal(t, [][]string{{"compile", "/site/a/b.scss", artifact.Path}}, calls)

	output, err := afero.ReadFile(fs, artifact.Path)
	require.NoError(t, err)
	assert.Equal(t, "BODY {}", string(output))
}

func TestApplyMultipleRules(t *testing.T) {
	fs = afero.NewMemMapFs()
	writeFile(t, "/site/app.js", "code")

	var sources []string
	stubCommands(t, func(argv []string) ([]byte, error) {
		sources = append(sources, argv[1])
		return compileCommand(argv)
	})

	first := Rule{Name: "first", SourceExtensions: []string{"js"}, Active: true,
		Command: []string{"compile", SourcePlaceholder, DestinationPlaceholder}}
	second := Rule{Name: "second", SourceExtensions: []string{"JS"}, Active: true,
		DestinationExtension: "min.js",
		Command:              []string{"compile", SourcePlaceholder, DestinationPlaceholder}}
	inactive := Rule{Name: "inactive", SourceExtensions: []string{"js"},
		Command: []string{"compile", SourcePlaceholder, DestinationPlaceholder}}

	pipeline := NewPipeline([]Rule{first, inactive, second})
	assert.Equal(t, []Rule{first, second}, pipeline.Rules())
	require.NoError(t, pipeline.Prepare())
	defer pipeline.Cleanup()

	// Every rule reads the local file, and the last one's output wins.
	artifact, err := pipeline.Apply(context.Background(), "/site/app.js")
	require.NoError(t, err)
	assert.Equal(t, []string{"/site/app.js", "/site/app.js"}, sources)
	assert.Equal(t, "min.js", artifact.Extension)
	assert.True(t, strings.HasSuffix(artifact.Path, "-app.min.js"), artifact.Path)
}

func TestApplyErrors(t *testing.T) {
	fs = afero.NewMemMapFs()
	writeFile(t, "/site/b.scss", "body {}")

	unprepared := NewPipeline([]Rule{compileRule})
	_, err := unprepared.Apply(context.Background(), "/site/b.scss")
	assert.Error(t, err)

	pipeline := NewPipeline([]Rule{compileRule})
	require.NoError(t, pipeline.Prepare())
	defer pipeline.Cleanup()

	stubCommands(t, func([]string) ([]byte, error) {
		return []byte("syntax error\n"), assert.AnError
	})
	_, err = pipeline.Apply(context.Background(), "/site/b.scss")
	assert.Equal(t, TransformError{
		Rule:   "compile",
		Source: "/site/b.scss",
		Err:    assert.AnError,
		Output: "syntax error\n",
	}, err)
	assert.Contains(t, err.Error(), "(output: syntax error)")

	// A command that exits successfully without writing its output is
	// still a failure.
	stubCommands(t, func([]string) ([]byte, error) {
		return nil, nil
	})
	_, err = pipeline.Apply(context.Background(), "/site/b.scss")
	assert.True(t, errors.Is(err, errMissingOutput))
}

func TestPipelineCleanup(t *testing.T) {
	fs = afero.NewMemMapFs()
	writeFile(t, "/site/b.scss", "body {}")
	stubCommands(t, compileCommand)

	pipeline := NewPipeline([]Rule{compileRule})
	require.NoError(t, pipeline.Prepare())
	scratchDir := pipeline.scratchDir

	_, err := pipeline.Apply(context.Background(), "/site/b.scss")
	require.NoError(t, err)

	pipeline.Cleanup()
	exists, err := afero.Exists(fs, scratchDir)
	require.NoError(t, err)
	assert.False(t, exists)

	// Cleaning up twice is harmless.
	pipeline.Cleanup()
}

func TestDestinationExtension(t *testing.T) {
	pipeline := NewPipeline([]Rule{
		compileRule,
		{Name: "minify", SourceExtensions: []string{"css"}, Active: true},
		{Name: "ts", SourceExtensions: []string{"ts"}, DestinationExtension: "js", Active: true},
		{Name: "disabled", SourceExtensions: []string{"md"}, DestinationExtension: "html"},
	})

	tests := map[string]string{
		"/site/a/b.scss":   "css",
		"/site/a/b.css":    "css",
		"/site/app.ts":     "js",
		"/site/README.md":  "md",
		"/site/Makefile":   "",
		"/site/archive.gz": "gz",
	}
	for path, exp := range tests {
		assert.Equal(t, exp, pipeline.DestinationExtension(path), path)
	}
}

func TestCheckVersions(t *testing.T) {
	rule := Rule{
		Name:             "sass",
		SourceExtensions: []string{"scss"},
		Active:           true,
		Command:          []string{"sass", SourcePlaceholder, DestinationPlaceholder},
		VersionCommand:   []string{"sass", "--version"},
		MinVersion:       "1.32.0",
	}

	tests := []struct {
		name      string
		output    string
		err       error
		expError  bool
		expFriend bool
	}{
		{name: "Newer", output: "1.69.5 compiled with dart2js 3.1.4\n"},
		{name: "Equal", output: "Sass 1.32.0"},
		{name: "TooOld", output: "1.22.10", expError: true, expFriend: true},
		{name: "NotInstalled", err: assert.AnError, expError: true, expFriend: true},
		{name: "Unparseable", output: "unknown", expError: true},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			stubCommands(t, func(argv []string) ([]byte, error) {
				assert.Equal(t, rule.VersionCommand, argv)
				return []byte(test.output), test.err
			})

			err := NewPipeline([]Rule{rule}).CheckVersions(context.Background())
			if !test.expError {
				assert.NoError(t, err)
				return
			}

			assert.Error(t, err)
			_, isFriendly := errors.GetFriendly(err)
			assert.Equal(t, test.expFriend, isFriendly)
		})
	}
}

func TestCheckVersionsSkipsRulesWithoutRequirement(t *testing.T) {
	stubCommands(t, func([]string) ([]byte, error) {
		t.Fatal("no command should run")
		return nil, nil
	})

	pipeline := NewPipeline([]Rule{compileRule, {
		Name:           "inactive",
		VersionCommand: []string{"tool", "--version"},
		MinVersion:     "1.0.0",
	}})
	assert.NoError(t, pipeline.CheckVersions(context.Background()))
}

func TestValidateRule(t *testing.T) {
	valid := Rule{
		Name:             "custom",
		SourceExtensions: []string{"md"},
		Command:          []string{"pandoc", SourcePlaceholder, "-o", DestinationPlaceholder},
	}

	tests := []struct {
		name     string
		modify   func(*Rule)
		expError bool
	}{
		{name: "Valid", modify: func(*Rule) {}},
		{name: "MissingName", modify: func(r *Rule) { r.Name = "" }, expError: true},
		{name: "MissingExtensions", modify: func(r *Rule) { r.SourceExtensions = nil }, expError: true},
		{name: "MissingCommand", modify: func(r *Rule) { r.Command = nil }, expError: true},
		{
			name:     "NoDestination",
			modify:   func(r *Rule) { r.Command = []string{"pandoc", SourcePlaceholder} },
			expError: true,
		},
		{
			name:     "MinVersionWithoutCommand",
			modify:   func(r *Rule) { r.MinVersion = "2.0" },
			expError: true,
		},
		{
			name: "BadMinVersion",
			modify: func(r *Rule) {
				r.VersionCommand = []string{"pandoc", "--version"}
				r.MinVersion = "latest"
			},
			expError: true,
		},
		{
			name: "WithVersion",
			modify: func(r *Rule) {
				r.VersionCommand = []string{"pandoc", "--version"}
				r.MinVersion = "2.0"
			},
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			rule := valid
			rule.SourceExtensions = append([]string(nil), valid.SourceExtensions...)
			test.modify(&rule)

			err := rule.Validate()
			if test.expError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDefaultRules(t *testing.T) {
	names := map[string]bool{}
	for _, rule := range DefaultRules() {
		assert.NoError(t, rule.Validate(), rule.Name)
		assert.False(t, rule.Active, rule.Name)
		assert.False(t, names[rule.Name], "duplicate rule %s", rule.Name)
		names[rule.Name] = true
	}
}

func TestActivate(t *testing.T) {
	rules, err := Activate(DefaultRules(), []string{"sass", "uglifyjs"})
	require.NoError(t, err)

	var active []string
	for _, rule := range rules {
		if rule.Active {
			active = append(active, rule.Name)
		}
	}
	assert.Equal(t, []string{"sass", "uglifyjs"}, active)

	// The input isn't modified.
	for _, rule := range DefaultRules() {
		assert.False(t, rule.Active)
	}

	_, err = Activate(DefaultRules(), []string{"sass", "coffeescript"})
	msg, ok := errors.GetFriendly(err)
	assert.True(t, ok)
	assert.Contains(t, msg, `"coffeescript"`)
}
