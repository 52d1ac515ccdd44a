package config

import (
	"fmt"
	"os"

	"github.com/ghodss/yaml"
	"github.com/spf13/afero"

	"github.com/sidkik/deploy/pkg/errors"
	"github.com/sidkik/deploy/pkg/sync"
)

const (
	// InitialTransformsVersion is the version assumed for transforms files
	// that don't declare one.
	InitialTransformsVersion = "v1"

	// SupportedTransformsVersion is the transforms file version understood
	// by this binary.
	SupportedTransformsVersion = "v1"
)

// parseErrTemplate is used when a transforms file can't be decoded. The yaml
// library loses the position of the error when it converts to JSON, so the
// parser's message is all we can show.
const parseErrTemplate = "The transforms file %q could not be parsed.\n" +
	"Common pitfalls include:\n" +
	" - Using the wrong types for fields (commands are lists of strings)\n" +
	" - Misspelled or extra fields\n\n" +
	"For reference, here is the error from the parser:\n" +
	"%s"

// TransformsFile declares custom transform rules in addition to the built-in
// ones.
type TransformsFile struct {
	Version string          `json:"version,omitempty"`
	Rules   []TransformRule `json:"rules"`
}

// TransformRule is the YAML representation of a sync.Rule.
type TransformRule struct {
	Name                 string   `json:"name"`
	Extensions           []string `json:"extensions"`
	DestinationExtension string   `json:"destinationExtension,omitempty"`
	Command              []string `json:"command"`
	VersionCommand       []string `json:"versionCommand,omitempty"`
	MinVersion           string   `json:"minVersion,omitempty"`

	// Active defaults to true, since there's no reason to declare a rule
	// that's never used other than to toggle it temporarily.
	Active *bool `json:"active,omitempty"`
}

type incompatibleVersionError struct {
	path, exp, actual string
}

func (err incompatibleVersionError) Error() string {
	return err.FriendlyMessage()
}

func (err incompatibleVersionError) FriendlyMessage() string {
	return fmt.Sprintf("The transforms file %q is incompatible "+
		"with this version of deploy.\n"+
		"Expected version %q, but got %q.", err.path, err.exp, err.actual)
}

// ParseTransformsFile reads the custom rules declared in the file at `path`.
func ParseTransformsFile(path string) ([]sync.Rule, error) {
	file := TransformsFile{Version: InitialTransformsVersion}
	contents, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.FileNotFound{Path: path}
		}
		return nil, errors.WithContext(err, "read")
	}

	if err := yaml.Unmarshal(contents, &file); err != nil {
		return nil, errors.NewFriendlyError(parseErrTemplate, path, err)
	}

	if file.Version != SupportedTransformsVersion {
		return nil, incompatibleVersionError{path, SupportedTransformsVersion, file.Version}
	}

	// The strict pass runs after the version check so that an old file is
	// reported as such, rather than as having unknown fields.
	if err := yaml.UnmarshalStrict(contents, &file, yaml.DisallowUnknownFields); err != nil {
		return nil, errors.NewFriendlyError(parseErrTemplate, path, err)
	}

	var rules []sync.Rule
	for i, declared := range file.Rules {
		rule := declared.toRule()
		if err := rule.Validate(); err != nil {
			return nil, errors.NewFriendlyError("Rule %d in the transforms file %q "+
				"is invalid: %s", i+1, path, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func (declared TransformRule) toRule() sync.Rule {
	active := true
	if declared.Active != nil {
		active = *declared.Active
	}
	return sync.Rule{
		Name:                 declared.Name,
		SourceExtensions:     declared.Extensions,
		DestinationExtension: declared.DestinationExtension,
		Active:               active,
		Command:              declared.Command,
		VersionCommand:       declared.VersionCommand,
		MinVersion:           declared.MinVersion,
	}
}
