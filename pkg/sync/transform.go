package sync

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/cespare/xxhash/v2"
	version "github.com/hashicorp/go-version"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/deploy/pkg/errors"
)

const (
	// SourcePlaceholder is replaced by the path of the file being transformed
	// in a rule's command.
	SourcePlaceholder = "{src}"

	// DestinationPlaceholder is replaced by the path the command must write
	// its output to.
	DestinationPlaceholder = "{dst}"
)

// Mocked out for unit testing.
var runCommand = runCommandImpl

var errMissingOutput = errors.New("command succeeded but didn't create its output file")

// Rule transforms files with certain extensions by running an external
// command before they're uploaded.
type Rule struct {
	Name string

	// SourceExtensions are the extensions (without the dot) the rule applies to.
	SourceExtensions []string

	// DestinationExtension is the extension of the command's output. If it's
	// empty, the file keeps its extension.
	DestinationExtension string

	// Active is whether the rule is enabled for this run.
	Active bool

	// Command is the argv of the transform. Arguments may contain
	// SourcePlaceholder and DestinationPlaceholder.
	Command []string

	// VersionCommand prints the version of the tool used by Command. It's
	// used together with MinVersion to make sure that the tool is installed.
	VersionCommand []string
	MinVersion     string
}

// AppliesTo returns whether the rule transforms files with extension `ext`.
func (rule Rule) AppliesTo(ext string) bool {
	for _, candidate := range rule.SourceExtensions {
		if strings.EqualFold(candidate, ext) {
			return true
		}
	}
	return false
}

// Run transforms `src` into `dst`.
func (rule Rule) Run(ctx context.Context, src, dst string) error {
	if len(rule.Command) == 0 {
		return TransformError{Rule: rule.Name, Source: src, Err: errors.New("empty command")}
	}

	argv := make([]string, len(rule.Command))
	for i, arg := range rule.Command {
		arg = strings.Replace(arg, SourcePlaceholder, src, -1)
		argv[i] = strings.Replace(arg, DestinationPlaceholder, dst, -1)
	}

	output, err := runCommand(ctx, argv)
	if err != nil {
		return TransformError{Rule: rule.Name, Source: src, Err: err, Output: string(output)}
	}

	// The exit status isn't enough: some tools exit successfully without
	// writing anything when their input is empty or invalid.
	if _, err := fs.Stat(dst); err != nil {
		return TransformError{Rule: rule.Name, Source: src, Err: errMissingOutput, Output: string(output)}
	}
	log.WithFields(log.Fields{
		"rule":   rule.Name,
		"source": src,
	}).Debugf("Transformed. Output: %s", strings.TrimSpace(string(output)))
	return nil
}

// Validate checks that the rule is well formed.
func (rule Rule) Validate() error {
	switch {
	case rule.Name == "":
		return errors.MissingFieldError{Field: "name"}
	case len(rule.SourceExtensions) == 0:
		return errors.MissingFieldError{Field: "extensions"}
	case len(rule.Command) == 0:
		return errors.MissingFieldError{Field: "command"}
	}

	var hasDst bool
	for _, arg := range rule.Command {
		hasDst = hasDst || strings.Contains(arg, DestinationPlaceholder)
	}
	if !hasDst {
		return errors.New("rule %s: command must contain %s", rule.Name, DestinationPlaceholder)
	}

	if rule.MinVersion != "" {
		if len(rule.VersionCommand) == 0 {
			return errors.New("rule %s: minVersion requires versionCommand", rule.Name)
		}
		if _, err := version.NewVersion(rule.MinVersion); err != nil {
			return errors.WithContext(err, fmt.Sprintf("rule %s: parse minVersion", rule.Name))
		}
	}
	return nil
}

// Artifact is the file that's uploaded for a local file.
type Artifact struct {
	// Path is the file to upload. It's either the local file itself, or the
	// output of the last transform.
	Path string

	// Extension is the extension the file has on the remote host.
	Extension string

	// Transformed is true if at least one rule was applied.
	Transformed bool
}

// Pipeline applies the active transform rules to files before they're
// uploaded. Rules run in the order they were declared.
type Pipeline struct {
	rules      []Rule
	scratchDir string
}

// NewPipeline creates a Pipeline from the active rules in `rules`.
func NewPipeline(rules []Rule) *Pipeline {
	var active []Rule
	for _, rule := range rules {
		if rule.Active {
			active = append(active, rule)
		}
	}
	return &Pipeline{rules: active}
}

// Rules returns the active rules.
func (p *Pipeline) Rules() []Rule {
	return p.rules
}

// Prepare creates the scratch directory the transform outputs are written
// to. Cleanup must be called once the run is over, whether it succeeded or
// not.
func (p *Pipeline) Prepare() error {
	dir, err := afero.TempDir(fs, "", "deploy-")
	if err != nil {
		return errors.WithContext(err, "create scratch directory")
	}
	p.scratchDir = dir
	return nil
}

// Cleanup removes the scratch directory and everything in it.
func (p *Pipeline) Cleanup() {
	if p.scratchDir == "" {
		return
	}

	if err := fs.RemoveAll(p.scratchDir); err != nil {
		log.WithError(err).WithField("path", p.scratchDir).Warn(
			"Failed to clean up the transform scratch directory.")
	}
	p.scratchDir = ""
}

// Matching returns the rules that apply to `path`, in order.
func (p *Pipeline) Matching(path string) (matching []Rule) {
	ext := Extension(path)
	for _, rule := range p.rules {
		if rule.AppliesTo(ext) {
			matching = append(matching, rule)
		}
	}
	return matching
}

// DestinationExtension returns the extension `path` has once the pipeline
// has been applied. It doesn't run any commands, so it can be used for files
// that no longer exist.
func (p *Pipeline) DestinationExtension(path string) string {
	ext := Extension(path)
	for _, rule := range p.Matching(path) {
		if rule.DestinationExtension != "" {
			ext = rule.DestinationExtension
		}
	}
	return ext
}

// Apply runs every matching rule on `path`. Each rule reads the local file
// and writes a new file in the scratch directory, and the output of the last
// rule is the one that's uploaded.
func (p *Pipeline) Apply(ctx context.Context, path string) (Artifact, error) {
	artifact := Artifact{Path: path, Extension: Extension(path)}
	for _, rule := range p.Matching(path) {
		if p.scratchDir == "" {
			return Artifact{}, errors.New("transform pipeline wasn't prepared")
		}

		ext := artifact.Extension
		if rule.DestinationExtension != "" {
			ext = rule.DestinationExtension
		}
		dst := p.scratchPath(rule, path, ext)

		if err := rule.Run(ctx, path, dst); err != nil {
			return Artifact{}, err
		}
		artifact = Artifact{Path: dst, Extension: ext, Transformed: true}
	}
	return artifact, nil
}

// scratchPath returns a unique path in the scratch directory for the output
// of `rule` on `src`.
func (p *Pipeline) scratchPath(rule Rule, src, ext string) string {
	name := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	id := xxhash.Sum64String(rule.Name + "\x00" + src)
	if ext != "" {
		name += "." + ext
	}
	return filepath.Join(p.scratchDir, fmt.Sprintf("%016x-%s", id, name))
}

var versionPattern = regexp.MustCompile(`\d+(\.\d+)+`)

// CheckVersions makes sure that the tools used by the active rules are
// installed, and at least as recent as the rules require.
func (p *Pipeline) CheckVersions(ctx context.Context) error {
	for _, rule := range p.rules {
		if len(rule.VersionCommand) == 0 || rule.MinVersion == "" {
			continue
		}

		output, err := runCommand(ctx, rule.VersionCommand)
		if err != nil {
			return errors.NewFriendlyError("The %q transform is enabled, but "+
				"`%s` failed: %s\nIs %s installed?", rule.Name,
				strings.Join(rule.VersionCommand, " "), err, rule.VersionCommand[0])
		}

		match := versionPattern.FindString(string(output))
		installed, err := version.NewVersion(match)
		if err != nil {
			return errors.WithContext(err, fmt.Sprintf("parse %s version %q", rule.Name, match))
		}

		constraint, err := version.NewConstraint(">= " + rule.MinVersion)
		if err != nil {
			return errors.WithContext(err, fmt.Sprintf("parse %s minimum version", rule.Name))
		}

		if !constraint.Check(installed) {
			return errors.NewFriendlyError("The %q transform requires %s %s or "+
				"newer, but %s is installed.", rule.Name, rule.VersionCommand[0],
				rule.MinVersion, installed)
		}
		log.WithFields(log.Fields{
			"rule":    rule.Name,
			"version": installed.String(),
		}).Debug("Transform tool is installed")
	}
	return nil
}

func runCommandImpl(ctx context.Context, argv []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	return cmd.CombinedOutput()
}
