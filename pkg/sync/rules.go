package sync

import (
	"github.com/sidkik/deploy/pkg/errors"
)

// DefaultRules returns the built-in transform rules. They're all inactive;
// Activate enables the ones named in the configuration.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:                 "sass",
			SourceExtensions:     []string{"scss", "sass"},
			DestinationExtension: "css",
			Command:              []string{"sass", "--no-source-map", SourcePlaceholder, DestinationPlaceholder},
			VersionCommand:       []string{"sass", "--version"},
			MinVersion:           "1.0.0",
		},
		{
			Name:                 "less",
			SourceExtensions:     []string{"less"},
			DestinationExtension: "css",
			Command:              []string{"lessc", SourcePlaceholder, DestinationPlaceholder},
			VersionCommand:       []string{"lessc", "--version"},
			MinVersion:           "3.0.0",
		},
		{
			Name:                 "coffee",
			SourceExtensions:     []string{"coffee"},
			DestinationExtension: "js",
			Command:              []string{"coffee", "--compile", "--output", DestinationPlaceholder, SourcePlaceholder},
			VersionCommand:       []string{"coffee", "--version"},
			MinVersion:           "2.0.0",
		},
		{
			Name:                 "typescript",
			SourceExtensions:     []string{"ts"},
			DestinationExtension: "js",
			Command:              []string{"esbuild", SourcePlaceholder, "--outfile=" + DestinationPlaceholder},
			VersionCommand:       []string{"esbuild", "--version"},
			MinVersion:           "0.8.0",
		},
		{
			Name:             "uglifyjs",
			SourceExtensions: []string{"js"},
			Command: []string{"uglifyjs", SourcePlaceholder, "--compress", "--mangle",
				"--output", DestinationPlaceholder},
			VersionCommand: []string{"uglifyjs", "--version"},
			MinVersion:     "3.0.0",
		},
		{
			Name:             "cleancss",
			SourceExtensions: []string{"css"},
			Command:          []string{"cleancss", "-o", DestinationPlaceholder, SourcePlaceholder},
			VersionCommand:   []string{"cleancss", "--version"},
			MinVersion:       "4.0.0",
		},
	}
}

// Activate returns a copy of `rules` with the rules named in `names` marked
// active. Rules that are already active stay active. It's an error to name a
// rule that doesn't exist.
func Activate(rules []Rule, names []string) ([]Rule, error) {
	byName := map[string]int{}
	activated := make([]Rule, len(rules))
	for i, rule := range rules {
		activated[i] = rule
		byName[rule.Name] = i
	}

	for _, name := range names {
		idx, ok := byName[name]
		if !ok {
			var known []string
			for _, rule := range rules {
				known = append(known, rule.Name)
			}
			return nil, errors.NewFriendlyError("Unknown transform %q.\n"+
				"Available transforms: %v", name, known)
		}
		activated[idx].Active = true
	}
	return activated, nil
}
