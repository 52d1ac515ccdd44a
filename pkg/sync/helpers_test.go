package sync

import (
	"context"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, contents string) {
	require.NoError(t, afero.WriteFile(fs, path, []byte(contents), 0644))
}

// stubCommands replaces the command runner for the duration of the test.
func stubCommands(t *testing.T, run func(argv []string) ([]byte, error)) {
	runCommand = func(_ context.Context, argv []string) ([]byte, error) {
		return run(argv)
	}
	t.Cleanup(func() { runCommand = runCommandImpl })
}

// compileCommand is a fake `compile {src} {dst}` tool that writes the upper
// cased source into the destination.
func compileCommand(argv []string) ([]byte, error) {
	src, err := afero.ReadFile(fs, argv[1])
	if err != nil {
		return []byte("no such file"), err
	}
	return []byte("compiled"), afero.WriteFile(fs, argv[2], []byte(strings.ToUpper(string(src))), 0644)
}

var compileRule = Rule{
	Name:                 "compile",
	SourceExtensions:     []string{"scss"},
	DestinationExtension: "css",
	Active:               true,
	Command:              []string{"compile", SourcePlaceholder, DestinationPlaceholder},
}
