package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/user"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sidkik/deploy/cmd/util"
	"github.com/sidkik/deploy/pkg/config"
	"github.com/sidkik/deploy/pkg/errors"
)

// Mocked for unit testing.
var (
	stdout         io.Writer = os.Stdout
	stdin          io.Reader = os.Stdin
	getCurrentUser           = user.Current
)

// New creates a new `config` command.
func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create, read, and update the deploy configuration",
	}
	cmd.AddCommand(newInitCommand(), newGetCommand(), newSetCommand())
	return cmd
}

// initOptions holds the values passed on the command line to `config init`.
// Values that aren't set are prompted for.
type initOptions struct {
	host, username, remoteDir string
}

func newInitCommand() *cobra.Command {
	var cliOpts initOptions
	cmd := &cobra.Command{
		Use:   "init [PATH]",
		Short: "Write a new configuration file",
		Long: "Write a new configuration file, prompting for the remote host and\n" +
			"directory. The file is written to the path set by --config if PATH\n" +
			"isn't set.",
		Args: cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			path, err := util.ConfigPath(cmd)
			if err != nil {
				util.HandleFatalError(err)
			}
			if len(args) == 1 {
				path = args[0]
			}

			if err := initConfig(path, cliOpts); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	cmd.Flags().StringVar(&cliOpts.host, "host", "",
		"Set the remote host in the config. "+
			"Optional: If not set, `deploy config init` will interactively prompt.")
	cmd.Flags().StringVar(&cliOpts.username, "username", "",
		"Set the remote username in the config. "+
			"Optional: If not set, `deploy config init` will interactively prompt.")
	cmd.Flags().StringVar(&cliOpts.remoteDir, "remote-dir", "",
		"Set the remote directory in the config. "+
			"Optional: If not set, `deploy config init` will interactively prompt.")
	return cmd
}

func newGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get KEY",
		Short: "Print the value of a configuration key",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			value, err := getValue(cmd, args[0])
			if err != nil {
				util.HandleFatalError(err)
			}
			fmt.Fprintln(stdout, value)
		},
	}
}

func newSetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Update the value of a configuration key",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			if err := setValue(cmd, args[0], args[1]); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
}

func initConfig(path string, cliOpts initOptions) error {
	if err := config.WriteTemplate(path); err != nil {
		return errors.WithContext(err, "write template")
	}

	store, err := config.LoadStore(path)
	if err != nil {
		return errors.WithContext(err, "read template")
	}

	values, err := generateConfig(cliOpts)
	if err != nil {
		return errors.WithContext(err, "generate config")
	}

	for _, key := range []string{config.KeyHost, config.KeyUsername, config.KeyRemoteDir} {
		store.Set(key, values[key])
	}
	if err := store.Save(); err != nil {
		return errors.WithContext(err, "write config")
	}

	fmt.Fprintf(stdout, "Wrote config to %s\n"+
		"Set `password` or `key_file` in it before deploying.\n", path)
	return nil
}

func getValue(cmd *cobra.Command, key string) (string, error) {
	store, err := loadStore(cmd)
	if err != nil {
		return "", err
	}

	value, ok := store.Get(key)
	if !ok {
		return "", errors.NewFriendlyError("%q isn't set in %s.", key, store.Path())
	}
	return value, nil
}

func setValue(cmd *cobra.Command, key, value string) error {
	if !config.IsKey(key) {
		return errors.NewFriendlyError("Unknown configuration key %q.\n"+
			"Valid keys are: %s", key, strings.Join(config.Keys, ", "))
	}

	store, err := loadStore(cmd)
	if err != nil {
		return err
	}

	store.Set(key, value)
	if err := store.Save(); err != nil {
		return errors.WithContext(err, "write config")
	}
	log.WithField("key", key).Debug("Updated config")
	return nil
}

func loadStore(cmd *cobra.Command) (*config.Store, error) {
	path, err := util.ConfigPath(cmd)
	if err != nil {
		return nil, err
	}

	store, err := config.LoadStore(path)
	if err != nil {
		if _, ok := errors.RootCause(err).(errors.FileNotFound); ok {
			return nil, errors.NewFriendlyError("The configuration file %q "+
				"doesn't exist.\nRun `deploy config init` to create it.", path)
		}
		return nil, errors.WithContext(err, "read config")
	}
	return store, nil
}

func requireValue(value string) (string, bool) {
	if strings.TrimSpace(value) == "" {
		return "A value is required.", false
	}
	return "", true
}

func hostValidationFn(host string) (string, bool) {
	if msg, ok := requireValue(host); !ok {
		return msg, false
	}
	if strings.ContainsAny(host, " \t/") {
		return "The host must be a hostname or IP address, such as " +
			"`example.com` or `10.0.0.2`. Set the port with `deploy config set port`.", false
	}
	return "", true
}

type prompt struct {
	helpString, prompt, defaultAnswer string
	field                             string
	validationFn                      func(string) (string, bool)
}

// generateConfig interacts with the user to decide the values of the keys
// that have no reasonable default.
func generateConfig(cliOpts initOptions) (map[string]string, error) {
	values := map[string]string{
		config.KeyHost:      cliOpts.host,
		config.KeyUsername:  cliOpts.username,
		config.KeyRemoteDir: cliOpts.remoteDir,
	}

	var prompts []prompt
	if cliOpts.host == "" {
		prompts = append(prompts, prompt{
			helpString:   "Enter the host to deploy to.",
			prompt:       "Remote host",
			field:        config.KeyHost,
			validationFn: hostValidationFn,
		})
	}

	if cliOpts.username == "" {
		var defaultUsername string
		if currUser, err := getCurrentUser(); err == nil {
			defaultUsername = currUser.Username
		} else {
			log.WithError(err).Info("Failed to guess username")
		}

		prompts = append(prompts, prompt{
			helpString:    "Enter the user to log into the remote host as.",
			prompt:        "Remote username",
			defaultAnswer: defaultUsername,
			field:         config.KeyUsername,
			validationFn:  requireValue,
		})
	}

	if cliOpts.remoteDir == "" {
		prompts = append(prompts, prompt{
			helpString: "Enter the directory on the remote host to deploy into.\n" +
				"Relative paths are resolved from the remote user's home directory.",
			prompt:       "Remote directory",
			field:        config.KeyRemoteDir,
			validationFn: requireValue,
		})
	}

	stdinReader := bufio.NewReader(stdin)
	for _, prompt := range prompts {
		var resp string
		for {
			var err error
			resp, err = promptUser(stdinReader, prompt.helpString, prompt.prompt,
				prompt.defaultAnswer)
			if err != nil {
				return nil, errors.WithContext(err, "read response")
			}

			validationErr, ok := prompt.validationFn(resp)
			if ok {
				break
			}

			fmt.Fprintln(stdout, validationErr)
		}

		values[prompt.field] = resp
	}

	return values, nil
}

func promptUser(stdinReader *bufio.Reader, helpString, prompt, defaultAnswer string) (string, error) {
	// Display a new line at the end to separate different fields to make it
	// look clearer.
	defer fmt.Fprintln(stdout)

	fmt.Fprintln(stdout, helpString+"\n"+prompt+":")

	if defaultAnswer != "" {
		options := []string{defaultAnswer, "(Enter manually)"}
		fmt.Fprintln(stdout)
		for i, option := range options {
			if i == 0 {
				option = fmt.Sprintf("%s (recommended)", option)
			}
			fmt.Fprintf(stdout, "\t%d. %s\n", i+1, option)
		}
		fmt.Fprintln(stdout)

		for {
			fmt.Fprintf(stdout, "Please choose one [1-%d]: ", len(options))
			choiceStr, err := stdinReader.ReadString('\n')
			if err != nil {
				return "", err
			}

			var choice int
			choiceStr = strings.TrimSpace(choiceStr)

			// Default to the first choice if user doesn't enter anything.
			if choiceStr == "" {
				choice = 1
			} else {
				choice, err = strconv.Atoi(choiceStr)
				if err != nil || choice < 1 || choice > len(options) {
					// Try again if the input is invalid.
					continue
				}
			}

			if choice == len(options) {
				// Enter manually.
				break
			}

			return options[choice-1], nil
		}
	}

	fmt.Fprint(stdout, "Please enter manually: ")
	resp, err := stdinReader.ReadString('\n')
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(resp), nil
}
