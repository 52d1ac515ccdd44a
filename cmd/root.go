package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	configCmd "github.com/sidkik/deploy/cmd/config"
	"github.com/sidkik/deploy/cmd/util"
	"github.com/sidkik/deploy/cmd/version"
	"github.com/sidkik/deploy/pkg/config"
)

// verboseLogKey is the environment variable used to enable verbose logging.
// When it's set to `true`, Debug events are logged, rather than just Info and
// above.
const verboseLogKey = "DEPLOY_LOG_VERBOSE"

// Execute runs the main CLI process.
func Execute() {
	if os.Getenv(verboseLogKey) == "true" {
		log.SetLevel(log.DebugLevel)
	}

	rootCmd := New()
	if err := rootCmd.Execute(); err != nil {
		util.HandleFatalError(err)
	}
}

// New creates the root `deploy` command. Running it without a subcommand
// deploys the local directory.
func New() *cobra.Command {
	var opts runOptions
	var debug bool
	rootCmd := &cobra.Command{
		Use:   "deploy",
		Short: "Mirror a local directory to a remote host over SFTP",
		Long: "Upload the files in the local directory that changed since the last\n" +
			"deploy, and remove the remote copies of files that were deleted.\n" +
			"Files can be transformed before they're uploaded, for example to\n" +
			"compile stylesheets.",
		Args:         cobra.NoArgs,
		SilenceUsage: true,

		// The call to rootCmd.Execute prints the error, so we silence errors
		// here to avoid double printing.
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			if debug {
				log.SetLevel(log.DebugLevel)
			}
		},
		Run: func(cmd *cobra.Command, _ []string) {
			configPath, err := util.ConfigPath(cmd)
			if err != nil {
				util.HandleFatalError(err)
			}
			opts.configPath = configPath

			log.SetFormatter(&log.TextFormatter{
				// Deploys can take a while, so show when each file was
				// handled rather than the time since deploy started.
				FullTimestamp: true,
			})

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := run(ctx, opts, log.StandardLogger()); err != nil {
				util.HandleFatalError(err)
			}
		},
	}

	rootCmd.PersistentFlags().StringP(util.ConfigFlag, "c", config.DefaultPath,
		"The path to the configuration file.")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false,
		"Log the decision made for every file.")
	rootCmd.Flags().BoolVar(&opts.captureFingerprint, "capture-fingerprint", false,
		"Trust the key presented by the remote host, and save its fingerprint "+
			"in the configuration file.")
	rootCmd.Flags().BoolVarP(&opts.force, "force", "f", false,
		"Upload every file, even if it didn't change since the last deploy. "+
			"The previous deploy's record is still used to remove the remote "+
			"copies of deleted files.")
	rootCmd.Flags().BoolVarP(&opts.watch, "watch", "w", false,
		"Keep running, and deploy again whenever the local directory changes.")
	rootCmd.Flags().BoolVarP(&opts.dryRun, "dry-run", "n", false,
		"Print what would be uploaded and removed without connecting to the "+
			"remote host.")

	rootCmd.AddCommand(
		configCmd.New(),
		version.New(),
	)
	return rootCmd
}
