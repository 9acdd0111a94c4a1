package cli

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	var opts globalOptions

	rootCmd := &cobra.Command{
		Use:   "appstore",
		Short: "Install and update apps from a signed app repository",
		Long: `Appstore fetches a signed package catalog, verifies it, and installs
or updates apps on an Android device through adb.

Every downloaded file is checked against the catalog's SHA-256 digest and
catalogs older than the last accepted one are rejected.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Setup logging; the environment may still override unset flags
			opts.logFormatSet = cmd.Flags().Changed("log-format")
			if opts.logFormat == "json" {
				logrus.SetFormatter(&logrus.JSONFormatter{})
			}
			if opts.verbose {
				logrus.SetLevel(logrus.DebugLevel)
			} else {
				logrus.SetLevel(logrus.InfoLevel)
			}
		},
	}

	// Global flags
	flags := rootCmd.PersistentFlags()
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Enable verbose logging")
	flags.StringVar(&opts.logFormat, "log-format", "text", "Log format (text, json)")
	flags.BoolVar(&opts.simulate, "simulate", false, "Use an in-memory device instead of adb")
	flags.StringVar(&opts.baseURL, "base-url", "", "Repository base URL")
	flags.StringVar(&opts.dataDir, "data-dir", "", "Directory for the catalog cache and preferences")
	flags.StringVar(&opts.cacheDir, "cache-dir", "", "Directory for downloaded packages")
	flags.StringVarP(&opts.serial, "serial", "s", "", "adb device serial")

	// Add subcommands
	rootCmd.AddCommand(
		newRefreshCmd(&opts),
		newListCmd(&opts),
		newInstallCmd(&opts),
		newUninstallCmd(&opts),
		newUpdateCmd(&opts),
		newChannelCmd(&opts),
		newPrefsCmd(&opts),
		newDaemonCmd(&opts),
		newWatchCmd(),
	)

	return rootCmd
}
