package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/tb3nav/navseq/internal/config"
)

// rootOptions are the persistent flags shared by every command.
type rootOptions struct {
	configDir string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   BinName,
		Short: "Send navigation goals to a move_base action server one at a time",
		Long: `navseq drives an ordered list of navigation goals through a
move_base style action server. Each goal is sent only after the previous
one reached a terminal outcome, and every outcome is logged and stored.

Running navseq without a command is the same as "navseq run".`,
		Version:       fmt.Sprintf("%s (built %s)", Version, BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
	}
	addRunFlags(rootCmd, opts, &runOptions{})

	rootCmd.PersistentFlags().StringVar(&opts.configDir, "config-dir", ".", "directory containing "+config.ConfigName)
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	bindFlags(rootCmd.PersistentFlags(), map[string]string{
		"log-level": "logLevel",
	})

	rootCmd.AddCommand(
		newRunCmd(opts),
		newValidateCmd(opts),
		newSimCmd(opts),
		newReportCmd(opts),
		newMigrateCmd(opts),
	)
	return rootCmd
}

// bindFlags binds each flag to its viper key so that a flag given on the
// command line wins over the config file and the environment.
func bindFlags(flags *pflag.FlagSet, keys map[string]string) {
	for name, key := range keys {
		if f := flags.Lookup(name); f != nil {
			_ = viper.BindPFlag(key, f)
		}
	}
}
