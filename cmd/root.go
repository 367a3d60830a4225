package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/sonicgen/sonicgen/cmd/add"
	"github.com/sonicgen/sonicgen/cmd/ingest"
	"github.com/sonicgen/sonicgen/cmd/process"
	"github.com/sonicgen/sonicgen/cmd/query"
	"github.com/sonicgen/sonicgen/cmd/remove"
	"github.com/sonicgen/sonicgen/cmd/reset"
	"github.com/sonicgen/sonicgen/cmd/stats"
	"github.com/sonicgen/sonicgen/internal/conf"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "sonicgen",
		Short: "SonicGen audio fingerprinting CLI",
	}

	// Set up the global flags for the root command.
	if err := setupFlags(rootCmd, settings); err != nil {
		cobra.CheckErr(err)
	}

	subcommands := []*cobra.Command{
		add.Command(settings),
		ingest.Command(settings),
		process.Command(settings),
		query.Command(settings),
		remove.Command(settings),
		reset.Command(settings),
		stats.Command(settings),
	}

	rootCmd.AddCommand(subcommands...)

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&settings.Audio.Path, "audio-path", viper.GetString("audio.path"), "Directory audio blobs are fetched from")
	rootCmd.PersistentFlags().StringVar(&settings.Output.SQLite.Path, "db", viper.GetString("output.sqlite.path"), "Path to the SQLite index")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}

	return nil
}
