package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/banshee-data/btsniff/internal/version"
)

func main() {
	app := &cobra.Command{
		Use:           "btsniff",
		Short:         "Passive Bluetooth BR and LE sniffer",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	app.SetVersionTemplate(version.Current().String() + "\n")
	addCommonFlags(app)

	app.AddCommand(listenEntry())
	app.AddCommand(serialEntry())
	app.AddCommand(replayEntry())
	app.AddCommand(synthEntry())
	app.AddCommand(versionEntry())

	if err := app.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func versionEntry() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Prints build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Current().String())
		},
	}
}
