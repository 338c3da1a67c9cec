package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	root := &cobra.Command{
		Use:           "bricklayer",
		Short:         "build container images from declarative recipes",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		(&Build{}).CobraCommand(),
		(&Fetch{}).CobraCommand(),
		(&Validate{}).CobraCommand(),
		(&Render{}).CobraCommand(),
		(&Builds{}).CobraCommand(),
	)

	if err := root.Execute(); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}
