package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"bricklayer/internal/timeapi"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	ctx := context.Background()

	cfg, err := timeapi.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger = logger.With("url", cfg.URL)

	client := timeapi.NewClient(cfg)

	utcISO, err := client.Now(ctx)
	if err != nil {
		if errors.Is(err, timeapi.ErrUnparseableResponse) {
			logger.Warn("could not parse UTC from response", "error", err)
			os.Exit(2)
		}
		logger.Error("HTTP error fetching time", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Current UTC time: %s\n", utcISO)
}
