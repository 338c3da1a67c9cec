package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"bricklayer/internal/store"
)

type Builds struct {
	DBPath string
	Limit  int
}

func (b *Builds) Complete(args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("%w: builds takes no positional arguments", errInvalidArgs)
	}
	if b.DBPath == "" {
		return fmt.Errorf("%w: --db is required", errInvalidArgs)
	}
	if b.Limit <= 0 {
		b.Limit = 20
	}
	return nil
}

func (b *Builds) Run(ctx context.Context) error {
	db, err := store.Open(ctx, b.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	builds, err := store.ListBuilds(ctx, db, b.Limit)
	if err != nil {
		return err
	}

	for _, build := range builds {
		detail := ""
		switch {
		case build.Digest != nil:
			detail = *build.Digest
		case build.Error != nil:
			detail = *build.Error
		}
		fmt.Printf("%s  %s  %-9s  %s  %s\n",
			build.ID, build.StartedAt.Format("2006-01-02 15:04:05"), build.Status, build.BaseRef, detail)
	}
	return nil
}

func (b *Builds) CobraCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "builds --db path [--limit n]",
		Short: "list recent build records",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := b.Complete(args); err != nil {
				return err
			}
			return b.Run(cmd.Context())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&b.DBPath, "db", "", dbUse)
	flags.IntVar(&b.Limit, "limit", 20, "Maximum number of records to list.")

	return cmd
}
