package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"bricklayer/internal/recipe"
)

type Render struct {
	RecipePath string
}

func (r *Render) Complete(args []string) error {
	if len(args) != 1 || args[0] == "" {
		return fmt.Errorf("%w: need exactly one recipe path", errInvalidArgs)
	}
	r.RecipePath = args[0]
	return nil
}

func (r *Render) Run() error {
	rec, err := recipe.Load(r.RecipePath)
	if err != nil {
		return err
	}

	fmt.Print(rec.Dockerfile())
	return nil
}

func (r *Render) CobraCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "render recipe_path",
		Short: "print the equivalent Dockerfile for a recipe",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := r.Complete(args); err != nil {
				return err
			}
			return r.Run()
		},
	}
}
