package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"bricklayer/internal/recipe"
)

type Validate struct {
	RecipePath string
}

func (v *Validate) Complete(args []string) error {
	if len(args) != 1 || args[0] == "" {
		return fmt.Errorf("%w: need exactly one recipe path", errInvalidArgs)
	}
	v.RecipePath = args[0]
	return nil
}

func (v *Validate) Run() error {
	rec, err := recipe.Load(v.RecipePath)
	if err != nil {
		return err
	}

	fmt.Printf("%s is valid (base %s, user %s)\n", v.RecipePath, rec.From, rec.User.Name)
	return nil
}

func (v *Validate) CobraCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate recipe_path",
		Short: "check a recipe without building",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := v.Complete(args); err != nil {
				return err
			}
			return v.Run()
		},
	}
}
