package main

import (
	"github.com/spf13/cobra"

	"github.com/lalithlochan/herald/internal/app"
)

func templatesCmd() *cobra.Command {
	var invalidate []string

	cmd := &cobra.Command{
		Use:   "templates",
		Short: "List active templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				if len(invalidate) > 0 {
					if err := a.Templates.Invalidate(cmd.Context(), invalidate...); err != nil {
						return err
					}
				}
				list, err := a.Templates.List(cmd.Context())
				if err != nil {
					return err
				}
				return outputResult(cmd.OutOrStdout(), list, outputFmt)
			})
		},
	}

	cmd.Flags().StringSliceVar(&invalidate, "invalidate", nil, "Drop these codes from the cache first")
	return cmd
}
