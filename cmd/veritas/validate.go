package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ahrav/go-veritas/infrastructure/questions"
)

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <questions.yaml>",
		Short: "Check a question file without running an evaluation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loader, err := questions.NewLoader(a.logger)
			if err != nil {
				return err
			}
			bench, err := loader.LoadFromFile(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: version %s, %d questions\n", args[0], bench.Version, len(bench.Questions))
			for _, w := range bench.Warnings {
				fmt.Fprintf(out, "warning: question %s (%s): criteria weights sum to %g\n", w.QuestionID, w.Variant, w.Sum)
			}
			return nil
		},
	}
}
