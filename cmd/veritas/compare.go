package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ahrav/go-veritas/internal/application"
	"github.com/ahrav/go-veritas/internal/domain"
	"github.com/ahrav/go-veritas/internal/ports"
	"github.com/ahrav/go-veritas/internal/stats"
)

func newCompareCmd(a *app) *cobra.Command {
	var location string

	cmd := &cobra.Command{
		Use:   "compare <run-a> <run-b>",
		Short: "Test whether two runs differ in mean normalized score",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openStore(location)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmd.Context()
			first, err := normalizedScores(ctx, s, args[0])
			if err != nil {
				return err
			}
			second, err := normalizedScores(ctx, s, args[1])
			if err != nil {
				return err
			}

			res := stats.WelchTTest(first, second)

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN\tPAIRS\tMEAN\tSTD DEV")
			for i, scores := range [][]float64{first, second} {
				d := stats.Describe(scores)
				fmt.Fprintf(tw, "%s\t%d\t%.2f\t%.2f\n", args[i], d.N, d.Mean, d.StdDev)
			}
			tw.Flush()

			fmt.Fprintf(cmd.OutOrStdout(), "\nt = %.4f, df = %.2f, p = %.4f, significant: %t\n",
				res.T, res.DF, res.PValue, res.Significant)
			return nil
		},
	}

	cmd.Flags().StringVar(&location, "store", application.DefaultStorePath, "Run store directory")
	return cmd
}

// normalizedScores returns the 0-100 pair scores of a run.
func normalizedScores(ctx context.Context, s ports.RunStore, runID string) ([]float64, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrRunNotFound, runID)
		}
		return nil, err
	}

	aggs, err := s.ListAggregatedResponses(ctx, runID)
	if err != nil {
		return nil, err
	}
	scores := make([]float64, len(aggs))
	for i, agg := range aggs {
		scores[i] = agg.NormalizedScore()
	}
	return scores, nil
}
