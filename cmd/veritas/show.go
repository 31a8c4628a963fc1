package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ahrav/go-veritas/internal/application"
	"github.com/ahrav/go-veritas/internal/domain"
)

func newShowCmd(a *app) *cobra.Command {
	var location string

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Print the state and scores of a stored run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openStore(location)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmd.Context()
			run, err := s.GetRun(ctx, args[0])
			if err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					return fmt.Errorf("%w: %s", domain.ErrRunNotFound, args[0])
				}
				return err
			}
			printRun(cmd.OutOrStdout(), run)

			pillars, err := s.ListPillarScores(ctx, run.ID)
			if err != nil {
				return err
			}
			score, err := s.GetModelScore(ctx, run.ID)
			switch {
			case errors.Is(err, domain.ErrNotFound):
				// Scores exist only once a run completes.
				printScores(cmd.OutOrStdout(), nil, pillars)
			case err != nil:
				return err
			default:
				printScores(cmd.OutOrStdout(), &score, pillars)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&location, "store", application.DefaultStorePath, "Run store directory")
	return cmd
}

func printRun(w io.Writer, run domain.EvaluationRun) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Run:\t%s\n", run.ID)
	fmt.Fprintf(tw, "Model:\t%s\n", run.ModelName)
	fmt.Fprintf(tw, "Benchmark:\t%s\n", run.BenchmarkVersion)
	fmt.Fprintf(tw, "Status:\t%s\n", run.Status)
	fmt.Fprintf(tw, "Trials:\t%d per pair\n", run.RunsPerQuestion)
	fmt.Fprintf(tw, "Progress:\t%d/%d pairs\n", run.ResponsesCompleted, run.TotalQuestions*len(domain.Variants))
	fmt.Fprintf(tw, "Running average:\t%.2f\n", run.RunningAverageScore)
	fmt.Fprintf(tw, "Started:\t%s\n", run.StartedAt.Format(time.RFC3339))
	if run.CompletedAt != nil {
		fmt.Fprintf(tw, "Completed:\t%s\n", run.CompletedAt.Format(time.RFC3339))
	}
	tw.Flush()
}

// printScores prints the overall score when present, then one row per
// pillar.
func printScores(w io.Writer, score *domain.ModelScore, pillars []domain.PillarScore) {
	if score == nil && len(pillars) == 0 {
		fmt.Fprintln(w, "\nNo scores recorded.")
		return
	}

	if score != nil {
		fmt.Fprintln(w)
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintf(tw, "Overall score:\t%.2f\t[%.2f, %.2f]\n", score.OverallScore, score.CILower, score.CIUpper)
		fmt.Fprintf(tw, "Consistency:\t%.3f\n", score.ConsistencyScore)
		fmt.Fprintf(tw, "Responses:\t%d\n", score.ResponseCount)
		tw.Flush()
	}

	if len(pillars) > 0 {
		fmt.Fprintln(w)
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "PILLAR\tSCORE\tCI LOWER\tCI UPPER\tRESPONSES")
		for _, p := range pillars {
			fmt.Fprintf(tw, "%d\t%.2f\t%.2f\t%.2f\t%d\n", p.Pillar, p.Score, p.CILower, p.CIUpper, p.ResponseCount)
		}
		tw.Flush()
	}
}
