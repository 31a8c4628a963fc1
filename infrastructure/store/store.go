// Package store provides ports.RunStore implementations: an in-memory store
// for tests and single-shot runs, and a BadgerDB-backed store that survives
// process restarts so interrupted runs can be resumed.
package store

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/ahrav/go-veritas/internal/domain"
)

// ErrRunExists is returned by CreateRun when the run ID is already stored.
var ErrRunExists = errors.New("run already exists")

// Key prefixes. Key parts are joined with sep so that question IDs may
// contain any printable character.
const (
	prefixModel  = "model"
	prefixRun    = "run"
	prefixAgg    = "agg"
	prefixTrial  = "trial"
	prefixPillar = "pillar"
	prefixScore  = "score"

	sep = "\x00"
)

func key(parts ...string) string { return strings.Join(parts, sep) }

// scanPrefix returns the prefix that matches every key under parts.
func scanPrefix(parts ...string) string { return key(parts...) + sep }

func modelKey(provider, name string) string { return key(prefixModel, provider, name) }

func runKey(id string) string { return key(prefixRun, id) }

func aggKey(a domain.AggregatedResponse) string {
	return key(prefixAgg, a.RunID, a.QuestionID, string(a.Variant))
}

func trialKey(t domain.Trial) string {
	return key(prefixTrial, t.RunID, t.QuestionID, string(t.Variant), fmt.Sprintf("%04d", t.TrialNumber))
}

func pillarKey(p domain.PillarScore) string {
	return key(prefixPillar, p.RunID, fmt.Sprintf("%d", p.Pillar))
}

func scoreKey(runID string) string { return key(prefixScore, runID) }

func cloneTrial(t domain.Trial) domain.Trial {
	t.CriteriaScores = slices.Clone(t.CriteriaScores)
	if t.Seed != nil {
		seed := *t.Seed
		t.Seed = &seed
	}
	return t
}

func cloneRun(r domain.EvaluationRun) domain.EvaluationRun {
	if r.CompletedAt != nil {
		at := *r.CompletedAt
		r.CompletedAt = &at
	}
	return r
}

func sortTrials(ts []domain.Trial) {
	slices.SortFunc(ts, func(a, b domain.Trial) int {
		return cmp.Or(
			cmp.Compare(a.QuestionID, b.QuestionID),
			cmp.Compare(a.Variant.Order(), b.Variant.Order()),
			cmp.Compare(a.TrialNumber, b.TrialNumber),
		)
	})
}

func sortAggregates(as []domain.AggregatedResponse) {
	slices.SortFunc(as, func(a, b domain.AggregatedResponse) int {
		return cmp.Or(
			cmp.Compare(a.QuestionID, b.QuestionID),
			cmp.Compare(a.Variant.Order(), b.Variant.Order()),
		)
	})
}

func sortPillars(ps []domain.PillarScore) {
	slices.SortFunc(ps, func(a, b domain.PillarScore) int { return cmp.Compare(a.Pillar, b.Pillar) })
}
