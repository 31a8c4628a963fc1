package store

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ahrav/go-veritas/internal/domain"
	"github.com/ahrav/go-veritas/internal/ports"
)

var _ ports.RunStore = (*MemoryStore)(nil)

// MemoryStore keeps every record in maps guarded by a mutex. Values are
// copied on the way in and out, so callers never share state with the
// store.
type MemoryStore struct {
	mu      sync.RWMutex
	now     func() time.Time
	models  map[string]domain.Model
	runs    map[string]domain.EvaluationRun
	aggs    map[string]domain.AggregatedResponse
	trials  map[string]domain.Trial
	pillars map[string]domain.PillarScore
	scores  map[string]domain.ModelScore
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:     time.Now,
		models:  make(map[string]domain.Model),
		runs:    make(map[string]domain.EvaluationRun),
		aggs:    make(map[string]domain.AggregatedResponse),
		trials:  make(map[string]domain.Trial),
		pillars: make(map[string]domain.PillarScore),
		scores:  make(map[string]domain.ModelScore),
	}
}

// ResolveModel returns the model named name, creating it on first use.
func (s *MemoryStore) ResolveModel(_ context.Context, name, provider string) (domain.Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := modelKey(provider, name)
	if m, ok := s.models[k]; ok {
		return m, nil
	}
	m := domain.Model{ID: uuid.NewString(), Name: name, Provider: provider, CreatedAt: s.now().UTC()}
	s.models[k] = m
	return m, nil
}

// CreateRun stores a new run.
func (s *MemoryStore) CreateRun(_ context.Context, run domain.EvaluationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := runKey(run.ID)
	if _, ok := s.runs[k]; ok {
		return ports.NewStoreError("CreateRun", run.ID, ErrRunExists)
	}
	s.runs[k] = cloneRun(run)
	return nil
}

// GetRun loads a run.
func (s *MemoryStore) GetRun(_ context.Context, runID string) (domain.EvaluationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[runKey(runID)]
	if !ok {
		return domain.EvaluationRun{}, ports.NewStoreError("GetRun", runID, domain.ErrNotFound)
	}
	return cloneRun(run), nil
}

// UpdateRun replaces a stored run.
func (s *MemoryStore) UpdateRun(_ context.Context, run domain.EvaluationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := runKey(run.ID)
	if _, ok := s.runs[k]; !ok {
		return ports.NewStoreError("UpdateRun", run.ID, domain.ErrNotFound)
	}
	s.runs[k] = cloneRun(run)
	return nil
}

// SaveAggregatedResponse stores a pair summary.
func (s *MemoryStore) SaveAggregatedResponse(_ context.Context, resp domain.AggregatedResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aggs[aggKey(resp)] = resp
	return nil
}

// ListAggregatedResponses returns the run's pair summaries ordered by
// question ID and variant.
func (s *MemoryStore) ListAggregatedResponses(_ context.Context, runID string) ([]domain.AggregatedResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.AggregatedResponse
	for _, a := range s.aggs {
		if a.RunID == runID {
			out = append(out, a)
		}
	}
	sortAggregates(out)
	return out, nil
}

// SaveTrial stores a trial.
func (s *MemoryStore) SaveTrial(_ context.Context, trial domain.Trial) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trials[trialKey(trial)] = cloneTrial(trial)
	return nil
}

// ListTrials returns the run's trials ordered by question, variant and
// trial number.
func (s *MemoryStore) ListTrials(_ context.Context, runID string) ([]domain.Trial, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Trial
	for _, t := range s.trials {
		if t.RunID == runID {
			out = append(out, cloneTrial(t))
		}
	}
	sortTrials(out)
	return out, nil
}

// SavePillarScore stores a pillar aggregate.
func (s *MemoryStore) SavePillarScore(_ context.Context, score domain.PillarScore) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pillars[pillarKey(score)] = score
	return nil
}

// ListPillarScores returns the run's pillar aggregates ordered by pillar.
func (s *MemoryStore) ListPillarScores(_ context.Context, runID string) ([]domain.PillarScore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := slices.Collect(func(yield func(domain.PillarScore) bool) {
		for p := range maps.Values(s.pillars) {
			if p.RunID == runID && !yield(p) {
				return
			}
		}
	})
	sortPillars(out)
	return out, nil
}

// SaveModelScore stores the run's overall aggregate.
func (s *MemoryStore) SaveModelScore(_ context.Context, score domain.ModelScore) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scores[scoreKey(score.RunID)] = score
	return nil
}

// GetModelScore loads the run's overall aggregate.
func (s *MemoryStore) GetModelScore(_ context.Context, runID string) (domain.ModelScore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	score, ok := s.scores[scoreKey(runID)]
	if !ok {
		return domain.ModelScore{}, ports.NewStoreError("GetModelScore", runID, domain.ErrNotFound)
	}
	return score, nil
}
