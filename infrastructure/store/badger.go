package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/ahrav/go-veritas/internal/domain"
	"github.com/ahrav/go-veritas/internal/ports"
)

var _ ports.RunStore = (*BadgerStore)(nil)

// maxTxnRetries bounds retries of read-modify-write transactions that lose a
// conflict to a concurrent writer.
const maxTxnRetries = 3

// Config configures a BadgerStore.
type Config struct {
	// Path is the database directory. Required unless InMemory is set.
	Path string

	// InMemory keeps all data in memory. Used for tests.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// Logger receives BadgerDB's internal logs. Nil disables them.
	Logger *slog.Logger

	// GCInterval is how often value log garbage collection runs.
	// Zero disables it.
	GCInterval time.Duration

	// GCDiscardRatio is passed to RunValueLogGC.
	GCDiscardRatio float64
}

// DefaultConfig returns the configuration for a persistent store at path.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns a configuration for an ephemeral store.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog to badger.Logger.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// BadgerStore persists evaluation state in BadgerDB. Records are stored as
// JSON under prefixed keys so that all records of one kind and run can be
// listed by prefix iteration.
type BadgerStore struct {
	db     *badger.DB
	logger *slog.Logger
	now    func() time.Time

	stopGC chan struct{}
	gcDone chan struct{}
}

// OpenBadger opens or creates the database described by cfg.
func OpenBadger(cfg Config) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent store")
	}
	if cfg.GCDiscardRatio < 0 || cfg.GCDiscardRatio > 1 {
		return nil, fmt.Errorf("gc discard ratio must be between 0 and 1, got %v", cfg.GCDiscardRatio)
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)

	logger := cfg.Logger
	if logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: logger})
	} else {
		opts = opts.WithLogger(nil)
		logger = slog.Default()
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}

	s := &BadgerStore{db: db, logger: logger, now: time.Now}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.stopGC = make(chan struct{})
		s.gcDone = make(chan struct{})
		go s.runGC(cfg.GCInterval, cfg.GCDiscardRatio)
	}
	return s, nil
}

// Close stops garbage collection and closes the database.
func (s *BadgerStore) Close() error {
	if s.stopGC != nil {
		close(s.stopGC)
		<-s.gcDone
	}
	return s.db.Close()
}

func (s *BadgerStore) runGC(interval time.Duration, ratio float64) {
	defer close(s.gcDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			if err := s.db.RunValueLogGC(ratio); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				s.logger.Warn("badger value log GC error", slog.String("error", err.Error()))
			}
		}
	}
}

// ResolveModel returns the model named name, creating it on first use.
func (s *BadgerStore) ResolveModel(_ context.Context, name, provider string) (domain.Model, error) {
	k := []byte(modelKey(provider, name))

	var model domain.Model
	err := s.update(func(txn *badger.Txn) error {
		found, err := getJSON(txn, k, &model)
		if err != nil || found {
			return err
		}
		model = domain.Model{ID: uuid.NewString(), Name: name, Provider: provider, CreatedAt: s.now().UTC()}
		return setJSON(txn, k, model)
	})
	if err != nil {
		return domain.Model{}, ports.NewStoreError("ResolveModel", name, err)
	}
	return model, nil
}

// CreateRun stores a new run.
func (s *BadgerStore) CreateRun(_ context.Context, run domain.EvaluationRun) error {
	k := []byte(runKey(run.ID))
	err := s.update(func(txn *badger.Txn) error {
		if _, err := txn.Get(k); err == nil {
			return ErrRunExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return setJSON(txn, k, run)
	})
	if err != nil {
		return ports.NewStoreError("CreateRun", run.ID, err)
	}
	return nil
}

// GetRun loads a run.
func (s *BadgerStore) GetRun(_ context.Context, runID string) (domain.EvaluationRun, error) {
	var run domain.EvaluationRun
	if err := s.get(runKey(runID), &run); err != nil {
		return domain.EvaluationRun{}, ports.NewStoreError("GetRun", runID, err)
	}
	return run, nil
}

// UpdateRun replaces a stored run.
func (s *BadgerStore) UpdateRun(_ context.Context, run domain.EvaluationRun) error {
	k := []byte(runKey(run.ID))
	err := s.update(func(txn *badger.Txn) error {
		if _, err := txn.Get(k); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return domain.ErrNotFound
			}
			return err
		}
		return setJSON(txn, k, run)
	})
	if err != nil {
		return ports.NewStoreError("UpdateRun", run.ID, err)
	}
	return nil
}

// SaveAggregatedResponse stores a pair summary.
func (s *BadgerStore) SaveAggregatedResponse(_ context.Context, resp domain.AggregatedResponse) error {
	if err := s.put(aggKey(resp), resp); err != nil {
		return ports.NewStoreError("SaveAggregatedResponse", resp.Key().String(), err)
	}
	return nil
}

// ListAggregatedResponses returns the run's pair summaries ordered by
// question ID and variant.
func (s *BadgerStore) ListAggregatedResponses(_ context.Context, runID string) ([]domain.AggregatedResponse, error) {
	out, err := list[domain.AggregatedResponse](s.db, scanPrefix(prefixAgg, runID))
	if err != nil {
		return nil, ports.NewStoreError("ListAggregatedResponses", runID, err)
	}
	sortAggregates(out)
	return out, nil
}

// SaveTrial stores a trial.
func (s *BadgerStore) SaveTrial(_ context.Context, trial domain.Trial) error {
	if err := s.put(trialKey(trial), trial); err != nil {
		return ports.NewStoreError("SaveTrial", trialKey(trial), err)
	}
	return nil
}

// ListTrials returns the run's trials ordered by question, variant and
// trial number.
func (s *BadgerStore) ListTrials(_ context.Context, runID string) ([]domain.Trial, error) {
	out, err := list[domain.Trial](s.db, scanPrefix(prefixTrial, runID))
	if err != nil {
		return nil, ports.NewStoreError("ListTrials", runID, err)
	}
	sortTrials(out)
	return out, nil
}

// SavePillarScore stores a pillar aggregate.
func (s *BadgerStore) SavePillarScore(_ context.Context, score domain.PillarScore) error {
	if err := s.put(pillarKey(score), score); err != nil {
		return ports.NewStoreError("SavePillarScore", score.RunID, err)
	}
	return nil
}

// ListPillarScores returns the run's pillar aggregates ordered by pillar.
func (s *BadgerStore) ListPillarScores(_ context.Context, runID string) ([]domain.PillarScore, error) {
	out, err := list[domain.PillarScore](s.db, scanPrefix(prefixPillar, runID))
	if err != nil {
		return nil, ports.NewStoreError("ListPillarScores", runID, err)
	}
	sortPillars(out)
	return out, nil
}

// SaveModelScore stores the run's overall aggregate.
func (s *BadgerStore) SaveModelScore(_ context.Context, score domain.ModelScore) error {
	if err := s.put(scoreKey(score.RunID), score); err != nil {
		return ports.NewStoreError("SaveModelScore", score.RunID, err)
	}
	return nil
}

// GetModelScore loads the run's overall aggregate.
func (s *BadgerStore) GetModelScore(_ context.Context, runID string) (domain.ModelScore, error) {
	var score domain.ModelScore
	if err := s.get(scoreKey(runID), &score); err != nil {
		return domain.ModelScore{}, ports.NewStoreError("GetModelScore", runID, err)
	}
	return score, nil
}

// update runs fn in a read-write transaction, retrying on conflicts.
func (s *BadgerStore) update(fn func(txn *badger.Txn) error) error {
	var err error
	for range maxTxnRetries {
		if err = s.db.Update(fn); !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func (s *BadgerStore) put(k string, v any) error {
	return s.db.Update(func(txn *badger.Txn) error { return setJSON(txn, []byte(k), v) })
}

// get decodes the value at k into v, returning domain.ErrNotFound when the
// key is absent.
func (s *BadgerStore) get(k string, v any) error {
	return s.db.View(func(txn *badger.Txn) error {
		found, err := getJSON(txn, []byte(k), v)
		if err != nil {
			return err
		}
		if !found {
			return domain.ErrNotFound
		}
		return nil
	})
}

func getJSON(txn *badger.Txn, k []byte, v any) (bool, error) {
	item, err := txn.Get(k)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := item.Value(func(val []byte) error { return json.Unmarshal(val, v) }); err != nil {
		return false, fmt.Errorf("decode %q: %w", k, err)
	}
	return true, nil
}

func setJSON(txn *badger.Txn, k []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %q: %w", k, err)
	}
	return txn.Set(k, data)
}

// list decodes every value under prefix.
func list[T any](db *badger.DB, prefix string) ([]T, error) {
	var out []T
	err := db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			var v T
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &v) }); err != nil {
				return fmt.Errorf("decode %q: %w", it.Item().Key(), err)
			}
			out = append(out, v)
		}
		return nil
	})
	return out, err
}
