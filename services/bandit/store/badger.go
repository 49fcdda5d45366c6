// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// BadgerConfig holds configuration for the Badger-backed store.
type BadgerConfig struct {
	// Path is the directory for database files. Required unless
	// InMemory is true; created if it does not exist.
	Path string

	// InMemory enables in-memory mode (no disk persistence). Used by
	// tests and the regret simulator.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	// Default: true for production, false for testing.
	SyncWrites bool

	// Logger receives BadgerDB's internal log output. If nil,
	// BadgerDB's internal logging is disabled.
	Logger *slog.Logger
}

// DefaultBadgerConfig returns production defaults (durable writes).
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{Path: path, SyncWrites: true}
}

// InMemoryBadgerConfig returns a configuration for testing: in-memory
// mode, no sync, data lost on close.
func InMemoryBadgerConfig() BadgerConfig {
	return BadgerConfig{InMemory: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// BadgerStore implements Store on an embedded BadgerDB.
//
// Atomicity: every mutation runs in a serializable Badger transaction.
// On write conflict (another caller committed to the same key first)
// the transaction is retried until it commits or the context is done,
// which is the compare-and-swap retry loop required for lost-update-free
// counters. Reads run in snapshot transactions and therefore never
// observe a half-applied (alpha, beta) or (A, b) update.
//
// Thread Safety: safe for concurrent use.
type BadgerStore struct {
	db *badger.DB
}

var _ Store = (*BadgerStore)(nil)

// OpenBadger opens a Badger-backed posterior store.
//
// Description:
//
//	Opens BadgerDB at cfg.Path (creating the directory) or in memory.
//	The caller must Close() the returned store.
//
// Outputs:
//
//	*BadgerStore - The opened store.
//	error - Non-nil if the path is invalid or the database fails to open.
func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// OpenBadgerInMemory opens an in-memory store for testing.
func OpenBadgerInMemory() (*BadgerStore, error) {
	return OpenBadger(InMemoryBadgerConfig())
}

// Close releases the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// --- Key schema -------------------------------------------------------------

func metaKey(expID string) []byte {
	return []byte("experiment:" + expID + ":meta")
}

func nArmsKey(expID string) []byte {
	return []byte("experiment:" + expID + ":n_arms")
}

func totalDrawsKey(expID string) []byte {
	return []byte("experiment:" + expID + ":total_draws")
}

func alphaKey(expID string, armID int) []byte {
	return []byte("experiment:" + expID + ":arm:" + strconv.Itoa(armID) + ":alpha")
}

func betaKey(expID string, armID int) []byte {
	return []byte("experiment:" + expID + ":arm:" + strconv.Itoa(armID) + ":beta")
}

func linearKey(expID string, armID int) []byte {
	return []byte("experiment:" + expID + ":arm:" + strconv.Itoa(armID) + ":linear")
}

// --- Transaction helpers ----------------------------------------------------

// update runs fn in a read-write transaction, retrying on conflict
// until commit or context cancellation. Badger detects write-write
// conflicts at commit time; retrying re-reads current values, so the
// loop behaves as compare-and-swap and never loses an increment.
func (s *BadgerStore) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	for {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

func getCounter(txn *badger.Txn, key []byte) (int64, error) {
	item, err := txn.Get(key)
	if err != nil {
		return 0, err
	}
	var value int64
	err = item.Value(func(val []byte) error {
		parsed, perr := strconv.ParseInt(string(val), 10, 64)
		if perr != nil {
			return fmt.Errorf("parse counter %s: %w", key, perr)
		}
		value = parsed
		return nil
	})
	return value, err
}

func setCounter(txn *badger.Txn, key []byte, value int64) error {
	return txn.Set(key, []byte(strconv.FormatInt(value, 10)))
}

func incrCounter(txn *badger.Txn, key []byte) error {
	current, err := getCounter(txn, key)
	if err != nil {
		return err
	}
	return setCounter(txn, key, current+1)
}

// translate maps Badger errors to store sentinel errors, preserving
// the not-found / unavailable distinction the callers rely on.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrAlreadyExists) ||
		errors.Is(err, ErrNotRunning) || errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// --- Experiment registry ----------------------------------------------------

// CreateExperiment registers the experiment and eagerly seeds all
// per-arm keys in one transaction: alpha=1 and beta=1 for Bernoulli
// arms (uniform prior), (lambda*I, 0, I/lambda) for contextual arms.
func (s *BadgerStore) CreateExperiment(ctx context.Context, exp Experiment) error {
	meta, err := json.Marshal(exp)
	if err != nil {
		return fmt.Errorf("marshal experiment: %w", err)
	}

	err = s.update(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(metaKey(exp.ID)); err == nil {
			return ErrAlreadyExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		if err := txn.Set(metaKey(exp.ID), meta); err != nil {
			return err
		}
		if err := setCounter(txn, nArmsKey(exp.ID), int64(exp.NumArms)); err != nil {
			return err
		}
		if err := setCounter(txn, totalDrawsKey(exp.ID), 0); err != nil {
			return err
		}

		for arm := 0; arm < exp.NumArms; arm++ {
			switch exp.Type {
			case TypeContextual:
				st := newLinearState(exp.FeatureDim, exp.Regularization)
				encoded, err := json.Marshal(st)
				if err != nil {
					return fmt.Errorf("marshal linear state: %w", err)
				}
				if err := txn.Set(linearKey(exp.ID, arm), encoded); err != nil {
					return err
				}
			default:
				if err := setCounter(txn, alphaKey(exp.ID, arm), 1); err != nil {
					return err
				}
				if err := setCounter(txn, betaKey(exp.ID, arm), 1); err != nil {
					return err
				}
			}
		}
		return nil
	})
	return translate(err)
}

// newLinearState initializes A = lambda*I, b = 0, AInv = I/lambda.
func newLinearState(dim int, lambda float64) LinearState {
	st := LinearState{
		Dim:  dim,
		A:    make([]float64, dim*dim),
		B:    make([]float64, dim),
		AInv: make([]float64, dim*dim),
	}
	for i := 0; i < dim; i++ {
		st.A[i*dim+i] = lambda
		st.AInv[i*dim+i] = 1 / lambda
	}
	return st
}

// GetExperiment returns the registry record for id.
func (s *BadgerStore) GetExperiment(ctx context.Context, id string) (Experiment, error) {
	var exp Experiment
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metaKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &exp)
		})
	})
	return exp, translate(err)
}

// ListExperiments scans all experiment metadata records.
func (s *BadgerStore) ListExperiments(ctx context.Context) ([]Experiment, error) {
	var exps []Experiment
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("experiment:")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			if !bytes.HasSuffix(item.Key(), []byte(":meta")) {
				continue
			}
			var exp Experiment
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &exp)
			}); err != nil {
				return err
			}
			exps = append(exps, exp)
		}
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}
	sort.Slice(exps, func(i, j int) bool { return exps[i].ID < exps[j].ID })
	return exps, nil
}

// ConcludeExperiment transitions running -> concluded. The read and
// the status check happen in the same transaction as the write, so a
// concurrent conclusion attempt loses cleanly with ErrNotRunning.
func (s *BadgerStore) ConcludeExperiment(ctx context.Context, id string, winnerArm int, at time.Time) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(metaKey(id))
		if err != nil {
			return err
		}
		var exp Experiment
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &exp)
		}); err != nil {
			return err
		}
		if exp.Status != StatusRunning {
			return ErrNotRunning
		}
		exp.Status = StatusConcluded
		exp.WinnerArm = &winnerArm
		exp.ConcludedAt = &at

		encoded, err := json.Marshal(exp)
		if err != nil {
			return fmt.Errorf("marshal experiment: %w", err)
		}
		return txn.Set(metaKey(id), encoded)
	})
	return translate(err)
}

// --- Bernoulli posteriors ---------------------------------------------------

// GetBernoulli returns (alpha, beta) for one arm.
func (s *BadgerStore) GetBernoulli(ctx context.Context, expID string, armID int) (BernoulliPosterior, error) {
	var post BernoulliPosterior
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		if post.Alpha, err = getCounter(txn, alphaKey(expID, armID)); err != nil {
			return err
		}
		post.Beta, err = getCounter(txn, betaKey(expID, armID))
		return err
	})
	return post, translate(err)
}

// GetAllBernoulli reads every arm's (alpha, beta) from one snapshot.
func (s *BadgerStore) GetAllBernoulli(ctx context.Context, expID string, numArms int) ([]BernoulliPosterior, error) {
	posts := make([]BernoulliPosterior, numArms)
	err := s.db.View(func(txn *badger.Txn) error {
		for arm := 0; arm < numArms; arm++ {
			var err error
			if posts[arm].Alpha, err = getCounter(txn, alphaKey(expID, arm)); err != nil {
				return err
			}
			if posts[arm].Beta, err = getCounter(txn, betaKey(expID, arm)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}
	return posts, nil
}

// IncrementSuccess applies alpha += 1 and total_draws += 1 atomically.
func (s *BadgerStore) IncrementSuccess(ctx context.Context, expID string, armID int) error {
	return s.incrementPosterior(ctx, expID, alphaKey(expID, armID))
}

// IncrementFailure applies beta += 1 and total_draws += 1 atomically.
func (s *BadgerStore) IncrementFailure(ctx context.Context, expID string, armID int) error {
	return s.incrementPosterior(ctx, expID, betaKey(expID, armID))
}

func (s *BadgerStore) incrementPosterior(ctx context.Context, expID string, key []byte) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		if err := incrCounter(txn, key); err != nil {
			return err
		}
		return incrCounter(txn, totalDrawsKey(expID))
	})
	return translate(err)
}

// IncrementDraws bumps the informational total_draws counter.
func (s *BadgerStore) IncrementDraws(ctx context.Context, expID string) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		return incrCounter(txn, totalDrawsKey(expID))
	})
	return translate(err)
}

// TotalDraws returns the experiment's monotonic draw counter.
func (s *BadgerStore) TotalDraws(ctx context.Context, expID string) (int64, error) {
	var draws int64
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		draws, err = getCounter(txn, totalDrawsKey(expID))
		return err
	})
	return draws, translate(err)
}

// --- Linear (contextual) state ----------------------------------------------

// GetLinear returns the regression state for one arm.
func (s *BadgerStore) GetLinear(ctx context.Context, expID string, armID int) (LinearState, error) {
	var st LinearState
	err := s.db.View(func(txn *badger.Txn) error {
		return readLinear(txn, expID, armID, &st)
	})
	return st, translate(err)
}

// GetAllLinear reads every arm's regression state from one snapshot.
func (s *BadgerStore) GetAllLinear(ctx context.Context, expID string, numArms int) ([]LinearState, error) {
	states := make([]LinearState, numArms)
	err := s.db.View(func(txn *badger.Txn) error {
		for arm := 0; arm < numArms; arm++ {
			if err := readLinear(txn, expID, arm, &states[arm]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}
	return states, nil
}

func readLinear(txn *badger.Txn, expID string, armID int, st *LinearState) error {
	item, err := txn.Get(linearKey(expID, armID))
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, st)
	})
}

// callbackError keeps a MutateLinear callback failure distinct from
// infrastructure errors so translate does not label it unavailable.
type callbackError struct {
	err error
}

func (e *callbackError) Error() string { return e.err.Error() }
func (e *callbackError) Unwrap() error { return e.err }

// MutateLinear runs fn against the current state inside the conflict
// retry loop. A concurrent mutation of the same arm forces a retry
// with freshly read state, so rank-1 updates are never lost.
func (s *BadgerStore) MutateLinear(ctx context.Context, expID string, armID int, fn func(*LinearState) error) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		var st LinearState
		if err := readLinear(txn, expID, armID, &st); err != nil {
			return err
		}
		if err := fn(&st); err != nil {
			return &callbackError{err: err}
		}
		encoded, err := json.Marshal(st)
		if err != nil {
			return fmt.Errorf("marshal linear state: %w", err)
		}
		return txn.Set(linearKey(expID, armID), encoded)
	})
	var cbErr *callbackError
	if errors.As(err, &cbErr) {
		return cbErr.err
	}
	return translate(err)
}
