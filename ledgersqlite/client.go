// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package ledgersqlite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mobiletoly/go-ledgersync/ledgersync"
)

// ErrSyncInProgress is returned by SyncNow while another cycle is running.
var ErrSyncInProgress = errors.New("sync already in progress")

// Config holds configuration for the sync client
type Config struct {
	Source             string        // tags pushed documents, e.g. "desktop"
	Interval           time.Duration // 5m between periodic cycles
	InitialDelay       time.Duration // 3s before the first periodic cycle
	BackoffMin         time.Duration // 5s retry delay after a failed cycle
	BackoffMax         time.Duration // 5m
	TombstoneWarnAfter time.Duration // 7d before an unpushed delete is reported

	StageMetrics    StageMetricsRecorder
	LogStageTimings bool
}

// DefaultConfig returns the reference sync schedule for source.
func DefaultConfig(source string) *Config {
	return &Config{
		Source:             source,
		Interval:           5 * time.Minute,
		InitialDelay:       3 * time.Second,
		BackoffMin:         5 * time.Second,
		BackoffMax:         5 * time.Minute,
		TombstoneWarnAfter: 7 * 24 * time.Hour,
	}
}

// Client reconciles a Store with a remote document store.
type Client struct {
	store  *Store
	remote ledgersync.RemoteStore
	config *Config
	logger *slog.Logger

	running atomic.Bool

	subMu       sync.Mutex
	subscribers map[int]chan CycleResult
	nextSub     int
}

// NewClient creates a sync client. The store and remote are owned by the caller.
func NewClient(store *Store, remote ledgersync.RemoteStore, config *Config, logger *slog.Logger) (*Client, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if remote == nil {
		return nil, fmt.Errorf("remote store cannot be nil")
	}
	if config == nil {
		config = DefaultConfig("")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		store:       store,
		remote:      remote,
		config:      config,
		logger:      logger,
		subscribers: make(map[int]chan CycleResult),
	}, nil
}

// CollectionResult counts what one cycle did to a collection.
type CollectionResult struct {
	Pulled   int // local rows created or updated from remote documents
	Deleted  int // local rows hard-deleted by remote tombstones
	Pushed   int // remote documents created or merged
	Skipped  int // records deferred to a later cycle
	Rejected int // remote documents failing validation
	Failed   int // per-record remote write errors
}

// CycleResult is the machine-readable outcome of a sync cycle.
type CycleResult struct {
	Started         time.Time
	Finished        time.Time
	Customers       CollectionResult
	Transactions    CollectionResult
	StaleTombstones int
	Err             error
}

// OK reports whether the cycle ran to completion.
func (r CycleResult) OK() bool {
	return r.Err == nil
}

// Summary renders the result for display.
func (r CycleResult) Summary() string {
	if r.Err != nil {
		return fmt.Sprintf("sync failed: %v", r.Err)
	}
	s := fmt.Sprintf("customers: %d pulled, %d pushed; transactions: %d pulled, %d deleted, %d pushed",
		r.Customers.Pulled, r.Customers.Pushed, r.Transactions.Pulled, r.Transactions.Deleted, r.Transactions.Pushed)
	skipped := r.Customers.Skipped + r.Transactions.Skipped
	failed := r.Customers.Failed + r.Transactions.Failed
	rejected := r.Customers.Rejected + r.Transactions.Rejected
	if skipped+failed+rejected > 0 {
		s += fmt.Sprintf(" (%d skipped, %d failed, %d rejected)", skipped, failed, rejected)
	}
	if r.StaleTombstones > 0 {
		s += fmt.Sprintf("; %d deletions still unsynced", r.StaleTombstones)
	}
	return s
}

// SyncNow runs one cycle: customer pull, customer push, transaction pull,
// transaction push. It returns ErrSyncInProgress without doing anything when a
// cycle is already running. An unreachable remote aborts the cycle before any
// local state changes.
func (c *Client) SyncNow(ctx context.Context) (CycleResult, error) {
	if !c.running.CompareAndSwap(false, true) {
		return CycleResult{}, ErrSyncInProgress
	}
	defer c.running.Store(false)

	res := c.runCycle(ctx)
	c.publish(res)
	return res, res.Err
}

// Syncing reports whether a cycle is running.
func (c *Client) Syncing() bool {
	return c.running.Load()
}

func (c *Client) runCycle(ctx context.Context) (res CycleResult) {
	res.Started = time.Now()
	totalStart := c.stageStart()
	defer func() {
		res.Finished = time.Now()
		c.observeStage(ctx, MetricsOpCycle, MetricsStageTotal, totalStart,
			res.Customers.Pushed+res.Transactions.Pushed, res.Err != nil)
	}()

	pingStart := c.stageStart()
	err := c.remote.Ping(ctx)
	c.observeStage(ctx, MetricsOpCycle, MetricsStagePing, pingStart, 0, err != nil)
	if err != nil {
		res.Err = fmt.Errorf("remote unreachable: %w", err)
		c.logger.Warn("Sync cycle aborted", "error", err)
		return res
	}

	touched := make(map[string]struct{})
	steps := []struct {
		op, stage string
		run       func() (int, error)
	}{
		{MetricsOpPull, MetricsStageCustomers, func() (int, error) {
			return c.pullCustomers(ctx, &res.Customers, touched)
		}},
		{MetricsOpPush, MetricsStageCustomers, func() (int, error) {
			return c.pushCustomers(ctx, &res.Customers)
		}},
		{MetricsOpPull, MetricsStageTransactions, func() (int, error) {
			return c.pullTransactions(ctx, &res.Transactions, touched)
		}},
		{MetricsOpPush, MetricsStageTransactions, func() (int, error) {
			n, stale, err := c.pushTransactions(ctx, &res.Transactions)
			res.StaleTombstones = stale
			return n, err
		}},
	}
	for _, step := range steps {
		start := c.stageStart()
		n, err := step.run()
		c.observeStage(ctx, step.op, step.stage, start, n, err != nil)
		if err != nil {
			res.Err = fmt.Errorf("%s %s: %w", step.op, step.stage, err)
			c.logger.Warn("Sync cycle aborted", "op", step.op, "stage", step.stage, "error", err)
			// Balances of customers pulled before the failure still have to match their transactions
			if step.stage == MetricsStageCustomers {
				c.recomputeTouched(ctx, touched)
			}
			return res
		}
	}

	c.logger.Info("Sync cycle finished", "summary", res.Summary())
	return res
}

// Subscribe returns a channel receiving every cycle result and a function
// that cancels the subscription. Results are dropped for slow subscribers.
func (c *Client) Subscribe(buffer int) (<-chan CycleResult, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan CycleResult, buffer)

	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subscribers[id] = ch
	c.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.subscribers, id)
			c.subMu.Unlock()
			close(ch)
		})
	}
}

func (c *Client) publish(res CycleResult) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subscribers {
		select {
		case ch <- res:
		default:
			c.logger.Debug("Dropping cycle result for slow subscriber")
		}
	}
}

// Run drives periodic sync cycles until ctx is done. The first cycle starts
// after InitialDelay; later ones follow Interval, or an exponential backoff
// between BackoffMin and BackoffMax after a failed cycle. A tick that finds a
// manual cycle running is skipped.
func (c *Client) Run(ctx context.Context) error {
	interval := c.config.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	backoffMin := c.config.BackoffMin
	if backoffMin <= 0 {
		backoffMin = time.Second
	}
	backoffMax := c.config.BackoffMax
	if backoffMax < backoffMin {
		backoffMax = backoffMin
	}

	timer := time.NewTimer(c.config.InitialDelay)
	defer timer.Stop()

	backoff := backoffMin
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		next := interval
		_, err := c.SyncNow(ctx)
		switch {
		case err == nil:
			backoff = backoffMin
		case errors.Is(err, ErrSyncInProgress):
			c.logger.Debug("Periodic sync skipped, cycle in progress")
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			// Exponential backoff on error
			next = backoff
			backoff *= 2
			if backoff > backoffMax {
				backoff = backoffMax
			}
		}
		timer.Reset(next)
	}
}
