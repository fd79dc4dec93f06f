// Package scheduler fires recurring pipeline runs from a cron expression.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"
)

// RunFunc executes one scheduled pipeline run.
type RunFunc func(ctx context.Context) error

// Scheduler triggers a RunFunc at the times produced by a cron expression.
// With a redis client configured, a SetNX lock keeps replicas from firing the
// same slot twice.
type Scheduler struct {
	expr   *cronexpr.Expression
	spec   string
	run    RunFunc
	rdb    *redis.Client
	logger *log.Logger
	stop   chan struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithRedisLock enables the distributed run lock.
func WithRedisLock(rdb *redis.Client) Option {
	return func(s *Scheduler) { s.rdb = rdb }
}

// New parses spec and builds a Scheduler. @hourly and @daily are accepted
// alongside standard cron expressions.
func New(spec string, run RunFunc, logger *log.Logger, opts ...Option) (*Scheduler, error) {
	if run == nil {
		return nil, fmt.Errorf("scheduler run func is required")
	}
	expr, err := cronexpr.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse cron %q: %w", spec, err)
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[SCHED] ", log.LstdFlags)
	}
	s := &Scheduler{
		expr:   expr,
		spec:   spec,
		run:    run,
		logger: logger,
		stop:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Next returns the first fire time after from.
func (s *Scheduler) Next(from time.Time) time.Time {
	return s.expr.Next(from)
}

// Start runs the schedule loop until Stop is called or ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	go s.loop(ctx)
}

// Stop ends the schedule loop. Safe to call once.
func (s *Scheduler) Stop() { close(s.stop) }

func (s *Scheduler) loop(ctx context.Context) {
	for {
		next := s.Next(time.Now())
		if next.IsZero() {
			s.logger.Printf("cron %q has no future fire times, stopping", s.spec)
			return
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.stop:
			timer.Stop()
			return
		case <-timer.C:
		}
		s.fire(ctx, next)
	}
}

func (s *Scheduler) fire(ctx context.Context, slot time.Time) {
	if s.rdb != nil {
		lockKey := fmt.Sprintf("courseforge:sched:%d", slot.Unix())
		ok, err := s.rdb.SetNX(ctx, lockKey, "1", 2*time.Minute).Result()
		if err != nil {
			s.logger.Printf("warn: schedule lock: %v", err)
		} else if !ok {
			s.logger.Printf("slot %s already claimed, skipping", slot.Format(time.RFC3339))
			return
		}
	}
	s.logger.Printf("scheduled run firing for slot %s", slot.Format(time.RFC3339))
	if err := s.run(ctx); err != nil {
		s.logger.Printf("scheduled run failed: %v", err)
	}
}
