package scheduler

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lyzr/ragflow/common/config"
	"github.com/lyzr/ragflow/common/logger"
	"github.com/lyzr/ragflow/common/metrics"
	"github.com/lyzr/ragflow/common/providers"
	"github.com/lyzr/ragflow/common/workflow"
)

// NodeExec runs one node end to end: input resolution, execution, recovery,
// and output storage. Supplied by the engine; must be safe for concurrent
// calls on distinct nodes.
type NodeExec func(ctx context.Context, node *workflow.Node) error

// Scheduler drives parallel execution of a validated workflow
type Scheduler struct {
	pool         *ResourcePool
	monitor      *metrics.Monitor
	clock        providers.Clock
	log          *logger.Logger
	maxWorkers   int
	allocateWait time.Duration
}

// New creates a scheduler around a shared resource pool
func New(pool *ResourcePool, monitor *metrics.Monitor, clock providers.Clock, cfg config.EngineConfig, poolCfg config.PoolConfig, log *logger.Logger) *Scheduler {
	return &Scheduler{
		pool:         pool,
		monitor:      monitor,
		clock:        clock,
		log:          log,
		maxWorkers:   cfg.MaxWorkers,
		allocateWait: poolCfg.AllocateWaitTime,
	}
}

// Pool exposes the resource pool for admin/status endpoints
func (s *Scheduler) Pool() *ResourcePool { return s.pool }

// Execute runs the definition level by level. Batches within a level run
// sequentially; batch members run concurrently. The first node error stops
// the execution after its batch drains.
func (s *Scheduler) Execute(ctx context.Context, def *workflow.Definition, exec NodeExec) error {
	levels, err := workflow.Levels(def)
	if err != nil {
		return err
	}

	profiles := Analyze(def, s.monitor)

	for levelIdx, level := range levels {
		batches := BuildBatches(level, profiles, s.pool, s.maxWorkers)

		for batchIdx, batch := range batches {
			s.log.Debug("running batch",
				"level", levelIdx,
				"batch", batchIdx,
				"size", len(batch.Members))

			if err := s.runBatch(ctx, batch, exec); err != nil {
				return err
			}
		}
	}
	return nil
}

// runBatch reserves the batch requirement, launches all members, and
// releases the reservation when the last member finishes.
func (s *Scheduler) runBatch(ctx context.Context, batch *Batch, exec NodeExec) error {
	if err := s.allocate(ctx, batch.Requirement); err != nil {
		return err
	}
	defer s.pool.Release(batch.Requirement)

	g, gctx := errgroup.WithContext(ctx)
	for _, member := range batch.Members {
		node := member.Node
		g.Go(func() error {
			return exec(gctx, node)
		})
	}
	return g.Wait()
}

// allocate waits for pool capacity, retrying after the configured pause
func (s *Scheduler) allocate(ctx context.Context, req Resources) error {
	for {
		if s.pool.Allocate(req) {
			return nil
		}
		s.log.Debug("resource pool exhausted, waiting",
			"cpu", req.CPUCores, "memory_mb", req.MemoryMB)
		s.clock.Sleep(ctx, s.allocateWait)
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}
