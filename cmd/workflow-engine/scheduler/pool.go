// Package scheduler plans and drives parallel execution: it profiles nodes,
// layers the graph topologically, packs compatible nodes into batches, and
// runs each batch concurrently under a shared resource pool.
package scheduler

import (
	"sync"

	"github.com/lyzr/ragflow/common/config"
)

// Resources is one resource requirement or capacity vector
type Resources struct {
	CPUCores      float64
	MemoryMB      float64
	NetworkMbps   float64
	GPUMemoryMB   float64
	StorageIOMBps float64
}

// Add returns the component-wise sum
func (r Resources) Add(other Resources) Resources {
	return Resources{
		CPUCores:      r.CPUCores + other.CPUCores,
		MemoryMB:      r.MemoryMB + other.MemoryMB,
		NetworkMbps:   r.NetworkMbps + other.NetworkMbps,
		GPUMemoryMB:   r.GPUMemoryMB + other.GPUMemoryMB,
		StorageIOMBps: r.StorageIOMBps + other.StorageIOMBps,
	}
}

// Scale returns the vector multiplied by a factor
func (r Resources) Scale(factor float64) Resources {
	return Resources{
		CPUCores:      r.CPUCores * factor,
		MemoryMB:      r.MemoryMB * factor,
		NetworkMbps:   r.NetworkMbps * factor,
		GPUMemoryMB:   r.GPUMemoryMB * factor,
		StorageIOMBps: r.StorageIOMBps * factor,
	}
}

// ResourcePool tracks process-wide available capacity. Allocate and Release
// are atomic with respect to each other.
type ResourcePool struct {
	mu        sync.Mutex
	total     Resources
	available Resources
}

// NewResourcePool creates a pool from the configured totals
func NewResourcePool(cfg config.PoolConfig) *ResourcePool {
	total := Resources{
		CPUCores:      cfg.CPUCores,
		MemoryMB:      cfg.MemoryMB,
		NetworkMbps:   cfg.NetworkMbps,
		GPUMemoryMB:   cfg.GPUMemoryMB,
		StorageIOMBps: cfg.StorageIOMBps,
	}
	return &ResourcePool{total: total, available: total}
}

// CanAllocate reports whether the requirement currently fits
func (p *ResourcePool) CanAllocate(req Resources) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fits(req)
}

func (p *ResourcePool) fits(req Resources) bool {
	return req.CPUCores <= p.available.CPUCores &&
		req.MemoryMB <= p.available.MemoryMB &&
		req.NetworkMbps <= p.available.NetworkMbps &&
		req.GPUMemoryMB <= p.available.GPUMemoryMB &&
		req.StorageIOMBps <= p.available.StorageIOMBps
}

// Allocate reserves the requirement if it fits, reporting success
func (p *ResourcePool) Allocate(req Resources) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.fits(req) {
		return false
	}
	p.available.CPUCores -= req.CPUCores
	p.available.MemoryMB -= req.MemoryMB
	p.available.NetworkMbps -= req.NetworkMbps
	p.available.GPUMemoryMB -= req.GPUMemoryMB
	p.available.StorageIOMBps -= req.StorageIOMBps
	return true
}

// Release returns a previous allocation to the pool, clamped at the totals
func (p *ResourcePool) Release(req Resources) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.available.CPUCores = min(p.available.CPUCores+req.CPUCores, p.total.CPUCores)
	p.available.MemoryMB = min(p.available.MemoryMB+req.MemoryMB, p.total.MemoryMB)
	p.available.NetworkMbps = min(p.available.NetworkMbps+req.NetworkMbps, p.total.NetworkMbps)
	p.available.GPUMemoryMB = min(p.available.GPUMemoryMB+req.GPUMemoryMB, p.total.GPUMemoryMB)
	p.available.StorageIOMBps = min(p.available.StorageIOMBps+req.StorageIOMBps, p.total.StorageIOMBps)
}

// Available returns a snapshot of the current capacity
func (p *ResourcePool) Available() Resources {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.available
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
