// Package sysmon samples host CPU, memory and network counters.
package sysmon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"

	"github.com/petervdpas/botdash/internal/state"
)

// Counters is one raw reading.
type Counters struct {
	CPUPercent float64
	MemPercent float64
	RxBytes    uint64
	TxBytes    uint64
}

// Source reads raw counters; the default reads the host through gopsutil.
type Source func(ctx context.Context) (Counters, error)

// Sampler turns successive counter readings into rate samples.
type Sampler struct {
	read Source
	now  func() time.Time

	mu     sync.Mutex
	prev   Counters
	prevAt time.Time
}

func New() *Sampler { return NewWithSource(HostCounters) }

func NewWithSource(src Source) *Sampler {
	return &Sampler{read: src, now: time.Now}
}

// Sample reads the counters and derives rx/tx byte rates from the previous
// reading. The first sample has zero rates.
func (s *Sampler) Sample(ctx context.Context) (state.ResourceSample, error) {
	c, err := s.read(ctx)
	if err != nil {
		return state.ResourceSample{}, err
	}
	at := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	out := state.ResourceSample{CPUPercent: c.CPUPercent, MemPercent: c.MemPercent, At: at}
	if !s.prevAt.IsZero() {
		if secs := at.Sub(s.prevAt).Seconds(); secs > 0 {
			out.RxRate = rate(s.prev.RxBytes, c.RxBytes, secs)
			out.TxRate = rate(s.prev.TxBytes, c.TxBytes, secs)
		}
	}
	s.prev, s.prevAt = c, at
	return out, nil
}

func rate(prev, cur uint64, secs float64) float64 {
	if cur < prev {
		return 0
	}
	return float64(cur-prev) / secs
}

// HostCounters reads this machine's counters.
func HostCounters(ctx context.Context) (Counters, error) {
	var c Counters

	pct, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return c, fmt.Errorf("cpu: %w", err)
	}
	if len(pct) > 0 {
		c.CPUPercent = pct[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return c, fmt.Errorf("memory: %w", err)
	}
	c.MemPercent = vm.UsedPercent

	io, err := net.IOCountersWithContext(ctx, false)
	if err != nil {
		return c, fmt.Errorf("net: %w", err)
	}
	if len(io) > 0 {
		c.RxBytes = io[0].BytesRecv
		c.TxBytes = io[0].BytesSent
	}
	return c, nil
}
