package metrics

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Manager owns the Prometheus registry and the host/runtime gauges
type Manager struct {
	systemCPUUsage    *prometheus.GaugeVec
	systemMemoryUsage *prometheus.GaugeVec

	goGoroutines prometheus.Gauge
	goHeapAlloc  prometheus.Gauge
	goHeapSys    prometheus.Gauge
	goGCPauseNs  prometheus.Histogram

	registry *prometheus.Registry

	initialized bool
	mu          sync.RWMutex
}

var (
	instance *Manager
	once     sync.Once
)

// GetInstance returns the process-wide Manager
func GetInstance() *Manager {
	once.Do(func() {
		instance = &Manager{
			registry: prometheus.NewRegistry(),
		}
	})
	return instance
}

// Registry exposes the underlying registry, mainly for tests
func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Manager) initializeSystemMetrics() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return
	}

	m.systemCPUUsage = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lumavet_system_cpu_usage_percent",
			Help: "Current CPU usage percentage",
		},
		[]string{"core"},
	)

	m.systemMemoryUsage = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lumavet_system_memory_usage_bytes",
			Help: "Current memory usage in bytes",
		},
		[]string{"type"},
	)

	m.goGoroutines = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lumavet_go_goroutines",
		Help: "Number of goroutines that currently exist",
	})
	m.goHeapAlloc = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lumavet_go_heap_alloc_bytes",
		Help: "Heap memory in use in bytes",
	})
	m.goHeapSys = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lumavet_go_heap_sys_bytes",
		Help: "Heap memory reserved in bytes",
	})
	m.goGCPauseNs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "lumavet_go_gc_pause_nanoseconds",
		Help:    "Most recent GC pause in nanoseconds",
		Buckets: prometheus.ExponentialBuckets(1000, 2, 20),
	})

	m.registry.MustRegister(
		m.systemCPUUsage,
		m.systemMemoryUsage,
		m.goGoroutines,
		m.goHeapAlloc,
		m.goHeapSys,
		m.goGCPauseNs,
	)
	m.initialized = true
}

// RunSystemMetrics samples host and runtime gauges every interval until ctx
// is done. It returns immediately when system metrics are disabled.
func RunSystemMetrics(ctx context.Context, interval time.Duration) error {
	if !systemEnabled.Load() {
		return nil
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}

	m := GetInstance()
	m.initializeSystemMetrics()
	log.Info().Dur("interval", interval).Msg("System metrics collection started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		m.collect()
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (m *Manager) collect() {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.initialized {
		return
	}

	if percentages, err := cpu.Percent(0, true); err == nil {
		for i, p := range percentages {
			m.systemCPUUsage.WithLabelValues(fmt.Sprintf("cpu%d", i)).Set(p)
		}
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		m.systemMemoryUsage.WithLabelValues("total").Set(float64(vm.Total))
		m.systemMemoryUsage.WithLabelValues("available").Set(float64(vm.Available))
		m.systemMemoryUsage.WithLabelValues("used").Set(float64(vm.Used))
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	m.goGoroutines.Set(float64(runtime.NumGoroutine()))
	m.goHeapAlloc.Set(float64(ms.HeapAlloc))
	m.goHeapSys.Set(float64(ms.HeapSys))
	m.goGCPauseNs.Observe(float64(ms.PauseNs[(ms.NumGC+255)%256]))
}
