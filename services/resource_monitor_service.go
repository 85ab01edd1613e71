package services

import (
	"context"
	"sync"
	"time"

	"github.com/runawaydevil/ScoutBot/config"
	"github.com/runawaydevil/ScoutBot/logger"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// Sampler reads one CPU/memory utilization sample. The production sampler is
// backed by gopsutil; tests script their own sequences.
type Sampler interface {
	Sample() (cpuPercent float64, memPercent float64, err error)
}

type systemSampler struct{}

func NewSystemSampler() Sampler {
	return systemSampler{}
}

func (systemSampler) Sample() (float64, float64, error) {
	percents, err := cpu.Percent(time.Second, false)
	if err != nil {
		return 0, 0, err
	}
	var cpuPercent float64
	if len(percents) > 0 {
		cpuPercent = percents[0]
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, err
	}
	return cpuPercent, vm.UsedPercent, nil
}

type ResourceStatus struct {
	CPUUsage        float64 `json:"cpu_usage"`
	MemoryUsage     float64 `json:"memory_usage"`
	Throttled       bool    `json:"throttled"`
	CPUThreshold    float64 `json:"cpu_threshold"`
	MemoryThreshold float64 `json:"memory_threshold"`
}

type ResourceMonitor interface {
	Start()
	Stop()
	IsThrottled() bool
	CheckResources() ResourceStatus
	WaitIfThrottled(ctx context.Context, operationName string)
}

type resourceMonitor struct {
	cfg     config.ResourceConfig
	sampler Sampler

	mu        sync.Mutex
	cpuUsage  float64
	memUsage  float64
	throttled bool
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewResourceMonitor(cfg config.ResourceConfig, sampler Sampler) ResourceMonitor {
	if sampler == nil {
		sampler = NewSystemSampler()
	}
	return &resourceMonitor{cfg: cfg, sampler: sampler}
}

func (m *resourceMonitor) Start() {
	if !m.cfg.Enabled {
		logger.Infof("resource monitoring is disabled")
		return
	}

	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		logger.Warnf("resource monitor is already running")
		return
	}
	m.running = true
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	m.mu.Unlock()

	go m.monitorLoop(ctx)
	logger.Infof(
		"resource monitor started (interval: %dm, CPU threshold: %.0f%%, memory threshold: %.0f%%)",
		m.cfg.MonitorInterval, m.cfg.CPUThreshold, m.cfg.MemoryThreshold,
	)
}

func (m *resourceMonitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	done := m.done
	m.mu.Unlock()

	cancel()
	<-done
	logger.Infof("resource monitor stopped")
}

func (m *resourceMonitor) monitorLoop(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(time.Duration(m.cfg.MonitorInterval) * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.updateUsage()
			m.logMetrics()
		}
	}
}

// updateUsage takes one sample and applies the hysteresis rule: throttling
// engages when either metric exceeds its threshold and releases only once
// both are back under. Each transition is logged once.
func (m *resourceMonitor) updateUsage() {
	cpuPercent, memPercent, err := m.sampler.Sample()
	if err != nil {
		logger.Errorf("failed to sample resource usage: %v", err)
		return
	}

	m.mu.Lock()
	m.cpuUsage = cpuPercent
	m.memUsage = memPercent

	shouldThrottle := cpuPercent > m.cfg.CPUThreshold || memPercent > m.cfg.MemoryThreshold

	if shouldThrottle && !m.throttled {
		m.throttled = true
		m.mu.Unlock()
		logger.Warnf(
			"resource usage exceeded thresholds - throttling enabled (CPU: %.1f%%, memory: %.1f%%)",
			cpuPercent, memPercent,
		)
		return
	}
	if !shouldThrottle && m.throttled {
		m.throttled = false
		m.mu.Unlock()
		logger.Infof(
			"resource usage back to normal - throttling disabled (CPU: %.1f%%, memory: %.1f%%)",
			cpuPercent, memPercent,
		)
		return
	}
	m.mu.Unlock()
}

func (m *resourceMonitor) logMetrics() {
	m.mu.Lock()
	cpuUsage, memUsage := m.cpuUsage, m.memUsage
	m.mu.Unlock()
	logger.Debugf("resource metrics - CPU: %.1f%%, memory: %.1f%%", cpuUsage, memUsage)
}

func (m *resourceMonitor) IsThrottled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.throttled
}

func (m *resourceMonitor) CheckResources() ResourceStatus {
	m.updateUsage()

	m.mu.Lock()
	defer m.mu.Unlock()
	return ResourceStatus{
		CPUUsage:        m.cpuUsage,
		MemoryUsage:     m.memUsage,
		Throttled:       m.throttled,
		CPUThreshold:    m.cfg.CPUThreshold,
		MemoryThreshold: m.cfg.MemoryThreshold,
	}
}

// WaitIfThrottled is cooperative backpressure: when throttled it polls until
// resources normalize or the wait ceiling is hit, then proceeds regardless.
func (m *resourceMonitor) WaitIfThrottled(ctx context.Context, operationName string) {
	if !m.cfg.Enabled {
		return
	}

	m.updateUsage()
	if !m.IsThrottled() {
		return
	}

	m.mu.Lock()
	cpuUsage, memUsage := m.cpuUsage, m.memUsage
	m.mu.Unlock()
	logger.Warnf(
		"throttling %s due to high resource usage (CPU: %.1f%%, memory: %.1f%%)",
		operationName, cpuUsage, memUsage,
	)

	maxWait := time.Duration(m.cfg.MaxThrottleWait) * time.Second
	pollInterval := time.Duration(m.cfg.ThrottlePollInterval) * time.Second
	deadline := time.Now().Add(maxWait)

	for m.IsThrottled() && time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		case <-time.After(pollInterval):
		}
		m.updateUsage()
	}

	if m.IsThrottled() {
		logger.Warnf("resource usage still high after %s, proceeding with %s anyway", maxWait, operationName)
	} else {
		logger.Infof("resources back to normal, resuming %s", operationName)
	}
}
