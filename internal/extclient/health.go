package extclient

import (
	"maps"
	"sync"
	"time"
)

// ServiceHealth is a read-only snapshot of one dependency's health.
type ServiceHealth struct {
	ServiceName         string     `json:"service_name"`
	Healthy             bool       `json:"healthy"`
	LastCheck           time.Time  `json:"last_check"`
	LastSuccess         *time.Time `json:"last_success,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastError           string     `json:"last_error,omitempty"`
}

// HealthMonitor tracks call outcomes per dependency. A service with no
// recorded outcomes is assumed healthy.
type HealthMonitor struct {
	mu       sync.RWMutex
	services map[string]ServiceHealth
}

// NewHealthMonitor creates an empty monitor.
func NewHealthMonitor() *HealthMonitor {
	return &HealthMonitor{services: make(map[string]ServiceHealth)}
}

// RecordSuccess marks the service healthy and resets its failure streak.
func (m *HealthMonitor) RecordSuccess(service string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	m.services[service] = ServiceHealth{
		ServiceName: service,
		Healthy:     true,
		LastCheck:   now,
		LastSuccess: &now,
	}
}

// RecordFailure marks the service unhealthy and extends its failure streak.
func (m *HealthMonitor) RecordFailure(service, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.services[service]
	h.ServiceName = service
	h.Healthy = false
	h.LastCheck = time.Now()
	h.ConsecutiveFailures++
	h.LastError = errMsg
	m.services[service] = h
}

// Healthy reports whether the service is currently considered healthy.
func (m *HealthMonitor) Healthy(service string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.services[service]
	if !ok {
		return true
	}
	return h.Healthy
}

// Get returns the snapshot for one service.
func (m *HealthMonitor) Get(service string) (ServiceHealth, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.services[service]
	return h, ok
}

// All returns a copy of every snapshot.
func (m *HealthMonitor) All() map[string]ServiceHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]ServiceHealth, len(m.services))
	maps.Copy(out, m.services)
	return out
}
