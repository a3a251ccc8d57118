package engine

import (
	"net/url"
	"strings"
	"sync"
	"time"
)

// HostMemory remembers hosts whose fast path recently yielded no usable
// content, so the pipeline can go straight to rendering for them. Entries
// expire after the TTL and are pruned hourly.
type HostMemory struct {
	store sync.Map // host (string) -> expiry (time.Time)
	ttl   time.Duration
	done  chan struct{}
	now   func() time.Time
}

// NewHostMemory creates a HostMemory and starts its cleanup goroutine.
func NewHostMemory(ttl time.Duration) *HostMemory {
	m := &HostMemory{
		ttl:  ttl,
		done: make(chan struct{}),
		now:  time.Now,
	}
	go m.cleanupLoop()
	return m
}

// RenderOnly reports whether rawURL's host should skip the fast path.
func (m *HostMemory) RenderOnly(rawURL string) bool {
	host := hostOf(rawURL)
	if host == "" {
		return false
	}
	val, ok := m.store.Load(host)
	if !ok {
		return false
	}
	if m.now().After(val.(time.Time)) {
		m.store.Delete(host)
		return false
	}
	return true
}

// MarkRenderOnly records that the fast path yielded nothing for rawURL's host.
func (m *HostMemory) MarkRenderOnly(rawURL string) {
	if host := hostOf(rawURL); host != "" && m.ttl > 0 {
		m.store.Store(host, m.now().Add(m.ttl))
	}
}

// Forget clears the memory for rawURL's host, e.g. after the fast path works.
func (m *HostMemory) Forget(rawURL string) {
	m.store.Delete(hostOf(rawURL))
}

// Stop terminates the background cleanup goroutine.
func (m *HostMemory) Stop() {
	close(m.done)
}

func (m *HostMemory) cleanupLoop() {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			now := m.now()
			m.store.Range(func(key, value any) bool {
				if now.After(value.(time.Time)) {
					m.store.Delete(key)
				}
				return true
			})
		}
	}
}

func hostOf(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
