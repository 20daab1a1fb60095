package relay

import "sync"

const maxStreamClients = 32

const (
	maxBodyBytesSmall   int64 = 64 << 10
	maxBodyBytesMessage int64 = 16 << 20
)

// streamLimiter caps concurrent SSE and websocket clients so a
// misbehaving panel cannot exhaust the process.
type streamLimiter struct {
	mu   sync.Mutex
	max  int
	open int
}

func newStreamLimiter(max int) *streamLimiter {
	return &streamLimiter{max: max}
}

func (l *streamLimiter) acquire() bool {
	if l == nil || l.max <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.open >= l.max {
		return false
	}
	l.open++
	return true
}

func (l *streamLimiter) release() {
	if l == nil || l.max <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.open > 0 {
		l.open--
	}
}
