package stream

import (
	"math/rand"
	"sync"
	"time"
)

const backoffBase = 500 * time.Millisecond

// Backoff produces reconnect delays: doubling from half a second up to the
// fast cap for the first attempts, then up to the slow cap for a connection
// that keeps failing. Jitter spreads herds of clients reconnecting at once.
type Backoff struct {
	mu       sync.Mutex
	fastCap  time.Duration
	slowCap  time.Duration
	attempts int
	jitter   func(d time.Duration) time.Duration
}

func NewBackoff(fastCap, slowCap time.Duration) *Backoff {
	if fastCap <= 0 {
		fastCap = 8 * time.Second
	}
	if slowCap < fastCap {
		slowCap = fastCap
	}
	return &Backoff{
		fastCap: fastCap,
		slowCap: slowCap,
		jitter: func(d time.Duration) time.Duration {
			// +/- 20%
			spread := int64(d) / 5
			if spread <= 0 {
				return d
			}
			return d - time.Duration(spread/2) + time.Duration(rand.Int63n(spread))
		},
	}
}

// fastAttempts is how many failures stay under the fast cap before the
// slow-growing cap takes over.
const fastAttempts = 8

func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempts++

	delay := backoffBase
	for i := 1; i < b.attempts; i++ {
		delay *= 2
		if delay >= b.slowCap {
			delay = b.slowCap
			break
		}
	}
	cap := b.fastCap
	if b.attempts > fastAttempts {
		cap = b.slowCap
	}
	if delay > cap {
		delay = cap
	}
	return b.jitter(delay)
}

func (b *Backoff) Reset() {
	b.mu.Lock()
	b.attempts = 0
	b.mu.Unlock()
}

func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}
