package webnav

import (
	"sync"
	"time"

	"github.com/ashita-ai/saitei/internal/model"
)

// DomainLimiter enforces per-domain request budgets with exponential backoff.
// A domain inside its budget is Ok; one over budget is Throttled and each
// further violation grows the backoff by the multiplier up to the cap; a
// domain still being hit during backoff is Blocked until the backoff elapses.
type DomainLimiter struct {
	requestsPerMin int
	backoffInitial time.Duration
	backoffMax     time.Duration
	backoffMult    float64

	mu      sync.Mutex
	domains map[string]*domainState

	// now is swappable for tests.
	now func() time.Time
}

type domainState struct {
	count       int
	windowReset time.Time
	backoff     time.Duration
	blockedTill time.Time
	lastRequest time.Time
}

// NewDomainLimiter creates the limiter with the configured budget and
// backoff schedule.
func NewDomainLimiter(requestsPerMin int, backoffInitial, backoffMax time.Duration, backoffMult float64) *DomainLimiter {
	return &DomainLimiter{
		requestsPerMin: requestsPerMin,
		backoffInitial: backoffInitial,
		backoffMax:     backoffMax,
		backoffMult:    backoffMult,
		domains:        make(map[string]*domainState),
		now:            time.Now,
	}
}

// Check records an intended request against domain and returns the decision.
func (l *DomainLimiter) Check(domain string) model.DomainStatus {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.domains[domain]
	if !ok {
		s = &domainState{windowReset: now.Add(time.Minute)}
		l.domains[domain] = s
	}

	if now.Before(s.blockedTill) {
		return model.DomainBlocked
	}

	if now.After(s.windowReset) {
		s.count = 0
		s.windowReset = now.Add(time.Minute)
		s.backoff = 0
	}

	s.count++
	s.lastRequest = now

	if s.count > l.requestsPerMin {
		if s.backoff == 0 {
			s.backoff = l.backoffInitial
		} else {
			next := time.Duration(float64(s.backoff) * l.backoffMult)
			if next > l.backoffMax {
				next = l.backoffMax
			}
			s.backoff = next
		}
		s.blockedTill = now.Add(s.backoff)
		return model.DomainThrottled
	}

	return model.DomainOk
}

// State snapshots one domain's limiter state.
func (l *DomainLimiter) State(domain string) (model.DomainRateLimit, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.domains[domain]
	if !ok {
		return model.DomainRateLimit{}, false
	}

	status := model.DomainOk
	now := l.now()
	switch {
	case now.Before(s.blockedTill):
		status = model.DomainBlocked
	case s.backoff > 0:
		status = model.DomainThrottled
	}

	return model.DomainRateLimit{
		Domain:         domain,
		Status:         status,
		RequestCount:   s.count,
		WindowResetAt:  s.windowReset,
		CurrentBackoff: s.backoff,
		LastRequestAt:  s.lastRequest,
	}, true
}

// Penalize blocks a domain after the server reported throttling (429).
// A zero wait falls back to the initial backoff; waits are capped at the
// configured maximum.
func (l *DomainLimiter) Penalize(domain string, wait time.Duration) {
	if wait <= 0 {
		wait = l.backoffInitial
	}
	if wait > l.backoffMax {
		wait = l.backoffMax
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.domains[domain]
	if !ok {
		s = &domainState{windowReset: now.Add(time.Minute)}
		l.domains[domain] = s
	}
	if wait > s.backoff {
		s.backoff = wait
	}
	s.blockedTill = now.Add(wait)
}

// Reset clears one domain's state, e.g. after an operator unblock.
func (l *DomainLimiter) Reset(domain string) {
	l.mu.Lock()
	delete(l.domains, domain)
	l.mu.Unlock()
}

// Tracked reports the number of domains holding limiter state.
func (l *DomainLimiter) Tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.domains)
}
