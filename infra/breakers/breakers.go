package breakers

import (
    "time"
    cb "github.com/sony/gobreaker"
)

type Breaker struct{ cb *cb.CircuitBreaker }

func New(name string) *Breaker {
    st := cb.Settings{Name: name}
    st.Interval = 60 * time.Second
    st.Timeout = 60 * time.Second
    st.ReadyToTrip = func(counts cb.Counts) bool {
        if counts.ConsecutiveFailures >= 3 { return true }
        total := counts.Requests
        if total < 20 { return false }
        if float64(counts.TotalFailures)/float64(total) > 0.05 { return true }
        return false
    }
    return &Breaker{cb: cb.NewCircuitBreaker(st)}
}

func (b *Breaker) Execute(fn func() (any, error)) (any, error) { return b.cb.Execute(fn) }

// State reports the breaker's current state as a lowercase string so
// callers can surface it on a health endpoint without importing gobreaker.
func (b *Breaker) State() string {
	switch b.cb.State() {
	case cb.StateOpen:
		return "open"
	case cb.StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

