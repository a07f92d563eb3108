// Package admission gates submissions before they reach the orchestration
// loop: a per-client token bucket and a breaker on in-flight work.
package admission

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/itskum47/tierroute/control_plane/observability"
)

var (
	// ErrRejected is the parent of every admission refusal.
	ErrRejected = errors.New("submission rejected")

	ErrRateLimited = fmt.Errorf("%w: rate limited", ErrRejected)
	ErrCircuitOpen = fmt.Errorf("%w: circuit open", ErrRejected)
)

// Config sizes the controller.
type Config struct {
	MaxInFlight int     // concurrent submissions admitted before the breaker opens
	Rate        float64 // tokens per second per client
	Burst       int
}

// Controller is safe for concurrent use.
type Controller struct {
	breaker  *CircuitBreaker
	limiter  *TokenBucketLimiter
	inFlight atomic.Int64
}

func NewController(cfg Config) *Controller {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 256
	}
	if cfg.Rate <= 0 {
		cfg.Rate = 50
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 100
	}
	return &Controller{
		breaker: NewCircuitBreaker(cfg.MaxInFlight),
		limiter: NewTokenBucketLimiter(cfg.Rate, cfg.Burst),
	}
}

// Admit claims a slot for client. The returned release must be called exactly
// once with the outcome of the admitted work.
func (c *Controller) Admit(client string) (release func(success bool), retryAfter time.Duration, err error) {
	if ok, wait := c.limiter.Reserve(client); !ok {
		observability.AdmissionRejections.WithLabelValues("rate_limited").Inc()
		return nil, wait, ErrRateLimited
	}

	admitted := c.breaker.ShouldAdmit(int(c.inFlight.Load()))
	observability.CircuitState.Set(float64(c.breaker.GetState()))
	if !admitted {
		observability.AdmissionRejections.WithLabelValues("circuit_open").Inc()
		return nil, c.breaker.cooldownPeriod, ErrCircuitOpen
	}

	observability.InFlightOrchestrations.Set(float64(c.inFlight.Add(1)))

	var once atomic.Bool
	return func(success bool) {
		if !once.CompareAndSwap(false, true) {
			return
		}
		observability.InFlightOrchestrations.Set(float64(c.inFlight.Add(-1)))
		if success {
			c.breaker.RecordSuccess()
		} else {
			c.breaker.RecordFailure()
		}
		observability.CircuitState.Set(float64(c.breaker.GetState()))
	}, 0, nil
}

// InFlight returns the number of admitted, unreleased submissions.
func (c *Controller) InFlight() int {
	return int(c.inFlight.Load())
}

// State returns the breaker state.
func (c *Controller) State() CircuitState {
	return c.breaker.GetState()
}
