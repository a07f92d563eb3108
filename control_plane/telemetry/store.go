// Package telemetry tracks per-class in-flight work and synthesizes the load
// and network figures the router consumes.
package telemetry

import (
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/itskum47/tierroute/control_plane/observability"
	"github.com/itskum47/tierroute/control_plane/task"
)

// Config holds the load model constants.
type Config struct {
	Baseline             [task.NumClasses]float64
	InFlightWeight       [task.NumClasses]float64
	OscillationAmplitude float64
	OscillationPeriod    time.Duration
	Jitter               float64

	BaseNetworkLatency float64 // ms
	NetworkJitter      float64
	MinNetworkLatency  float64

	// DecayProbability is the chance that a feedback call decrements every
	// in-flight counter by one.
	DecayProbability float64

	NominalLatency [task.NumClasses]float64 // ms, reported in node status
	LatencyJitter  [task.NumClasses]float64
	CostPerTask    [task.NumClasses]float64
}

func DefaultConfig() Config {
	return Config{
		Baseline:             [task.NumClasses]float64{45, 55, 35},
		InFlightWeight:       [task.NumClasses]float64{2, 1.5, 3},
		OscillationAmplitude: 10,
		OscillationPeriod:    200 * time.Second,
		Jitter:               5,
		BaseNetworkLatency:   100,
		NetworkJitter:        20,
		MinNetworkLatency:    10,
		DecayProbability:     0.3,
		NominalLatency:       [task.NumClasses]float64{50, 250, 400},
		LatencyJitter:        [task.NumClasses]float64{20, 50, 100},
		CostPerTask:          [task.NumClasses]float64{0.01, 0.025, 0.05},
	}
}

// Random is a source of uniform floats in [0,1).
type Random interface {
	Float64() float64
}

type lockedRand struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rnd.Float64()
}

// NewRandom returns a goroutine-safe Random. A zero seed uses the clock.
func NewRandom(seed int64) Random {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &lockedRand{rnd: rand.New(rand.NewSource(seed))}
}

// Store is safe for concurrent use. Counters are atomics; readers never block
// writers.
type Store struct {
	cfg   Config
	rnd   Random
	start time.Time
	now   func() time.Time

	inFlight [task.NumClasses]atomic.Int64
	avgExec  [task.NumClasses]atomic.Uint64 // float64 bits, seconds
}

// NewStore creates a Store. A nil rnd falls back to a clock-seeded source.
func NewStore(cfg Config, rnd Random) *Store {
	if rnd == nil {
		rnd = NewRandom(0)
	}
	return &Store{
		cfg:   cfg,
		rnd:   rnd,
		start: time.Now(),
		now:   time.Now,
	}
}

// SetClock overrides the time source used for the load oscillation.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
	s.start = now()
}

// Snapshot returns a consistent read of loads, in-flight counts and network
// latency. Loads are always within [0,100].
func (s *Store) Snapshot() task.Snapshot {
	var snap task.Snapshot
	now := s.now()
	osc := s.oscillation(now)

	for _, c := range task.Classes {
		n := s.inFlight[c].Load()
		snap.InFlight[c] = n
		raw := s.cfg.Baseline[c] + osc + s.jitter(s.cfg.Jitter) + s.cfg.InFlightWeight[c]*float64(n)
		snap.Load[c] = clamp(raw, 0, 100)
	}

	latency := s.cfg.BaseNetworkLatency*(1+(snap.Load[task.Edge]+snap.Load[task.Cloud])/100) +
		s.jitter(s.cfg.NetworkJitter)
	snap.NetworkLatencyMs = math.Max(s.cfg.MinNetworkLatency, latency)
	snap.Timestamp = now

	for _, c := range task.Classes {
		observability.ClassLoad.WithLabelValues(c.String()).Set(snap.Load[c])
		observability.ClassInFlight.WithLabelValues(c.String()).Set(float64(snap.InFlight[c]))
	}
	observability.NetworkLatency.Set(snap.NetworkLatencyMs)

	return snap
}

// Feedback records that a task completed on class c. The in-flight counter
// for c is incremented and, with probability DecayProbability, every counter
// is decremented by one (floored at zero).
func (s *Store) Feedback(c task.Class, outcome task.Result) {
	if !c.Valid() {
		log.Error().Int("class", int(c)).Msg("telemetry feedback for unknown class ignored")
		return
	}

	s.inFlight[c].Add(1)

	if outcome.Succeeded() {
		s.observeExecution(c, outcome.ExecutionTime)
	}

	if s.rnd.Float64() < s.cfg.DecayProbability {
		for _, k := range task.Classes {
			decrementFloor(&s.inFlight[k])
		}
	}
}

// InFlight returns the current counter for c.
func (s *Store) InFlight(c task.Class) int64 {
	return s.inFlight[c].Load()
}

// AverageExecutionTime returns the smoothed successful execution time for c in
// seconds, or zero when nothing has been observed yet.
func (s *Store) AverageExecutionTime(c task.Class) float64 {
	return math.Float64frombits(s.avgExec[c].Load())
}

const ewmaAlpha = 0.2

func (s *Store) observeExecution(c task.Class, seconds float64) {
	for {
		old := s.avgExec[c].Load()
		prev := math.Float64frombits(old)
		next := seconds
		if old != 0 {
			next = prev + ewmaAlpha*(seconds-prev)
		}
		if s.avgExec[c].CompareAndSwap(old, math.Float64bits(next)) {
			return
		}
	}
}

// oscillation is a triangle wave in [0, amplitude].
func (s *Store) oscillation(now time.Time) float64 {
	half := s.cfg.OscillationPeriod.Seconds() / 2
	if half <= 0 {
		return 0
	}
	phase := math.Mod(now.Sub(s.start).Seconds()/half, 2)
	return s.cfg.OscillationAmplitude * math.Abs(phase-1)
}

func (s *Store) jitter(amount float64) float64 {
	if amount == 0 {
		return 0
	}
	return (2*s.rnd.Float64() - 1) * amount
}

func decrementFloor(v *atomic.Int64) {
	for {
		cur := v.Load()
		if cur <= 0 {
			return
		}
		if v.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
