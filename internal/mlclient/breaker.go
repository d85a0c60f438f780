package mlclient

import (
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/nuntius/internal/interfaces"
	"github.com/ternarybob/nuntius/internal/metrics"
	"github.com/ternarybob/nuntius/internal/models"
)

const (
	// minWindowSize keeps the rolling window large enough that a
	// couple of failures cannot trip the breaker.
	minWindowSize = 20

	DefaultWindowSize  = 20
	DefaultFailureRate = 0.5
	DefaultOpenWait    = 30 * time.Second
	DefaultMaxProbes   = 5
)

// Breaker is a rolling-window circuit breaker. Closed, it tracks the
// outcome of the last windowSize calls and opens when the failure
// rate reaches failureRate with a full window. Open, it short-circuits
// calls for openWait, then admits up to maxProbes half-open probes; a
// probe majority decides between closing and re-opening.
//
// Outcomes are recorded per client operation, after retries. Only
// transient failures count against the window; a 4xx response proves
// the service is up.
type Breaker struct {
	mu     sync.Mutex
	logger arbor.ILogger
	clock  func() time.Time

	windowSize  int
	failureRate float64
	openWait    time.Duration
	maxProbes   int

	state    interfaces.BreakerState
	outcomes []bool // ring buffer, true = failure
	head     int
	filled   int
	failures int

	openedAt       time.Time
	probesIssued   int
	probeSuccesses int
	probeFailures  int
}

// NewBreaker creates a circuit breaker. Zero or negative settings fall
// back to the defaults; the window never shrinks below minWindowSize.
func NewBreaker(windowSize int, failureRate float64, openWait time.Duration, maxProbes int, clock func() time.Time, logger arbor.ILogger) *Breaker {
	if windowSize < minWindowSize {
		windowSize = minWindowSize
	}
	if failureRate <= 0 || failureRate > 1 {
		failureRate = DefaultFailureRate
	}
	if openWait <= 0 {
		openWait = DefaultOpenWait
	}
	if maxProbes <= 0 {
		maxProbes = DefaultMaxProbes
	}
	if clock == nil {
		clock = time.Now
	}

	return &Breaker{
		logger:      logger,
		clock:       clock,
		windowSize:  windowSize,
		failureRate: failureRate,
		openWait:    openWait,
		maxProbes:   maxProbes,
		state:       interfaces.BreakerClosed,
		outcomes:    make([]bool, windowSize),
	}
}

// Allow reports whether a call may proceed. It returns
// models.ErrCircuitOpen while the breaker is open or while all
// half-open probe slots are taken. The open-to-half-open transition
// happens here, once the wait has elapsed.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == interfaces.BreakerClosed {
		return nil
	}

	if b.state == interfaces.BreakerOpen {
		if b.clock().Sub(b.openedAt) < b.openWait {
			return models.ErrCircuitOpen
		}
		b.state = interfaces.BreakerHalfOpen
		b.probesIssued = 0
		b.probeSuccesses = 0
		b.probeFailures = 0
		metrics.MLBreakerState.Set(metrics.BreakerHalfOpen)
		b.logger.Info().Msg("ML circuit breaker half-open, probing")
	}

	if b.probesIssued >= b.maxProbes {
		return models.ErrCircuitOpen
	}
	b.probesIssued++

	return nil
}

// Record feeds one call outcome into the breaker.
func (b *Breaker) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case interfaces.BreakerClosed:
		b.push(!success)
		if b.filled == b.windowSize && float64(b.failures) >= b.failureRate*float64(b.windowSize) {
			b.trip()
		}

	case interfaces.BreakerHalfOpen:
		if success {
			b.probeSuccesses++
		} else {
			b.probeFailures++
		}
		majority := b.maxProbes/2 + 1
		if b.probeSuccesses >= majority {
			b.close()
		} else if b.probeFailures >= majority {
			b.trip()
		}

	case interfaces.BreakerOpen:
		// A call admitted before the trip resolved late; the window
		// was already reset.
	}
}

// State returns the current breaker position. The open-to-half-open
// transition is driven by Allow, so a quiet breaker reports open even
// after the wait has elapsed.
func (b *Breaker) State() interfaces.BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) push(failure bool) {
	if b.filled == b.windowSize {
		if b.outcomes[b.head] {
			b.failures--
		}
	} else {
		b.filled++
	}
	b.outcomes[b.head] = failure
	if failure {
		b.failures++
	}
	b.head = (b.head + 1) % b.windowSize
}

func (b *Breaker) trip() {
	b.state = interfaces.BreakerOpen
	b.openedAt = b.clock()
	b.resetWindow()
	metrics.MLBreakerState.Set(metrics.BreakerOpen)
	b.logger.Warn().
		Int("window", b.windowSize).
		Dur("open_wait", b.openWait).
		Msg("ML circuit breaker opened")
}

func (b *Breaker) close() {
	b.state = interfaces.BreakerClosed
	b.resetWindow()
	metrics.MLBreakerState.Set(metrics.BreakerClosed)
	b.logger.Info().Msg("ML circuit breaker closed")
}

func (b *Breaker) resetWindow() {
	for i := range b.outcomes {
		b.outcomes[i] = false
	}
	b.head = 0
	b.filled = 0
	b.failures = 0
}
