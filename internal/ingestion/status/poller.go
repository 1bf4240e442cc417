package status

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/labreport-backend/internal/pkg/httpx"
)

var ErrPollExhausted = errors.New("status polling gave up before the run finished")

const (
	DefaultPollInterval  = 3 * time.Second
	DefaultMaxIterations = 40
)

// Poller waits for a run to reach a terminal status the way upload clients do:
// a fixed interval with a bounded number of reads.
type Poller struct {
	src           Source
	interval      time.Duration
	maxInterval   time.Duration
	maxIterations int
	sleep         func(ctx context.Context, d time.Duration) error
}

type PollerOption func(*Poller)

func WithInterval(d time.Duration) PollerOption {
	return func(p *Poller) { p.interval = d }
}

func WithMaxIterations(n int) PollerOption {
	return func(p *Poller) { p.maxIterations = n }
}

// WithBackoff doubles the interval after each read, capped at max.
func WithBackoff(max time.Duration) PollerOption {
	return func(p *Poller) { p.maxInterval = max }
}

func NewPoller(src Source, opts ...PollerOption) *Poller {
	p := &Poller{
		src:           src,
		interval:      DefaultPollInterval,
		maxIterations: DefaultMaxIterations,
		sleep:         httpx.SleepContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.maxIterations < 1 {
		p.maxIterations = 1
	}
	return p
}

// WaitForTerminal polls until the run is completed or error. onChange, when
// set, sees each newly observed status once and in phase order: a read that
// would move the status backwards is ignored. After maxIterations reads
// without a terminal status it returns the last view with ErrPollExhausted.
func (p *Poller) WaitForTerminal(ctx context.Context, reportID, ownerID uuid.UUID, onChange func(View)) (*View, error) {
	var last *View
	for i := 1; i <= p.maxIterations; i++ {
		v, err := p.src.GetStatus(ctx, reportID, ownerID)
		if err != nil {
			return last, err
		}
		if last == nil || v.Status.Rank() > last.Status.Rank() {
			last = v
			if onChange != nil {
				onChange(*v)
			}
		}
		if last.Terminal() {
			return last, nil
		}
		if i == p.maxIterations {
			break
		}
		if err := p.sleep(ctx, p.delay(i)); err != nil {
			return last, err
		}
	}
	return last, ErrPollExhausted
}

func (p *Poller) delay(iteration int) time.Duration {
	if p.maxInterval <= 0 {
		return p.interval
	}
	return httpx.Backoff(p.interval, p.maxInterval, iteration)
}
