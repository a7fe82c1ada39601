// Package resultpusher runs the Manager's second goroutine: it drains
// a channel of completed task results fed by the dispatch loop and
// flushes them to the Interchange in batches, either once a batch
// reaches maxBatch or once the push poll period elapses since the last
// flush, whichever comes first. This is the only other goroutine
// besides the dispatcher, and the channel between them is the sole
// point of contact — no shared mutable state, no mutex.
package resultpusher

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/fluxgrid/tmgr/internal/metrics"
	"github.com/fluxgrid/tmgr/internal/wire"
)

// minPushPollPeriod is the floor on the flush timer, matching the
// source's push_poll_period = max(10, poll_period_ms) clamp — a poll
// period configured smaller than 10ms would otherwise busy-loop the
// flush timer for no benefit.
const minPushPollPeriod = 10 * time.Millisecond

// PushPollPeriod derives the flush interval from the dispatch loop's
// poll period.
func PushPollPeriod(pollPeriod time.Duration) time.Duration {
	if pollPeriod < minPushPollPeriod {
		return minPushPollPeriod
	}
	return pollPeriod
}

// defaultMaxBatch bounds how many results accumulate before a flush is
// forced regardless of the timer, so a burst of completions doesn't
// grow the outbound batch without limit.
const defaultMaxBatch = 256

// Pusher batches opaque result payloads and forwards them to a
// wire.ResultLink.
type Pusher struct {
	link     *wire.ResultLink
	log      zerolog.Logger
	metrics  *metrics.Registry
	period   time.Duration
	maxBatch int

	in     chan []byte
	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a Pusher. Call Run in its own goroutine and Push from the
// dispatch loop whenever a worker returns a TASK_RET payload.
func New(link *wire.ResultLink, pollPeriod time.Duration, m *metrics.Registry, logger zerolog.Logger) *Pusher {
	return &Pusher{
		link:     link,
		log:      logger.With().Str("component", "resultpusher").Logger(),
		metrics:  m,
		period:   PushPollPeriod(pollPeriod),
		maxBatch: defaultMaxBatch,
		in:       make(chan []byte, 1024),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Push enqueues one result payload. Safe to call concurrently with Run
// from the dispatch loop's goroutine.
func (p *Pusher) Push(payload []byte) {
	select {
	case p.in <- payload:
	case <-p.stopCh:
		// Dropped: a STOP was already requested, matching spec.md §8
		// scenario 6 — un-sent frames are dropped rather than queued
		// past shutdown.
	}
}

// Run drains the pending-result channel until Stop is called, flushing
// on batch size or timer, whichever happens first. It returns when the
// final flush after Stop completes.
func (p *Pusher) Run() {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.period)
	defer ticker.Stop()

	var batch [][]byte
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := p.link.SendBatch(batch); err != nil {
			p.log.Warn().Err(err).Int("batch_size", len(batch)).Msg("result batch send failed")
		} else if p.metrics != nil {
			for range batch {
				p.metrics.ResultsPushedTotal.Inc()
			}
		}
		batch = batch[:0]
	}

	for {
		select {
		case payload := <-p.in:
			batch = append(batch, payload)
			if len(batch) >= p.maxBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-p.stopCh:
			// Drain whatever is already buffered in the channel before
			// the final flush, but don't block waiting for more.
			for {
				select {
				case payload := <-p.in:
					batch = append(batch, payload)
				default:
					flush()
					return
				}
			}
		}
	}
}

// Stop requests shutdown and blocks until the final flush completes.
func (p *Pusher) Stop() {
	close(p.stopCh)
	<-p.doneCh
}
