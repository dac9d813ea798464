package alert

import (
	"context"
	"log"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultPollInterval = 20 * time.Second
	defaultThrottle     = 1500 * time.Millisecond
)

// Worker drains the queue in the background, one send at a time, throttled
// so the modem is not flooded.
type Worker struct {
	queue     *Queue
	transport Transport
	poll      time.Duration
	limiter   *rate.Limiter
	// OnAttempt, when set, is called after every attempt.
	OnAttempt func(Attempt)
}

// NewWorker returns a Worker that checks the queue every poll interval when
// idle and waits at least throttle between sends.
func NewWorker(q *Queue, t Transport, poll, throttle time.Duration) *Worker {
	if poll <= 0 {
		poll = defaultPollInterval
	}
	if throttle <= 0 {
		throttle = defaultThrottle
	}
	return &Worker{
		queue:     q,
		transport: t,
		poll:      poll,
		limiter:   rate.NewLimiter(rate.Every(throttle), 1),
	}
}

// Drain sends until the queue has nothing claimable or ctx ends, returning
// the number of attempts made.
func (w *Worker) Drain(ctx context.Context) (int, error) {
	n := 0
	for {
		if err := w.limiter.Wait(ctx); err != nil {
			return n, nil
		}
		a, err := w.queue.DispatchNext(ctx, w.transport)
		if err != nil {
			return n, err
		}
		if a == nil {
			return n, nil
		}
		n++
		w.report(*a)
	}
}

func (w *Worker) report(a Attempt) {
	if a.Sent() {
		log.Printf("alert: sms %d sent to %s", a.Entry.ID, a.Entry.Phone)
	} else {
		log.Printf("alert: sms %d to %s failed (retry %d/%d, %s): %v",
			a.Entry.ID, a.Entry.Phone, a.Entry.RetryCount, w.queue.MaxRetries(), a.Entry.Status, a.Err)
	}
	if w.OnAttempt != nil {
		w.OnAttempt(a)
	}
}

// Run drains the queue, then sleeps for the poll interval, until ctx is
// cancelled.
func (w *Worker) Run(ctx context.Context) error {
	log.Printf("alert: worker started (poll=%s)", w.poll)
	for {
		if _, err := w.Drain(ctx); err != nil && ctx.Err() == nil {
			log.Printf("alert: dispatch: %v", err)
		}
		select {
		case <-ctx.Done():
			log.Printf("alert: worker stopped")
			return nil
		case <-time.After(w.poll):
		}
	}
}
