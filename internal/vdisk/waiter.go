package vdisk

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultPollInterval is the delay between two progress queries.
const DefaultPollInterval = 1000 * time.Millisecond

// WaitState is the state of a Waiter.
type WaitState int

const (
	WaitPending WaitState = iota
	WaitSucceeded
	WaitFailed
)

func (s WaitState) String() string {
	switch s {
	case WaitPending:
		return "Pending"
	case WaitSucceeded:
		return "Succeeded"
	case WaitFailed:
		return "Failed"
	default:
		return fmt.Sprintf("WaitState(%d)", int(s))
	}
}

// Predicate decides whether an operation is complete given the reported
// status (StatusIOPending or StatusSuccess) and progress.
type Predicate func(status Status, progress Progress) bool

// ProgressFunc observes every progress snapshot a Waiter reads.
type ProgressFunc func(op string, progress Progress)

// Waiter blocks until a host-reported asynchronous operation satisfies a
// Predicate. There is no upper bound on the number of polls.
type Waiter struct {
	platform   Platform
	interval   time.Duration
	log        *logrus.Entry
	onProgress ProgressFunc
	state      WaitState
}

// NewWaiter creates a Waiter polling every interval.
// A non-positive interval selects DefaultPollInterval.
func NewWaiter(platform Platform, interval time.Duration, log *logrus.Entry) *Waiter {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Waiter{
		platform: platform,
		interval: interval,
		log:      log,
		state:    WaitPending,
	}
}

// State returns the state reached by the last Wait.
func (w *Waiter) State() WaitState {
	return w.state
}

// Interval returns the poll interval.
func (w *Waiter) Interval() time.Duration {
	return w.interval
}

// Wait polls the progress of operation on h until pred returns true.
//
// It fails immediately with a *PlatformError when the progress query itself
// fails or when the operation reports a status other than StatusIOPending or
// StatusSuccess. The loop is never bounded by the Waiter; ctx is only
// checked between polls so that a caller can abandon the wait.
func (w *Waiter) Wait(ctx context.Context, op string, h Handle, operation Operation, pred Predicate) error {
	w.state = WaitPending

	var progress Progress
	for poll := 1; ; poll++ {
		progress = Progress{}
		if st := w.platform.GetOperationProgress(h, operation, &progress); st != StatusSuccess {
			w.state = WaitFailed
			return platformError("GetVirtualDiskOperationProgress", "", st)
		}

		status := progress.OperationStatus
		if status != StatusIOPending && status != StatusSuccess {
			w.state = WaitFailed
			return platformError(op, "", status)
		}

		w.log.WithFields(logrus.Fields{
			"op":         op,
			"poll":       poll,
			"status":     uint32(status),
			"current":    progress.CurrentValue,
			"completion": progress.CompletionValue,
		}).Debug("Polled operation progress")

		if w.onProgress != nil {
			w.onProgress(op, progress)
		}

		if pred(status, progress) {
			w.state = WaitSucceeded
			return nil
		}

		if err := sleepContext(ctx, w.interval); err != nil {
			w.state = WaitFailed
			return fmt.Errorf("%s: wait abandoned after %d polls: %w", op, poll, err)
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// MirrorSteadyState is the predicate of the mirror phase: the mirror is
// still running but every block has been copied.
func MirrorSteadyState(status Status, progress Progress) bool {
	return status == StatusIOPending && progress.CurrentValue == progress.CompletionValue
}

// Completed is satisfied once the operation reports success.
func Completed(status Status, _ Progress) bool {
	return status == StatusSuccess
}
