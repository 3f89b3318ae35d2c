package insert

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// AdmissionMode selects how inserts wait while the buffer budget is exceeded.
type AdmissionMode int

const (
	// AdmissionPoll re-checks the total footprint on a fixed interval.
	// An over-budget insert waits until some other caller flushes or drops.
	AdmissionPoll AdmissionMode = iota

	// AdmissionNotify parks waiters until a flush or drop releases memory.
	// Observable behavior matches AdmissionPoll without the periodic wakeups.
	AdmissionNotify
)

// String returns the configuration name of the mode.
func (m AdmissionMode) String() string {
	switch m {
	case AdmissionPoll:
		return "poll"
	case AdmissionNotify:
		return "notify"
	default:
		return fmt.Sprintf("AdmissionMode(%d)", int(m))
	}
}

// ParseAdmissionMode parses a mode name as used in configuration files.
func ParseAdmissionMode(s string) (AdmissionMode, error) {
	switch s {
	case "", "poll":
		return AdmissionPoll, nil
	case "notify":
		return AdmissionNotify, nil
	default:
		return 0, fmt.Errorf("unknown admission mode %q", s)
	}
}

// admitter blocks inserts while the manager is over budget.
type admitter interface {
	// wait returns once over reports false or ctx is done.
	wait(ctx context.Context, over func() bool) error
	// released is called after memory has been released.
	released()
}

func newAdmitter(mode AdmissionMode, interval time.Duration) admitter {
	if mode == AdmissionNotify {
		return &notifyAdmitter{ch: make(chan struct{})}
	}
	return &pollAdmitter{interval: interval}
}

type pollAdmitter struct {
	interval time.Duration
}

func (p *pollAdmitter) wait(ctx context.Context, over func() bool) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for over() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func (p *pollAdmitter) released() {}

// notifyAdmitter broadcasts releases by closing and replacing a channel.
type notifyAdmitter struct {
	mu sync.Mutex
	ch chan struct{}
}

func (n *notifyAdmitter) wait(ctx context.Context, over func() bool) error {
	for {
		// Grab the channel before checking so a release in between is not lost.
		n.mu.Lock()
		ch := n.ch
		n.mu.Unlock()

		if !over() {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

func (n *notifyAdmitter) released() {
	n.mu.Lock()
	close(n.ch)
	n.ch = make(chan struct{})
	n.mu.Unlock()
}
