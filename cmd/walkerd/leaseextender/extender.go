// Package leaseextender keeps a pubsub message leased while walkerd works
// through an alignment run. A run that waits out a beam drop can outlive
// the subscription ack deadline, and once that passes the request is
// redelivered and a second worker starts steering the same mirrors.
// Extending the lease on a ticker removes that window.
package leaseextender

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"gocloud.dev/pubsub"
	"gocloud.dev/pubsub/gcppubsub"

	"github.com/photoncontrols/skywalker/internal/featureflags"
)

const (
	defaultGracePeriod = 60 * time.Second
	defaultDeadline    = 300 * time.Second
)

var ErrInvalidGracePeriod = errors.New("invalid grace period")

type driver interface {
	// ExtendMessageDeadline asks the pubsub service to move the ack
	// deadline for msg out to deadline from now.
	ExtendMessageDeadline(ctx context.Context, msg *pubsub.Message, deadline time.Duration) error

	// GetSubscriptionDeadline reports the subscription's configured ack
	// deadline, which is the extension period by default.
	GetSubscriptionDeadline(ctx context.Context) (time.Duration, error)
}

// Extender extends message leases for one subscription.
type Extender struct {
	driver      driver
	Deadline    time.Duration
	GracePeriod time.Duration
}

func getDriver(u *url.URL, sub *pubsub.Subscription) (driver, error) {
	if !featureflags.LeaseExtender.Enabled() {
		return &noopDriver{}, nil
	}

	switch u.Scheme {
	case gcppubsub.Scheme:
		return newGCPDriver(u, sub)
	default:
		// Transports without a deadline extension API redeliver on their
		// own terms.
		return &noopDriver{}, nil
	}
}

// New builds an Extender for the subscription at subURL. The extension
// deadline starts at the subscription's own ack deadline when the driver
// can read it.
func New(ctx context.Context, subURL string, sub *pubsub.Subscription) (*Extender, error) {
	u, err := url.Parse(subURL)
	if err != nil {
		return nil, err
	}

	d, err := getDriver(u, sub)
	if err != nil {
		return nil, err
	}

	deadline, err := d.GetSubscriptionDeadline(ctx)
	if err != nil {
		return nil, err
	}
	if deadline == 0 {
		deadline = defaultDeadline
	}

	return &Extender{
		driver:      d,
		Deadline:    deadline,
		GracePeriod: defaultGracePeriod,
	}, nil
}

// Lease is the extension loop for one message.
type Lease struct {
	ticker   *time.Ticker
	msg      *pubsub.Message
	done     chan bool
	exited   chan error
	callback func()
	running  bool
}

// Start begins extending msg's deadline every Deadline minus GracePeriod.
// callback, when non-nil, runs after each successful extension.
func (e *Extender) Start(ctx context.Context, msg *pubsub.Message, callback func()) (*Lease, error) {
	freq := e.Deadline - e.GracePeriod
	if freq <= 0 {
		return nil, fmt.Errorf("%w: deadline %v leaves nothing after grace period %v",
			ErrInvalidGracePeriod, e.Deadline, e.GracePeriod)
	}

	l := &Lease{
		ticker:   time.NewTicker(freq),
		msg:      msg,
		done:     make(chan bool),
		exited:   make(chan error),
		callback: callback,
		running:  true,
	}

	go func() {
		var err error
		for {
			select {
			case <-l.done:
				l.ticker.Stop()
				l.exited <- err
				return
			case <-l.ticker.C:
				err = e.driver.ExtendMessageDeadline(ctx, l.msg, e.Deadline)
				if err != nil {
					// Stop ticking and hold the error until Stop collects
					// it; retrying a failed extension would just fail again
					// against an already expired lease.
					l.ticker.Stop()
				} else if l.callback != nil {
					l.callback()
				}
			}
		}
	}()
	return l, nil
}

// IsRunning reports whether Stop has been called yet.
func (l *Lease) IsRunning() bool {
	return l.running
}

// Stop ends the extension loop and returns the first extension error, if
// any. Calling Stop again does nothing.
func (l *Lease) Stop() error {
	if l.running {
		l.done <- true
		err := <-l.exited
		l.running = false
		return err
	}
	return nil
}
