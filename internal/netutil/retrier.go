// Package netutil provides the retry policy endpoints use while waiting for
// network state such as discovered routes.
package netutil

import (
	"context"
	"errors"
	"time"

	"github.com/skycoin/skycoin/src/util/logging"
)

// ErrThresholdReached is returned when the retrier gives up.
var ErrThresholdReached = errors.New("threshold timeout has been reached")

// RetryFunc is the function retried by a Retrier.
type RetryFunc func() error

// Retrier calls a function with exponential backoff until it succeeds, returns
// a whitelisted error or the threshold passes.
type Retrier struct {
	log                *logging.Logger
	exponentialBackoff time.Duration
	exponentialFactor  uint32
	threshold          time.Duration
	errWhitelist       map[error]struct{}
}

// NewRetrier creates a Retrier. log may be nil.
func NewRetrier(log *logging.Logger, exponentialBackoff, threshold time.Duration, factor uint32) *Retrier {
	if log == nil {
		log = logging.MustGetLogger("retrier")
	}
	return &Retrier{
		log:                log,
		exponentialBackoff: exponentialBackoff,
		threshold:          threshold,
		exponentialFactor:  factor,
		errWhitelist:       make(map[error]struct{}),
	}
}

// WithErrWhitelist sets errors that stop the retries and are returned as is.
func (r *Retrier) WithErrWhitelist(errors ...error) *Retrier {
	m := make(map[error]struct{})
	for _, err := range errors {
		m[err] = struct{}{}
	}

	r.errWhitelist = m
	return r
}

// Do calls f until it succeeds. The first call happens immediately.
func (r Retrier) Do(ctx context.Context, f RetryFunc) error {
	threshold := time.NewTimer(r.threshold)
	defer threshold.Stop()

	currentBackoff := r.exponentialBackoff
	for {
		err := f()
		if err == nil {
			return nil
		}
		if r.isWhitelisted(err) {
			return err
		}
		r.log.WithError(err).Debugf("Retrying in %s", currentBackoff)

		backoff := time.NewTimer(currentBackoff)
		select {
		case <-ctx.Done():
			backoff.Stop()
			return ctx.Err()
		case <-threshold.C:
			backoff.Stop()
			return ErrThresholdReached
		case <-backoff.C:
		}
		if r.exponentialFactor > 1 {
			currentBackoff *= time.Duration(r.exponentialFactor)
		}
	}
}

func (r Retrier) isWhitelisted(err error) bool {
	_, ok := r.errWhitelist[err]
	return ok
}
