// Package testhelpers provides helpers for testing.
package testhelpers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/skycoin/skydrone/pkg/channel"
)

// Timeout bounds every wait of the helpers.
const Timeout = 5 * time.Second

// WithinTimeout tries to read an error from error channel within timeout and returns it.
// If timeout exceeds, nil value is returned.
func WithinTimeout(ch <-chan error) error {
	select {
	case err := <-ch:
		return err
	case <-time.After(Timeout):
		return nil
	}
}

// NoErrorN performs require.NoError on multiple errors
func NoErrorN(t *testing.T, errs ...error) {
	for _, err := range errs {
		require.NoError(t, err)
	}
}

// Recv receives a value from rx, failing the test if nothing arrives within Timeout.
func Recv[T any](t *testing.T, rx *channel.Receiver[T]) T {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), Timeout)
	defer cancel()
	v, err := rx.Recv(ctx)
	require.NoError(t, err)
	return v
}

// RecvUntil receives values from rx until match returns true, failing the
// test if no matching value arrives within Timeout. Skipped values are
// returned along with the match.
func RecvUntil[T any](t *testing.T, rx *channel.Receiver[T], match func(T) bool) (T, []T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), Timeout)
	defer cancel()
	var skipped []T
	for {
		v, err := rx.Recv(ctx)
		require.NoError(t, err)
		if match(v) {
			return v, skipped
		}
		skipped = append(skipped, v)
	}
}

// NoRecv asserts nothing arrives on rx within d.
func NoRecv[T any](t *testing.T, rx *channel.Receiver[T], d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	v, err := rx.Recv(ctx)
	require.Equal(t, context.DeadlineExceeded, err, "unexpected value %v", v)
}

// Drain returns every value currently queued on rx.
func Drain[T any](rx *channel.Receiver[T]) []T {
	var out []T
	for {
		v, err := rx.TryRecv()
		if err != nil {
			return out
		}
		out = append(out, v)
	}
}
