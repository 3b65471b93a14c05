package async

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSafeGo_RunsFunction(t *testing.T) {
	done := make(chan struct{})
	SafeGo(context.Background(), time.Second, "test-task", func(ctx context.Context) error {
		close(done)
		return nil
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not run")
	}
}

func TestSafeGo_RecoversPanic(t *testing.T) {
	done := make(chan struct{})
	SafeGo(context.Background(), time.Second, "panicking-task", func(ctx context.Context) error {
		defer close(done)
		panic("boom")
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not run")
	}
	// No crash means the panic was recovered.
}

func TestSafeGo_TimeoutCancelsContext(t *testing.T) {
	errCh := make(chan error, 1)
	SafeGo(context.Background(), 10*time.Millisecond, "slow-task", func(ctx context.Context) error {
		<-ctx.Done()
		errCh <- ctx.Err()
		return nil
	})

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(time.Second):
		t.Fatal("context never cancelled")
	}
}
