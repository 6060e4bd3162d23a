package messaging_test

import (
	"context"
	"errors"
	"testing"

	"github.com/serroba/purview/internal/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRunnable struct {
	startErr    error
	shutdownErr error
	started     bool
	stopped     bool
}

func (f *fakeRunnable) Start(context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}

	f.started = true

	return nil
}

func (f *fakeRunnable) Shutdown() error {
	f.stopped = true

	return f.shutdownErr
}

func TestConsumerGroup(t *testing.T) {
	t.Run("starts and stops every consumer", func(t *testing.T) {
		group := messaging.NewConsumerGroup(newStubSubscriber(), zap.NewNop())
		a, b := &fakeRunnable{}, &fakeRunnable{}
		group.Add(a)
		group.Add(b)

		require.NoError(t, group.Start(context.Background()))
		assert.True(t, a.started)
		assert.True(t, b.started)

		require.NoError(t, group.Shutdown())
		assert.True(t, a.stopped)
		assert.True(t, b.stopped)
	})

	t.Run("rolls back started consumers on failure", func(t *testing.T) {
		group := messaging.NewConsumerGroup(newStubSubscriber(), zap.NewNop())
		a := &fakeRunnable{}
		b := &fakeRunnable{startErr: errors.New("boom")}
		group.Add(a)
		group.Add(b)

		err := group.Start(context.Background())

		require.Error(t, err)
		assert.True(t, a.stopped)
	})

	t.Run("joins shutdown errors", func(t *testing.T) {
		group := messaging.NewConsumerGroup(newStubSubscriber(), zap.NewNop())
		errA := errors.New("a failed")
		errB := errors.New("b failed")
		group.Add(&fakeRunnable{shutdownErr: errA})
		group.Add(&fakeRunnable{shutdownErr: errB})

		err := group.Shutdown()

		require.ErrorIs(t, err, errA)
		assert.ErrorIs(t, err, errB)
	})
}
