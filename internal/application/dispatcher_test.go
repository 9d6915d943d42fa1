package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/contractorvault/internal/domain/model"
)

type mockNotifier struct {
	mu   sync.Mutex
	got  []model.Notification
	fail bool
}

func (m *mockNotifier) Notify(_ context.Context, n model.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.got = append(m.got, n)
	if m.fail {
		return errors.New("webhook down")
	}
	return nil
}

func (m *mockNotifier) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.got)
}

func TestDispatcher_PublishDropsWhenFull(t *testing.T) {
	d := NewDispatcher(&mockNotifier{}, 2, nil, zerolog.Nop())

	for i := 0; i < 5; i++ {
		d.Publish(model.Notification{Kind: model.NotifyAccessGranted})
	}
	assert.Len(t, d.queue, 2)
}

func TestDispatcher_DeliversUntilCanceled(t *testing.T) {
	n := &mockNotifier{}
	d := NewDispatcher(n, 8, nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		d.Start(ctx)
		close(done)
	}()

	d.Publish(model.Notification{Kind: model.NotifyAccessGranted})
	d.Publish(model.Notification{Kind: model.NotifyKillSwitch})
	require.Eventually(t, func() bool { return n.count() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

func TestDispatcher_DrainsOnShutdown(t *testing.T) {
	n := &mockNotifier{}
	d := NewDispatcher(n, 8, nil, zerolog.Nop())
	for i := 0; i < 3; i++ {
		d.Publish(model.Notification{Kind: model.NotifyAccessRevoked})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Start(ctx)

	assert.Equal(t, 3, n.count())
	assert.Empty(t, d.queue)
}

func TestDispatcher_DeliveryFailureDoesNotStopLoop(t *testing.T) {
	n := &mockNotifier{fail: true}
	d := NewDispatcher(n, 8, nil, zerolog.Nop())
	d.Publish(model.Notification{Kind: model.NotifySecurityAlert})
	d.Publish(model.Notification{Kind: model.NotifySecurityAlert})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Start(ctx)

	assert.Equal(t, 2, n.count())
}
