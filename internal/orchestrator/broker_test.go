package orchestrator

import (
	"testing"
	"time"

	"github.com/CZERTAINLY/Trainer/internal/model"

	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan model.Event) model.Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return model.Event{}
	}
}

func TestBroker(t *testing.T) {
	t.Parallel()
	b := newBroker()

	fast, unsubFast := b.Subscribe()
	slow, unsubSlow := b.Subscribe()
	defer unsubSlow()

	for range 100 {
		b.Publish(model.Event{Kind: model.EventLog})
	}
	for i := range 100 {
		e := receive(t, fast)
		require.Equal(t, uint64(i+1), e.Seq)
		require.False(t, e.Time.IsZero())
	}

	unsubFast()
	unsubFast()
	_, ok := <-fast
	require.False(t, ok)

	b.Publish(model.Event{Kind: model.EventSummary})
	b.Close()
	b.Close()

	for i := range 101 {
		require.Equal(t, uint64(i+1), receive(t, slow).Seq)
	}
	_, ok = <-slow
	require.False(t, ok)

	late, unsubLate := b.Subscribe()
	defer unsubLate()
	_, ok = <-late
	require.False(t, ok)
	require.Equal(t, uint64(102), b.Publish(model.Event{}).Seq)
}
