package realtime

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSubscriber struct {
	id     string
	full   bool
	mu     sync.Mutex
	msgs   [][]byte
	closed bool
}

func (f *fakeSubscriber) ID() string { return f.id }

func (f *fakeSubscriber) Send(msg []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full {
		return false
	}
	f.msgs = append(f.msgs, msg)
	return true
}

func (f *fakeSubscriber) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeSubscriber) events(t *testing.T) []string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.msgs))
	for _, m := range f.msgs {
		var ev Event
		require.NoError(t, json.Unmarshal(m, &ev))
		out = append(out, ev.Name)
	}
	return out
}

func TestBroadcastDeduplicatesAcrossRooms(t *testing.T) {
	hub := NewHub()
	a := &fakeSubscriber{id: "a"}
	b := &fakeSubscriber{id: "b"}
	hub.Join("table:1", a)
	hub.Join("order:9", a)
	hub.Join("order:9", b)

	ev, err := NewEvent("order:statusUpdate", map[string]string{"status": "ready"})
	require.NoError(t, err)
	delivered := hub.Broadcast(ev, "table:1", "order:9", "r1:waiter")

	assert.Equal(t, 2, delivered)
	assert.Equal(t, []string{"order:statusUpdate"}, a.events(t))
	assert.Equal(t, []string{"order:statusUpdate"}, b.events(t))
}

func TestLeaveAndDisconnect(t *testing.T) {
	hub := NewHub()
	a := &fakeSubscriber{id: "a"}
	sub := hub.Join("order:1", a)
	hub.Join("table:1", a)
	assert.ElementsMatch(t, []string{"order:1", "table:1"}, hub.RoomsOf(a))

	sub.Leave()
	sub.Leave()
	assert.Equal(t, 0, hub.RoomSize("order:1"))
	assert.Equal(t, 1, hub.RoomSize("table:1"))

	hub.Disconnect(a)
	assert.Empty(t, hub.RoomsOf(a))
	assert.Equal(t, 0, hub.RoomSize("table:1"))
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	hub := NewHub()
	slow := &fakeSubscriber{id: "slow", full: true}
	fast := &fakeSubscriber{id: "fast"}
	hub.Join("r1:waiter", slow)
	hub.Join("r1:waiter", fast)

	ev, err := NewEvent("order:new", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, hub.Broadcast(ev, "r1:waiter"))
	assert.True(t, slow.closed)
	assert.Equal(t, 1, hub.RoomSize("r1:waiter"))
}

func TestConcurrentJoinAndBroadcast(t *testing.T) {
	hub := NewHub()
	ev, err := NewEvent("order:new", nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		sub := &fakeSubscriber{id: string(rune('A' + i))}
		go func() {
			defer wg.Done()
			hub.Join("r1:waiter", sub)
		}()
		go func() {
			defer wg.Done()
			hub.Broadcast(ev, "r1:waiter")
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, hub.RoomSize("r1:waiter"))

	hub.Close()
	assert.Equal(t, 0, hub.RoomSize("r1:waiter"))
}
