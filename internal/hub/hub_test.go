package hub

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	id string
	mu sync.Mutex

	frames [][]byte
	err    error
}

func newRecordingSink(id string) *recordingSink { return &recordingSink{id: id} }

func (s *recordingSink) ID() string { return s.id }

func (s *recordingSink) Send(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.frames = append(s.frames, frame)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func (s *recordingSink) last() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return nil
	}
	return s.frames[len(s.frames)-1]
}

func mustKey(t *testing.T, s string) Key {
	t.Helper()
	k, err := ParseKey(s)
	require.NoError(t, err)
	return k
}

func decodeFrame(t *testing.T, frame []byte) map[string]any {
	t.Helper()
	s := string(frame)
	require.True(t, strings.HasPrefix(s, "data: "), "frame %q", s)
	require.True(t, strings.HasSuffix(s, "\n\n"), "frame %q", s)
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSuffix(strings.TrimPrefix(s, "data: "), "\n\n")), &out))
	return out
}

func TestMemory_SubscribeUnsubscribe(t *testing.T) {
	m := NewMemory()
	key := mustKey(t, "P:A:C1,C2")
	s1 := newRecordingSink("s1")
	s2 := newRecordingSink("s2")

	m.Subscribe(key, s1)
	m.Subscribe(key, s2)
	assert.Equal(t, 1, m.Len())
	assert.Equal(t, 2, m.SinkCount(key))

	m.Unsubscribe(key, s1)
	assert.Equal(t, 1, m.SinkCount(key))
	assert.Equal(t, 1, m.Len())

	m.Unsubscribe(key, s2)
	assert.Equal(t, 0, m.Len(), "key should be dropped with its last sink")

	// Unknown sink and key are no-ops.
	m.Unsubscribe(key, s2)
	m.Unsubscribe(mustKey(t, "other"), s1)
	assert.Equal(t, 0, m.Len())
}

func TestMemory_EquivalentKeysShareEntry(t *testing.T) {
	m := NewMemory()
	m.Subscribe(mustKey(t, "P:A:C2,C1"), newRecordingSink("s1"))
	m.Subscribe(mustKey(t, "P:A:C1,C2,C1"), newRecordingSink("s2"))
	assert.Equal(t, 1, m.Len())
	assert.Equal(t, 2, m.SinkCount(mustKey(t, "P:A:C1,C2")))
}

func TestMemory_BroadcastScoping(t *testing.T) {
	m := NewMemory()
	inScope := newRecordingSink("in")
	outOfScope := newRecordingSink("out")
	m.Subscribe(mustKey(t, "P:A:C1,C2"), inScope)
	m.Subscribe(mustKey(t, "P:B:C3"), outOfScope)

	n := m.Broadcast(mustKey(t, "P:A"), Update(map[string]any{"callLogId": "C1"}))

	assert.Equal(t, 1, n)
	assert.Equal(t, 1, inScope.count())
	assert.Equal(t, 0, outOfScope.count())

	got := decodeFrame(t, inScope.last())
	assert.Equal(t, TypeUpdate, got["type"])
	data, ok := got["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "C1", data["callLogId"])
}

func TestMemory_BroadcastAgentScope(t *testing.T) {
	m := NewMemory()
	a1 := newRecordingSink("a1")
	a2 := newRecordingSink("a2")
	m.Subscribe(NewKey("a1"), a1)
	m.Subscribe(NewKey("a2"), a2)

	assert.Equal(t, 1, m.Broadcast(NewKey("a1"), Update(nil)))
	assert.Equal(t, 1, a1.count())
	assert.Equal(t, 0, a2.count())
}

func TestMemory_BroadcastNoSubscribers(t *testing.T) {
	m := NewMemory()
	assert.Equal(t, 0, m.Broadcast(NewKey("nobody"), Update(nil)))
}

func TestMemory_DropsFailingSink(t *testing.T) {
	m := NewMemory()
	key := NewKey("a1")
	good := newRecordingSink("good")
	bad := newRecordingSink("bad")
	bad.err = ErrSinkClosed
	m.Subscribe(key, good)
	m.Subscribe(key, bad)

	n := m.Broadcast(key, Update(nil))

	assert.Equal(t, 1, n)
	assert.Equal(t, 1, m.SinkCount(key), "failing sink should be unsubscribed")

	// A later broadcast still reaches the healthy sink.
	assert.Equal(t, 1, m.Broadcast(key, Update(nil)))
	assert.Equal(t, 2, good.count())
}

func TestMemory_DropsLastSinkRemovesKey(t *testing.T) {
	m := NewMemory()
	bad := newRecordingSink("bad")
	bad.err = errors.New("write: broken pipe")
	m.Subscribe(NewKey("a1"), bad)

	assert.Equal(t, 0, m.Broadcast(NewKey("a1"), Update(nil)))
	assert.Equal(t, 0, m.Len())
}

func TestMemory_ConcurrentAccess(t *testing.T) {
	m := NewMemory()
	listener := newRecordingSink("listener")
	m.Subscribe(NewKey("a1"), listener)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			s := newRecordingSink(fmt.Sprintf("s%d", i))
			key := NewKey("a1").WithCalls(fmt.Sprintf("c%d", i))
			m.Subscribe(key, s)
			m.Unsubscribe(key, s)
		}(i)
		go func() {
			defer wg.Done()
			m.Broadcast(NewKey("a1"), Update(nil))
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, listener.count())
	assert.Equal(t, 1, m.Len())
}

func TestChanSink(t *testing.T) {
	s := NewChanSink(2)
	require.NotEmpty(t, s.ID())
	assert.NotEqual(t, s.ID(), NewChanSink(2).ID())

	require.NoError(t, s.Send([]byte("one")))
	require.NoError(t, s.Send([]byte("two")))
	assert.Equal(t, "one", string(<-s.Frames()))
	require.NoError(t, s.Send([]byte("three")))

	s.Close()
	s.Close()
	assert.ErrorIs(t, s.Send([]byte("four")), ErrSinkClosed)

	var drained []string
	for f := range s.Frames() {
		drained = append(drained, string(f))
	}
	assert.Equal(t, []string{"two", "three"}, drained)
}

func TestChanSink_FullClosesSink(t *testing.T) {
	s := NewChanSink(1)
	require.NoError(t, s.Send([]byte("one")))
	assert.ErrorIs(t, s.Send([]byte("two")), ErrSinkFull)
	assert.ErrorIs(t, s.Send([]byte("three")), ErrSinkClosed)

	var drained []string
	for f := range s.Frames() {
		drained = append(drained, string(f))
	}
	assert.Equal(t, []string{"one"}, drained)
}

func TestMemory_SlowChanSinkIsDropped(t *testing.T) {
	m := NewMemory()
	s := NewChanSink(1)
	m.Subscribe(NewKey("a1"), s)

	assert.Equal(t, 1, m.Broadcast(NewKey("a1"), Update(nil)))
	assert.Equal(t, 0, m.Broadcast(NewKey("a1"), Update(nil)))
	assert.Equal(t, 0, m.Len())
}

func TestNewChanSink_DefaultBuffer(t *testing.T) {
	s := NewChanSink(0)
	assert.Equal(t, DefaultSinkBuffer, cap(s.frames))
}

func TestEncode(t *testing.T) {
	frame, err := Encode(Connected(mustKey(t, "P:A:C2,C1")))
	require.NoError(t, err)
	assert.Equal(t, `data: {"type":"connected","subscriptionKey":"P:A:C1,C2"}`+"\n\n", string(frame))

	frame, err = Encode(Update(map[string]string{"status": "completed"}))
	require.NoError(t, err)
	assert.Equal(t, `data: {"type":"update","data":{"status":"completed"}}`+"\n\n", string(frame))

	_, err = Encode(Update(make(chan int)))
	assert.Error(t, err)
}

func TestKeepaliveFrame(t *testing.T) {
	assert.Equal(t, ": keepalive\n\n", string(KeepaliveFrame))
}

func TestMemory_CallOnlySubscriber(t *testing.T) {
	m := NewMemory()
	calls := newRecordingSink("calls")
	agent := newRecordingSink("agent")
	m.Subscribe(mustKey(t, "c1,c2"), calls)
	m.Subscribe(mustKey(t, "A"), agent)

	evt := Update(map[string]string{"callLogId": "c1"})
	assert.Equal(t, 1, m.Broadcast(NewKey("A"), evt))
	assert.Equal(t, 1, m.Broadcast(Key{Calls: []string{"c1"}}, evt))
	assert.Equal(t, 0, m.Broadcast(Key{Calls: []string{"c9"}}, evt))

	assert.Equal(t, 1, calls.count())
	assert.Equal(t, 1, agent.count())
}
