// Package hub is the in-process publish/subscribe registry that pushes
// review status changes to live dashboard connections.
package hub

import (
	"errors"
	"log"
	"sync"
)

var (
	// ErrSinkClosed is returned by Send after the sink's connection ended.
	ErrSinkClosed = errors.New("hub: sink closed")
	// ErrSinkFull is returned by Send when the client is not keeping up.
	ErrSinkFull = errors.New("hub: sink buffer full")
)

// Sink pushes encoded frames to one connected client.
type Sink interface {
	ID() string
	Send(frame []byte) error
}

// Hub registers live sinks under subscription keys and fans broadcasts out
// to every sink whose key overlaps the broadcast scope.
type Hub interface {
	Subscribe(key Key, sink Sink)
	Unsubscribe(key Key, sink Sink)
	// Broadcast delivers evt and returns the number of sinks that accepted it.
	Broadcast(scope Key, evt Event) int
}

type entry struct {
	key   Key
	sinks map[string]Sink
}

// Memory is a Hub backed by a process-local map. The zero value is not
// usable; call NewMemory.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewMemory returns an empty in-process hub.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]*entry)}
}

// Subscribe registers sink under key. Several sinks may share one key.
func (m *Memory) Subscribe(key Key, sink Sink) {
	id := key.String()
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		e = &entry{key: key, sinks: make(map[string]Sink)}
		m.entries[id] = e
	}
	e.sinks[sink.ID()] = sink
}

// Unsubscribe removes sink from key, dropping the key when it was the last
// sink. Removing an unknown sink is a no-op.
func (m *Memory) Unsubscribe(key Key, sink Sink) {
	m.remove(key.String(), sink.ID())
}

func (m *Memory) remove(id, sinkID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return
	}
	delete(e.sinks, sinkID)
	if len(e.sinks) == 0 {
		delete(m.entries, id)
	}
}

type target struct {
	keyID string
	sink  Sink
}

// Broadcast sends evt to every sink whose key overlaps scope. Sinks that
// fail to accept the frame are unsubscribed.
func (m *Memory) Broadcast(scope Key, evt Event) int {
	frame, err := Encode(evt)
	if err != nil {
		log.Printf("hub: encode %s event: %v", evt.Type, err)
		return 0
	}
	return m.deliver(scope, frame)
}

func (m *Memory) deliver(scope Key, frame []byte) int {
	m.mu.RLock()
	var targets []target
	for id, e := range m.entries {
		if !e.key.Overlaps(scope) {
			continue
		}
		for _, s := range e.sinks {
			targets = append(targets, target{keyID: id, sink: s})
		}
	}
	m.mu.RUnlock()

	delivered := 0
	for _, t := range targets {
		if err := t.sink.Send(frame); err != nil {
			log.Printf("hub: drop sink %s on %s: %v", t.sink.ID(), t.keyID, err)
			m.remove(t.keyID, t.sink.ID())
			continue
		}
		delivered++
	}
	return delivered
}

// Len returns the number of registered keys.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// SinkCount returns the number of sinks registered under key.
func (m *Memory) SinkCount(key Key) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.entries[key.String()]; ok {
		return len(e.sinks)
	}
	return 0
}
