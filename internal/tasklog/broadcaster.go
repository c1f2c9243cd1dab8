// Package tasklog keeps per-task output buffers and fans new chunks out to
// live subscribers.
package tasklog

import (
	"strings"
	"sync"
)

// Listener receives chunks appended to a task's buffer. It is called on the
// producer's goroutine and must not block.
type Listener func(chunk string)

// Broadcaster owns one append-only buffer per task. Buffers are only removed
// by Clear.
type Broadcaster struct {
	mu      sync.Mutex
	buffers map[string]*buffer
}

type buffer struct {
	// deliver serializes append+notify so every listener observes append order.
	deliver sync.Mutex

	mu     sync.Mutex
	chunks []string
	subs   map[int]*subscriber
	nextID int
}

type subscriber struct {
	fn      Listener
	onClear func()
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{buffers: make(map[string]*buffer)}
}

func (b *Broadcaster) buffer(taskID string, create bool) *buffer {
	b.mu.Lock()
	defer b.mu.Unlock()

	buf, ok := b.buffers[taskID]
	if !ok && create {
		buf = &buffer{subs: make(map[int]*subscriber)}
		b.buffers[taskID] = buf
	}
	return buf
}

// Append adds chunk to the task's buffer and notifies its subscribers.
func (b *Broadcaster) Append(taskID, chunk string) {
	if chunk == "" {
		return
	}
	buf := b.buffer(taskID, true)

	buf.deliver.Lock()
	defer buf.deliver.Unlock()

	buf.mu.Lock()
	buf.chunks = append(buf.chunks, chunk)
	listeners := make([]Listener, 0, len(buf.subs))
	for _, id := range buf.order() {
		listeners = append(listeners, buf.subs[id].fn)
	}
	buf.mu.Unlock()

	for _, fn := range listeners {
		fn(chunk)
	}
}

// order returns subscriber ids in registration order. Caller holds mu.
func (buf *buffer) order() []int {
	ids := make([]int, 0, len(buf.subs))
	for id := 0; id < buf.nextID; id++ {
		if _, ok := buf.subs[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// Get returns the full accumulated output for a task.
func (b *Broadcaster) Get(taskID string) string {
	buf := b.buffer(taskID, false)
	if buf == nil {
		return ""
	}
	buf.mu.Lock()
	defer buf.mu.Unlock()
	return strings.Join(buf.chunks, "")
}

// Has reports whether a buffer exists for the task.
func (b *Broadcaster) Has(taskID string) bool {
	return b.buffer(taskID, false) != nil
}

// Subscribe registers fn for chunks appended from now on. The returned
// function unsubscribes and is safe to call more than once.
func (b *Broadcaster) Subscribe(taskID string, fn Listener) func() {
	buf := b.buffer(taskID, true)
	buf.mu.Lock()
	defer buf.mu.Unlock()
	return buf.add(&subscriber{fn: fn})
}

// add registers s. Caller holds mu.
func (buf *buffer) add(s *subscriber) func() {
	id := buf.nextID
	buf.nextID++
	buf.subs[id] = s

	var once sync.Once
	return func() {
		once.Do(func() {
			buf.mu.Lock()
			defer buf.mu.Unlock()
			delete(buf.subs, id)
		})
	}
}

// Follow atomically snapshots the buffer and subscribes a bounded channel to
// subsequent chunks, so nothing is missed or repeated between the two.
// Chunks are dropped for this follower while its channel is full. The
// channel is closed by stop or when the buffer is cleared.
func (b *Broadcaster) Follow(taskID string, size int) (snapshot string, chunks <-chan string, stop func()) {
	buf := b.buffer(taskID, true)

	buf.deliver.Lock()
	defer buf.deliver.Unlock()

	ch := make(chan string, size)
	var (
		mu     sync.Mutex
		closed bool
	)
	closeCh := func() {
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			close(ch)
		}
	}

	buf.mu.Lock()
	snapshot = strings.Join(buf.chunks, "")
	unsubscribe := buf.add(&subscriber{
		fn: func(chunk string) {
			mu.Lock()
			defer mu.Unlock()
			if closed {
				return
			}
			select {
			case ch <- chunk:
			default:
			}
		},
		onClear: closeCh,
	})
	buf.mu.Unlock()

	return snapshot, ch, func() {
		unsubscribe()
		closeCh()
	}
}

// Clear drops the task's buffer and detaches its subscribers.
func (b *Broadcaster) Clear(taskID string) {
	b.mu.Lock()
	buf, ok := b.buffers[taskID]
	delete(b.buffers, taskID)
	b.mu.Unlock()
	if !ok {
		return
	}

	buf.mu.Lock()
	subs := buf.subs
	buf.subs = make(map[int]*subscriber)
	buf.chunks = nil
	buf.mu.Unlock()

	for _, s := range subs {
		if s.onClear != nil {
			s.onClear()
		}
	}
}
