// Package dispatch provides the serial coordination context that owns all
// playback state. Work that blocks (network, decode) runs through Go and
// posts its result back with Post.
package dispatch

import "sync"

// Executor serializes state mutation.
type Executor interface {
	// Post queues fn to run on the coordination context. It never blocks.
	Post(fn func())
	// Go runs blocking work off the coordination context.
	Go(fn func())
	// Do runs fn on the coordination context and waits for it to return.
	// It must not be called from code already running on a Loop.
	Do(fn func())
}

// Loop is an Executor backed by a single goroutine draining an unbounded queue.
type Loop struct {
	mu     sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func NewLoop() *Loop {
	l := &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			closed := l.closed
			l.mu.Unlock()
			if closed {
				return
			}
			<-l.wake
			continue
		}
		fn := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()
		fn()
	}
}

func (l *Loop) enqueue(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

func (l *Loop) Post(fn func()) {
	l.enqueue(fn)
}

func (l *Loop) Go(fn func()) {
	go fn()
}

// Do returns without running fn once the loop is closed.
func (l *Loop) Do(fn func()) {
	done := make(chan struct{})
	if !l.enqueue(func() {
		defer close(done)
		fn()
	}) {
		return
	}
	<-done
}

// Close stops accepting work, drains what is queued and waits for the loop to exit.
func (l *Loop) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		<-l.done
		return
	}
	l.closed = true
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
	<-l.done
}

// Inline is a synchronous Executor. Post runs fn immediately unless another
// function is already running, in which case fn is queued behind it. Go runs
// fn in place. It is meant for tests and offline use where determinism
// matters more than responsiveness.
type Inline struct {
	mu      sync.Mutex
	queue   []func()
	running bool
}

func (e *Inline) Post(fn func()) {
	e.mu.Lock()
	e.queue = append(e.queue, fn)
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.mu.Unlock()
	e.drain()
}

func (e *Inline) drain() {
	for {
		e.mu.Lock()
		if len(e.queue) == 0 {
			e.running = false
			e.mu.Unlock()
			return
		}
		fn := e.queue[0]
		e.queue[0] = nil
		e.queue = e.queue[1:]
		e.mu.Unlock()
		fn()
	}
}

func (e *Inline) Go(fn func()) { fn() }

func (e *Inline) Do(fn func()) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		fn()
		return
	}
	e.mu.Unlock()
	e.Post(fn)
}
