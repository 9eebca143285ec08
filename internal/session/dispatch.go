package session

import "sync"

// Dispatcher runs observer callbacks on the context that owns the UI. The
// session never assumes that context is the calling goroutine.
type Dispatcher interface {
	Dispatch(fn func())
}

// DispatchFunc adapts a function to Dispatcher.
type DispatchFunc func(fn func())

func (f DispatchFunc) Dispatch(fn func()) { f(fn) }

// Inline runs callbacks immediately on the goroutine that raised them, so
// they complete before the triggering call returns.
var Inline Dispatcher = DispatchFunc(func(fn func()) { fn() })

// SerialDispatcher runs callbacks one at a time, in order, on a single
// goroutine of its own, like a UI event loop.
type SerialDispatcher struct {
	queue chan func()
	once  sync.Once
	quit  chan struct{}
	done  chan struct{}
}

// NewSerialDispatcher starts the dispatch goroutine. size bounds the queue.
func NewSerialDispatcher(size int) *SerialDispatcher {
	d := &SerialDispatcher{
		queue: make(chan func(), size),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *SerialDispatcher) run() {
	defer close(d.done)
	for {
		select {
		case fn := <-d.queue:
			fn()
		case <-d.quit:
			for {
				select {
				case fn := <-d.queue:
					fn()
				default:
					return
				}
			}
		}
	}
}

// Dispatch queues fn. It blocks while the queue is full. After Close, fn
// is dropped.
func (d *SerialDispatcher) Dispatch(fn func()) {
	select {
	case <-d.quit:
		return
	default:
	}
	select {
	case d.queue <- fn:
	case <-d.quit:
	}
}

// Close runs what is already queued and waits for the last callback to
// finish. It is safe to call more than once.
func (d *SerialDispatcher) Close() {
	d.once.Do(func() { close(d.quit) })
	<-d.done
}
