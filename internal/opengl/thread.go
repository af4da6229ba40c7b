package opengl

import (
	"runtime"
	"sync"
)

// funcRun is a function to run on the GL thread and where its result goes.
type funcRun struct {
	f    func() error
	done chan error
}

// thread serializes functions onto one goroutine locked to its OS thread.
type thread struct {
	queue chan funcRun
	quit  chan struct{}
	done  chan struct{}
	once  sync.Once
}

// startThread starts the loop and runs init on it. If init fails the loop
// exits and the error is returned.
func startThread(init func() error) (*thread, error) {
	t := &thread{
		queue: make(chan funcRun),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	started := make(chan error, 1)
	go t.loop(init, started)
	if err := <-started; err != nil {
		return nil, err
	}
	return t, nil
}

func (t *thread) loop(init func() error, started chan<- error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(t.done)

	if err := init(); err != nil {
		started <- err
		return
	}
	started <- nil

	for {
		select {
		case <-t.quit:
			return
		case fr := <-t.queue:
			fr.done <- fr.f()
		}
	}
}

// run executes f on the thread and returns its error.
func (t *thread) run(f func() error) error {
	fr := funcRun{f: f, done: make(chan error, 1)}
	select {
	case t.queue <- fr:
	case <-t.done:
		return ErrClosed
	}
	return <-fr.done
}

// stop runs fini on the thread, then ends the loop. Later calls to run
// return ErrClosed.
func (t *thread) stop(fini func()) {
	t.once.Do(func() {
		_ = t.run(func() error {
			fini()
			return nil
		})
		close(t.quit)
		<-t.done
	})
}
