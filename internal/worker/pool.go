package worker

import "sync"

// Pool is a counting semaphore bounding how many heavy processing calls run
// at once across all partition claims. Decoding and re-encoding images is
// memory-hungry, so the cap protects the worker process from its own intake.
type Pool struct {
	slots chan struct{}
	wg    sync.WaitGroup
}

// NewPool creates a pool with the given concurrency cap. A cap below one is
// treated as one.
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{slots: make(chan struct{}, size)}
}

// Run blocks until a slot is free, executes fn inline, then releases the
// slot. A nil pool runs fn directly.
func (p *Pool) Run(fn func()) {
	if p == nil {
		fn()
		return
	}
	p.slots <- struct{}{}
	defer func() { <-p.slots }()
	fn()
}

// Submit runs fn on its own goroutine once a slot frees up.
func (p *Pool) Submit(fn func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.Run(fn)
	}()
}

// Wait blocks until every submitted task has finished.
func (p *Pool) Wait() {
	p.wg.Wait()
}
