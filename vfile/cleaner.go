package vfile

import (
	"log"
	"sync"
)

// cleanRequest is a released mapped region awaiting an unmap call off the
// critical path of whatever remap or close triggered the release.
type cleanRequest struct {
	region []byte
	unmap  func([]byte) error
	path   string
}

// Cleaner is a single-writer queue that unmaps released mmap regions
// asynchronously. Duplicate cleans of the same region are harmless: unmap
// is idempotent at the syscall layer on every platform this code targets,
// so the cleaner does not deduplicate.
type Cleaner struct {
	logger *log.Logger
	queue  chan cleanRequest
	done   chan struct{}
	wg     sync.WaitGroup
}

var defaultCleaner = NewCleaner(log.Default())

// DefaultCleaner returns the process-wide buffer cleaner singleton.
func DefaultCleaner() *Cleaner { return defaultCleaner }

// NewCleaner constructs a cleaner with its own worker; tests that want to
// observe cleaning synchronously can construct one and call Shutdown, which
// returns once every request queued before it has been processed.
func NewCleaner(logger *log.Logger) *Cleaner {
	c := &Cleaner{logger: logger, queue: make(chan cleanRequest, 64), done: make(chan struct{})}
	c.wg.Add(1)
	go c.run()
	return c
}

func (c *Cleaner) run() {
	defer c.wg.Done()
	for {
		select {
		case req := <-c.queue:
			if err := req.unmap(req.region); err != nil {
				c.logger.Printf("vfile: failed to unmap region for %s: %v", req.path, err)
			}
		case <-c.done:
			// Process whatever was queued before Shutdown, then stop.
			for {
				select {
				case req := <-c.queue:
					if err := req.unmap(req.region); err != nil {
						c.logger.Printf("vfile: failed to unmap region for %s: %v", req.path, err)
					}
				default:
					return
				}
			}
		}
	}
}

// Release hands a mapped region to the cleaner for asynchronous unmapping.
func (c *Cleaner) Release(path string, region []byte, unmap func([]byte) error) {
	c.queue <- cleanRequest{region: region, unmap: unmap, path: path}
}

// Shutdown drains the queue and stops the worker. Intended for test
// teardown and process exit, not for routine use.
func (c *Cleaner) Shutdown() {
	close(c.done)
	c.wg.Wait()
}
