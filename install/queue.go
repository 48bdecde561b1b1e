package install

import (
	"context"
	"sync"

	"github.com/chunkinstall/core/manifest"
)

// deque is the coordinator's download queue: a mutex-guarded slice popped
// from the front by the dispatcher, with pushFront for retries (a failed
// enqueue or a failed download returns the guid to the head of the queue);
// the planner's initial ordering is loaded by newDeque.
type deque struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []manifest.GUID
	closed bool
}

func newDeque(initial []manifest.GUID) *deque {
	d := &deque{items: append([]manifest.GUID(nil), initial...)}
	d.cond = sync.NewCond(&d.mu)
	return d
}

func (d *deque) pushFront(g manifest.GUID) {
	d.mu.Lock()
	d.items = append([]manifest.GUID{g}, d.items...)
	d.cond.Signal()
	d.mu.Unlock()
}

// popFront blocks until an item is available or the queue is closed. It
// returns false only once the queue is both closed and empty, which means
// "done"; items pushed back by pushFront before that are still returned.
func (d *deque) popFront() (manifest.GUID, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for len(d.items) == 0 {
		if d.closed {
			return manifest.GUID{}, false
		}
		d.cond.Wait()
	}
	g := d.items[0]
	d.items = d.items[1:]
	return g, true
}

func (d *deque) close() {
	d.mu.Lock()
	d.closed = true
	d.cond.Broadcast()
	d.mu.Unlock()
}

// inBuffer is the download-result handler's in_buffer: a map of chunk guid
// to its completed DownloadResult, with a blocking lookup for the
// task-stream walker.
type inBuffer struct {
	mu   sync.Mutex
	cond *sync.Cond
	m    map[manifest.GUID]DownloadResult
}

func newInBuffer() *inBuffer {
	b := &inBuffer{m: make(map[manifest.GUID]DownloadResult)}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *inBuffer) put(g manifest.GUID, r DownloadResult) {
	b.mu.Lock()
	b.m[g] = r
	b.cond.Broadcast()
	b.mu.Unlock()
}

func (b *inBuffer) remove(g manifest.GUID) {
	b.mu.Lock()
	delete(b.m, g)
	b.mu.Unlock()
}

// waitFor blocks until g appears in the buffer or ctx is cancelled. A
// background goroutine wakes the wait when ctx is done since sync.Cond
// cannot select on a channel directly.
func (b *inBuffer) waitFor(ctx context.Context, g manifest.GUID) (DownloadResult, bool) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			b.mu.Lock()
			b.cond.Broadcast()
			b.mu.Unlock()
		case <-done:
		}
	}()

	b.mu.Lock()
	defer b.mu.Unlock()
	for {
		if r, ok := b.m[g]; ok {
			return r, true
		}
		if ctx.Err() != nil {
			return DownloadResult{}, false
		}
		b.cond.Wait()
	}
}
