package pipeline

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/Workiva/go-datastructures/queue"
)

// eof marks the end of the stream in the buffer. A disposed buffer drops
// the items it still holds, so a regular close is sent through the buffer.
type eof struct{}

// pipe is a bounded, ordered hand-off of byte chunks between two stages.
// Every chunk in the buffer holds one slot, so writes park while all slots
// are taken and reads park while the buffer is empty. Closing either end
// with an error disposes the buffer, which unblocks the other end.
type pipe struct {
	buffer    *queue.Queue
	slots     chan struct{}
	aborted   chan struct{}
	abortOnce sync.Once
	chunkSize int
	written   int64

	mu      sync.Mutex
	rerr    error // reported to the writer
	werr    error // reported to the reader
	wclosed bool

	// Reader state, owned by the reading stage.
	leftover []byte
	done     bool
}

// PipeReader is the read half of a pipe.
type PipeReader struct {
	p *pipe
}

// PipeWriter is the write half of a pipe.
type PipeWriter struct {
	p *pipe
}

// NewPipe creates a pipe holding at most capacity chunks of up to chunkSize
// bytes each.
func NewPipe(capacity, chunkSize int) (*PipeReader, *PipeWriter) {
	if capacity < 1 {
		capacity = 1
	}
	if chunkSize < 1 {
		chunkSize = 1
	}
	p := &pipe{
		buffer:    queue.New(int64(capacity)),
		slots:     make(chan struct{}, capacity),
		aborted:   make(chan struct{}),
		chunkSize: chunkSize,
	}
	return &PipeReader{p}, &PipeWriter{p}
}

// Read reads the next bytes of the stream. It returns io.EOF after the
// writer closed, or the writer's error after it closed with one.
func (r *PipeReader) Read(b []byte) (int, error) {
	p := r.p
	if len(b) == 0 {
		return 0, nil
	}
	for len(p.leftover) == 0 {
		if p.done {
			return 0, io.EOF
		}
		items, err := p.buffer.Get(1)
		if err != nil {
			return 0, p.readError()
		}
		switch chunk := items[0].(type) {
		case eof:
			p.done = true
		case []byte:
			p.leftover = chunk
			<-p.slots
		}
	}
	n := copy(b, p.leftover)
	p.leftover = p.leftover[n:]
	return n, nil
}

// Close closes the reader. Pending and later writes fail with
// io.ErrClosedPipe.
func (r *PipeReader) Close() error {
	return r.CloseWithError(nil)
}

// CloseWithError closes the reader. Pending and later writes fail with err,
// or io.ErrClosedPipe if err is nil.
func (r *PipeReader) CloseWithError(err error) error {
	if err == nil {
		err = io.ErrClosedPipe
	}
	r.p.abort(err, nil)
	return nil
}

// Write copies b into the pipe in chunks. It blocks while the pipe is full.
func (w *PipeWriter) Write(b []byte) (int, error) {
	p := w.p
	p.mu.Lock()
	closed := p.wclosed
	p.mu.Unlock()
	if closed {
		return 0, io.ErrClosedPipe
	}

	written := 0
	for written < len(b) {
		end := written + p.chunkSize
		if end > len(b) {
			end = len(b)
		}
		chunk := make([]byte, end-written)
		copy(chunk, b[written:end])
		select {
		case p.slots <- struct{}{}:
		case <-p.aborted:
			return written, p.writeError()
		}
		if err := p.buffer.Put(chunk); err != nil {
			return written, p.writeError()
		}
		written = end
		atomic.AddInt64(&p.written, int64(len(chunk)))
	}
	return written, nil
}

// Close ends the stream. The reader sees io.EOF once it consumed all
// buffered chunks.
func (w *PipeWriter) Close() error {
	p := w.p
	p.mu.Lock()
	if p.wclosed {
		p.mu.Unlock()
		return nil
	}
	p.wclosed = true
	p.mu.Unlock()
	if err := p.buffer.Put(eof{}); err != nil {
		return p.writeError()
	}
	return nil
}

// CloseWithError ends the stream with an error. Buffered chunks are
// dropped and the reader receives err, or io.EOF if err is nil.
func (w *PipeWriter) CloseWithError(err error) error {
	if err == nil {
		return w.Close()
	}
	w.p.mu.Lock()
	w.p.wclosed = true
	w.p.mu.Unlock()
	w.p.abort(nil, err)
	return nil
}

// Written returns the number of bytes written so far.
func (w *PipeWriter) Written() int64 {
	return atomic.LoadInt64(&w.p.written)
}

// abort records the first error of each side and disposes the buffer.
func (p *pipe) abort(rerr, werr error) {
	p.mu.Lock()
	if p.rerr == nil && rerr != nil {
		p.rerr = rerr
	}
	if p.werr == nil && werr != nil {
		p.werr = werr
	}
	p.mu.Unlock()
	p.abortOnce.Do(func() { close(p.aborted) })
	p.buffer.Dispose()
}

func (p *pipe) readError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.werr != nil {
		return p.werr
	}
	return io.ErrClosedPipe
}

func (p *pipe) writeError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rerr != nil {
		return p.rerr
	}
	return io.ErrClosedPipe
}
