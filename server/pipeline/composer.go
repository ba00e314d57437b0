// Package pipeline composes the compression and encryption stages of SEB
// configuration exports and imports into concurrent streaming pipelines.
package pipeline

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hako/durafmt"
	"github.com/klauspost/compress/gzip"
	"github.com/nats-io/nuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/examdesk/sebconfig/server/encryption"
	"github.com/examdesk/sebconfig/server/logger"
)

const (
	// DefaultChunkSize is the default size of the chunks handed between
	// stages.
	DefaultChunkSize = 32 * 1024

	// DefaultCapacity is the default number of chunks a pipe buffers.
	DefaultCapacity = 16
)

var gzipMagic = []byte{0x1f, 0x8b}

// ConfigurationError reports credentials that do not fit the container, as
// opposed to I/O or format failures.
type ConfigurationError struct {
	Strategy encryption.Strategy
	Err      error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration for %s: %v", e.Strategy, e.Err)
}

// Unwrap returns the underlying error.
func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// Producer writes markup into a pipeline.
type Producer func(w io.Writer) error

// Consumer reads markup out of a pipeline. It must read until EOF.
type Consumer func(r io.Reader) error

// Composer runs export and import pipelines. Every stage runs in its own
// goroutine; stages are connected by bounded pipes. The first failing stage
// aborts all others.
type Composer struct {
	Registry         *encryption.Registry
	Logger           logger.Logger
	ChunkSize        int
	Capacity         int
	CompressionLevel int
}

// NewComposer returns a composer with default settings.
func NewComposer(registry *encryption.Registry, log logger.Logger) *Composer {
	return &Composer{
		Registry:         registry,
		Logger:           log,
		ChunkSize:        DefaultChunkSize,
		Capacity:         DefaultCapacity,
		CompressionLevel: gzip.DefaultCompression,
	}
}

// Export compresses the markup read from in and writes the encrypted
// container to out.
func (c *Composer) Export(ctx context.Context, out io.Writer, in io.Reader, encCtx encryption.Context) error {
	return c.export(ctx, out, in, nil, encCtx)
}

// ExportFrom is Export with the markup written by producer.
func (c *Composer) ExportFrom(ctx context.Context, out io.Writer, producer Producer, encCtx encryption.Context) error {
	return c.export(ctx, out, nil, producer, encCtx)
}

// Import decrypts the container read from in and writes the decompressed
// markup to out.
func (c *Composer) Import(ctx context.Context, out io.Writer, in io.Reader, creds encryption.Credentials) error {
	return c.importTo(ctx, out, nil, in, creds)
}

// ImportTo is Import with the markup read by consumer.
func (c *Composer) ImportTo(ctx context.Context, consumer Consumer, in io.Reader, creds encryption.Credentials) error {
	return c.importTo(ctx, nil, consumer, in, creds)
}

func (c *Composer) export(ctx context.Context, out io.Writer, in io.Reader, producer Producer, encCtx encryption.Context) error {
	cryptor, err := c.Registry.Cryptor(encCtx.Strategy())
	if err != nil {
		return err
	}
	r := c.newRun(ctx, "export "+encCtx.Strategy().String())
	written := &countingWriter{w: out}

	source := in
	var markup *PipeReader
	if producer != nil {
		mr, mw := r.pipe()
		r.stage("markup stage", func() error {
			return closeWriter(mw, producer(mw))
		})
		markup = mr
		source = mr
	}
	counted := &countingReader{r: source, n: &r.in}

	cr, cw := r.pipe()
	r.stage("compress stage", func() error {
		err := c.compress(cw, counted)
		if markup != nil {
			closeReader(markup, err)
		}
		return closeWriter(cw, err)
	})
	r.stage("encrypt stage", func() error {
		err := encrypt(written, cr, cryptor, encCtx)
		closeReader(cr, err)
		return err
	})

	err = r.wait()
	r.out = written.n
	r.finish(err)
	return err
}

func (c *Composer) importTo(ctx context.Context, out io.Writer, consumer Consumer, in io.Reader, creds encryption.Credentials) error {
	r := c.newRun(ctx, "import")
	// A wrong password only shows at the end of the payload, after garbage
	// has already been handed downstream. Failing stages drain their input
	// so the decrypt stage can report it.
	r.upstreamFirst = true
	source := &countingReader{r: in, n: &r.in}

	var markupReader *PipeReader
	var markupWriter *PipeWriter
	sink := out
	if consumer != nil {
		markupReader, markupWriter = r.pipe()
		sink = markupWriter
	}
	counted := &countingWriter{w: sink}

	dr, dw := r.pipe()
	r.stage("decrypt stage", func() error {
		return closeWriter(dw, c.decrypt(dw, source, creds))
	})
	r.stage("decompress stage", func() error {
		err := decompress(counted, dr)
		if err != nil {
			drain(dr)
		}
		closeReader(dr, err)
		if markupWriter != nil {
			return closeWriter(markupWriter, err)
		}
		return err
	})
	if consumer != nil {
		r.stage("markup stage", func() error {
			err := consumer(markupReader)
			if err != nil {
				drain(markupReader)
			}
			closeReader(markupReader, err)
			return err
		})
	}

	err := r.wait()
	r.out = counted.n
	r.finish(err)
	return err
}

func (c *Composer) compress(out io.Writer, in io.Reader) error {
	gz, err := gzip.NewWriterLevel(out, c.CompressionLevel)
	if err != nil {
		return errors.Wrap(err, "invalid compression level")
	}
	if _, err := io.Copy(gz, in); err != nil {
		return err
	}
	return gz.Close()
}

func encrypt(out io.Writer, in io.Reader, cryptor encryption.Cryptor, encCtx encryption.Context) error {
	if err := encryption.WriteHeader(out, encCtx.Strategy()); err != nil {
		return err
	}
	err := cryptor.Encrypt(out, in, encCtx)
	if errors.Is(err, encryption.ErrMissingPassword) {
		return &ConfigurationError{Strategy: encCtx.Strategy(), Err: err}
	}
	return err
}

// decrypt unwraps an optional outer gzip layer, reads the container header
// and runs the matching cryptor.
func (c *Composer) decrypt(out io.Writer, in io.Reader, creds encryption.Credentials) error {
	br := bufio.NewReader(in)
	var source io.Reader = br
	if isGzip(br) {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return errors.Wrap(err, "invalid outer gzip layer")
		}
		defer gz.Close()
		source = gz
	}
	strategy, payload, err := encryption.ReadHeader(source)
	if err != nil {
		return err
	}
	cryptor, err := c.Registry.Cryptor(strategy)
	if err != nil {
		return err
	}
	err = cryptor.Decrypt(out, payload, encryption.NewDecryptionContext(strategy, creds))
	if errors.Is(err, encryption.ErrMissingPassword) {
		return &ConfigurationError{Strategy: strategy, Err: err}
	}
	return err
}

// decompress gunzips the payload. Legacy containers carry raw markup, which
// is passed through.
func decompress(out io.Writer, in io.Reader) error {
	br := bufio.NewReader(in)
	if !isGzip(br) {
		_, err := io.Copy(out, br)
		return err
	}
	gz, err := gzip.NewReader(br)
	if err != nil {
		return errors.Wrap(err, "invalid gzip payload")
	}
	if _, err := io.Copy(out, gz); err != nil {
		return err
	}
	return gz.Close()
}

func isGzip(br *bufio.Reader) bool {
	magic, err := br.Peek(len(gzipMagic))
	return err == nil && magic[0] == gzipMagic[0] && magic[1] == gzipMagic[1]
}

func closeWriter(w *PipeWriter, err error) error {
	if err != nil {
		w.CloseWithError(err)
		return err
	}
	return w.Close()
}

func closeReader(r *PipeReader, err error) {
	r.CloseWithError(err)
}

// drain consumes the rest of a stream until it ends or fails.
func drain(r io.Reader) {
	io.Copy(io.Discard, r)
}

// run is one execution of a pipeline.
type run struct {
	id      string
	op      string
	log     logger.Logger
	started time.Time
	group   *errgroup.Group
	ctx     context.Context
	pipes   []*pipe
	in      int64
	out     int64

	// upstreamFirst reports the error of the earliest failed stage instead
	// of the first error in time.
	upstreamFirst bool
	mu            sync.Mutex
	errs          []error

	capacity  int
	chunkSize int
}

func (c *Composer) newRun(ctx context.Context, op string) *run {
	log := c.Logger
	if log == nil {
		log = logger.NewSilentLogger()
	}
	capacity, chunkSize := c.Capacity, c.ChunkSize
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	group, gctx := errgroup.WithContext(ctx)
	r := &run{
		id:        nuid.Next(),
		op:        op,
		log:       log,
		started:   time.Now(),
		group:     group,
		ctx:       gctx,
		capacity:  capacity,
		chunkSize: chunkSize,
	}
	r.log.Debugf("[%s] Starting %s", r.id, r.op)
	return r
}

func (r *run) pipe() (*PipeReader, *PipeWriter) {
	pr, pw := NewPipe(r.capacity, r.chunkSize)
	r.pipes = append(r.pipes, pr.p)
	return pr, pw
}

// stage starts a stage. Stages are started in stream order.
func (r *run) stage(name string, fn func() error) {
	r.mu.Lock()
	i := len(r.errs)
	r.errs = append(r.errs, nil)
	r.mu.Unlock()
	r.group.Go(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		err = errors.Wrap(err, name)
		r.mu.Lock()
		r.errs[i] = err
		r.mu.Unlock()
		return err
	})
}

// wait waits for all stages. When a stage fails or the context is canceled
// every pipe is aborted so blocked stages return.
func (r *run) wait() error {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-r.ctx.Done():
			cause := context.Cause(r.ctx)
			for _, p := range r.pipes {
				p.abort(cause, cause)
			}
		case <-done:
		}
	}()
	err := r.group.Wait()
	close(done)
	wg.Wait()
	if err != nil && r.upstreamFirst {
		for _, stageErr := range r.errs {
			if stageErr != nil {
				return stageErr
			}
		}
	}
	return err
}

func (r *run) finish(err error) {
	elapsed := durafmt.Parse(time.Since(r.started))
	if err != nil {
		r.log.Errorf("[%s] Failed %s after %s: %v", r.id, r.op, elapsed, err)
		return
	}
	r.log.Infof("[%s] Finished %s: read %s, wrote %s in %s",
		r.id, r.op, humanize.Bytes(uint64(r.in)), humanize.Bytes(uint64(r.out)), elapsed)
}

type countingReader struct {
	r io.Reader
	n *int64
}

func (c *countingReader) Read(b []byte) (int, error) {
	n, err := c.r.Read(b)
	*c.n += int64(n)
	return n, err
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(b []byte) (int, error) {
	n, err := c.w.Write(b)
	c.n += int64(n)
	return n, err
}
