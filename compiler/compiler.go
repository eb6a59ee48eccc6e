// Package compiler drives the bytecode toolchain: given source text and a
// module name, it produces an in-memory image (an *il.Module) via a
// pluggable Frontend, maintaining debug and release configurations and
// serializing requests through a single worker.
package compiler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/GoCodeAlone/hotpatch/il"
	"github.com/GoCodeAlone/hotpatch/logging"
)

// Diagnostic is one compile error or warning.
type Diagnostic struct {
	Message string
	Line    int
	Fatal   bool
}

// Config selects which Frontend configuration a compile request uses.
type Config int

const (
	ConfigRelease Config = iota
	ConfigDebug
)

func (c Config) String() string {
	if c == ConfigDebug {
		return "debug"
	}
	return "release"
}

// Frontend turns source text into a module image. `sourcelang.Compile`
// satisfies this; any toolchain that can emit an *il.Module can replace it.
type Frontend interface {
	Compile(sourceText, moduleName string) (*il.Module, []Diagnostic, error)
}

// Result is what a compile produces.
type Result struct {
	OK          bool
	Image       *il.Module
	Diagnostics []Diagnostic
	Timings     Timings
}

// Timings records how long each phase of one compile took.
type Timings struct {
	Queued time.Duration
	Build  time.Duration
}

// ReferenceSet is the resolved reference closure handed to both frontend
// configurations at construction time; absolute paths only.
type ReferenceSet struct {
	Paths []string
}

type compileRequest struct {
	ctx        context.Context
	sourceText string
	moduleName string
	sourcePath string
	useFast    bool
	queuedAt   time.Time
	revision   int64
	resultCh   chan Result
}

// Driver owns the release/debug frontends and the single-worker request
// queue that serializes compiles for one host: one goroutine drains a
// channel so at most one compile runs at a time.
type Driver struct {
	release Frontend
	debug   Frontend
	logger  logging.Logger

	queue chan compileRequest

	mu           sync.Mutex
	lastRevision map[string]int64 // sourcePath -> last-observed revision

	closeOnce sync.Once
	done      chan struct{}
}

// NewDriver builds a Driver. release and debug are built once by the
// caller from the same ReferenceSet and never rebuilt within a session.
func NewDriver(release, debug Frontend, logger logging.Logger) *Driver {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	d := &Driver{
		release:      release,
		debug:        debug,
		logger:       logging.WithCategory(logger, logging.CategoryCompiler),
		queue:        make(chan compileRequest, 64),
		lastRevision: map[string]int64{},
		done:         make(chan struct{}),
	}
	go d.run()
	return d
}

// Close stops the worker goroutine. Pending requests in the channel are
// abandoned; worker processes are force-terminated on host shutdown.
func (d *Driver) Close() {
	d.closeOnce.Do(func() { close(d.done) })
}

func (d *Driver) run() {
	for {
		select {
		case <-d.done:
			return
		case req := <-d.queue:
			d.serve(req)
		}
	}
}

func (d *Driver) serve(req compileRequest) {
	start := time.Now()
	frontend := d.release
	if req.useFast {
		frontend = d.debug
	}
	if frontend == nil {
		req.resultCh <- Result{Diagnostics: []Diagnostic{{Message: ErrNoFrontend.Error(), Fatal: true}}}
		return
	}

	image, diags, err := frontend.Compile(req.sourceText, req.moduleName)
	build := time.Since(start)

	if d.isStale(req.sourcePath, req.revision) {
		d.logger.Info("discarding stale compile result", "path", req.sourcePath)
		req.resultCh <- Result{Diagnostics: []Diagnostic{{Message: ErrStaleResult.Error(), Fatal: true}}}
		return
	}

	if err != nil {
		d.logger.Warn("compile failed", "path", req.sourcePath, "error", err)
		diags = append(diags, Diagnostic{Message: err.Error(), Fatal: true})
		req.resultCh <- Result{
			OK:          false,
			Diagnostics: diags,
			Timings:     Timings{Queued: start.Sub(req.queuedAt), Build: build},
		}
		return
	}

	req.resultCh <- Result{
		OK:          true,
		Image:       image,
		Diagnostics: diags,
		Timings:     Timings{Queued: start.Sub(req.queuedAt), Build: build},
	}
}

// isStale reports whether a newer revision was observed for sourcePath
// after this request was queued.
func (d *Driver) isStale(sourcePath string, revision int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastRevision[sourcePath] > revision
}

// Compile enqueues a compile request and blocks until it is served or ctx
// is canceled. revision is a monotonically increasing last-write
// timestamp for sourcePath; a Compile call with a lower revision than one
// already observed for the same path is discarded rather than queued.
func (d *Driver) Compile(ctx context.Context, sourcePath, sourceText, moduleName string, useFastPath bool, revision int64) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	d.mu.Lock()
	if prev, ok := d.lastRevision[sourcePath]; ok && revision < prev {
		d.mu.Unlock()
		return Result{}, fmt.Errorf("%w: path=%s revision=%d last=%d", ErrStaleResult, sourcePath, revision, prev)
	}
	d.lastRevision[sourcePath] = revision
	d.mu.Unlock()

	req := compileRequest{
		ctx:        ctx,
		sourceText: sourceText,
		moduleName: moduleName,
		sourcePath: sourcePath,
		useFast:    useFastPath,
		queuedAt:   time.Now(),
		revision:   revision,
		resultCh:   make(chan Result, 1),
	}

	select {
	case d.queue <- req:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-d.done:
		return Result{}, ErrQueueClosed
	}

	select {
	case res := <-req.resultCh:
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}
