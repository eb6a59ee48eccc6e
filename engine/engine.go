// Package engine is the orchestrator: it wires classifier, compiler,
// inspector, rewriter (via installer), installer, dispatcher, field
// store, entry-point scanner and patch history into one Apply pipeline,
// serialized per assembly, and resolves the fast-path method-key-set
// verification question documented in DESIGN.md.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/GoCodeAlone/hotpatch/classifier"
	"github.com/GoCodeAlone/hotpatch/compiler"
	"github.com/GoCodeAlone/hotpatch/dispatcher"
	"github.com/GoCodeAlone/hotpatch/entrypoint"
	"github.com/GoCodeAlone/hotpatch/events"
	"github.com/GoCodeAlone/hotpatch/fieldstore"
	"github.com/GoCodeAlone/hotpatch/history"
	"github.com/GoCodeAlone/hotpatch/il"
	"github.com/GoCodeAlone/hotpatch/inspector"
	"github.com/GoCodeAlone/hotpatch/installer"
	"github.com/GoCodeAlone/hotpatch/keys"
	"github.com/GoCodeAlone/hotpatch/logging"
	"github.com/GoCodeAlone/hotpatch/plan"
	"github.com/GoCodeAlone/hotpatch/runtimehost"
	"github.com/GoCodeAlone/hotpatch/vm"
)

// Engine is one per host process.
type Engine struct {
	Host       runtimehost.Host
	Driver     *compiler.Driver
	Classifier *classifier.Classifier
	Inspector  *inspector.Inspector
	Installer  *installer.Installer
	Dispatcher *dispatcher.Dispatcher
	Fields     *fieldstore.Store
	Scanner    *entrypoint.Scanner
	History    *history.Store
	Interp     *vm.Interp
	logger     logging.Logger

	// EventSink, if set, receives a hotpatch.patch.applied.v1 CloudEvent
	// after every apply that installed at least one hook.
	EventSink func(cloudevents.Event)

	mu      sync.Mutex
	workers map[string]chan applyJob // one per assembly, serializes Apply against that assembly
}

type applyJob struct {
	req  ApplyRequest
	resp chan applyOutcome
}

type applyOutcome struct {
	result *installer.ApplyResult
	err    error
}

// ApplyRequest is one requested source edit.
type ApplyRequest struct {
	Ctx        context.Context
	Assembly   string
	SourcePath string
	SourceText string
	ModuleName string
	Revision   int64
}

// New assembles an Engine from its constituent components. Callers build
// each component independently (so tests can substitute fakes) and pass
// them here; New wires the installer's invoker factory to interp and the
// installer's lifecycle-type hook to scanner.
func New(host runtimehost.Host, driver *compiler.Driver, cls *classifier.Classifier, insp *inspector.Inspector, inst *installer.Installer, disp *dispatcher.Dispatcher, fields *fieldstore.Store, scanner *entrypoint.Scanner, hist *history.Store, interp *vm.Interp, logger logging.Logger) *Engine {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	e := &Engine{
		Host: host, Driver: driver, Classifier: cls, Inspector: insp,
		Installer: inst, Dispatcher: disp, Fields: fields, Scanner: scanner,
		History: hist, Interp: interp,
		logger:  logging.WithCategory(logger, logging.CategoryGeneral),
		workers: map[string]chan applyJob{},
	}

	inst.SetInvokerFactory(func(dyn *il.Method) dispatcher.Invoker {
		return func(instance any, argv []any) (any, error) {
			return interp.Invoke(dyn, instance, argv)
		}
	})
	inst.OnLifecycleTypeRegistered(func(assembly string, t *il.Type, id keys.MethodID, kind string) {
		scanner.Register(t, kind, id)
	})

	return e
}

// Close stops every per-assembly worker goroutine. Safe to call once,
// after which Apply must not be called again.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ch := range e.workers {
		close(ch)
	}
	e.workers = map[string]chan applyJob{}
}

// Apply enqueues req onto its assembly's serialized worker and blocks
// for the result; at most one apply is in flight per assembly.
func (e *Engine) Apply(req ApplyRequest) (*installer.ApplyResult, error) {
	job := applyJob{req: req, resp: make(chan applyOutcome, 1)}
	e.workerFor(req.Assembly) <- job
	out := <-job.resp
	return out.result, out.err
}

func (e *Engine) workerFor(assembly string) chan applyJob {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch, ok := e.workers[assembly]
	if !ok {
		ch = make(chan applyJob, 64)
		e.workers[assembly] = ch
		go e.runWorker(assembly, ch)
	}
	return ch
}

func (e *Engine) runWorker(assembly string, ch chan applyJob) {
	for job := range ch {
		res, err := e.apply(job.req)
		job.resp <- applyOutcome{result: res, err: err}
	}
}

// apply runs the full classifier -> compiler -> inspector -> installer ->
// history pipeline for one request. Only ever called from the single
// per-assembly worker goroutine, so no locking is needed here beyond what
// the individual components already provide.
func (e *Engine) apply(req ApplyRequest) (*installer.ApplyResult, error) {
	ctx := req.Ctx
	if ctx == nil {
		ctx = context.Background()
	}

	verdict := e.Classifier.Analyze(req.SourcePath, req.SourceText)

	compileResult, err := e.Driver.Compile(ctx, req.SourcePath, req.SourceText, req.ModuleName, verdict.CanFastPath, req.Revision)
	if err != nil {
		return nil, fmt.Errorf("engine: %w: %w", ErrCompileFailed, err)
	}
	if !compileResult.OK {
		return nil, fmt.Errorf("engine: %w: %d diagnostics", ErrCompileFailed, len(compileResult.Diagnostics))
	}
	newImage := compileResult.Image

	runtimeModule, ok := e.Host.FindLoadedAssembly(req.Assembly)
	if !ok {
		return nil, ErrRuntimeModuleMissing
	}

	if verdict.CanFastPath {
		if !e.fastPathStillValid(newImage, runtimeModule) {
			e.logger.Info("fast-path method-key-set mismatch, demoting to full compatibility check", "assembly", req.Assembly, "path", req.SourcePath)
			verdict.CanFastPath = false
		}
	}
	if !verdict.CanFastPath {
		if err := inspector.CheckCompatibility(newImage, runtimeModule); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrIncompatible, err)
		}
	}

	p := e.Inspector.Plan(newImage, runtimeModule)
	res := e.Installer.Apply(req.Assembly, runtimeModule.UUID, newImage, runtimeModule, p)

	if res.Patched+res.Dispatched+res.Trampolines > 0 {
		now := timeNow()
		if err := e.persistHistory(req, newImage, runtimeModule, res, now); err != nil {
			e.logger.Warn("failed to persist patch history", "assembly", req.Assembly, "error", err)
		}
		if e.EventSink != nil {
			e.EventSink(events.NewPatchAppliedEvent(res, now))
		}
	}

	return res, nil
}

// fastPathStillValid double-checks a fast-path verdict: it compares the
// runtime method-key set for the affected types against the new image's
// method-key set. Any mismatch means the classifier's structural-signature
// hash missed a change, and the caller demotes to a full compatibility
// check.
func (e *Engine) fastPathStillValid(newImage, runtimeModule *il.Module) bool {
	for _, nt := range newImage.Types {
		if nt.Synthetic {
			continue
		}
		rt := runtimeModule.FindType(nt.FullName)
		if rt == nil {
			return false
		}
		runtimeKeys := map[keys.MethodKey]*il.Method{}
		for _, m := range rt.Methods {
			runtimeKeys[m.Key()] = m
		}
		nextKeys := map[keys.MethodKey]*il.Method{}
		for _, m := range nt.Methods {
			nextKeys[m.Key()] = m
		}
		diff := plan.DiffMethodSets(runtimeKeys, nextKeys)
		if len(diff.Added) != 0 || len(diff.Removed) != 0 {
			return false
		}
	}
	return true
}

func (e *Engine) persistHistory(req ApplyRequest, newImage, runtimeModule *il.Module, res *installer.ApplyResult, at time.Time) error {
	if e.History == nil {
		return nil
	}
	imageBytes, err := encodeImage(newImage)
	if err != nil {
		return err
	}
	rec := history.Record{
		PatchID:           history.NewPatchID(),
		AssemblyName:      req.Assembly,
		SourcePath:        req.SourcePath,
		SourceHash:        history.HashSource(req.SourceText),
		RuntimeModuleUUID: runtimeModule.UUID,
		TokenPairs:        res.TokenPairs,
		UTCTimestamp:      at,
	}
	return e.History.Write(rec, imageBytes)
}

// timeNow is a seam so tests can stub the clock; production uses the
// wall clock.
var timeNow = time.Now

// Replay reloads every valid history record for the process and reapplies
// each in timestamp order with fast-path validation skipped. Call once on
// startup, after the host has loaded its runtime modules.
func (e *Engine) Replay(ctx context.Context) error {
	if e.History == nil {
		return nil
	}
	records, err := e.History.ValidRecordsOrdered()
	if err != nil {
		return fmt.Errorf("engine: loading history: %w", err)
	}
	for _, rec := range records {
		if err := e.replayOne(ctx, rec); err != nil {
			e.logger.Warn("replay failed", "assembly", rec.AssemblyName, "patch_id", rec.PatchID, "error", err)
		}
	}
	return nil
}

func (e *Engine) replayOne(ctx context.Context, rec *history.Record) error {
	runtimeModule, ok := e.Host.FindLoadedAssembly(rec.AssemblyName)
	if !ok {
		return ErrRuntimeModuleMissing
	}
	imageBytes, err := e.History.ReadImage(rec)
	if err != nil {
		return err
	}
	newImage, err := decodeImage(imageBytes)
	if err != nil {
		return err
	}

	replayCtx := history.NewReplayContext(rec, runtimeModule.UUID)

	var p *plan.Plan
	if replayCtx.UseTokenPairs {
		p = e.planFromTokenPairs(newImage, runtimeModule, rec.TokenPairs)
	} else {
		if err := inspector.CheckCompatibility(newImage, runtimeModule); err != nil {
			return fmt.Errorf("%w: %w", ErrIncompatible, err)
		}
		p = e.Inspector.Plan(newImage, runtimeModule)
	}

	e.Installer.Apply(rec.AssemblyName, runtimeModule.UUID, newImage, runtimeModule, p)
	return nil
}

// planFromTokenPairs rebuilds a Plan using the persisted token pairs to
// resolve patch-token -> runtime-method directly, defending against
// textual-key drift (an overload's parameter order, a renamed nested
// type) whose underlying runtime slot did not actually move.
func (e *Engine) planFromTokenPairs(newImage, runtimeModule *il.Module, pairs []plan.TokenPair) *plan.Plan {
	p := plan.NewPlan()
	for _, t := range runtimeModule.Types {
		for _, m := range t.Methods {
			p.RuntimeMethods[m.Key()] = plan.RuntimeMethodHandle{Key: m.Key(), Method: m}
		}
		for _, f := range t.Fields {
			p.RuntimeFields[f.Key()] = plan.RuntimeFieldHandle{Key: f.Key(), Field: f}
		}
	}

	byPatchToken := map[keys.MethodKey]plan.TokenPair{}
	for _, pair := range pairs {
		byPatchToken[keys.MethodKey(pair.PatchModuleToken)] = pair
	}

	for _, t := range newImage.Types {
		if t.Synthetic {
			continue
		}
		for _, m := range t.Methods {
			if !m.Patchable() {
				continue
			}
			key := m.Key()
			p.MethodIDs[key] = key.ID()
			if pair, ok := byPatchToken[key]; ok {
				if rh, exists := p.RuntimeMethods[keys.MethodKey(pair.RuntimeToken)]; exists {
					p.RuntimeMethods[key] = plan.RuntimeMethodHandle{Key: key, Method: rh.Method}
				}
			}
			if _, isLifecycle := m.LifecycleKind(); isLifecycle {
				p.DispatchKeys[key] = struct{}{}
			} else if _, existsInRuntime := p.RuntimeMethods[key]; !existsInRuntime {
				p.DispatchKeys[key] = struct{}{}
			}
			p.Patchable = append(p.Patchable, m)
		}
	}
	p.TokenPairs = pairs
	return p
}
