// Package entrypoint is the Entry-Point Scanner: it tracks,
// per runtime type, which lifecycle kinds (OnTick, OnEnable, ...) have a
// registered method id, and periodically attaches a proxy to every live
// component of a registered type so the host's own lifecycle calls route
// through the dispatcher instead of the type's original, now-stale
// method body.
//
// Proxy attachment is idempotent per target component, adapted from the
// teacher's decorator discipline of applying a wrapper exactly once per
// target (BaseApplicationDecorator's forward-everything-to-inner shape),
// here specialized to forward one lifecycle kind at a time to
// dispatcher.Invoke instead of forwarding an entire interface.
package entrypoint

import (
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/GoCodeAlone/hotpatch/dispatcher"
	"github.com/GoCodeAlone/hotpatch/il"
	"github.com/GoCodeAlone/hotpatch/keys"
	"github.com/GoCodeAlone/hotpatch/logging"
	"github.com/GoCodeAlone/hotpatch/runtimehost"
)

// registration is per-type: the live *il.Type plus Map<LifecycleKind ->
// MethodId>.
type registration struct {
	typ *il.Type

	mu    sync.RWMutex
	kinds map[string]keys.MethodID
}

// Scanner maintains Map<RuntimeType -> registration> and periodically
// attaches proxies to live components of registered types.
type Scanner struct {
	host   runtimehost.Host
	disp   *dispatcher.Dispatcher
	logger logging.Logger

	mu            sync.RWMutex
	registrations map[string]*registration // keyed by type full name

	proxies sync.Map // componentID -> *LifecycleProxy, idempotent attachment

	cronSched *cron.Cron
	entryID   cron.EntryID
	running   bool
}

type componentID struct {
	typeName string
	instance any
}

// New creates a Scanner bound to host's live-component registry and the
// process-global dispatcher.
func New(host runtimehost.Host, disp *dispatcher.Dispatcher, logger logging.Logger) *Scanner {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &Scanner{
		host:          host,
		disp:          disp,
		logger:        logging.WithCategory(logger, logging.CategoryGeneral),
		registrations: map[string]*registration{},
		cronSched:     cron.New(cron.WithSeconds()),
	}
}

// Register records that t's lifecycleKind dispatches to id. Called by the
// installer when a lifecycle method is newly added to a type with no
// runtime counterpart via the OnLifecycleTypeRegistered
// hook.
func (s *Scanner) Register(t *il.Type, lifecycleKind string, id keys.MethodID) {
	s.mu.Lock()
	r, ok := s.registrations[t.FullName]
	if !ok {
		r = &registration{typ: t, kinds: map[string]keys.MethodID{}}
		s.registrations[t.FullName] = r
	}
	s.mu.Unlock()

	r.mu.Lock()
	r.kinds[lifecycleKind] = id
	r.mu.Unlock()
}

// Start begins the periodic scan on scanSchedule, a cron expression with
// seconds (e.g. "@every 1s"). Only a coarse scan (roughly half a second
// between runs or coarser) is required; finer schedules just waste cycles.
func (s *Scanner) Start(scanSchedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrScannerAlreadyRunning
	}
	id, err := s.cronSched.AddFunc(scanSchedule, s.scanOnce)
	if err != nil {
		return err
	}
	s.entryID = id
	s.cronSched.Start()
	s.running = true
	return nil
}

// Stop halts the periodic scan and waits for any in-flight scan to finish.
func (s *Scanner) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cronSched.Remove(s.entryID)
	sched := s.cronSched
	s.running = false
	s.mu.Unlock()

	ctx := sched.Stop()
	<-ctx.Done()
}

// ScanOnce runs a single scan pass immediately, independent of the cron
// schedule; exported for tests and for an explicit "scan now" admin call.
func (s *Scanner) ScanOnce() { s.scanOnce() }

func (s *Scanner) scanOnce() {
	s.mu.RLock()
	snapshot := make([]*registration, 0, len(s.registrations))
	for _, r := range s.registrations {
		snapshot = append(snapshot, r)
	}
	s.mu.RUnlock()

	for _, reg := range snapshot {
		for _, comp := range s.host.EnumerateLiveComponentsOfType(reg.typ) {
			s.attachProxy(reg, comp)
		}
	}
}

func (s *Scanner) attachProxy(reg *registration, comp *runtimehost.Component) {
	id := componentID{typeName: reg.typ.FullName, instance: comp.Instance}
	if _, already := s.proxies.Load(id); already {
		return
	}

	reg.mu.RLock()
	kinds := make(map[string]keys.MethodID, len(reg.kinds))
	for k, v := range reg.kinds {
		kinds[k] = v
	}
	reg.mu.RUnlock()

	proxy := newLifecycleProxy(comp.Instance, kinds, s.disp)
	if _, loaded := s.proxies.LoadOrStore(id, proxy); loaded {
		return
	}
	s.logger.Debug("attached lifecycle proxy", "type", reg.typ.FullName, "kinds", len(kinds))
}

// ProxyFor returns the attached proxy for instance of the named type, if
// any has been created by a scan pass. Host update loops use this to
// route their own OnTick/OnEnable/... calls through the dispatcher
// instead of calling the component's original method directly.
func (s *Scanner) ProxyFor(typeFullName string, instance any) (*LifecycleProxy, bool) {
	v, ok := s.proxies.Load(componentID{typeName: typeFullName, instance: instance})
	if !ok {
		return nil, false
	}
	return v.(*LifecycleProxy), true
}
