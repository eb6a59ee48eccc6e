// Package dispatcher is the process-global Dispatcher Table: a
// map of MethodId to InvokerClosure serving dispatch calls lowered
// by the rewriter and registrations made on the apply path.
//
// The table is read-mostly (registration happens on the apply path, the
// host's main thread; invocation happens from arbitrary scheduler
// goroutines), so it is built over an immutable radix tree behind an
// atomic pointer: register does a copy-on-write insert-and-swap, invoke
// does a lock-free Get against the current snapshot. This gives single
// writer / many readers with publication-safe replacement of the invoker
// slot without a mutex on the hot read path.
package dispatcher

import (
	"strconv"
	"sync"
	"sync/atomic"

	iradix "github.com/hashicorp/go-immutable-radix"

	"github.com/GoCodeAlone/hotpatch/keys"
	"github.com/GoCodeAlone/hotpatch/logging"
)

// Invoker is a registered method body: (receiver-or-nil, boxed args) -> boxed result.
type Invoker func(instance any, argv []any) (any, error)

// Dispatcher is the process-global dispatch table.
type Dispatcher struct {
	tree   atomic.Pointer[iradix.Tree]
	warned sync.Map // uint32 -> struct{}, unknown-id warnings deduped
	logger logging.Logger
}

// New creates an empty Dispatcher.
func New(logger logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	d := &Dispatcher{logger: logging.WithCategory(logger, logging.CategoryDispatcher)}
	d.tree.Store(iradix.New())
	return d
}

func idKey(id keys.MethodID) []byte {
	return []byte(id.String())
}

// Register installs or replaces the invoker for id. Entries are replaced
// on re-registration.
// Registration for a method id is observably monotonic: once Register
// returns, any subsequent Invoke sees this invoker or a later replacement,
// never an earlier one.
func (d *Dispatcher) Register(id keys.MethodID, inv Invoker) {
	for {
		cur := d.tree.Load()
		next, _, _ := cur.Insert(idKey(id), inv)
		if d.tree.CompareAndSwap(cur, next) {
			return
		}
	}
}

// Unregister removes the invoker for id, if any. Used on installer reset.
func (d *Dispatcher) Unregister(id keys.MethodID) {
	for {
		cur := d.tree.Load()
		next, _, ok := cur.Delete(idKey(id))
		if !ok {
			return
		}
		if d.tree.CompareAndSwap(cur, next) {
			return
		}
	}
}

// Reset clears every registration, as happens on playmode/host teardown.
func (d *Dispatcher) Reset() {
	d.tree.Store(iradix.New())
	d.warned = sync.Map{}
}

// Invoke calls the invoker registered for id. On a miss it returns a nil
// result and, once per unknown id, logs a warning.
func (d *Dispatcher) Invoke(instance any, id keys.MethodID, argv []any) (any, error) {
	if argv == nil {
		argv = []any{}
	}
	v, ok := d.tree.Load().Get(idKey(id))
	if !ok {
		if _, already := d.warned.LoadOrStore(id, struct{}{}); !already {
			d.logger.Warn("dispatcher: invoke miss, no invoker registered", "method_id", strconv.FormatUint(uint64(id), 10))
		}
		return nil, nil
	}
	return v.(Invoker)(instance, argv)
}

// Len reports how many method ids currently have a registered invoker;
// used by tests and diagnostics.
func (d *Dispatcher) Len() int {
	return d.tree.Load().Len()
}
