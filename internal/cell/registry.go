package cell

import (
	"reflect"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/tickbridge/internal/errs"
)

// Bundle holds the heterogeneous signals attached to one host location.
//
// Typed signals are keyed by payload type; named signals are keyed by the
// xxhash of the NFC-normalized name so visually identical names collide on
// purpose. Lookups downcast with a checked type assertion and never panic.
type Bundle struct {
	mu    sync.Mutex
	typed map[reflect.Type]any
	named map[uint64]namedEntry
}

type namedEntry struct {
	name string
	typ  reflect.Type
	cell any
}

// NewBundle creates an empty bundle.
func NewBundle() *Bundle {
	return &Bundle{
		typed: make(map[reflect.Type]any),
		named: make(map[uint64]namedEntry),
	}
}

// Typed returns the cell for payload type T, creating it on first use.
func Typed[T any](b *Bundle) *Cell[T] {
	key := reflect.TypeFor[T]()

	b.mu.Lock()
	defer b.mu.Unlock()

	if existing, ok := b.typed[key]; ok {
		return existing.(*Cell[T])
	}
	c := New[T]()
	b.typed[key] = c
	return c
}

// LookupTyped returns the cell for payload type T if one was created.
func LookupTyped[T any](b *Bundle) (*Cell[T], bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	existing, ok := b.typed[reflect.TypeFor[T]()]
	if !ok {
		return nil, false
	}
	c, ok := existing.(*Cell[T])
	return c, ok
}

func nameKey(name string) (string, uint64) {
	normalized := norm.NFC.String(name)
	return normalized, xxhash.Sum64String(normalized)
}

// Named returns the cell registered under name, creating one of type T on
// first use. A cell of another type under the same name yields a
// TypeMismatch error.
func Named[T any](b *Bundle, name string) (*Cell[T], error) {
	normalized, key := nameKey(name)
	want := reflect.TypeFor[T]()

	b.mu.Lock()
	defer b.mu.Unlock()

	if e, ok := b.named[key]; ok {
		if e.name != normalized {
			return nil, errs.ShouldNotHappen("signal name hash collision: " + e.name + " vs " + normalized)
		}
		c, ok := e.cell.(*Cell[T])
		if !ok {
			return nil, errs.TypeMismatch(normalized, e.typ.String(), want.String())
		}
		return c, nil
	}

	c := New[T]()
	b.named[key] = namedEntry{name: normalized, typ: want, cell: c}
	return c, nil
}

// LookupNamed returns the named cell if it exists with payload type T.
func LookupNamed[T any](b *Bundle, name string) (*Cell[T], bool) {
	normalized, key := nameKey(name)

	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.named[key]
	if !ok || e.name != normalized {
		return nil, false
	}
	c, ok := e.cell.(*Cell[T])
	return c, ok
}

// Names returns the registered signal names in sorted order.
func (b *Bundle) Names() []string {
	b.mu.Lock()
	names := make([]string, 0, len(b.named))
	for _, e := range b.named {
		names = append(names, e.name)
	}
	b.mu.Unlock()

	sort.Strings(names)
	return names
}

// Len returns the number of typed plus named cells.
func (b *Bundle) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.typed) + len(b.named)
}

// Registry attaches bundles to host-defined addresses. The addressing scheme
// is up to the host; K only needs to be comparable.
type Registry[K comparable] struct {
	mu      sync.Mutex
	bundles map[K]*Bundle
}

// NewRegistry creates an empty registry.
func NewRegistry[K comparable]() *Registry[K] {
	return &Registry[K]{bundles: make(map[K]*Bundle)}
}

// Attach returns the bundle at addr, creating it on first use.
func (r *Registry[K]) Attach(addr K) *Bundle {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.bundles[addr]; ok {
		return b
	}
	b := NewBundle()
	r.bundles[addr] = b
	return b
}

// Lookup returns the bundle at addr if attached.
func (r *Registry[K]) Lookup(addr K) (*Bundle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bundles[addr]
	return b, ok
}

// Detach removes the bundle at addr. Cells already handed out stay usable.
func (r *Registry[K]) Detach(addr K) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.bundles[addr]; !ok {
		return false
	}
	delete(r.bundles, addr)
	return true
}

// Len returns the number of attached addresses.
func (r *Registry[K]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bundles)
}
