// Package registry maps program identifiers to loaded, ready-to-invoke engines.
//
// Lookups are lock-free: the mapping is an immutable snapshot published through an
// atomic pointer. Writers serialize on a mutex, copy the snapshot, apply their change
// and publish the new map in one store, so readers see either the old or the new entry
// and never a partial one.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/R3E-Network/zkgate/internal/zkvm"
)

// ProgramID names a registered program for the lifetime of the registry.
type ProgramID string

func (id ProgramID) String() string {
	return string(id)
}

// Metadata describes where a program came from. It is informational only.
type Metadata struct {
	Name            string
	Digest          string
	CompilerVersion string
}

// Entry is a registered program. Entries are never mutated after Register returns;
// callers may hold on to one while its engine runs.
type Entry struct {
	ID              ProgramID
	Vendor          zkvm.Vendor
	Engine          zkvm.Engine
	Name            string
	Digest          string
	CompilerVersion string
	RegisteredAt    time.Time
}

var (
	ErrEmptyID       = errors.New("program id is required")
	ErrNilEngine     = errors.New("engine is required")
	ErrInvalidVendor = errors.New("invalid vendor")
)

type snapshot map[ProgramID]*Entry

// Registry is safe for concurrent use.
type Registry struct {
	writeMu sync.Mutex
	current atomic.Pointer[snapshot]
	now     func() time.Time
}

// New returns an empty registry.
func New() *Registry {
	r := &Registry{now: time.Now}
	empty := snapshot{}
	r.current.Store(&empty)
	return r
}

// Register inserts or replaces the entry for id. The last registration for an id wins;
// replaced reports whether an earlier entry was overwritten. Invalid arguments leave the
// registry untouched.
func (r *Registry) Register(id ProgramID, vendor zkvm.Vendor, engine zkvm.Engine, meta Metadata) (replaced bool, err error) {
	if strings.TrimSpace(string(id)) == "" {
		return false, ErrEmptyID
	}
	if engine == nil {
		return false, ErrNilEngine
	}
	if !vendor.Valid() {
		return false, fmt.Errorf("%w: %q", ErrInvalidVendor, vendor)
	}

	entry := &Entry{
		ID:              id,
		Vendor:          vendor,
		Engine:          engine,
		Name:            meta.Name,
		Digest:          meta.Digest,
		CompilerVersion: meta.CompilerVersion,
		RegisteredAt:    r.now().UTC(),
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	old := *r.current.Load()
	_, replaced = old[id]
	next := make(snapshot, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	next[id] = entry
	r.current.Store(&next)
	return replaced, nil
}

// Lookup returns the entry for id. It never blocks.
func (r *Registry) Lookup(id ProgramID) (*Entry, bool) {
	entry, ok := (*r.current.Load())[id]
	return entry, ok
}

// Remove deletes the entry for id and reports whether one existed.
func (r *Registry) Remove(id ProgramID) bool {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	old := *r.current.Load()
	if _, ok := old[id]; !ok {
		return false
	}
	next := make(snapshot, len(old))
	for k, v := range old {
		if k != id {
			next[k] = v
		}
	}
	r.current.Store(&next)
	return true
}

// List returns every entry sorted by id.
func (r *Registry) List() []*Entry {
	snap := *r.current.Load()
	out := make([]*Entry, 0, len(snap))
	for _, entry := range snap {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of registered programs.
func (r *Registry) Len() int {
	return len(*r.current.Load())
}

// CountByVendor returns the number of registered programs per vendor.
func (r *Registry) CountByVendor() map[zkvm.Vendor]int {
	counts := make(map[zkvm.Vendor]int)
	for _, entry := range *r.current.Load() {
		counts[entry.Vendor]++
	}
	return counts
}
