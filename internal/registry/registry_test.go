package registry

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/zkgate/internal/backends/mock"
	"github.com/R3E-Network/zkgate/internal/zkvm"
)

func TestRegisterThenLookup(t *testing.T) {
	r := New()
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r.now = func() time.Time { return fixed }

	engine := mock.New()
	replaced, err := r.Register("p1", zkvm.VendorSP1, engine, Metadata{Name: "fib", Digest: "abc"})
	require.NoError(t, err)
	assert.False(t, replaced)

	entry, ok := r.Lookup("p1")
	require.True(t, ok)
	assert.Same(t, engine, entry.Engine)
	assert.Equal(t, zkvm.VendorSP1, entry.Vendor)
	assert.Equal(t, "fib", entry.Name)
	assert.Equal(t, "abc", entry.Digest)
	assert.Equal(t, fixed, entry.RegisteredAt)

	_, ok = r.Lookup("missing")
	assert.False(t, ok)
}

func TestRegisterOverwrites(t *testing.T) {
	r := New()
	first, second := mock.New(), mock.New(mock.WithCycles(7))

	_, err := r.Register("p1", zkvm.VendorRisc0, first, Metadata{})
	require.NoError(t, err)
	replaced, err := r.Register("p1", zkvm.VendorSP1, second, Metadata{})
	require.NoError(t, err)
	assert.True(t, replaced)

	entry, ok := r.Lookup("p1")
	require.True(t, ok)
	assert.Same(t, second, entry.Engine)
	assert.Equal(t, zkvm.VendorSP1, entry.Vendor)
	assert.Equal(t, 1, r.Len())
}

func TestRegisterRejectsInvalidArguments(t *testing.T) {
	r := New()
	_, err := r.Register("keep", zkvm.VendorSP1, mock.New(), Metadata{})
	require.NoError(t, err)

	cases := []struct {
		name   string
		id     ProgramID
		vendor zkvm.Vendor
		engine zkvm.Engine
		want   error
	}{
		{"empty id", "", zkvm.VendorSP1, mock.New(), ErrEmptyID},
		{"blank id", "  ", zkvm.VendorSP1, mock.New(), ErrEmptyID},
		{"nil engine", "p2", zkvm.VendorSP1, nil, ErrNilEngine},
		{"bad vendor", "p2", zkvm.Vendor("jolt"), mock.New(), ErrInvalidVendor},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.Register(tc.id, tc.vendor, tc.engine, Metadata{})
			assert.ErrorIs(t, err, tc.want)
			assert.Equal(t, 1, r.Len())
			_, ok := r.Lookup("p2")
			assert.False(t, ok)
		})
	}
}

func TestRemove(t *testing.T) {
	r := New()
	_, err := r.Register("p1", zkvm.VendorSP1, mock.New(), Metadata{})
	require.NoError(t, err)

	assert.True(t, r.Remove("p1"))
	assert.False(t, r.Remove("p1"))
	_, ok := r.Lookup("p1")
	assert.False(t, ok)
	assert.Zero(t, r.Len())
}

func TestListSortedAndCounts(t *testing.T) {
	r := New()
	for _, id := range []ProgramID{"c", "a", "b"} {
		vendor := zkvm.VendorSP1
		if id == "a" {
			vendor = zkvm.VendorRisc0
		}
		_, err := r.Register(id, vendor, mock.New(), Metadata{})
		require.NoError(t, err)
	}

	list := r.List()
	require.Len(t, list, 3)
	assert.Equal(t, ProgramID("a"), list[0].ID)
	assert.Equal(t, ProgramID("b"), list[1].ID)
	assert.Equal(t, ProgramID("c"), list[2].ID)

	counts := r.CountByVendor()
	assert.Equal(t, 1, counts[zkvm.VendorRisc0])
	assert.Equal(t, 2, counts[zkvm.VendorSP1])
}

func TestConcurrentRegisterAndLookup(t *testing.T) {
	r := New()
	_, err := r.Register("stable", zkvm.VendorSP1, mock.New(), Metadata{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				id := ProgramID(fmt.Sprintf("w%d-%d", w, i))
				if _, err := r.Register(id, zkvm.VendorRisc0, mock.New(), Metadata{}); err != nil {
					t.Errorf("register %s: %v", id, err)
				}
			}
		}(w)
	}
	for rd := 0; rd < 8; rd++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				entry, ok := r.Lookup("stable")
				if !ok || entry.Vendor != zkvm.VendorSP1 {
					t.Errorf("stable entry disappeared or changed")
					return
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 8*50+1, r.Len())
}

func TestLookupDoesNotWaitForWriters(t *testing.T) {
	r := New()
	_, err := r.Register("p1", zkvm.VendorSP1, mock.New(), Metadata{})
	require.NoError(t, err)

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	done := make(chan struct{})
	go func() {
		_, _ = r.Lookup("p1")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lookup blocked while a writer held the lock")
	}
}
