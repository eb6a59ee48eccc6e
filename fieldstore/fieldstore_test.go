package fieldstore

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/hotpatch/keys"
)

type owner struct{ id string }

func TestGetInstanceInsertsZeroValueOnMiss(t *testing.T) {
	s := New()
	o := &owner{id: "a"}
	k := keys.NewFieldKey("C", "counter", "System.Int32", false)

	v := s.GetInstance(o, k, 0)
	require.Equal(t, 0, v)

	s.SetInstance(o, k, 5)
	v = s.GetInstance(o, k, 0)
	require.Equal(t, 5, v)
}

func TestInstanceFieldsAreIsolatedPerOwner(t *testing.T) {
	s := New()
	k := keys.NewFieldKey("C", "counter", "System.Int32", false)
	a := &owner{id: "a"}
	b := &owner{id: "b"}

	s.SetInstance(a, k, 1)
	s.SetInstance(b, k, 2)

	require.Equal(t, 1, s.GetInstance(a, k, 0))
	require.Equal(t, 2, s.GetInstance(b, k, 0))
}

func TestStaticFieldsShareAcrossOwners(t *testing.T) {
	s := New()
	k := keys.NewFieldKey("C", "total", "System.Int32", true)

	s.SetStatic(k, 10)
	require.Equal(t, 10, s.GetStatic(k, 0))

	s.SetStatic(k, 11)
	require.Equal(t, 11, s.GetStatic(k, 0))
}

// Instance entries must not outlive their owner: once the owner becomes
// unreachable, the side table should eventually reclaim its entry.
func TestInstanceEntryReclaimedAfterOwnerCollected(t *testing.T) {
	s := New()
	k := keys.NewFieldKey("C", "counter", "System.Int32", false)

	func() {
		o := &owner{id: "transient"}
		s.SetInstance(o, k, 7)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for s.InstanceCount() > 0 && time.Now().Before(deadline) {
		runtime.GC()
		time.Sleep(10 * time.Millisecond)
	}
	require.Equal(t, 0, s.InstanceCount())
}
