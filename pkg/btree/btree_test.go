package btree

import (
	"fmt"
	"math/rand"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nervusdb/nervusdb/pkg/pager"
)

func openTestPager(t *testing.T) *pager.Pager {
	t.Helper()
	dir := t.TempDir()
	p, err := pager.Open(filepath.Join(dir, "idx.ndb"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func collect(t *testing.T, tree *BTree, p *pager.Pager) []string {
	t.Helper()
	cur, err := tree.CursorLowerBound(p, nil)
	require.NoError(t, err)
	var out []string
	for {
		ok, err := cur.IsValid()
		require.NoError(t, err)
		if !ok {
			break
		}
		k, err := cur.Key()
		require.NoError(t, err)
		out = append(out, string(k))
		more, err := cur.Advance()
		require.NoError(t, err)
		if !more {
			break
		}
	}
	return out
}

func TestCursorIteratesInSortedOrderSingleLeaf(t *testing.T) {
	p := openTestPager(t)
	tree, err := Create(p)
	require.NoError(t, err)

	keys := []string{"delta", "alpha", "charlie", "bravo"}
	for i, k := range keys {
		require.NoError(t, tree.Insert(p, []byte(k), uint64(i)))
	}

	got := collect(t, tree, p)
	require.Equal(t, []string{"alpha", "bravo", "charlie", "delta"}, got)
}

func TestSeekLowerBoundWorks(t *testing.T) {
	p := openTestPager(t)
	tree, err := Create(p)
	require.NoError(t, err)

	for i, k := range []string{"a", "c", "e", "g", "i"} {
		require.NoError(t, tree.Insert(p, []byte(k), uint64(i)))
	}

	cur, err := tree.CursorLowerBound(p, []byte("d"))
	require.NoError(t, err)
	ok, err := cur.IsValid()
	require.NoError(t, err)
	require.True(t, ok)
	k, err := cur.Key()
	require.NoError(t, err)
	require.Equal(t, "e", string(k))

	cur2, err := tree.CursorLowerBound(p, []byte("z"))
	require.NoError(t, err)
	ok2, err := cur2.IsValid()
	require.NoError(t, err)
	require.False(t, ok2)
}

func TestInsertTriggersLeafAndInternalSplits(t *testing.T) {
	p := openTestPager(t)
	tree, err := Create(p)
	require.NoError(t, err)

	// Long keys keep leaf fan-out low, so 2000 inserts produce enough leaves
	// to split the internal level as well.
	const n = 2000
	pad := strings.Repeat("x", 200)
	rng := rand.New(rand.NewSource(1))
	perm := rng.Perm(n)
	for _, i := range perm {
		key := fmt.Sprintf("key-%06d-%s", i, pad)
		require.NoError(t, tree.Insert(p, []byte(key), uint64(i)))
	}

	got := collect(t, tree, p)
	require.Len(t, got, n)
	for i := 0; i < n; i++ {
		require.Equal(t, fmt.Sprintf("key-%06d-%s", i, pad), got[i])
	}
}

func TestDeleteExactRebuildRemovesOnlyMatchingTuple(t *testing.T) {
	p := openTestPager(t)
	tree, err := Create(p)
	require.NoError(t, err)

	require.NoError(t, tree.Insert(p, []byte("dup"), 1))
	require.NoError(t, tree.Insert(p, []byte("dup"), 2))
	require.NoError(t, tree.Insert(p, []byte("other"), 3))

	ok, err := tree.DeleteExactRebuild(p, []byte("dup"), 1)
	require.NoError(t, err)
	require.True(t, ok)

	cur, err := tree.CursorLowerBound(p, nil)
	require.NoError(t, err)
	var remaining []uint64
	for {
		valid, err := cur.IsValid()
		require.NoError(t, err)
		if !valid {
			break
		}
		v, err := cur.Payload()
		require.NoError(t, err)
		remaining = append(remaining, v)
		more, err := cur.Advance()
		require.NoError(t, err)
		if !more {
			break
		}
	}
	require.ElementsMatch(t, []uint64{2, 3}, remaining)
}

func TestDeleteExactRebuildMissingTupleReturnsFalse(t *testing.T) {
	p := openTestPager(t)
	tree, err := Create(p)
	require.NoError(t, err)
	require.NoError(t, tree.Insert(p, []byte("a"), 1))

	ok, err := tree.DeleteExactRebuild(p, []byte("a"), 99)
	require.NoError(t, err)
	require.False(t, ok)

	ok2, err := tree.DeleteExactRebuild(p, []byte("missing"), 1)
	require.NoError(t, err)
	require.False(t, ok2)
}

func TestDeleteExactRebuildAcrossManyEntriesPreservesOrder(t *testing.T) {
	p := openTestPager(t)
	tree, err := Create(p)
	require.NoError(t, err)

	const n = 500
	for i := 0; i < n; i++ {
		require.NoError(t, tree.Insert(p, []byte(fmt.Sprintf("key-%04d", i)), uint64(i)))
	}
	ok, err := tree.DeleteExactRebuild(p, []byte("key-0250"), 250)
	require.NoError(t, err)
	require.True(t, ok)

	got := collect(t, tree, p)
	require.Len(t, got, n-1)
	require.NotContains(t, got, "key-0250")
	for i := 1; i < len(got); i++ {
		require.Less(t, got[i-1], got[i])
	}
}
