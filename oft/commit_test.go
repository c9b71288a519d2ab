package oft

import (
	"encoding/binary"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cubefs/openfiletable/omap"
	"github.com/cubefs/openfiletable/proto"
)

func headerSeq(t *testing.T, header []byte) uint64 {
	require.Len(t, header, 8)
	return binary.LittleEndian.Uint64(header)
}

// recordMutations hooks the store to capture every sub-operation in
// application order.
func recordMutations(store *omap.MemStore) *[]*omap.Mutation {
	var mu sync.Mutex
	muts := &[]*omap.Mutation{}
	store.MutateHook = func(oid string, m *omap.Mutation) error {
		mu.Lock()
		*muts = append(*muts, m)
		mu.Unlock()
		return nil
	}
	return muts
}

func TestCommitPersistsAnchors(t *testing.T) {
	env := newTestEnv(t, nil)

	root := env.newDir(0x1, nil, "")
	file := env.newFile(0x10, root, "a")
	env.table.AddInode(file)

	env.commit(t, 5)

	header, vals := env.store.Dump(env.table.objectName())
	require.EqualValues(t, 5, headerSeq(t, header))
	require.Len(t, vals, 2)

	fa, err := decodeAnchor(vals["10"])
	require.NoError(t, err)
	require.Equal(t, proto.Ino(0x10), fa.Ino)
	require.Equal(t, proto.Ino(0x1), fa.Dirino)
	require.Equal(t, "a", fa.DName)
	require.Equal(t, proto.DTypeReg, fa.DType)

	da, err := decodeAnchor(vals["1"])
	require.NoError(t, err)
	require.Equal(t, proto.Ino(0), da.Dirino)
	require.Equal(t, "", da.DName)

	require.EqualValues(t, 5, env.table.committedLogSeq)
	require.False(t, env.table.IsAnyCommitting())
	require.Empty(t, env.table.dirtyItems)
}

func TestCommitReloadCommitRemovesStaleKeys(t *testing.T) {
	env := newTestEnv(t, nil)
	root := env.newDir(0x1, nil, "")
	env.table.AddInode(env.newFile(0x10, root, "a"))
	env.commit(t, 5)

	// reboot with no live state
	env2 := newTestEnv(t, &Config{Store: env.store})
	env2.load(t)
	require.Len(t, env2.table.loadedAnchorMap, 2)
	require.EqualValues(t, 5, env2.table.committedLogSeq)

	env2.commit(t, 6)

	header, vals := env.store.Dump(env2.table.objectName())
	require.EqualValues(t, 6, headerSeq(t, header))
	require.Empty(t, vals)
	require.Nil(t, env2.table.loadedAnchorMap)
}

func TestFirstCommitDiffWritesNothing(t *testing.T) {
	env := newTestEnv(t, nil)
	root := env.newDir(0x1, nil, "")
	env.table.AddInode(env.newFile(0x10, root, "a"))
	env.commit(t, 5)

	// reboot, rebuild the identical live state, commit again
	env2 := newTestEnv(t, &Config{Store: env.store})
	root2 := env2.newDir(0x1, nil, "")
	env2.table.AddInode(env2.newFile(0x10, root2, "a"))
	env2.load(t)

	muts := recordMutations(env.store)
	env2.commit(t, 6)

	require.Len(t, *muts, 1)
	m := (*muts)[0]
	require.Empty(t, m.ToSet)
	require.Empty(t, m.ToRemove)
	require.False(t, m.Clear)
	require.True(t, m.SetHeader)
	require.EqualValues(t, 6, headerSeq(t, m.Header))
}

func TestEmptyCommitStillAdvances(t *testing.T) {
	env := newTestEnv(t, nil)

	env.commit(t, 3)

	header, vals := env.store.Dump(env.table.objectName())
	require.EqualValues(t, 3, headerSeq(t, header))
	require.Empty(t, vals)
	require.EqualValues(t, 3, env.table.committedLogSeq)
}

func TestCommitBatching(t *testing.T) {
	env := newTestEnv(t, &Config{MaxWriteSize: 1})
	muts := recordMutations(env.store)

	root := env.newDir(0x1, nil, "")
	for i := 0; i < 4; i++ {
		env.table.AddInode(env.newFile(proto.Ino(0x10+i), root, string(rune('a'+i))))
	}
	env.commit(t, 5)

	// every dirty item flushes its own sub-op, the header lands alone
	// in the final one
	require.GreaterOrEqual(t, len(*muts), 2)

	firstM := (*muts)[0]
	require.True(t, firstM.SetHeader)
	require.EqualValues(t, 0, headerSeq(t, firstM.Header))

	lastM := (*muts)[len(*muts)-1]
	require.True(t, lastM.SetHeader)
	require.EqualValues(t, 5, headerSeq(t, lastM.Header))
	require.Empty(t, lastM.ToSet)
	require.Empty(t, lastM.ToRemove)

	for _, m := range (*muts)[1 : len(*muts)-1] {
		require.False(t, m.SetHeader)
	}

	header, vals := env.store.Dump(env.table.objectName())
	require.EqualValues(t, 5, headerSeq(t, header))
	require.Len(t, vals, 5)
}

func TestInterruptedCommitRecovery(t *testing.T) {
	store := omap.NewMemStore()
	oid := "mds0_openfiles"

	// a commit died after its first sub-op: header 0, partial keys
	store.SeedHeader(oid, encodeSeq(0))
	store.SeedValue(oid, "10", []byte("partial"))

	env := newTestEnv(t, &Config{Store: store})
	env.load(t)
	require.Empty(t, env.table.loadedAnchorMap)
	require.True(t, env.table.clearOnCommit)

	muts := recordMutations(store)
	root := env.newDir(0x1, nil, "")
	env.table.AddInode(env.newFile(0x20, root, "n"))
	env.commit(t, 7)

	require.True(t, (*muts)[0].Clear)
	for _, m := range (*muts)[1:] {
		require.False(t, m.Clear)
	}

	header, vals := store.Dump(oid)
	require.EqualValues(t, 7, headerSeq(t, header))
	require.Len(t, vals, 2)
	require.NotContains(t, vals, "10")
}

func TestClearOnCommitWithEmptyLoadedMap(t *testing.T) {
	store := omap.NewMemStore()
	oid := "mds0_openfiles"

	// valid header but garbage value: load degrades to empty map
	store.SeedHeader(oid, encodeSeq(5))
	store.SeedValue(oid, "10", []byte{0xff, 0x00})

	env := newTestEnv(t, &Config{Store: store})
	env.load(t)
	require.Empty(t, env.table.loadedAnchorMap)
	require.True(t, env.table.clearOnCommit)

	muts := recordMutations(store)
	env.commit(t, 6)

	// the clear is independent of the first-commit diff path
	require.Len(t, *muts, 1)
	require.True(t, (*muts)[0].Clear)

	_, vals := store.Dump(oid)
	require.Empty(t, vals)
}

func TestCommitWriteErrorHitsSink(t *testing.T) {
	errBoom := errors.New("boom")

	sink := make(chan error, 1)
	store := omap.NewMemStore()
	store.MutateHook = func(oid string, m *omap.Mutation) error {
		return errBoom
	}

	env := newTestEnv(t, &Config{
		Store: store,
		OnWriteError: func(err error) {
			sink <- err
		},
	})

	finCalled := false
	env.table.Commit(func(error) { finCalled = true }, 4, 0)

	require.ErrorIs(t, <-sink, errBoom)
	require.False(t, finCalled)
	// the failed commit never advances the committed counter
	require.EqualValues(t, 0, env.table.committedLogSeq)
}

func TestCommitSeqMonotonicMax(t *testing.T) {
	env := newTestEnv(t, nil)

	env.commit(t, 5)
	require.EqualValues(t, 5, env.table.committedLogSeq)

	// a stale completion must not move the counter backwards
	env.table.commitFinish(nil, 3, nil)
	require.EqualValues(t, 5, env.table.committedLogSeq)
}
