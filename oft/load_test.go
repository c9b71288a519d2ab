package oft

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cubefs/openfiletable/omap"
	"github.com/cubefs/openfiletable/proto"
)

func TestLoadPaginated(t *testing.T) {
	env := newTestEnv(t, nil)
	root := env.newDir(0x1, nil, "")
	env.table.AddInode(env.newFile(0x10, root, "a"))
	env.table.AddInode(env.newFile(0x11, root, "b"))
	env.commit(t, 5)

	env.store.PageSize = 1

	env2 := newTestEnv(t, &Config{Store: env.store})
	env2.load(t)

	require.Len(t, env2.table.loadedAnchorMap, 3)
	require.EqualValues(t, 5, env2.table.committedLogSeq)
	require.EqualValues(t, 5, env2.table.committingLogSeq)
	require.False(t, env2.table.clearOnCommit)

	fa := env2.table.loadedAnchorMap[0x10]
	require.NotNil(t, fa)
	require.Equal(t, proto.Ino(0x1), fa.Dirino)
	require.Equal(t, "a", fa.DName)
	require.Equal(t, proto.RankNone, fa.Auth)
}

func TestLoadAbsentObject(t *testing.T) {
	env := newTestEnv(t, nil)
	env.load(t)

	// nothing ever written: no header to decode, degrade to empty
	require.Empty(t, env.table.loadedAnchorMap)
	require.True(t, env.table.clearOnCommit)
}

func TestLoadIncompleteHeader(t *testing.T) {
	store := omap.NewMemStore()
	store.SeedHeader("mds0_openfiles", encodeSeq(0))
	store.SeedValue("mds0_openfiles", "10", []byte("junk"))

	env := newTestEnv(t, &Config{Store: store})
	env.load(t)

	require.Empty(t, env.table.loadedAnchorMap)
	require.True(t, env.table.clearOnCommit)
	require.EqualValues(t, 0, env.table.committedLogSeq)
}

func TestLoadCorruptValue(t *testing.T) {
	store := omap.NewMemStore()
	store.SeedHeader("mds0_openfiles", encodeSeq(9))
	store.SeedValue("mds0_openfiles", "10", []byte{0xde, 0xad})

	env := newTestEnv(t, &Config{Store: store})
	env.load(t)

	require.Empty(t, env.table.loadedAnchorMap)
	require.True(t, env.table.clearOnCommit)
}

func TestLoadCorruptKey(t *testing.T) {
	store := omap.NewMemStore()
	store.SeedHeader("mds0_openfiles", encodeSeq(9))

	a := &Anchor{Ino: 0x10, Dirino: 0x1, DName: "a", DType: proto.DTypeReg}
	bl, err := a.Encode()
	require.NoError(t, err)
	store.SeedValue("mds0_openfiles", "zz", bl)

	env := newTestEnv(t, &Config{Store: store})
	env.load(t)

	require.Empty(t, env.table.loadedAnchorMap)
	require.True(t, env.table.clearOnCommit)
}

func TestLoadInoMismatch(t *testing.T) {
	store := omap.NewMemStore()
	store.SeedHeader("mds0_openfiles", encodeSeq(9))

	a := &Anchor{Ino: 0x10, Dirino: 0x1, DName: "a", DType: proto.DTypeReg}
	bl, err := a.Encode()
	require.NoError(t, err)
	store.SeedValue("mds0_openfiles", "11", bl)

	env := newTestEnv(t, &Config{Store: store})
	env.load(t)

	require.Empty(t, env.table.loadedAnchorMap)
	require.True(t, env.table.clearOnCommit)
}

func TestLoadTwicePanics(t *testing.T) {
	env := newTestEnv(t, nil)
	env.load(t)
	require.Panics(t, func() {
		env.table.Load(nil)
	})
}
