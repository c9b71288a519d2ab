package omap

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cubefs/openfiletable/util"
)

func newTestKVStore(t *testing.T) *KVStore {
	path, err := util.GenTmpPath()
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(path) })

	s, err := NewKVStore(context.Background(), &Config{Path: path})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestKVStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestKVStore(t)

	err := s.Mutate(ctx, "mds0_openfiles", &Mutation{
		SetHeader: true,
		Header:    []byte{5, 0, 0, 0, 0, 0, 0, 0},
		ToSet:     map[string][]byte{"1": []byte("root"), "10": []byte("file")},
	})
	require.NoError(t, err)

	header, err := s.GetHeader(ctx, "mds0_openfiles")
	require.NoError(t, err)
	require.Equal(t, []byte{5, 0, 0, 0, 0, 0, 0, 0}, header)

	vals, more, err := s.GetVals(ctx, "mds0_openfiles", "", ^uint64(0))
	require.NoError(t, err)
	require.False(t, more)
	require.Equal(t, []KV{
		{Key: "1", Value: []byte("root")},
		{Key: "10", Value: []byte("file")},
	}, vals)

	// objects do not leak into each other
	header, err = s.GetHeader(ctx, "mds1_openfiles")
	require.NoError(t, err)
	require.Nil(t, header)
	vals, _, err = s.GetVals(ctx, "mds1_openfiles", "", ^uint64(0))
	require.NoError(t, err)
	require.Empty(t, vals)
}

func TestKVStoreStartAfter(t *testing.T) {
	ctx := context.Background()
	s := newTestKVStore(t)

	require.NoError(t, s.Mutate(ctx, "obj", &Mutation{
		ToSet: map[string][]byte{"a": []byte("1"), "b": []byte("2"), "c": []byte("3")},
	}))

	vals, more, err := s.GetVals(ctx, "obj", "a", ^uint64(0))
	require.NoError(t, err)
	require.False(t, more)
	require.Equal(t, []KV{
		{Key: "b", Value: []byte("2")},
		{Key: "c", Value: []byte("3")},
	}, vals)
}

func TestKVStoreClearAndRemove(t *testing.T) {
	ctx := context.Background()
	s := newTestKVStore(t)

	require.NoError(t, s.Mutate(ctx, "obj", &Mutation{
		SetHeader: true,
		Header:    []byte{1},
		ToSet:     map[string][]byte{"a": []byte("1"), "b": []byte("2")},
	}))

	require.NoError(t, s.Mutate(ctx, "obj", &Mutation{
		Clear: true,
		ToSet: map[string][]byte{"c": []byte("3")},
	}))

	vals, _, err := s.GetVals(ctx, "obj", "", ^uint64(0))
	require.NoError(t, err)
	require.Equal(t, []KV{{Key: "c", Value: []byte("3")}}, vals)

	// header survives a clear
	header, err := s.GetHeader(ctx, "obj")
	require.NoError(t, err)
	require.Equal(t, []byte{1}, header)

	require.NoError(t, s.Mutate(ctx, "obj", &Mutation{ToRemove: []string{"c"}}))
	vals, _, err = s.GetVals(ctx, "obj", "", ^uint64(0))
	require.NoError(t, err)
	require.Empty(t, vals)
}
