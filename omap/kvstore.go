package omap

import (
	"context"

	"github.com/cubefs/cubefs/blobstore/util/errors"
	"github.com/cubefs/openfiletable/common/kvstore"
	"github.com/cubefs/openfiletable/util"
)

// Key layout inside the kv store:
//
//	<oid>/h          header bytes
//	<oid>/k/<key>    omap values
//
// '0' is the byte after '/', so ["<oid>/k/", "<oid>/k0") spans exactly
// the value keyspace of one object.
const (
	headerSuffix  = "/h"
	valPrefix     = "/k/"
	valPrefixEnd  = "/k0"
	kvDefaultPage = 1 << 10
)

type Config struct {
	Path     string         `json:"path"`
	KVOption kvstore.Option `json:"kv_option"`
}

// KVStore persists objects in a local RocksDB instance, one writer per
// node. It backs the open file table where no distributed object store
// is deployed.
type KVStore struct {
	kv kvstore.Store
}

func NewKVStore(ctx context.Context, cfg *Config) (*KVStore, error) {
	kv, err := kvstore.NewKVStore(ctx, cfg.Path, kvstore.RocksdbLsmKVType, &cfg.KVOption)
	if err != nil {
		return nil, errors.Info(err, "open kvstore failed")
	}
	return &KVStore{kv: kv}, nil
}

// NewKVStoreOn wraps an already-open kv store; the caller keeps
// ownership and closes it.
func NewKVStoreOn(kv kvstore.Store) *KVStore {
	return &KVStore{kv: kv}
}

func (s *KVStore) Mutate(ctx context.Context, oid string, m *Mutation) error {
	batch := s.kv.NewWriteBatch()
	defer batch.Close()

	if m.Clear {
		batch.DeleteRange(util.StringsToBytes(oid+valPrefix), util.StringsToBytes(oid+valPrefixEnd))
	}
	if m.SetHeader {
		batch.Put(util.StringsToBytes(oid+headerSuffix), m.Header)
	}
	for k, v := range m.ToSet {
		batch.Put(util.StringsToBytes(oid+valPrefix+k), v)
	}
	for _, k := range m.ToRemove {
		batch.Delete(util.StringsToBytes(oid + valPrefix + k))
	}
	return s.kv.Write(ctx, batch)
}

func (s *KVStore) GetHeader(ctx context.Context, oid string) ([]byte, error) {
	value, err := s.kv.GetRaw(ctx, util.StringsToBytes(oid+headerSuffix))
	if err == kvstore.ErrNotFound {
		return nil, nil
	}
	return value, err
}

func (s *KVStore) GetVals(ctx context.Context, oid string, startAfter string, max uint64) ([]KV, bool, error) {
	prefix := oid + valPrefix

	var marker []byte
	if startAfter != "" {
		// smallest key strictly greater than startAfter
		marker = util.StringsToBytes(prefix + startAfter + "\x00")
	}

	limit := uint64(kvDefaultPage)
	if max < limit {
		limit = max
	}

	lr := s.kv.List(ctx, util.StringsToBytes(prefix), marker)
	defer lr.Close()

	ret := make([]KV, 0, 16)
	for {
		key, value, err := lr.ReadNextCopy()
		if err != nil {
			return nil, false, errors.Info(err, "list omap vals failed")
		}
		if key == nil {
			return ret, false, nil
		}
		if uint64(len(ret)) >= limit {
			return ret, true, nil
		}
		ret = append(ret, KV{Key: string(key[len(prefix):]), Value: value})
	}
}

func (s *KVStore) Close() {
	s.kv.Close()
}
