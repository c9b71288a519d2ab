// Copyright 2023 The CubeFS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package kvstore

import (
	"context"
	"errors"
	"os"

	rdb "github.com/tecbot/gorocksdb"
)

type (
	rocksdb struct {
		path     string
		db       *rdb.DB
		opt      *rdb.Options
		readOpt  *rdb.ReadOptions
		writeOpt *rdb.WriteOptions
	}
	listReader struct {
		iterator *rdb.Iterator
		prefix   []byte
		isFirst  bool
	}
	writeBatch struct {
		batch *rdb.WriteBatch
	}
)

func newRocksdb(ctx context.Context, path string, option *Option) (Store, error) {
	if path == "" {
		return nil, errors.New("path is empty")
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, err
	}

	dbOpt := genRocksdbOpts(option)
	db, err := rdb.OpenDb(dbOpt, path)
	if err != nil {
		return nil, err
	}

	wo := rdb.NewDefaultWriteOptions()
	if option.Sync {
		wo.SetSync(option.Sync)
	}
	ro := rdb.NewDefaultReadOptions()

	ins := &rocksdb{
		db:       db,
		path:     path,
		opt:      dbOpt,
		readOpt:  ro,
		writeOpt: wo,
	}
	return ins, nil
}

func (s *rocksdb) GetRaw(ctx context.Context, key []byte) ([]byte, error) {
	value, err := s.db.GetBytes(s.readOpt, key)
	if err != nil {
		return nil, err
	}
	if value == nil {
		return nil, ErrNotFound
	}
	return value, nil
}

func (s *rocksdb) SetRaw(ctx context.Context, key []byte, value []byte) error {
	return s.db.Put(s.writeOpt, key, value)
}

func (s *rocksdb) Delete(ctx context.Context, key []byte) error {
	return s.db.Delete(s.writeOpt, key)
}

func (s *rocksdb) List(ctx context.Context, prefix []byte, marker []byte) ListReader {
	it := s.db.NewIterator(s.readOpt)
	if marker != nil {
		it.Seek(marker)
	} else {
		it.Seek(prefix)
	}
	return &listReader{
		iterator: it,
		prefix:   prefix,
		isFirst:  true,
	}
}

func (s *rocksdb) Write(ctx context.Context, batch WriteBatch) error {
	return s.db.Write(s.writeOpt, batch.(*writeBatch).batch)
}

func (s *rocksdb) NewWriteBatch() WriteBatch {
	return &writeBatch{batch: rdb.NewWriteBatch()}
}

func (s *rocksdb) Close() {
	s.db.Close()
	s.readOpt.Destroy()
	s.writeOpt.Destroy()
	s.opt.Destroy()
}

func (lr *listReader) ReadNextCopy() (key []byte, value []byte, err error) {
	if !lr.isFirst {
		lr.iterator.Next()
	}
	lr.isFirst = false

	if err = lr.iterator.Err(); err != nil {
		return nil, nil, err
	}
	if !lr.iterator.Valid() {
		return nil, nil, nil
	}
	if lr.prefix != nil && !lr.iterator.ValidForPrefix(lr.prefix) {
		return nil, nil, nil
	}

	kg := lr.iterator.Key()
	vg := lr.iterator.Value()
	key = make([]byte, len(kg.Data()))
	value = make([]byte, len(vg.Data()))
	copy(key, kg.Data())
	copy(value, vg.Data())
	kg.Free()
	vg.Free()
	return
}

func (lr *listReader) Close() {
	lr.iterator.Close()
}

func (w *writeBatch) Put(key, value []byte) {
	w.batch.Put(key, value)
}

func (w *writeBatch) Delete(key []byte) {
	w.batch.Delete(key)
}

func (w *writeBatch) DeleteRange(startKey, endKey []byte) {
	w.batch.DeleteRange(startKey, endKey)
}

func (w *writeBatch) Close() {
	w.batch.Destroy()
}

func genRocksdbOpts(opt *Option) *rdb.Options {
	dbOpt := rdb.NewDefaultOptions()
	dbOpt.SetCreateIfMissing(true)

	blockOpt := rdb.NewDefaultBlockBasedTableOptions()
	if opt.BlockSize > 0 {
		blockOpt.SetBlockSize(opt.BlockSize)
	}
	if opt.BlockCache > 0 {
		blockOpt.SetBlockCache(rdb.NewLRUCache(opt.BlockCache))
	}
	dbOpt.SetBlockBasedTableFactory(blockOpt)

	if opt.MaxOpenFiles > 0 {
		dbOpt.SetMaxOpenFiles(opt.MaxOpenFiles)
	}
	if opt.MaxWriteBufferNumber > 0 {
		dbOpt.SetMaxWriteBufferNumber(opt.MaxWriteBufferNumber)
	}
	if opt.WriteBufferSize > 0 {
		dbOpt.SetWriteBufferSize(opt.WriteBufferSize)
	}
	return dbOpt
}
