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
)

const (
	RocksdbLsmKVType = LsmKVType("rocksdb")
)

var (
	ErrNotFound       = errors.New("key not found")
	ErrKVTypeNotFound = errors.New("kv type not found")
)

type (
	LsmKVType string

	Store interface {
		GetRaw(ctx context.Context, key []byte) (value []byte, err error)
		SetRaw(ctx context.Context, key []byte, value []byte) error
		Delete(ctx context.Context, key []byte) error
		// List returns a reader positioned at the first key >= marker
		// that carries the prefix; a nil marker starts at the prefix
		// itself. The reader yields keys in ascending order.
		List(ctx context.Context, prefix []byte, marker []byte) ListReader
		Write(ctx context.Context, batch WriteBatch) error
		NewWriteBatch() WriteBatch
		Close()
	}
	ListReader interface {
		// ReadNextCopy returns the next key/value pair, copied out of
		// the iterator. A nil key signals the end of the range.
		ReadNextCopy() (key []byte, value []byte, err error)
		Close()
	}
	WriteBatch interface {
		Put(key, value []byte)
		Delete(key []byte)
		DeleteRange(startKey, endKey []byte)
		Close()
	}

	Option struct {
		Sync                 bool `json:"sync"`
		CreateIfMissing      bool `json:"create_if_missing"`
		BlockSize            int  `json:"block_size"`
		BlockCache           uint64
		MaxOpenFiles         int `json:"max_open_files"`
		MaxWriteBufferNumber int `json:"max_write_buffer_number"`
		WriteBufferSize      int `json:"write_buffer_size"`
	}
)

func NewKVStore(ctx context.Context, path string, lsmType LsmKVType, option *Option) (Store, error) {
	switch lsmType {
	case RocksdbLsmKVType:
		return newRocksdb(ctx, path, option)
	default:
		return nil, ErrKVTypeNotFound
	}
}
