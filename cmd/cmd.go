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

package main

import (
	"context"
	"flag"
	"fmt"
	"strconv"

	"github.com/cubefs/cubefs/blobstore/common/config"
	"github.com/cubefs/cubefs/blobstore/util/errors"
	"github.com/cubefs/cubefs/blobstore/util/log"

	"github.com/cubefs/openfiletable/omap"
	"github.com/cubefs/openfiletable/proto"
)

// oftool inspects and repairs a rank's openfiles object in a local
// kvstore-backed omap store.

// Config service config
type Config struct {
	Store omap.Config `json:"store"`

	Rank     int32     `json:"rank"`
	LogLevel log.Level `json:"log_level"`
}

var markClear = flag.Bool("clear", false, "reset the object header to 0 so the next load discards all values")

func main() {
	config.Init("f", "", "oftool.json")

	cfg := &Config{}
	if err := config.Load(cfg); err != nil {
		log.Fatal(errors.Detail(err))
	}
	initConfig(cfg)
	log.SetOutputLevel(cfg.LogLevel)

	ctx := context.Background()
	store, err := omap.NewKVStore(ctx, &cfg.Store)
	if err != nil {
		log.Fatal(errors.Detail(err))
	}
	defer store.Close()

	oid := fmt.Sprintf("mds%d_openfiles", cfg.Rank)

	if *markClear {
		if err := store.Mutate(ctx, oid, &omap.Mutation{
			SetHeader: true,
			Header:    make([]byte, 8),
		}); err != nil {
			log.Fatal(errors.Detail(err))
		}
		log.Infof("%s: header reset, values will be discarded on next load", oid)
		return
	}

	dump(ctx, store, oid)
}

func dump(ctx context.Context, store *omap.KVStore, oid string) {
	header, err := store.GetHeader(ctx, oid)
	if err != nil {
		log.Fatal(errors.Detail(err))
	}
	if len(header) == 0 {
		log.Infof("%s: no header, object empty or absent", oid)
		return
	}
	seq := decodeHeader(header)
	log.Infof("%s: committed_log_seq %d", oid, seq)
	if seq == 0 {
		log.Warn("header is 0: last commit incomplete, values below are suspect")
	}

	startAfter := ""
	count := 0
	for {
		vals, more, err := store.GetVals(ctx, oid, startAfter, ^uint64(0))
		if err != nil {
			log.Fatal(errors.Detail(err))
		}
		for _, kv := range vals {
			ino, err := strconv.ParseUint(kv.Key, 16, 64)
			if err != nil {
				log.Warnf("corrupt key %q", kv.Key)
				continue
			}
			log.Infof("  ino %s (%d bytes)", proto.Ino(ino), len(kv.Value))
			count++
		}
		if !more {
			break
		}
		startAfter = vals[len(vals)-1].Key
	}
	log.Infof("%s: %d anchors", oid, count)
}

func decodeHeader(header []byte) uint64 {
	if len(header) < 8 {
		log.Fatalf("corrupt header: %d bytes", len(header))
	}
	var seq uint64
	for i := 7; i >= 0; i-- {
		seq = seq<<8 | uint64(header[i])
	}
	return seq
}

func initConfig(cfg *Config) {
	if cfg.Store.Path == "" {
		cfg.Store.Path = "./run/store"
	}
	if cfg.Rank < 0 {
		log.Fatalf("invalid rank %d", cfg.Rank)
	}
}
