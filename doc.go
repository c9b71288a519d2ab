/*
 *
 * Copyright 2023 CubeFS authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

/*

# OpenFileTable: the per-rank open-inode index of a metadata server

## Why a durable open file table?

After a crash or failover, a metadata server has to rediscover which
inodes carried client state without walking the whole hierarchy. The
open file table keeps the minimal breadcrumb per open inode - parent
directory ino plus entry name - in a single per-rank object, so that
recovery can reconstruct paths and hint authority.

## Data Model

* Anchor, ino --> <parent dirino, entry name, file type, refcount>

* The anchor map forms a rooted forest matching the directory tree of
  tracked inodes; every ancestor of a tracked inode is pinned through
  refcounts.

* One backing object per rank, named mdsN_openfiles, holding an
  unordered key/value map (hex ino --> encoded anchor) plus a header
  carrying the commit marker.

## Architecture

* oft - the table itself: ref engine, commit planner, loader and the
  two-phase prefetch driver

* omap - the backing-object abstraction, with an in-memory store and a
  rocksdb-backed store

* mdcache - the table's view of the inode cache

## Building Blocks

* Rocksdb
* Prometheus
* CBOR

*/

package openfiletable
