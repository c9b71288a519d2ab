package oft

import (
	"context"
	"fmt"

	"github.com/cubefs/cubefs/blobstore/common/trace"

	"github.com/cubefs/openfiletable/metrics"
	"github.com/cubefs/openfiletable/proto"
)

// PrefetchInodes drives the inode cache to materialize every loaded
// anchor, directories first so that parents exist before their
// children. Returns whether prefetch already reached DONE by the time
// the call returns.
func (t *OpenFileTable) PrefetchInodes() bool {
	t.mu.Lock()
	if t.prefetch != prefetchIdle {
		t.mu.Unlock()
		panic("openfiletable: prefetch already started")
	}
	t.prefetch = prefetchDirInodes

	if !t.loadDone {
		t.waitingForLoad = append(t.waitingForLoad, func() {
			t.prefetchPhase()
		})
		t.mu.Unlock()
		return false
	}
	t.mu.Unlock()

	t.prefetchPhase()
	return t.IsPrefetched()
}

// prefetchPhase enumerates the loaded map for the current phase. The
// opening counter starts at one and a matching synthetic completion is
// delivered after the enumeration, so a burst of synchronous open
// completions cannot advance the phase early.
func (t *OpenFileTable) prefetchPhase() {
	span, ctx := trace.StartSpanFromContext(context.Background(), "oft-prefetch")

	t.mu.Lock()
	if t.numOpeningInodes != 0 {
		panic(fmt.Sprintf("openfiletable: prefetch phase with %d opens in flight", t.numOpeningInodes))
	}
	t.numOpeningInodes = 1

	var pool int64
	switch t.prefetch {
	case prefetchDirInodes:
		pool = t.pools.MetadataPool()
	case prefetchFileInodes:
		pool = t.pools.FirstDataPool()
	default:
		panic(fmt.Sprintf("openfiletable: prefetch phase in state %d", t.prefetch))
	}
	span.Debugf("prefetch state %d", t.prefetch)

	type open struct {
		ino  proto.Ino
		pool int64
	}
	var opens []open

	for ino, anchor := range t.loadedAnchorMap {
		if anchor.DType.IsDir() {
			if t.prefetch != prefetchDirInodes {
				continue
			}
			if proto.IsMDSDir(ino) {
				anchor.Auth = proto.MDSDirOwner(ino)
				continue
			}
			if proto.IsStray(ino) {
				anchor.Auth = proto.StrayOwner(ino)
				continue
			}
		} else {
			if t.prefetch != prefetchFileInodes {
				continue
			}
			// load every file inode so recovery can identify files
			// needing recovery
		}
		if t.cache.GetInode(ino) != nil {
			continue
		}

		t.numOpeningInodes++
		opens = append(opens, open{ino: ino, pool: pool})
	}
	t.mu.Unlock()

	for _, o := range opens {
		ino := o.ino
		metrics.PrefetchOpensTotal.Inc()
		t.cache.OpenIno(ctx, ino, o.pool, func(rank proto.Rank, err error) {
			t.finisher.Run(func() {
				t.openInoFinish(ino, rank, err)
			})
		})
	}

	// synthetic completion matching the counter's initial value
	t.openInoFinish(0, t.rank, nil)
}

// openInoFinish consumes one open completion, real or synthetic. When
// the counter drains it advances the phase machine.
func (t *OpenFileTable) openInoFinish(ino proto.Ino, rank proto.Rank, err error) {
	t.mu.Lock()

	if t.prefetch == prefetchDirInodes && err == nil && ino != 0 {
		anchor, ok := t.loadedAnchorMap[ino]
		if !ok {
			panic(fmt.Sprintf("openfiletable: opened ino %s missing from loaded map", ino))
		}
		anchor.Auth = rank
	}

	if ino != 0 && (err != nil || rank != t.rank) {
		t.cache.RejoinPrefetchInoFinish(ino, rank)
	}

	t.numOpeningInodes--
	if t.numOpeningInodes != 0 {
		t.mu.Unlock()
		return
	}

	switch t.prefetch {
	case prefetchDirInodes:
		t.prefetch = prefetchFileInodes
		t.mu.Unlock()
		t.prefetchPhase()
	case prefetchFileInodes:
		t.prefetch = prefetchDone
		waiters := t.waitingForPrefetch
		t.waitingForPrefetch = nil
		t.mu.Unlock()
		for _, fin := range waiters {
			fin()
		}
	default:
		panic(fmt.Sprintf("openfiletable: open finished in prefetch state %d", t.prefetch))
	}
}
