package oft

import (
	"context"
	"strconv"

	"github.com/cubefs/cubefs/blobstore/common/trace"

	apierrors "github.com/cubefs/openfiletable/errors"
	"github.com/cubefs/openfiletable/metrics"
	"github.com/cubefs/openfiletable/omap"
	"github.com/cubefs/openfiletable/proto"
)

// Load reads the backing object into the loaded anchor map. It runs at
// most once in the table's lifetime; fin joins the load waiter list.
// Read or decode failures degrade to an empty loaded map plus
// clear-on-commit, never to a refused load.
func (t *OpenFileTable) Load(fin func()) {
	span, ctx := trace.StartSpanFromContext(context.Background(), "oft-load")
	span.Debugf("load object %s", t.objectName())

	t.mu.Lock()
	if t.loadStarted {
		t.mu.Unlock()
		panic(apierrors.ErrLoadAlreadyStarted)
	}
	t.loadStarted = true
	t.loadedAnchorMap = make(map[proto.Ino]*Anchor)
	if fin != nil {
		t.waitingForLoad = append(t.waitingForLoad, fin)
	}
	t.mu.Unlock()

	t.readPage(ctx, "", true)
}

func (t *OpenFileTable) readPage(ctx context.Context, startAfter string, first bool) {
	t.submitIO(func() {
		oid := t.objectName()

		var header []byte
		var headerErr error
		if first {
			header, headerErr = t.store.GetHeader(ctx, oid)
		}
		vals, more, valsErr := t.store.GetVals(ctx, oid, startAfter, ^uint64(0))

		t.finisher.Run(func() {
			t.loadFinish(ctx, first, headerErr, valsErr, header, vals, more)
		})
	})
}

func (t *OpenFileTable) loadFinish(ctx context.Context, first bool, headerErr, valsErr error, header []byte, vals []omap.KV, more bool) {
	span := trace.SpanFromContextSafe(ctx)

	t.mu.Lock()

	if headerErr != nil || valsErr != nil {
		span.Errorf("load read failed: header %v, vals %v", headerErr, valsErr)
		t.clearOnCommit = true
		t.loadedAnchorMap = make(map[proto.Ino]*Anchor)
		t.finishLoadLocked()
		return
	}

	if first {
		seq, ok := decodeSeq(header)
		if !ok {
			span.Errorf("load: corrupt header (%d bytes)", len(header))
			t.clearOnCommit = true
			t.loadedAnchorMap = make(map[proto.Ino]*Anchor)
			t.finishLoadLocked()
			return
		}
		t.committedLogSeq = seq
		t.committingLogSeq = seq
		if seq == 0 {
			// a commit died between its sub-operations; every value
			// is suspect
			span.Warnf("load: incomplete values")
			t.clearOnCommit = true
			t.finishLoadLocked()
			return
		}
	}

	for _, kv := range vals {
		ino, err := strconv.ParseUint(kv.Key, 16, 64)
		if err != nil {
			span.Errorf("load: corrupt key %q: %v", kv.Key, err)
			t.corruptLoadLocked()
			return
		}
		anchor, err := decodeAnchor(kv.Value)
		if err != nil {
			span.Errorf("load: corrupt value at key %q: %v", kv.Key, err)
			t.corruptLoadLocked()
			return
		}
		if anchor.Ino != proto.Ino(ino) {
			span.Errorf("load: ino mismatch at key %q: %v", kv.Key, apierrors.ErrInoMismatch)
			t.corruptLoadLocked()
			return
		}
		anchor.Auth = proto.RankNone
		t.loadedAnchorMap[anchor.Ino] = anchor
	}

	if more {
		lastKey := vals[len(vals)-1].Key
		span.Debugf("load: continue from %q", lastKey)
		t.mu.Unlock()
		t.readPage(ctx, lastKey, false)
		return
	}

	span.Debugf("load complete, %d anchors", len(t.loadedAnchorMap))
	t.finishLoadLocked()
}

func (t *OpenFileTable) corruptLoadLocked() {
	t.clearOnCommit = true
	t.loadedAnchorMap = make(map[proto.Ino]*Anchor)
	t.finishLoadLocked()
}

// finishLoadLocked marks load done and fires the waiter fan-out. Called
// with mu held; releases it.
func (t *OpenFileTable) finishLoadLocked() {
	t.loadDone = true
	waiters := t.waitingForLoad
	t.waitingForLoad = nil
	metrics.LoadedAnchors.Set(float64(len(t.loadedAnchorMap)))
	t.mu.Unlock()

	for _, fin := range waiters {
		fin()
	}
}
