package oft

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/cubefs/cubefs/blobstore/common/trace"

	"github.com/cubefs/openfiletable/metrics"
	"github.com/cubefs/openfiletable/omap"
	"github.com/cubefs/openfiletable/proto"
)

// length-prefix overhead per encoded key or value
const lenPrefixSize = 4

func encodeSeq(seq uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, seq)
	return buf
}

func decodeSeq(data []byte) (uint64, bool) {
	if len(data) < 8 {
		return 0, false
	}
	return binary.LittleEndian.Uint64(data), true
}

// Commit snapshots the current anchor state onto the backing object.
// The dirty set is captured and cleared before returning, so mutations
// racing with the I/O land in the next commit. fin fires after every
// sub-operation has been acknowledged.
//
// The commit marker protocol: with more than one sub-operation the
// first one rewrites the header to 0, and only the final one writes
// log_seq. A loader seeing header 0 discards all values, which turns a
// mid-commit crash into a clean empty load.
func (t *OpenFileTable) Commit(fin func(error), logSeq uint64, prio int) {
	span, ctx := trace.StartSpanFromContext(context.Background(), "oft-commit")
	span.Debugf("commit log_seq %d", logSeq)

	t.mu.Lock()

	if logSeq < t.committingLogSeq {
		panic(fmt.Sprintf("openfiletable: commit seq %d below committing seq %d", logSeq, t.committingLogSeq))
	}
	t.committingLogSeq = logSeq

	oid := t.objectName()
	var muts []*omap.Mutation

	first := true
	writeSize := 0
	toUpdate := make(map[string][]byte)
	var toRemove []string

	flush := func(last bool) {
		m := &omap.Mutation{Priority: prio}

		if t.clearOnCommit {
			m.Clear = true
			t.clearOnCommit = false
		}

		if last {
			m.SetHeader = true
			m.Header = encodeSeq(logSeq)
		} else if first {
			// make incomplete
			m.SetHeader = true
			m.Header = encodeSeq(0)
		}

		if len(toUpdate) > 0 {
			m.ToSet = toUpdate
		}
		if len(toRemove) > 0 {
			m.ToRemove = toRemove
		}
		muts = append(muts, m)

		first = false
		writeSize = 0
		toUpdate = make(map[string][]byte)
		toRemove = nil
	}

	firstCommit := len(t.loadedAnchorMap) > 0

	for ino := range t.dirtyItems {
		a := t.anchorMap[ino]
		if firstCommit {
			if la, ok := t.loadedAnchorMap[ino]; ok {
				same := a != nil && a.persistedEquals(la)
				delete(t.loadedAnchorMap, ino)
				if same {
					continue
				}
			}
		}

		key := ino.String()
		writeSize += len(key) + lenPrefixSize

		if a != nil {
			bl, err := a.Encode()
			if err != nil {
				panic(fmt.Sprintf("openfiletable: encode anchor %s: %v", ino, err))
			}
			writeSize += len(bl) + lenPrefixSize
			toUpdate[key] = bl
		} else {
			toRemove = append(toRemove, key)
		}

		if writeSize >= t.maxWriteSize {
			flush(false)
		}
	}
	t.dirtyItems = make(map[proto.Ino]dirtyFlags)

	if firstCommit {
		for ino := range t.loadedAnchorMap {
			key := ino.String()
			writeSize += len(key) + lenPrefixSize
			toRemove = append(toRemove, key)

			if writeSize >= t.maxWriteSize {
				flush(false)
			}
		}
		t.loadedAnchorMap = nil
	}

	flush(true)

	t.numPendingCommit++
	t.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(len(muts))
	errs := make([]error, len(muts))

	t.submitIO(func() {
		for i, m := range muts {
			errs[i] = t.store.Mutate(ctx, oid, m)
			for k, v := range m.ToSet {
				metrics.CommitBytes.Add(float64(len(k) + len(v)))
			}
			wg.Done()
		}
	})

	go func() {
		wg.Wait()
		var err error
		for _, e := range errs {
			if e != nil {
				err = e
				break
			}
		}
		t.finisher.Run(func() {
			t.commitFinish(err, logSeq, fin)
		})
	}()
}

func (t *OpenFileTable) commitFinish(err error, logSeq uint64, fin func(error)) {
	if err != nil {
		t.onWriteError(err)
		return
	}

	t.mu.Lock()
	if logSeq > t.committingLogSeq {
		panic(fmt.Sprintf("openfiletable: finished seq %d above committing seq %d", logSeq, t.committingLogSeq))
	}
	if logSeq > t.committedLogSeq {
		t.committedLogSeq = logSeq
	}
	t.numPendingCommit--
	t.mu.Unlock()

	metrics.CommitsTotal.Inc()

	if fin != nil {
		fin(nil)
	}
}
