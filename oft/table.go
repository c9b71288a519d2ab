package oft

import (
	"fmt"
	"sync"

	"github.com/cubefs/cubefs/blobstore/util/taskpool"

	"github.com/cubefs/openfiletable/mdcache"
	"github.com/cubefs/openfiletable/omap"
	"github.com/cubefs/openfiletable/proto"
)

const (
	defaultMaxWriteSize = 1 << 20
	defaultFinisherSize = 4
	ioQueueDepth        = 256
)

// PoolLookup resolves the pools prefetch opens go against.
type PoolLookup interface {
	MetadataPool() int64
	FirstDataPool() int64
}

type Config struct {
	Rank proto.Rank `json:"rank"`
	// MaxWriteSize caps the encoded size of one commit sub-operation.
	MaxWriteSize int `json:"max_write_size"`
	// FinisherSize is the worker count of the completion pool.
	FinisherSize int `json:"finisher_size"`

	Store omap.Store
	Cache mdcache.Cache
	Pools PoolLookup
	// OnWriteError receives persistence failures; the owner is
	// expected to fail over. The table does not retry.
	OnWriteError func(error)
}

type dirtyFlags uint8

const dirtyNew dirtyFlags = 1

type prefetchState int

const (
	prefetchIdle prefetchState = iota
	prefetchDirInodes
	prefetchFileInodes
	prefetchDone
)

// OpenFileTable tracks which inodes are open on this rank and persists
// the minimal breadcrumbs needed to rediscover them after a failover.
//
// All in-memory state is guarded by mu. I/O runs on a single io loop
// goroutine, so mutations reach the backing object in submission
// order; completions are adapted back through the finisher pool and
// re-acquire mu before touching state.
type OpenFileTable struct {
	rank         proto.Rank
	store        omap.Store
	cache        mdcache.Cache
	pools        PoolLookup
	onWriteError func(error)
	maxWriteSize int

	ioQueue  chan func()
	finisher taskpool.TaskPool

	mu sync.Mutex

	anchorMap       map[proto.Ino]*Anchor
	dirtyItems      map[proto.Ino]dirtyFlags
	loadedAnchorMap map[proto.Ino]*Anchor

	committingLogSeq uint64
	committedLogSeq  uint64
	numPendingCommit int

	loadStarted    bool
	loadDone       bool
	clearOnCommit  bool
	waitingForLoad []func()

	prefetch           prefetchState
	numOpeningInodes   int
	waitingForPrefetch []func()
}

func New(cfg *Config) *OpenFileTable {
	initConfig(cfg)

	t := &OpenFileTable{
		rank:         cfg.Rank,
		store:        cfg.Store,
		cache:        cfg.Cache,
		pools:        cfg.Pools,
		onWriteError: cfg.OnWriteError,
		maxWriteSize: cfg.MaxWriteSize,

		ioQueue:  make(chan func(), ioQueueDepth),
		finisher: taskpool.New(cfg.FinisherSize, cfg.FinisherSize),

		anchorMap:  make(map[proto.Ino]*Anchor),
		dirtyItems: make(map[proto.Ino]dirtyFlags),
	}
	go t.ioLoop()
	return t
}

func initConfig(cfg *Config) {
	if cfg.MaxWriteSize <= 0 {
		cfg.MaxWriteSize = defaultMaxWriteSize
	}
	if cfg.FinisherSize <= 0 {
		cfg.FinisherSize = defaultFinisherSize
	}
	if cfg.OnWriteError == nil {
		cfg.OnWriteError = func(err error) {
			panic(fmt.Sprintf("openfiletable: unhandled write error: %v", err))
		}
	}
}

func (t *OpenFileTable) ioLoop() {
	for fn := range t.ioQueue {
		fn()
	}
}

func (t *OpenFileTable) submitIO(fn func()) {
	t.ioQueue <- fn
}

func (t *OpenFileTable) objectName() string {
	return fmt.Sprintf("mds%d_openfiles", t.rank)
}

// getRef climbs from in towards the root. The climb stops at the first
// pre-existing anchor: its refcount already carries the contribution of
// everything below it.
func (t *OpenFileTable) getRef(in mdcache.Inode) {
	for in != nil {
		ino := in.Ino()
		if a, ok := t.anchorMap[ino]; ok {
			if !in.IsTrackedByOFT() {
				panic(fmt.Sprintf("openfiletable: anchored ino %s not tracked", ino))
			}
			if a.Nref <= 0 {
				panic(fmt.Sprintf("openfiletable: anchor %s has nref %d", ino, a.Nref))
			}
			a.Nref++
			return
		}

		pin, name := in.Parent()
		var dirino proto.Ino
		if pin != nil {
			dirino = pin.Ino()
		}

		t.anchorMap[ino] = &Anchor{
			Ino:    ino,
			Dirino: dirino,
			DName:  name,
			DType:  in.DType(),
			Nref:   1,
			Auth:   proto.RankNone,
		}
		in.SetTrackedByOFT(true)

		if _, ok := t.dirtyItems[ino]; !ok {
			t.dirtyItems[ino] = dirtyNew
		}

		in = pin
	}
}

// putRef releases one pin from in, erasing anchors whose refcount
// drops to zero and propagating the release up the parent chain.
func (t *OpenFileTable) putRef(in mdcache.Inode) {
	for in != nil {
		ino := in.Ino()
		if !in.IsTrackedByOFT() {
			panic(fmt.Sprintf("openfiletable: releasing untracked ino %s", ino))
		}
		a, ok := t.anchorMap[ino]
		if !ok || a.Nref <= 0 {
			panic(fmt.Sprintf("openfiletable: releasing ino %s without valid anchor", ino))
		}

		if a.Nref > 1 {
			a.Nref--
			return
		}

		pin, name := in.Parent()
		if pin != nil {
			if a.Dirino != pin.Ino() || a.DName != name {
				panic(fmt.Sprintf("openfiletable: anchor %s parent mismatch on release", ino))
			}
		} else {
			if a.Dirino != 0 || a.DName != "" {
				panic(fmt.Sprintf("openfiletable: anchor %s expected unlinked on release", ino))
			}
		}

		delete(t.anchorMap, ino)
		in.SetTrackedByOFT(false)

		if flags, ok := t.dirtyItems[ino]; ok {
			if flags&dirtyNew != 0 {
				// created and destroyed within one commit cycle
				delete(t.dirtyItems, ino)
			}
		} else {
			t.dirtyItems[ino] = 0
		}

		in = pin
	}
}

// AddInode starts tracking an inode, pinning every ancestor.
func (t *OpenFileTable) AddInode(in mdcache.Inode) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !in.DType().IsDir() {
		if _, ok := t.anchorMap[in.Ino()]; ok {
			panic(fmt.Sprintf("openfiletable: non-dir ino %s already anchored", in.Ino()))
		}
	}
	t.getRef(in)
}

// RemoveInode stops tracking an inode.
func (t *OpenFileTable) RemoveInode(in mdcache.Inode) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !in.DType().IsDir() {
		a, ok := t.anchorMap[in.Ino()]
		if !ok || a.Nref != 1 {
			panic(fmt.Sprintf("openfiletable: non-dir ino %s has unexpected refs on remove", in.Ino()))
		}
	}
	t.putRef(in)
}

// NotifyLink re-anchors an unlinked-but-open inode under its new
// parent. The inode's own refcount is untouched: the pin moves from
// "rooted only directly" to "rooted via the parent chain", so only the
// parent side gains a reference.
func (t *OpenFileTable) NotifyLink(in mdcache.Inode) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ino := in.Ino()
	a, ok := t.anchorMap[ino]
	if !ok || a.Nref <= 0 {
		panic(fmt.Sprintf("openfiletable: link notification for unanchored ino %s", ino))
	}
	if a.Dirino != 0 || a.DName != "" {
		panic(fmt.Sprintf("openfiletable: link notification for anchored-with-parent ino %s", ino))
	}

	pin, name := in.Parent()
	if pin == nil {
		panic(fmt.Sprintf("openfiletable: link notification without parent for ino %s", ino))
	}

	a.Dirino = pin.Ino()
	a.DName = name
	if _, ok := t.dirtyItems[ino]; !ok {
		t.dirtyItems[ino] = 0
	}

	t.getRef(pin)
}

// NotifyUnlink detaches an anchor from its parent when the directory
// entry is removed while the inode stays open.
func (t *OpenFileTable) NotifyUnlink(in mdcache.Inode) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ino := in.Ino()
	a, ok := t.anchorMap[ino]
	if !ok || a.Nref <= 0 {
		panic(fmt.Sprintf("openfiletable: unlink notification for unanchored ino %s", ino))
	}

	pin, name := in.Parent()
	if pin == nil || a.Dirino != pin.Ino() || a.DName != name {
		panic(fmt.Sprintf("openfiletable: unlink notification parent mismatch for ino %s", ino))
	}

	a.Dirino = 0
	a.DName = ""
	if _, ok := t.dirtyItems[ino]; !ok {
		t.dirtyItems[ino] = 0
	}

	t.putRef(pin)
}

// ShouldLogOpen reports whether journaling still needs an open event
// for the inode, or whether a pending or future table commit covers it.
func (t *OpenFileTable) ShouldLogOpen(in mdcache.Inode) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if in.IsTrackedByOFT() {
		// inode just journaled
		if in.LastJournaled() >= t.committingLogSeq {
			return false
		}
		// item not dirty, already saved by a finished commit
		if _, ok := t.dirtyItems[in.Ino()]; !ok {
			return false
		}
	}
	return true
}

// GetAncestors walks the loaded map from ino towards the root,
// appending one backpointer per hop. The first present parent's
// authority is written to authHint.
func (t *OpenFileTable) GetAncestors(ino proto.Ino, ancestors *[]proto.Backpointer, authHint *proto.Rank) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	a, ok := t.loadedAnchorMap[ino]
	if !ok {
		return false
	}
	dirino := a.Dirino
	if dirino == 0 {
		return false
	}

	*ancestors = (*ancestors)[:0]
	first := true
	for {
		*ancestors = append(*ancestors, proto.Backpointer{Dirino: dirino, DName: a.DName})

		a, ok = t.loadedAnchorMap[dirino]
		if !ok {
			break
		}
		if first {
			*authHint = a.Auth
		}
		dirino = a.Dirino
		if dirino == 0 {
			break
		}
		first = false
	}
	return true
}

func (t *OpenFileTable) IsAnyCommitting() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.numPendingCommit > 0
}

func (t *OpenFileTable) IsPrefetched() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.prefetch == prefetchDone
}

// WaitForLoad registers fin to run once load completes; it runs
// immediately when load already did.
func (t *OpenFileTable) WaitForLoad(fin func()) {
	t.mu.Lock()
	if !t.loadDone {
		t.waitingForLoad = append(t.waitingForLoad, fin)
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()
	fin()
}

// WaitForPrefetch registers fin to run once prefetch reaches DONE.
func (t *OpenFileTable) WaitForPrefetch(fin func()) {
	t.mu.Lock()
	if t.prefetch != prefetchDone {
		t.waitingForPrefetch = append(t.waitingForPrefetch, fin)
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()
	fin()
}
