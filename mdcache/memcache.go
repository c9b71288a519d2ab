package mdcache

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	apierrors "github.com/cubefs/openfiletable/errors"
	"github.com/cubefs/openfiletable/proto"
)

// MemInode is a plain in-memory inode with an explicit primary parent
// link. It satisfies Inode for tests.
type MemInode struct {
	ino   proto.Ino
	dtype proto.DType

	mu            sync.Mutex
	parent        *MemInode
	name          string
	tracked       bool
	lastJournaled uint64
}

func NewMemInode(ino proto.Ino, dtype proto.DType) *MemInode {
	return &MemInode{ino: ino, dtype: dtype}
}

func (i *MemInode) Ino() proto.Ino     { return i.ino }
func (i *MemInode) DType() proto.DType { return i.dtype }

func (i *MemInode) Parent() (Inode, string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.parent == nil {
		return nil, ""
	}
	return i.parent, i.name
}

func (i *MemInode) IsTrackedByOFT() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.tracked
}

func (i *MemInode) SetTrackedByOFT(v bool) {
	i.mu.Lock()
	i.tracked = v
	i.mu.Unlock()
}

func (i *MemInode) LastJournaled() uint64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.lastJournaled
}

func (i *MemInode) SetLastJournaled(seq uint64) {
	i.mu.Lock()
	i.lastJournaled = seq
	i.mu.Unlock()
}

// LinkTo sets the primary parent link, UnlinkParent clears it. These
// model dentry add/remove; the caller is responsible for the matching
// open file table notification.
func (i *MemInode) LinkTo(parent *MemInode, name string) {
	i.mu.Lock()
	i.parent = parent
	i.name = name
	i.mu.Unlock()
}

func (i *MemInode) UnlinkParent() {
	i.mu.Lock()
	i.parent = nil
	i.name = ""
	i.mu.Unlock()
}

type rejoinRecord struct {
	Ino  proto.Ino
	Rank proto.Rank
}

// MemCache is an in-memory Cache. Authority resolutions for open-by-ino
// are configured per inode; concurrent opens of the same ino collapse
// into one resolution.
type MemCache struct {
	mu       sync.Mutex
	inodes   map[proto.Ino]*MemInode
	auth     map[proto.Ino]proto.Rank
	openErrs map[proto.Ino]error
	opens    []proto.Ino
	rejoins  []rejoinRecord

	flight singleflight.Group
}

func NewMemCache() *MemCache {
	return &MemCache{
		inodes:   make(map[proto.Ino]*MemInode),
		auth:     make(map[proto.Ino]proto.Rank),
		openErrs: make(map[proto.Ino]error),
	}
}

func (c *MemCache) AddInode(in *MemInode) {
	c.mu.Lock()
	c.inodes[in.ino] = in
	c.mu.Unlock()
}

func (c *MemCache) RemoveInode(ino proto.Ino) {
	c.mu.Lock()
	delete(c.inodes, ino)
	c.mu.Unlock()
}

// SetAuth configures the rank OpenIno resolves the inode to.
func (c *MemCache) SetAuth(ino proto.Ino, rank proto.Rank) {
	c.mu.Lock()
	c.auth[ino] = rank
	c.mu.Unlock()
}

// SetOpenErr makes OpenIno fail for the inode.
func (c *MemCache) SetOpenErr(ino proto.Ino, err error) {
	c.mu.Lock()
	c.openErrs[ino] = err
	c.mu.Unlock()
}

func (c *MemCache) GetInode(ino proto.Ino) Inode {
	c.mu.Lock()
	defer c.mu.Unlock()
	in, ok := c.inodes[ino]
	if !ok {
		return nil
	}
	return in
}

func (c *MemCache) OpenIno(ctx context.Context, ino proto.Ino, pool int64, cb func(proto.Rank, error)) {
	c.mu.Lock()
	c.opens = append(c.opens, ino)
	c.mu.Unlock()

	v, err, _ := c.flight.Do(ino.String(), func() (interface{}, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if err := c.openErrs[ino]; err != nil {
			return proto.RankNone, err
		}
		rank, ok := c.auth[ino]
		if !ok {
			return proto.RankNone, apierrors.ErrObjectDoesNotExist
		}
		return rank, nil
	})
	cb(v.(proto.Rank), err)
}

func (c *MemCache) RejoinPrefetchInoFinish(ino proto.Ino, rank proto.Rank) {
	c.mu.Lock()
	c.rejoins = append(c.rejoins, rejoinRecord{Ino: ino, Rank: rank})
	c.mu.Unlock()
}

// Opens returns the inos OpenIno was called for, in call order.
func (c *MemCache) Opens() []proto.Ino {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]proto.Ino(nil), c.opens...)
}

// Rejoins returns the recorded rejoin forwards.
func (c *MemCache) Rejoins() map[proto.Ino]proto.Rank {
	c.mu.Lock()
	defer c.mu.Unlock()
	ret := make(map[proto.Ino]proto.Rank, len(c.rejoins))
	for _, r := range c.rejoins {
		ret[r.Ino] = r.Rank
	}
	return ret
}
