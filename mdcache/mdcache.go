package mdcache

import (
	"context"

	"github.com/cubefs/openfiletable/proto"
)

// Inode is the open file table's view of an in-memory inode object.
// Implementations are owned by the inode cache; the table only reads
// topology and flips the tracking flag.
type Inode interface {
	Ino() proto.Ino
	DType() proto.DType
	// Parent returns the primary parent link, nil and "" when the
	// inode is root or currently unlinked.
	Parent() (Inode, string)

	IsTrackedByOFT() bool
	SetTrackedByOFT(bool)

	// LastJournaled is the log sequence the inode was last journaled
	// at, zero if never.
	LastJournaled() uint64
}

// Cache is the slice of the inode cache the table consumes: inode
// lookup, asynchronous open-by-ino, and the recovery rejoin hook fed
// by prefetch.
type Cache interface {
	GetInode(ino proto.Ino) Inode
	// OpenIno resolves the inode's authority, loading it into the
	// cache if local. cb may be invoked from any goroutine and must
	// not be assumed to run asynchronously.
	OpenIno(ctx context.Context, ino proto.Ino, pool int64, cb func(rank proto.Rank, err error))
	RejoinPrefetchInoFinish(ino proto.Ino, rank proto.Rank)
}
