package oft

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/cubefs/openfiletable/proto"
)

// Anchor pins one tracked inode and its relationship to its parent
// directory. Nref and Auth are runtime state and never hit the object.
type Anchor struct {
	Ino    proto.Ino   `cbor:"ino"`
	Dirino proto.Ino   `cbor:"dirino"`
	DName  string      `cbor:"d_name"`
	DType  proto.DType `cbor:"d_type"`

	Nref int        `cbor:"-"`
	Auth proto.Rank `cbor:"-"`
}

func (a *Anchor) Encode() ([]byte, error) {
	return cbor.Marshal(a)
}

func decodeAnchor(data []byte) (*Anchor, error) {
	a := &Anchor{}
	if err := cbor.Unmarshal(data, a); err != nil {
		return nil, err
	}
	return a, nil
}

// persistedEquals compares the fields that reach the object.
func (a *Anchor) persistedEquals(b *Anchor) bool {
	return a.Ino == b.Ino &&
		a.Dirino == b.Dirino &&
		a.DName == b.DName &&
		a.DType == b.DType
}
