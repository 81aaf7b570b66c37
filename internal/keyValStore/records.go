package keyValStore

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/i5heu/geostore/pkg/model"
)

// Records are stored as CBOR maps with integer keys.

type nodeRecord struct {
	Root    bool              `cbor:"1,keyasint,omitempty"`
	Parents [][]byte          `cbor:"2,keyasint,omitempty"`
	Props   map[string]string `cbor:"3,keyasint,omitempty"`
}

type indexRecord struct {
	Strategy uint8          `cbor:"1,keyasint"`
	Metadata map[string]any `cbor:"2,keyasint,omitempty"`
}

type conflictRecord struct {
	Ancestor []byte `cbor:"1,keyasint,omitempty"`
	Ours     []byte `cbor:"2,keyasint,omitempty"`
	Theirs   []byte `cbor:"3,keyasint,omitempty"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	if encMode, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic("keyValStore: CBOR encoder initialization failed: " + err.Error())
	}
	if decMode, err = (cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}).DecMode(); err != nil {
		panic("keyValStore: CBOR decoder initialization failed: " + err.Error())
	}
}

func idBytes(id model.ObjectID) []byte {
	if id.IsNull() {
		return nil
	}
	return id.Bytes()
}

func idOf(b []byte) (model.ObjectID, error) {
	if len(b) == 0 {
		return model.NullID, nil
	}
	return model.IDFromBytes(b)
}

func idsBytes(ids []model.ObjectID) [][]byte {
	out := make([][]byte, len(ids))
	for i, id := range ids {
		out[i] = id.Bytes()
	}
	return out
}

func idsOf(raw [][]byte) ([]model.ObjectID, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]model.ObjectID, len(raw))
	for i, b := range raw {
		id, err := model.IDFromBytes(b)
		if err != nil {
			return nil, err
		}
		out[i] = id
	}
	return out, nil
}
