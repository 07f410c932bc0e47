package save

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/chazu/novella/pkg/vnerr"
	"github.com/chazu/novella/vm"
)

// cborEncMode is canonical so equal states always encode to equal bytes
// and MACs over them are stable.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("save: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// MarshalState serializes an engine state to CBOR bytes.
func MarshalState(st vm.State) ([]byte, error) {
	st.Normalize()
	data, err := cborEncMode.Marshal(&st)
	if err != nil {
		return nil, vnerr.Serialization("encode state", nil, err)
	}
	return data, nil
}

// UnmarshalState deserializes an engine state from CBOR bytes.
func UnmarshalState(data []byte) (vm.State, error) {
	var st vm.State
	if err := cbor.Unmarshal(data, &st); err != nil {
		return vm.State{}, &vnerr.Error{Code: vnerr.CodeBinaryFormat, Msg: "state", Err: err}
	}
	st.Normalize()
	return st, nil
}
