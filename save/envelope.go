// Package save persists engine state to versioned binary envelopes,
// optionally authenticated with HMAC-SHA256, and manages a directory of
// save slots with atomic writes and backup recovery.
//
// Envelope layout (little-endian):
//
//	magic[4] "VNSV" | u16 version | u16 flags | u32 body_len | body | mac[32]?
//
// The body is the 32-byte script id followed by the CBOR-encoded state.
// Flag bit 0 marks an authenticated envelope; its mac covers header and
// body.
package save

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"

	"github.com/chazu/novella/pkg/vnerr"
	"github.com/chazu/novella/schema"
	"github.com/chazu/novella/vm"
)

const (
	headerSize = 12
	macSize    = sha256.Size
	idSize     = 32

	flagAuthenticated uint16 = 1 << 0
)

// Data is one saved game: the script it belongs to and the engine state.
type Data struct {
	ScriptID [32]byte
	State    vm.State
}

// ValidateScriptID fails with vn.script_mismatch unless d was written for
// the script identified by want.
func (d *Data) ValidateScriptID(want [32]byte) error {
	if d.ScriptID != want {
		return vnerr.ScriptMismatch("save belongs to script %s, running %s",
			hex.EncodeToString(d.ScriptID[:8]), hex.EncodeToString(want[:8]))
	}
	return nil
}

// RestoreInto checks that d belongs to the script e is running and then
// replaces the engine state with d.State.
func (d *Data) RestoreInto(e *vm.Engine) error {
	id, err := e.Script().ID()
	if err != nil {
		return err
	}
	if err := d.ValidateScriptID(id); err != nil {
		return err
	}
	return e.Restore(d.State)
}

// ToBinary encodes d as an unauthenticated envelope.
func (d *Data) ToBinary() ([]byte, error) {
	return d.encode(nil)
}

// ToAuthenticatedBinary encodes d and appends an HMAC-SHA256 over the
// header and body using key.
func (d *Data) ToAuthenticatedBinary(key []byte) ([]byte, error) {
	if len(key) == 0 {
		return nil, vnerr.AuthenticationFailed("empty key")
	}
	return d.encode(key)
}

func (d *Data) encode(key []byte) ([]byte, error) {
	state, err := MarshalState(d.State)
	if err != nil {
		return nil, err
	}
	bodyLen := idSize + len(state)

	var flags uint16
	size := headerSize + bodyLen
	if key != nil {
		flags |= flagAuthenticated
		size += macSize
	}

	buf := make([]byte, 0, size)
	buf = append(buf, schema.SaveBinaryMagic[:]...)
	buf = binary.LittleEndian.AppendUint16(buf, schema.SaveFormatVersion)
	buf = binary.LittleEndian.AppendUint16(buf, flags)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(bodyLen))
	buf = append(buf, d.ScriptID[:]...)
	buf = append(buf, state...)
	if key != nil {
		buf = append(buf, sign(key, buf)...)
	}
	return buf, nil
}

// FromBinary decodes an unauthenticated envelope. Authenticated envelopes
// are rejected; use FromAuthenticatedBinary.
func FromBinary(data []byte) (*Data, error) {
	_, body, err := parseHeader(data, false)
	if err != nil {
		return nil, err
	}
	return decodeBody(body)
}

// FromAuthenticatedBinary verifies the envelope MAC with key before
// decoding. Any modified byte fails authentication.
func FromAuthenticatedBinary(data []byte, key []byte) (*Data, error) {
	if len(key) == 0 {
		return nil, vnerr.AuthenticationFailed("empty key")
	}
	if len(data) < headerSize+idSize+macSize {
		return nil, vnerr.BinaryFormat("save too short: %d bytes", len(data))
	}
	signed, mac := data[:len(data)-macSize], data[len(data)-macSize:]
	if !hmac.Equal(mac, sign(key, signed)) {
		return nil, vnerr.AuthenticationFailed("mac mismatch")
	}
	flags, body, err := parseHeader(data, true)
	if err != nil {
		return nil, err
	}
	if flags&flagAuthenticated == 0 {
		return nil, vnerr.AuthenticationFailed("envelope is not authenticated")
	}
	return decodeBody(body)
}

// Decode reads either envelope form. A nil key accepts only
// unauthenticated envelopes; a non-nil key requires authentication.
func Decode(data []byte, key []byte) (*Data, error) {
	if key == nil {
		return FromBinary(data)
	}
	return FromAuthenticatedBinary(data, key)
}

// Encode writes the envelope form matching key.
func (d *Data) Encode(key []byte) ([]byte, error) {
	if key == nil {
		return d.ToBinary()
	}
	return d.ToAuthenticatedBinary(key)
}

// IsAuthenticated reports whether data carries the authenticated flag.
// It does not verify the mac.
func IsAuthenticated(data []byte) bool {
	return len(data) >= headerSize && bytes.Equal(data[:4], schema.SaveBinaryMagic[:]) &&
		binary.LittleEndian.Uint16(data[6:8])&flagAuthenticated != 0
}

func parseHeader(data []byte, withMAC bool) (flags uint16, body []byte, err error) {
	if len(data) < headerSize {
		return 0, nil, vnerr.BinaryFormat("save too short: %d bytes", len(data))
	}
	if !bytes.Equal(data[:4], schema.SaveBinaryMagic[:]) {
		return 0, nil, vnerr.BinaryFormat("magic")
	}
	if v := binary.LittleEndian.Uint16(data[4:6]); v != schema.SaveFormatVersion {
		return 0, nil, &vnerr.IncompatibleVersionError{Artifact: "save", Found: v, Expected: schema.SaveFormatVersion}
	}
	flags = binary.LittleEndian.Uint16(data[6:8])
	if !withMAC && flags&flagAuthenticated != 0 {
		return 0, nil, vnerr.AuthenticationFailed("envelope is authenticated, key required")
	}
	bodyLen := uint64(binary.LittleEndian.Uint32(data[8:12]))

	avail := uint64(len(data) - headerSize)
	if withMAC {
		avail -= macSize
	}
	if bodyLen > avail {
		return 0, nil, vnerr.BinaryFormat("body length %d overflows %d available bytes", bodyLen, avail)
	}
	if bodyLen < avail {
		return 0, nil, vnerr.BinaryFormat("%d trailing bytes after body", avail-bodyLen)
	}
	if bodyLen < idSize {
		return 0, nil, vnerr.BinaryFormat("body length %d shorter than script id", bodyLen)
	}
	return flags, data[headerSize : headerSize+int(bodyLen)], nil
}

func decodeBody(body []byte) (*Data, error) {
	d := &Data{}
	copy(d.ScriptID[:], body[:idSize])
	st, err := UnmarshalState(body[idSize:])
	if err != nil {
		return nil, err
	}
	d.State = st
	return d, nil
}

func sign(key, msg []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(msg)
	return h.Sum(nil)
}
