// Package bytecode holds the compiled form of a story script and its
// "VNSC" binary encoding.
//
// A compiled script is a flat array of events addressed by instruction
// pointer. Compared with the raw script model:
//
//   - jump and choice targets are event indices (u32), not label names
//   - flag and variable keys are dense integer ids assigned in discovery order
//   - strings are interned; equal strings share one backing copy
//
// # Binary format
//
// All integers are little-endian:
//
//	magic[4]="VNSC" | u16 version
//	u32 string_count | { u32 len | utf8 }*
//	u32 event_count  | { u8 opcode | operands }*
//	u32 label_count  | { u16 name_len | name | u32 ip }*   (sorted by name)
//	u32 start_ip | u32 flag_count | u32 variable_count
//	u32 crc32 (IEEE, over every preceding byte)
//
// Events refer to strings by string-table index; absent optional strings
// are encoded as 0xFFFFFFFF. The string table is built by walking events
// in order, so encoding is byte-exact stable across runs and across a
// decode/re-encode round trip.
//
// The script id used by save files is SHA-256 of this encoding.
package bytecode
