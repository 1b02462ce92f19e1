// Package rowchange implements the encoded, immutable description of a
// single row's change: either a set of column updates or a delete marker.
//
// The encoding is a compact varint stream. Byte 0 carries the change kind;
// an update is followed by (column index, value length, value bytes)
// triples in the order they were added. A zero value length encodes NULL,
// any other length n encodes n-1 value bytes. ChangeLists are created by an
// Encoder, never mutated, and copied into whichever store accepts them.
package rowchange
