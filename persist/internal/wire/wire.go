// Package wire frames a snapshot of generation-stamped records.
//
//	magic(4) | ver(1) | kind(1) | n(u32 be)
//	keyLen(u16 be) | key(keyLen) | gen(u64 be) | vlen(u32 be) | payload(vlen) * n
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const (
	version      byte = 1
	kindSnapshot byte = 2
	header            = 4 + 1 + 1 + 4
)

var (
	ErrCorrupt    = errors.New("tcms/persist: corrupt snapshot")
	ErrKeyTooLong = errors.New("tcms/persist: record key empty or longer than 65535 bytes")
	magic4        = [...]byte{'T', 'C', 'M', 'S'}
)

// Item is one record of a snapshot.
type Item struct {
	Key     string
	Gen     uint64
	Payload []byte
}

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

func Encode(items []Item) ([]byte, error) {
	total := header
	for _, it := range items {
		if l := len(it.Key); l == 0 || l > 0xFFFF {
			return nil, ErrKeyTooLong
		}
		total += 2 + len(it.Key) + 8 + 4 + len(it.Payload)
	}

	var buf bytes.Buffer
	buf.Grow(total)

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindSnapshot)

	var u8 [8]byte
	var u4 [4]byte
	var u2 [2]byte

	binary.BigEndian.PutUint32(u4[:], uint32(len(items)))
	buf.Write(u4[:])

	for _, it := range items {
		binary.BigEndian.PutUint16(u2[:], uint16(len(it.Key)))
		buf.Write(u2[:])
		buf.WriteString(it.Key)

		binary.BigEndian.PutUint64(u8[:], it.Gen)
		buf.Write(u8[:])

		binary.BigEndian.PutUint32(u4[:], uint32(len(it.Payload)))
		buf.Write(u4[:])
		buf.Write(it.Payload)
	}
	return buf.Bytes(), nil
}

// Decode parses a snapshot. Payloads alias b.
func Decode(b []byte) ([]Item, error) {
	if len(b) < header || !hasMagic(b) || b[4] != version || b[5] != kindSnapshot {
		return nil, ErrCorrupt
	}
	off := 6
	n := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4

	// n is untrusted; every item takes at least 14 bytes
	if n > (len(b)-off)/14 {
		return nil, ErrCorrupt
	}

	items := make([]Item, 0, n)
	for i := 0; i < n; i++ {
		if off+2 > len(b) {
			return nil, ErrCorrupt
		}
		klen := int(binary.BigEndian.Uint16(b[off : off+2]))
		off += 2
		if klen <= 0 || klen > len(b)-off {
			return nil, ErrCorrupt
		}
		key := string(b[off : off+klen])
		off += klen

		if off+8 > len(b) {
			return nil, ErrCorrupt
		}
		gen := binary.BigEndian.Uint64(b[off : off+8])
		off += 8

		if off+4 > len(b) {
			return nil, ErrCorrupt
		}
		vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
		off += 4
		if vlen < 0 || vlen > len(b)-off {
			return nil, ErrCorrupt
		}
		items = append(items, Item{Key: key, Gen: gen, Payload: b[off : off+vlen]})
		off += vlen
	}
	if off != len(b) {
		return nil, ErrCorrupt
	}
	return items, nil
}
