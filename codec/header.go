// Package codec implements the Fast framing codec: the fixed 15-byte header
// and the two stream transformers built on it, Encoder and Decoder.
//
// Wire frame:
//
//	0      1  2  3           7           11          15
//	┌──────┬──┬──┬────────────┬───────────┬───────────┬───────────────┐
//	│ver   │ty│st│   msgid    │    crc    │   dlen    │   data ...    │
//	│  01  │01│  │  uint32    │  uint32   │  uint32   │  dlen bytes   │
//	└──────┴──┴──┴────────────┴───────────┴───────────┴───────────────┘
package codec

import (
	"encoding/binary"

	"fast-rpc/message"
)

const (
	// HeaderSize is the fixed 15-byte header.
	HeaderSize = 15
	// Version is the only VERSION byte value accepted by this
	// implementation.
	Version byte = 1
	// TypeJSON is the only TYPE byte value accepted: a JSON payload.
	TypeJSON byte = 1
)

// header is the parsed form of the fixed 15-byte frame header.
type header struct {
	version byte
	typ     byte
	status  message.Status
	msgid   uint32
	crc     uint32
	dlen    uint32
}

func putHeader(buf []byte, h header) {
	buf[0] = h.version
	buf[1] = h.typ
	buf[2] = byte(h.status)
	binary.BigEndian.PutUint32(buf[3:7], h.msgid)
	binary.BigEndian.PutUint32(buf[7:11], h.crc)
	binary.BigEndian.PutUint32(buf[11:15], h.dlen)
}

func parseHeader(buf []byte) header {
	return header{
		version: buf[0],
		typ:     buf[1],
		status:  message.Status(buf[2]),
		msgid:   binary.BigEndian.Uint32(buf[3:7]),
		crc:     binary.BigEndian.Uint32(buf[7:11]),
		dlen:    binary.BigEndian.Uint32(buf[11:15]),
	}
}
