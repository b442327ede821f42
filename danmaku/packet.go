package danmaku

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
)

// Binary framing shared by both danmu websocket protocols. Every frame
// starts with a 16-byte big-endian header:
//
//	total length (u32) | header length (u16) | version (u16) | op (u32) | sequence (u32)
//
// A version-2 body is a zlib stream that decompresses to a concatenation of
// further frames.
const (
	headerLen = 16

	verPlain = 0
	verInt   = 1 // heartbeat replies carry a bare integer body
	verZlib  = 2

	opHeartbeat      = 2
	opHeartbeatReply = 3
	opMessage        = 5
	opAuth           = 7
	opAuthReply      = 8
)

type packet struct {
	ver  uint16
	op   uint32
	body []byte
}

func encodePacket(ver uint16, op uint32, body []byte) []byte {
	buf := make([]byte, headerLen+len(body))
	binary.BigEndian.PutUint32(buf[0:4], uint32(headerLen+len(body)))
	binary.BigEndian.PutUint16(buf[4:6], headerLen)
	binary.BigEndian.PutUint16(buf[6:8], ver)
	binary.BigEndian.PutUint32(buf[8:12], op)
	binary.BigEndian.PutUint32(buf[12:16], 1)
	copy(buf[headerLen:], body)
	return buf
}

// decodePackets walks every frame in data, inflating zlib batches.
func decodePackets(data []byte) ([]packet, error) {
	var out []packet
	for len(data) > 0 {
		if len(data) < headerLen {
			return nil, fmt.Errorf("danmu frame truncated: %d bytes left", len(data))
		}
		total := binary.BigEndian.Uint32(data[0:4])
		hlen := binary.BigEndian.Uint16(data[4:6])
		ver := binary.BigEndian.Uint16(data[6:8])
		op := binary.BigEndian.Uint32(data[8:12])
		if total < uint32(hlen) || uint32(len(data)) < total {
			return nil, fmt.Errorf("danmu frame length %d exceeds buffer %d", total, len(data))
		}
		body := data[hlen:total]
		data = data[total:]

		if ver == verZlib {
			inflated, err := inflate(body)
			if err != nil {
				return nil, fmt.Errorf("inflate danmu batch: %w", err)
			}
			inner, err := decodePackets(inflated)
			if err != nil {
				return nil, err
			}
			out = append(out, inner...)
			continue
		}
		out = append(out, packet{ver: ver, op: op, body: body})
	}
	return out, nil
}

func inflate(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()
	return io.ReadAll(r)
}
