package codec

import (
	"encoding/json"
	"fmt"

	"fast-rpc/crc"
	"fast-rpc/ferr"
	"fast-rpc/message"
)

// matchingCRCIterationCap is the hard cap on the matching-CRC search.
// The reference behavior treats this as non-tunable: exceeding it silently
// falls back to a legacy-only CRC rather than erroring.
const matchingCRCIterationCap = 500000

// Encoder turns logical messages into framed byte buffers.
type Encoder struct {
	defaultMode crc.Mode
}

// NewEncoder builds an Encoder whose default CRC mode is defaultMode, which
// must be V1, V2, or crc.ModeUnset (meaning "fall back to V1 per message").
func NewEncoder(defaultMode crc.Mode) (*Encoder, error) {
	if defaultMode != crc.ModeUnset && !crc.ValidateConcrete(defaultMode) {
		return nil, ferr.NewInvalidArgument("encoder default crc_mode must be V1 or V2")
	}
	return &Encoder{defaultMode: defaultMode}, nil
}

// Encode validates msg, resolves its effective CRC mode, serializes its
// data, and returns the complete framed buffer.
func (e *Encoder) Encode(msg *message.Message) ([]byte, error) {
	if err := message.ValidateForEncode(msg); err != nil {
		return nil, ferr.NewInvalidArgument(err.Error())
	}

	mode := msg.CRCMode
	if mode == crc.ModeUnset {
		mode = e.defaultMode
	}
	if mode == crc.ModeUnset {
		mode = crc.V1
	}
	if !crc.ValidateConcrete(mode) {
		return nil, ferr.NewInvalidArgument(fmt.Sprintf("effective crc_mode must be V1 or V2, got %s", mode))
	}

	var payload []byte
	var checksum uint16
	var err error
	switch mode {
	case crc.V1:
		payload, checksum, err = matchingCRCSearch(msg.Data)
	case crc.V2:
		payload, err = json.Marshal(msg.Data)
		if err == nil {
			checksum = crc.Checksum(crc.V2, payload)
		}
	}
	if err != nil {
		return nil, ferr.NewInvalidArgument(fmt.Sprintf("encoding data: %v", err))
	}

	buf := make([]byte, HeaderSize+len(payload))
	putHeader(buf, header{
		version: Version,
		typ:     TypeJSON,
		status:  msg.Status,
		msgid:   uint32(msg.Msgid),
		crc:     uint32(checksum),
		dlen:    uint32(len(payload)),
	})
	copy(buf[HeaderSize:], payload)
	return buf, nil
}

// matchingCRCSearch implements Matching-CRC Search: it mutates
// data["m"]["uts"] and re-serializes, looking for a byte sequence whose
// legacy and correct CRC16 agree, so the resulting frame validates under
// both variants of a V1_V2 decoder. It is confined to request-style
// payloads that carry m.uts; when m.uts is absent, the first iteration's
// legacy CRC is used with no search at all.
func matchingCRCSearch(data map[string]any) ([]byte, uint16, error) {
	m, hasM := data["m"].(map[string]any)
	if !hasM {
		payload, err := json.Marshal(data)
		if err != nil {
			return nil, 0, err
		}
		return payload, crc.Checksum(crc.V1, payload), nil
	}
	originalUts, hasUts := m["uts"]
	if !hasUts {
		payload, err := json.Marshal(data)
		if err != nil {
			return nil, 0, err
		}
		return payload, crc.Checksum(crc.V1, payload), nil
	}

	baseUts := asInt64(originalUts)
	var firstPayload []byte
	var firstCRC uint16
	for i := 0; i < matchingCRCIterationCap; i++ {
		m["uts"] = baseUts + int64(i)
		payload, err := json.Marshal(data)
		if err != nil {
			m["uts"] = originalUts
			return nil, 0, err
		}
		v1 := crc.Checksum(crc.V1, payload)
		if i == 0 {
			firstPayload = payload
			firstCRC = v1
		}
		if v1 == crc.Checksum(crc.V2, payload) {
			return payload, v1, nil
		}
	}
	m["uts"] = originalUts
	return firstPayload, firstCRC, nil
}

func asInt64(v any) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case int:
		return int64(x)
	case float64:
		return int64(x)
	default:
		return 0
	}
}
