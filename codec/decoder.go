package codec

import (
	"encoding/json"
	"fmt"

	"fast-rpc/crc"
	"fast-rpc/ferr"
	"fast-rpc/message"
)

// Decoder accumulates framed bytes and emits fully-validated logical
// messages. It never emits a partial message: a call to Feed either
// returns zero or more complete messages, or a terminal error — once set,
// the error latches and every subsequent Feed returns it unchanged.
type Decoder struct {
	mode crc.Mode
	buf  []byte
	err  error
}

// NewDecoder builds a Decoder that validates incoming CRCs against mode,
// which may be V1, V2, or the dual-accept V1V2.
func NewDecoder(mode crc.Mode) (*Decoder, error) {
	if !crc.ValidateServerDefault(mode) {
		return nil, ferr.NewInvalidArgument(fmt.Sprintf("decoder crc_mode must be V1, V2, or V1_V2, got %s", mode))
	}
	return &Decoder{mode: mode}, nil
}

// Feed appends b to the internal buffer and parses as many complete
// messages as are now available.
func (d *Decoder) Feed(b []byte) ([]*message.Message, error) {
	if d.err != nil {
		return nil, d.err
	}
	d.buf = append(d.buf, b...)

	var out []*message.Message
	for {
		if len(d.buf) < HeaderSize {
			break
		}
		h := parseHeader(d.buf)

		if h.version != Version {
			return out, d.latch(ferr.NewProtocolError(ferr.ReasonUnsupportedVersion,
				fmt.Sprintf("unsupported version %d", h.version), nil))
		}
		if h.typ != TypeJSON {
			return out, d.latch(ferr.NewProtocolError(ferr.ReasonUnsupportedType,
				fmt.Sprintf("unsupported type %d", h.typ), nil))
		}
		if !h.status.Valid() {
			return out, d.latch(ferr.NewProtocolError(ferr.ReasonUnsupportedStatus,
				fmt.Sprintf("unsupported status %d", byte(h.status)), nil))
		}
		if int64(h.msgid) > message.MaxMsgid {
			return out, d.latch(ferr.NewProtocolError(ferr.ReasonInvalidMsgid,
				fmt.Sprintf("msgid %d out of range", h.msgid), nil))
		}

		total := HeaderSize + int(h.dlen)
		if len(d.buf) < total {
			break // wait for more bytes; header is re-parsed next time once dlen is satisfied
		}
		payload := d.buf[HeaderSize:total]

		decodedMode, ok := d.validateCRC(h.crc, payload)
		if !ok {
			return out, d.latch(ferr.NewProtocolError(ferr.ReasonBadCrc,
				"checksum mismatch", ferr.Info{"headerCrc": h.crc}))
		}

		var raw any
		if err := json.Unmarshal(payload, &raw); err != nil {
			return out, d.latch(ferr.NewProtocolError(ferr.ReasonInvalidJson, err.Error(), nil))
		}
		data, isObject := raw.(map[string]any)
		if !isObject {
			return out, d.latch(ferr.NewProtocolError(ferr.ReasonBadData,
				"payload must be a non-null JSON object", nil))
		}
		if err := message.ValidateShape(h.status, data); err != nil {
			return out, d.latch(ferr.NewProtocolError(ferr.ReasonBadDataD, err.Error(), nil))
		}

		out = append(out, &message.Message{
			Msgid:          int64(h.msgid),
			Status:         h.status,
			Data:           data,
			DecodedCRCMode: decodedMode,
		})
		d.buf = d.buf[total:]
	}
	return out, nil
}

// Close reports IncompleteMessage if the transport ended with unconsumed
// bytes still buffered.
func (d *Decoder) Close() error {
	if d.err != nil {
		return d.err
	}
	if len(d.buf) > 0 {
		return d.latch(ferr.NewProtocolError(ferr.ReasonIncompleteMessage,
			fmt.Sprintf("%d unconsumed bytes at end of input", len(d.buf)), nil))
	}
	return nil
}

// Err returns the latched terminal error, if any.
func (d *Decoder) Err() error {
	return d.err
}

func (d *Decoder) latch(err error) error {
	d.err = err
	return err
}

func (d *Decoder) validateCRC(headerCRC uint32, payload []byte) (crc.Mode, bool) {
	v1 := uint32(crc.Checksum(crc.V1, payload))
	v2 := uint32(crc.Checksum(crc.V2, payload))
	switch d.mode {
	case crc.V1:
		return crc.V1, v1 == headerCRC
	case crc.V2:
		return crc.V2, v2 == headerCRC
	case crc.V1V2:
		v1ok, v2ok := v1 == headerCRC, v2 == headerCRC
		switch {
		case v1ok && v2ok:
			return crc.V1V2, true
		case v1ok:
			return crc.V1, true
		case v2ok:
			return crc.V2, true
		default:
			return crc.ModeUnset, false
		}
	default:
		return crc.ModeUnset, false
	}
}
