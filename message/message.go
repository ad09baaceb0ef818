// Package message defines the Fast logical message: the decoded form a
// framed byte buffer turns into, and the shape constraints placed on it
// by status.
package message

import (
	"fmt"

	"fast-rpc/crc"
)

// Status is the wire STATUS byte.
type Status byte

const (
	StatusData  Status = 1
	StatusEnd   Status = 2
	StatusError Status = 3
)

func (s Status) Valid() bool {
	return s == StatusData || s == StatusEnd || s == StatusError
}

func (s Status) String() string {
	switch s {
	case StatusData:
		return "DATA"
	case StatusEnd:
		return "END"
	case StatusError:
		return "ERROR"
	default:
		return fmt.Sprintf("Status(%d)", byte(s))
	}
}

// MaxMsgid is 2^31-1, the largest legal msgid.
const MaxMsgid int64 = 1<<31 - 1

// Meta is the "m" subfield of a request-style payload.
type Meta struct {
	Name string `json:"name"`
	Uts  int64  `json:"uts"`
}

// ErrorPayload is the required shape of "d" when Status is StatusError.
type ErrorPayload struct {
	Name      string         `json:"name"`
	Message   string         `json:"message"`
	Info      map[string]any `json:"info,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
	AseErrors any            `json:"ase_errors,omitempty"`
}

// Message is the logical unit the codec encodes from and decodes into:
// { msgid, status, data, crc_mode? }.
type Message struct {
	Msgid int64
	Status
	// Data is the JSON object payload. "d" is required (see ValidateShape);
	// "m" is carried by requests and is not checked on decode.
	Data map[string]any
	// CRCMode is a per-message encoding override. crc.ModeUnset means "use
	// the encoder's default".
	CRCMode crc.Mode
	// DecodedCRCMode is populated by the decoder with whichever variant
	// validated; zero value on messages that were never decoded.
	DecodedCRCMode crc.Mode
}

// ValidateForEncode checks the programmer-error constraints an encoder
// must enforce before serializing m.
func ValidateForEncode(m *Message) error {
	if m.Msgid < 0 || m.Msgid > MaxMsgid {
		return fmt.Errorf("msgid %d out of range [0, %d]", m.Msgid, MaxMsgid)
	}
	if !m.Status.Valid() {
		return fmt.Errorf("invalid status %d", byte(m.Status))
	}
	if m.Data == nil {
		return fmt.Errorf("data must be a non-null object")
	}
	if m.CRCMode != crc.ModeUnset && !crc.ValidateConcrete(m.CRCMode) {
		return fmt.Errorf("per-message crc_mode must be V1 or V2, got %s", m.CRCMode)
	}
	return nil
}

// ValidateShape checks the decode-time per-status constraint: DATA
// and END carry an array "d"; ERROR carries a non-null object "d" with
// string name and message.
func ValidateShape(status Status, data map[string]any) error {
	d, ok := data["d"]
	if !ok {
		return fmt.Errorf("data.d is missing")
	}
	switch status {
	case StatusData, StatusEnd:
		if _, ok := d.([]any); !ok {
			return fmt.Errorf("data.d must be an array for status %s", status)
		}
	case StatusError:
		obj, ok := d.(map[string]any)
		if !ok || obj == nil {
			return fmt.Errorf("data.d must be a non-null object for status ERROR")
		}
		name, ok := obj["name"].(string)
		if !ok || name == "" {
			return fmt.Errorf("data.d.name must be a non-empty string")
		}
		msg, ok := obj["message"].(string)
		if !ok || msg == "" {
			return fmt.Errorf("data.d.message must be a non-empty string")
		}
	default:
		return fmt.Errorf("unknown status %d", byte(status))
	}
	return nil
}

// DataItems returns the "d" array of a DATA or END message, already shape
// validated.
func DataItems(data map[string]any) []any {
	items, _ := data["d"].([]any)
	return items
}

// DecodeErrorPayload extracts the "d" object of an ERROR message into an
// ErrorPayload, already shape validated.
func DecodeErrorPayload(data map[string]any) ErrorPayload {
	obj, _ := data["d"].(map[string]any)
	ep := ErrorPayload{
		Name:    stringField(obj, "name"),
		Message: stringField(obj, "message"),
	}
	if info, ok := obj["info"].(map[string]any); ok {
		ep.Info = info
	}
	if ctx, ok := obj["context"].(map[string]any); ok {
		ep.Context = ctx
	}
	if ase, ok := obj["ase_errors"]; ok {
		ep.AseErrors = ase
	}
	return ep
}

func stringField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return s
}

// RequestMeta extracts the "m" subfield of a request-style payload. Present
// only on the first DATA message of a request; ignored by the server on
// later messages.
func RequestMeta(data map[string]any) (Meta, bool) {
	m, ok := data["m"].(map[string]any)
	if !ok {
		return Meta{}, false
	}
	name, _ := m["name"].(string)
	var uts int64
	switch v := m["uts"].(type) {
	case float64:
		uts = int64(v)
	case int64:
		uts = v
	}
	return Meta{Name: name, Uts: uts}, true
}
