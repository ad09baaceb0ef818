package message

import (
	"testing"

	"fast-rpc/crc"
)

func TestValidateForEncode(t *testing.T) {
	cases := []struct {
		name string
		msg  Message
		ok   bool
	}{
		{"valid data", Message{Msgid: 0, Status: StatusData, Data: map[string]any{}}, true},
		{"max msgid", Message{Msgid: MaxMsgid, Status: StatusEnd, Data: map[string]any{}}, true},
		{"negative msgid", Message{Msgid: -1, Status: StatusData, Data: map[string]any{}}, false},
		{"msgid too large", Message{Msgid: MaxMsgid + 1, Status: StatusData, Data: map[string]any{}}, false},
		{"bad status", Message{Msgid: 0, Status: Status(9), Data: map[string]any{}}, false},
		{"nil data", Message{Msgid: 0, Status: StatusData, Data: nil}, false},
		{"v1v2 override rejected", Message{Msgid: 0, Status: StatusData, Data: map[string]any{}, CRCMode: crc.V1V2}, false},
		{"v1 override ok", Message{Msgid: 0, Status: StatusData, Data: map[string]any{}, CRCMode: crc.V1}, true},
	}
	for _, c := range cases {
		err := ValidateForEncode(&c.msg)
		if (err == nil) != c.ok {
			t.Errorf("%s: ValidateForEncode() err=%v, want ok=%v", c.name, err, c.ok)
		}
	}
}

func TestValidateShapeData(t *testing.T) {
	if err := ValidateShape(StatusData, map[string]any{"d": []any{1, 2}}); err != nil {
		t.Errorf("expected array d to validate, got %v", err)
	}
	if err := ValidateShape(StatusData, map[string]any{"d": map[string]any{}}); err == nil {
		t.Error("expected non-array d to fail for DATA")
	}
}

func TestValidateShapeError(t *testing.T) {
	good := map[string]any{"d": map[string]any{"name": "Boom", "message": "bad"}}
	if err := ValidateShape(StatusError, good); err != nil {
		t.Errorf("expected valid error payload to validate, got %v", err)
	}
	missingName := map[string]any{"d": map[string]any{"message": "bad"}}
	if err := ValidateShape(StatusError, missingName); err == nil {
		t.Error("expected missing name to fail")
	}
	nullPayload := map[string]any{"d": nil}
	if err := ValidateShape(StatusError, nullPayload); err == nil {
		t.Error("expected null d to fail")
	}
}

func TestDecodeErrorPayload(t *testing.T) {
	data := map[string]any{
		"d": map[string]any{
			"name":    "MyStupidError",
			"message": "the server ate my response",
			"info":    map[string]any{"x": float64(1)},
			"context": map[string]any{"y": "z"},
		},
	}
	ep := DecodeErrorPayload(data)
	if ep.Name != "MyStupidError" || ep.Message != "the server ate my response" {
		t.Fatalf("unexpected payload: %+v", ep)
	}
	if ep.Info["x"] != float64(1) {
		t.Errorf("info not preserved: %+v", ep.Info)
	}
}

func TestRequestMeta(t *testing.T) {
	data := map[string]any{"m": map[string]any{"name": "echo", "uts": float64(12345)}}
	meta, ok := RequestMeta(data)
	if !ok || meta.Name != "echo" || meta.Uts != 12345 {
		t.Fatalf("unexpected meta: %+v ok=%v", meta, ok)
	}
	if _, ok := RequestMeta(map[string]any{}); ok {
		t.Error("expected missing m to report ok=false")
	}
}
