package protocol

import (
	"encoding/json"
	"testing"
)

func validate(t *testing.T, raw string) error {
	t.Helper()
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		t.Fatalf("fixture json: %v", err)
	}
	base, err := DecodeBase([]byte(raw))
	if err != nil {
		t.Fatalf("decode base: %v", err)
	}
	return Validate(base.Type, v)
}

func TestHelloSchema(t *testing.T) {
	ok := `{"type":"HELLO","protocol_version":"1.0","client_id":"c1","observer":true}`
	if err := validate(t, ok); err != nil {
		t.Fatalf("valid hello rejected: %v", err)
	}

	bad := []string{
		`{"type":"HELLO","protocol_version":"1.0"}`,               // missing client_id
		`{"type":"HELLO","protocol_version":"1.0","client_id":""}`, // empty client_id
		`{"type":"HELLO","protocol_version":1,"client_id":"c1"}`,   // wrong version type
		`{"type":"HELLO","protocol_version":"1.0","client_id":"c1","extra":1}`,
	}
	for _, raw := range bad {
		if err := validate(t, raw); err == nil {
			t.Fatalf("accepted invalid hello: %s", raw)
		}
	}
}

func TestEditSchema(t *testing.T) {
	ok := []string{
		`{"type":"EDIT","edit_id":"e1","op":"ADD_VOLUME","pos":[0,9,0],"amount":0.5}`,
		`{"type":"EDIT","edit_id":"e2","op":"SET_BLOCK","pos":[-3,10,7],"solid":true}`,
		`{"type":"EDIT","edit_id":"e3","op":"REMOVE_VOLUME","pos":[1,2,3],"amount":1}`,
	}
	for _, raw := range ok {
		if err := validate(t, raw); err != nil {
			t.Fatalf("valid edit rejected: %v\n%s", err, raw)
		}
	}

	bad := []string{
		`{"type":"EDIT","edit_id":"e1","op":"DRAIN_WORLD","pos":[0,0,0]}`,    // unknown op
		`{"type":"EDIT","edit_id":"e1","op":"ADD_VOLUME","pos":[0,0]}`,       // short pos
		`{"type":"EDIT","edit_id":"e1","op":"ADD_VOLUME","pos":[0,0.5,0]}`,   // non-integer pos
		`{"type":"EDIT","op":"ADD_VOLUME","pos":[0,0,0]}`,                    // missing edit_id
		`{"type":"EDIT","edit_id":"e1","op":"ADD_VOLUME","pos":[0,0,0],"amount":-1}`,
	}
	for _, raw := range bad {
		if err := validate(t, raw); err == nil {
			t.Fatalf("accepted invalid edit: %s", raw)
		}
	}
}

func TestServerMessagesPassWithoutSchema(t *testing.T) {
	if err := Validate(TypeWelcome, map[string]any{"type": "WELCOME"}); err != nil {
		t.Fatalf("server message rejected: %v", err)
	}
	if err := Validate("UNKNOWN", map[string]any{}); err != nil {
		t.Fatalf("unknown type must pass here; routing rejects it later: %v", err)
	}
}

func TestDecodeBase(t *testing.T) {
	m, err := DecodeBase([]byte(`{"type":"HELLO","protocol_version":"1.0","client_id":"c"}`))
	if err != nil || m.Type != TypeHello {
		t.Fatalf("base %+v err %v", m, err)
	}

	// Routing must tolerate wrongly typed fields so schema validation gets
	// to produce the diagnostic.
	m, err = DecodeBase([]byte(`{"type":"HELLO","protocol_version":1,"client_id":"c"}`))
	if err != nil || m.Type != TypeHello {
		t.Fatalf("numeric protocol_version broke routing: %+v err %v", m, err)
	}

	if _, err := DecodeBase([]byte(`{`)); err == nil {
		t.Fatalf("truncated json must error")
	}
}

func TestKnownErrorCodes(t *testing.T) {
	for _, c := range []string{ErrProtoBadRequest, ErrBadRequest, ErrInvalidTarget, ErrWorldBusy, ErrInternal, ""} {
		if !IsKnownCode(c) {
			t.Fatalf("code %q should be known", c)
		}
	}
	if IsKnownCode("E_MADE_UP") {
		t.Fatalf("unknown code accepted")
	}
}
