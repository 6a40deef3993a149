package serializer

import "testing"

type payload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestJSONRoundTrip(t *testing.T) {
	s := JSON{}

	data, err := Encode(s, payload{Name: "widget", Count: 3})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	got, err := Decode[payload](s, data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Name != "widget" || got.Count != 3 {
		t.Fatalf("unexpected payload: %+v", got)
	}
}

func TestDecodeEmptyPayload(t *testing.T) {
	s := JSON{}
	got, err := Decode[payload](s, nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != (payload{}) {
		t.Fatalf("expected zero value, got %+v", got)
	}
}

func TestContentType(t *testing.T) {
	if (JSON{}).ContentType() != "application/json" {
		t.Fatalf("unexpected content type")
	}
}
