package jsonrpc

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseMessageClassifies(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"request", `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`, "request"},
		{"notification", `{"jsonrpc":"2.0","method":"notifications/initialized"}`, "notification"},
		{"null id is notification", `{"jsonrpc":"2.0","id":null,"method":"ping"}`, "notification"},
		{"response", `{"jsonrpc":"2.0","id":"a","result":{}}`, "response"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg, err := ParseMessage([]byte(tc.in))
			if err != nil {
				t.Fatalf("ParseMessage: %v", err)
			}
			if want, got := tc.want, msg.Type(); want != got {
				t.Fatalf("want %q, got %q", want, got)
			}
		})
	}
}

func TestParseMessageRejectsInvalid(t *testing.T) {
	if _, err := ParseMessage([]byte(` [{"jsonrpc":"2.0","id":1,"method":"ping"}]`)); !errors.Is(err, ErrBatchUnsupported) {
		t.Fatalf("want ErrBatchUnsupported, got %v", err)
	}
	bad := []string{
		`{"jsonrpc":"1.0","id":1,"method":"ping"}`,
		`{"jsonrpc":"2.0","id":1,"method":"ping","result":{}}`,
		`{"jsonrpc":"2.0","id":1}`,
		`not json`,
	}
	for _, in := range bad {
		if _, err := ParseMessage([]byte(in)); err == nil {
			t.Fatalf("expected error for %s", in)
		}
	}
}

func TestRequestIDRoundTrip(t *testing.T) {
	for _, in := range []string{`7`, `"abc"`} {
		var id RequestID
		if err := json.Unmarshal([]byte(in), &id); err != nil {
			t.Fatalf("unmarshal %s: %v", in, err)
		}
		out, err := json.Marshal(&id)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if want, got := in, string(out); want != got {
			t.Fatalf("want %s, got %s", want, got)
		}
	}
	if want, got := "42", NewRequestID(42).String(); want != got {
		t.Fatalf("want %q, got %q", want, got)
	}
}

func TestErrorResponseWithNilIDEncodesNull(t *testing.T) {
	b, err := json.Marshal(NewErrorResponse(nil, ErrorCodeParseError, "parse error", nil))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"jsonrpc":"2.0","error":{"code":-32700,"message":"parse error"},"id":null}`
	if got := string(b); want != got {
		t.Fatalf("want %s, got %s", want, got)
	}
}
