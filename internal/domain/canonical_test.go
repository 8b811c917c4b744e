package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestCanonicalJSONSortsKeysAtEveryDepth(t *testing.T) {
	first, err := DecodeJSON([]byte(`{"b":1,"a":{"y":[{"d":1,"c":2}],"x":"<tag>"}}`))
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	second, err := DecodeJSON([]byte(`{"a":{"x":"<tag>","y":[{"c":2,"d":1}]},"b":1}`))
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}

	left, err := CanonicalJSON(first)
	if err != nil {
		t.Fatalf("unexpected canonical error: %v", err)
	}
	right, err := CanonicalJSON(second)
	if err != nil {
		t.Fatalf("unexpected canonical error: %v", err)
	}

	expected := `{"a":{"x":"<tag>","y":[{"c":2,"d":1}]},"b":1}`
	if string(left) != expected {
		t.Fatalf("expected %s, got %s", expected, left)
	}
	if string(left) != string(right) {
		t.Fatalf("expected identical serializations, got %s and %s", left, right)
	}
	if ContentHash(left) != ContentHash(right) {
		t.Fatalf("expected identical hashes")
	}
}

func TestCanonicalJSONAcceptsRawMessage(t *testing.T) {
	canonical, err := CanonicalJSON(json.RawMessage(`{"z": 1.50, "a": null}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(canonical) != `{"a":null,"z":1.50}` {
		t.Fatalf("unexpected canonical form %s", canonical)
	}
}

func TestContentHashDistinguishesValues(t *testing.T) {
	a, _ := NewRawItem(map[string]any{"id": 1})
	b, _ := NewRawItem(map[string]any{"id": 2})
	if a.ContentHash == b.ContentHash {
		t.Fatalf("expected different hashes for different payloads")
	}
	if len(a.ContentHash) != 64 {
		t.Fatalf("expected hex sha-256 digest, got %q", a.ContentHash)
	}
}

func TestDecodeJSONRejectsMalformedInput(t *testing.T) {
	_, err := DecodeJSON([]byte(`{"id":`))
	var malformed *MalformedPayloadError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedPayloadError, got %v", err)
	}

	_, err = DecodeJSON([]byte(`{"id":1} {"id":2}`))
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedPayloadError for trailing data, got %v", err)
	}
}

func TestScrapDaysIsInclusive(t *testing.T) {
	scrap := Scrap{
		StartDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
	}
	if got := scrap.Days(); got != 31 {
		t.Fatalf("expected 31 days, got %d", got)
	}

	scrap.EndDate = scrap.StartDate
	if got := scrap.Days(); got != 1 {
		t.Fatalf("expected single day, got %d", got)
	}
}

func TestTransportErrorClassification(t *testing.T) {
	cases := []struct {
		err       *TransportError
		retryable bool
	}{
		{&TransportError{StatusCode: 0, Err: errors.New("dial tcp: refused")}, true},
		{&TransportError{StatusCode: 429}, true},
		{&TransportError{StatusCode: 503}, true},
		{&TransportError{StatusCode: 404}, false},
		{&TransportError{StatusCode: 400}, false},
	}
	for _, tc := range cases {
		if tc.err.Retryable() != tc.retryable {
			t.Errorf("status %d: expected retryable=%v", tc.err.StatusCode, tc.retryable)
		}
	}
	if !(&TransportError{StatusCode: 404}).IsNotFound() {
		t.Errorf("expected 404 to be not found")
	}
}
