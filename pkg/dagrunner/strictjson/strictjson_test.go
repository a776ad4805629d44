package strictjson

import (
	"encoding/json"
	"testing"
	"time"
)

func TestTimeRoundTrip(t *testing.T) {
	t.Parallel()
	in := NewTime(time.Date(2026, 3, 5, 9, 30, 12, 0, time.UTC))

	b, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(b) != `"2026-03-05T09:30:12"` {
		t.Fatalf("Marshal = %s, want ISO-8601 UTC string", b)
	}

	var out Time
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !out.Equal(in.Time) {
		t.Fatalf("round-trip = %v, want %v", out.Time, in.Time)
	}
}

func TestTimeNull(t *testing.T) {
	t.Parallel()
	var zero Time
	b, err := json.Marshal(zero)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(b) != "null" {
		t.Fatalf("Marshal(zero) = %s, want null", b)
	}

	var out Time
	if err := json.Unmarshal([]byte("null"), &out); err != nil {
		t.Fatalf("Unmarshal(null): %v", err)
	}
	if out.Valid {
		t.Fatal("Unmarshal(null) produced Valid=true")
	}
}

func TestIDAlwaysString(t *testing.T) {
	t.Parallel()
	b, err := json.Marshal(ID("42"))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(b) != `"42"` {
		t.Fatalf("Marshal = %s, want quoted string", b)
	}

	var fromNumber ID
	if err := json.Unmarshal([]byte("42"), &fromNumber); err != nil {
		t.Fatalf("Unmarshal(number): %v", err)
	}
	if fromNumber != "42" {
		t.Fatalf("Unmarshal(number) = %q, want 42", fromNumber)
	}
}
