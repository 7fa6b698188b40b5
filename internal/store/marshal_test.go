package store

import (
	"testing"
	"time"
)

func TestMarshalEventData_Nil(t *testing.T) {
	got, err := marshalEventData(nil)
	if err != nil {
		t.Fatalf("marshalEventData() failed: %v", err)
	}
	if got != "{}" {
		t.Errorf("marshalEventData(nil) = %q, want {}", got)
	}
}

func TestMarshalEventData_SortedKeysNoHTMLEscape(t *testing.T) {
	got, err := marshalEventData(map[string]any{"z": 1, "a": "<b>&</b>"})
	if err != nil {
		t.Fatalf("marshalEventData() failed: %v", err)
	}
	want := `{"a":"<b>&</b>","z":1}`
	if got != want {
		t.Errorf("marshalEventData() = %q, want %q", got, want)
	}
}

func TestUnmarshalEventData_EmptyString(t *testing.T) {
	got, err := unmarshalEventData("")
	if err != nil {
		t.Fatalf("unmarshalEventData() failed: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("unmarshalEventData(\"\") = %v, want empty map", got)
	}
}

func TestUnmarshalEventData_InvalidJSON(t *testing.T) {
	if _, err := unmarshalEventData("{not json"); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestParseTime_Invalid(t *testing.T) {
	if _, err := parseTime("yesterday"); err == nil {
		t.Error("expected error for invalid timestamp")
	}
}

func TestFormatTime_UTC(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	ts := time.Date(2024, 1, 1, 14, 0, 0, 500, loc)

	got := formatTime(ts)
	if got != "2024-01-01T12:00:00.0000005Z" {
		t.Errorf("formatTime() = %q", got)
	}
}
