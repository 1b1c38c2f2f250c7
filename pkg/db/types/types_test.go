package dbtypes

import (
	"testing"
)

func TestStringListRoundTripsThroughDriver(t *testing.T) {
	in := StringList{"Bab Ezzouar", "Kouba"}
	v, err := in.Value()
	if err != nil {
		t.Fatalf("Value: %v", err)
	}
	if v != `["Bab Ezzouar","Kouba"]` {
		t.Fatalf("unexpected encoding %v", v)
	}

	var out StringList
	if err := out.Scan([]byte(v.(string))); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(out) != 2 || out[1] != "Kouba" {
		t.Fatalf("unexpected decode %v", out)
	}
}

func TestStringListScanNullAndEmpty(t *testing.T) {
	var l StringList
	if err := l.Scan(nil); err != nil || l == nil || len(l) != 0 {
		t.Fatalf("expected empty list from NULL, got %v err=%v", l, err)
	}
	if err := l.Scan("null"); err != nil || l == nil {
		t.Fatalf("expected empty list from json null, got %v err=%v", l, err)
	}
	if err := l.Scan(42); err == nil {
		t.Fatalf("expected unsupported type error")
	}
	var nilList StringList
	if v, _ := nilList.Value(); v != "[]" {
		t.Fatalf("expected nil list to encode as [], got %v", v)
	}
}

func TestStringListWithout(t *testing.T) {
	l := StringList{"a", "b", "c", "b"}
	got := l.Without([]string{"b"})
	if len(got) != 2 || got[0] != "a" || got[1] != "c" {
		t.Fatalf("unexpected result %v", got)
	}
	if len(l) != 4 {
		t.Fatalf("original list mutated: %v", l)
	}
}

func TestStringListWith(t *testing.T) {
	l := StringList{"a", "b"}
	got := l.With([]string{"b", "c", "c"})
	if len(got) != 3 || got[2] != "c" {
		t.Fatalf("unexpected result %v", got)
	}
	if len(l) != 2 {
		t.Fatalf("original list mutated: %v", l)
	}
}

func TestRawJSONValue(t *testing.T) {
	var empty RawJSON
	if v, err := empty.Value(); err != nil || v != nil {
		t.Fatalf("expected nil value for empty raw, got %v err=%v", v, err)
	}
	if _, err := RawJSON(`{"broken"`).Value(); err == nil {
		t.Fatalf("expected invalid json error")
	}
	raw := RawJSON(`{"id":1,"extra":{"k":"v"}}`)
	v, err := raw.Value()
	if err != nil || v != `{"id":1,"extra":{"k":"v"}}` {
		t.Fatalf("unexpected value %v err=%v", v, err)
	}

	var back RawJSON
	if err := back.Scan([]byte(`{"a":true}`)); err != nil || string(back) != `{"a":true}` {
		t.Fatalf("unexpected scan %s err=%v", back, err)
	}
}
