package models

import (
	"testing"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

func TestCollectionName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"discord snowflake", "1093847562019283", "Memory_1093847562019283"},
		{"user name", "viyi", "Memory_viyi"},
		{"mixed case kept", "MoonBase", "Memory_MoonBase"},
		{"punctuation escaped", "moon.1945-test", "Memory_moon_2e1945_2dtest"},
		{"underscore doubled", "a_b", "Memory_a__b"},
		{"spaces escaped", "a b", "Memory_a_20b"},
		{"unicode escaped per byte", "café", "Memory_caf_c3_a9"},
		{"empty channel", "", "Memory_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CollectionName(tt.in)
			if got != tt.want {
				t.Errorf("CollectionName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCollectionNameDistinct(t *testing.T) {
	channels := []string{"a.b", "a_b", "a b", "a__b", "a_2eb", "a._b", "alice.b", "alice_b", "ab", ""}
	seen := make(map[string]string, len(channels))
	for _, ch := range channels {
		name := CollectionName(ch)
		if prev, ok := seen[name]; ok {
			t.Errorf("channels %q and %q share collection %q", prev, ch, name)
		}
		seen[name] = ch
	}
}

func TestRecordIDString(t *testing.T) {
	id, err := RecordIDString(surrealmodels.RecordID{Table: "memory_general", ID: "abc"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "abc" {
		t.Errorf("RecordIDString = %q, want %q", id, "abc")
	}

	if _, err := RecordIDString(surrealmodels.RecordID{Table: "memory_general", ID: 42}); err == nil {
		t.Error("expected error for numeric record id")
	}
}

func TestNewSummaryMemory(t *testing.T) {
	m := NewSummaryMemory("Rimuru met Shion at the gate.")
	if m.Kind != KindChatSummary {
		t.Errorf("Kind = %q, want %q", m.Kind, KindChatSummary)
	}
	if !m.IsSelf() {
		t.Errorf("summary author = %q, want %q", m.Author, SelfAuthor)
	}
	if m.ID == "" || m.CreatedAt.IsZero() {
		t.Error("summary should carry an id and timestamp")
	}
}
