package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/flowmcp/flowmcp/pkg/core"
)

func TestParseStoreType(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected StoreType
	}{
		{
			name:     "parse memory lowercase",
			input:    "memory",
			expected: StoreTypeMemory,
		},
		{
			name:     "parse memory uppercase",
			input:    "MEMORY",
			expected: StoreTypeMemory,
		},
		{
			name:     "parse sqlite lowercase",
			input:    "sqlite",
			expected: StoreTypeSQLite,
		},
		{
			name:     "parse sqlite mixed case",
			input:    "SQLite",
			expected: StoreTypeSQLite,
		},
		{
			name:     "parse redis lowercase",
			input:    "redis",
			expected: StoreTypeRedis,
		},
		{
			name:     "parse redis uppercase",
			input:    "REDIS",
			expected: StoreTypeRedis,
		},
		{
			name:     "invalid input returns memory",
			input:    "invalid",
			expected: StoreTypeMemory,
		},
		{
			name:     "empty input returns memory",
			input:    "",
			expected: StoreTypeMemory,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseStoreType(tt.input); got != tt.expected {
				t.Errorf("ParseStoreType(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestStoreType_IsValid(t *testing.T) {
	valid := []StoreType{StoreTypeMemory, StoreTypeSQLite, StoreTypeRedis}
	for _, st := range valid {
		if !st.IsValid() {
			t.Errorf("%v should be valid", st)
		}
	}
	if StoreType("etcd").IsValid() {
		t.Error("unknown store type should be invalid")
	}
}

func TestNewStore_Memory(t *testing.T) {
	s, err := NewStore(DefaultConfig())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	if _, ok := s.(*MemoryStore); !ok {
		t.Errorf("NewStore returned %T, want *MemoryStore", s)
	}
}

func TestNewStore_SQLite(t *testing.T) {
	s, err := NewStore(Config{
		Type:       StoreTypeSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "factory.db"),
	})
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	sqlite, ok := s.(*SQLiteStore)
	if !ok {
		t.Fatalf("NewStore returned %T, want *SQLiteStore", s)
	}
	defer sqlite.Close()

	// The schema must be in place; a basic round-trip proves it.
	ctx := context.Background()
	err = s.SaveAuthorizationCode(ctx, &core.AuthorizationCode{
		Code:      "factory_code",
		ClientID:  "c",
		CreatedAt: time.Now().Unix(),
		ExpiresAt: time.Now().Add(time.Minute).Unix(),
	})
	if err != nil {
		t.Errorf("SaveAuthorizationCode on factory-built store failed: %v", err)
	}
}

func TestNewStore_Invalid(t *testing.T) {
	if _, err := NewStore(Config{Type: StoreType("etcd")}); err == nil {
		t.Error("NewStore with an unknown type should fail")
	}
}
