package storage

import (
	"context"
	"testing"
)

func TestIsCandidateKey(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"backups/app.db", true},
		{"backups/app.SQLite3", true},
		{"exports/2026-10-16.sqlite", true},
		{"exports/opfs-slot.bin", true},
		{"backups/", false},
		{"backups/readme.txt", false},
		{"images/alpine.tar", false},
	}

	for _, tt := range tests {
		if got := IsCandidateKey(tt.key); got != tt.want {
			t.Errorf("IsCandidateKey(%q) = %v, want %v", tt.key, got, tt.want)
		}
	}
}

func TestNewClient_RequiresBucket(t *testing.T) {
	if _, err := NewClient(context.Background(), "", "us-east-1"); err == nil {
		t.Fatal("expected error for empty bucket")
	}
}
