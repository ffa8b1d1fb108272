package security

import (
	"strings"
	"testing"

	"github.com/fly-io/poolimport/pkg/poolfs"
)

func TestValidateDirName(t *testing.T) {
	v := NewValidator(0)

	tests := []struct {
		name      string
		shouldErr bool
	}{
		{".opaque", false},
		{".sahpool", false},
		{"pool-1", false},
		{"", true},
		{".", true},
		{"..", true},
		{"a/b", true},
		{`a\b`, true},
	}

	for _, tt := range tests {
		err := v.ValidateDirName(tt.name)
		if tt.shouldErr && err == nil {
			t.Errorf("expected error for name: %q", tt.name)
		}
		if !tt.shouldErr && err != nil {
			t.Errorf("unexpected error for name %q: %v", tt.name, err)
		}
	}
}

func TestValidateVirtualPath(t *testing.T) {
	v := NewValidator(0)

	tests := []struct {
		path      string
		shouldErr bool
	}{
		{"/main.db", false},
		{"/evolu1.db", false},
		{"/" + strings.Repeat("a", 510), false},
		{"/" + strings.Repeat("a", 511), true},
		{"main.db", true},
		{"/", true},
		{"/a/../main.db", true},
		{"/main.db\x00", true},
	}

	for _, tt := range tests {
		err := v.ValidateVirtualPath(tt.path)
		if tt.shouldErr && err == nil {
			t.Errorf("expected error for path of length %d", len(tt.path))
		}
		if !tt.shouldErr && err != nil {
			t.Errorf("unexpected error for path of length %d: %v", len(tt.path), err)
		}
	}
}

func TestValidateImageSize(t *testing.T) {
	v := NewValidator(100)

	if err := v.ValidateImageSize(50); err != nil {
		t.Errorf("expected no error for size 50, got: %v", err)
	}

	if err := v.ValidateImageSize(150); err == nil {
		t.Error("expected error for size 150 exceeding limit 100")
	}

	if err := NewValidator(0).ValidateImageSize(1 << 40); err != nil {
		t.Errorf("zero limit should disable the check, got: %v", err)
	}
}

func TestValidateObjectKey(t *testing.T) {
	v := NewValidator(0)

	for _, key := range []string{"backups/app.db", "app.db", "a/b/c.sqlite"} {
		if err := v.ValidateObjectKey(key); err != nil {
			t.Errorf("unexpected error for key %s: %v", key, err)
		}
	}
	for _, key := range []string{"", "/etc/passwd", "../x.db", "a/../../x.db"} {
		if err := v.ValidateObjectKey(key); err == nil {
			t.Errorf("expected error for key: %q", key)
		}
	}
}

func TestValidateLayout(t *testing.T) {
	v := NewValidator(0)

	if err := v.ValidateLayout(poolfs.DefaultLayout()); err != nil {
		t.Fatalf("default layout rejected: %v", err)
	}

	bad := poolfs.DefaultLayout()
	bad.OpaqueDir = "../escape"
	if err := v.ValidateLayout(bad); err == nil {
		t.Error("expected error for opaque dir escaping the pool")
	}

	bad = poolfs.DefaultLayout()
	bad.Capacity = 0
	if err := v.ValidateLayout(bad); err == nil {
		t.Error("expected error for zero capacity")
	}
}
