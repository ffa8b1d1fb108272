package security

import (
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/fly-io/poolimport/pkg/poolfs"
)

// Validator checks untrusted inputs before they reach staging or the pool.
type Validator struct {
	maxImageSize int64
}

// NewValidator creates a validator. A maxImageSize of 0 disables the size check.
func NewValidator(maxImageSize int64) *Validator {
	slog.Info("security_validator_init", "max_image_size_mb", maxImageSize/1024/1024)
	return &Validator{maxImageSize: maxImageSize}
}

// ValidateImageSize rejects database images above the configured limit.
func (v *Validator) ValidateImageSize(size int64) error {
	if v.maxImageSize > 0 && size > v.maxImageSize {
		slog.Error("security_image_size_exceeded",
			"image_size_mb", size/1024/1024,
			"max_image_size_mb", v.maxImageSize/1024/1024)
		return fmt.Errorf("security: image size %d exceeds max %d", size, v.maxImageSize)
	}
	return nil
}

// ValidateDirName accepts a single directory name that stays inside its parent.
func (v *Validator) ValidateDirName(name string) error {
	if name == "" || name == "." || name == ".." {
		slog.Error("security_dir_validation_failed", "name", name, "reason", "reserved_name")
		return fmt.Errorf("security: invalid directory name: %q", name)
	}
	if strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		slog.Error("security_dir_validation_failed", "name", name, "reason", "separator")
		return fmt.Errorf("security: directory name must be a single component: %q", name)
	}
	return nil
}

// ValidateVirtualPath checks a virtual database path fits a slot header.
func (v *Validator) ValidateVirtualPath(p string) error {
	if !strings.HasPrefix(p, "/") {
		slog.Error("security_virtual_path_failed", "path", p, "reason", "relative")
		return fmt.Errorf("security: virtual path must be absolute: %q", p)
	}
	if path.Clean(p) != p || p == "/" {
		slog.Error("security_virtual_path_failed", "path", p, "reason", "unclean")
		return fmt.Errorf("security: virtual path must name a file: %q", p)
	}
	if strings.ContainsRune(p, 0) {
		slog.Error("security_virtual_path_failed", "path", p, "reason", "nul_byte")
		return fmt.Errorf("security: virtual path contains a NUL byte")
	}
	if len(p) >= poolfs.HeaderMaxPathSize {
		slog.Error("security_virtual_path_failed", "path_len", len(p), "reason", "too_long")
		return fmt.Errorf("security: virtual path is %d bytes, max %d", len(p), poolfs.HeaderMaxPathSize-1)
	}
	return nil
}

// ValidateObjectKey checks a remote object key before it is used to name a
// local download.
func (v *Validator) ValidateObjectKey(key string) error {
	if key == "" {
		return fmt.Errorf("security: object key cannot be empty")
	}
	if strings.HasPrefix(key, "/") {
		slog.Error("security_object_key_failed", "key", key, "reason", "absolute_path")
		return fmt.Errorf("security: absolute object key not allowed: %s", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			slog.Error("security_object_key_failed", "key", key, "reason", "path_traversal")
			return fmt.Errorf("security: path traversal detected: %s", key)
		}
	}
	return nil
}

// ValidateLayout runs every layout check.
func (v *Validator) ValidateLayout(l poolfs.Layout) error {
	if err := v.ValidateDirName(l.VFSDir); err != nil {
		return err
	}
	if err := v.ValidateDirName(l.OpaqueDir); err != nil {
		return err
	}
	if err := v.ValidateVirtualPath(l.VirtualPath); err != nil {
		return err
	}
	return l.Validate()
}
