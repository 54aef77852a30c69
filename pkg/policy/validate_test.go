package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hopsd/hops/pkg/hopserr"
)

func opts() ValidateOptions {
	o := DefaultValidateOptions("/tmp/hops-test-state")
	o.SkipHostFilesystemChecks = true
	return o
}

func TestValidate_OK(t *testing.T) {
	p := &Policy{Name: "ok", Version: "1.0.0"}
	if err := Validate(p, opts()); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
}

func TestValidate_EmptyName(t *testing.T) {
	p := &Policy{Version: "1.0.0"}
	err := Validate(p, opts())
	if !hopserr.Is(err, hopserr.EmptyName) {
		t.Fatalf("err = %v, want EmptyName", err)
	}
}

func TestValidate_BadVersion(t *testing.T) {
	p := &Policy{Name: "x", Version: "1.0"}
	err := Validate(p, opts())
	if !hopserr.Is(err, hopserr.InvalidVersion) {
		t.Fatalf("err = %v, want InvalidVersion", err)
	}
}

func TestValidate_NonAbsolutePath(t *testing.T) {
	p := &Policy{Name: "x", Version: "1.0.0", Capability: CapabilityGrant{AllowedPaths: []string{"relative/path"}}}
	err := Validate(p, opts())
	if !hopserr.Is(err, hopserr.NonAbsolutePath) {
		t.Fatalf("err = %v, want NonAbsolutePath", err)
	}
}

// TestValidate_ConflictingPaths covers the quantified invariant in §8:
// for every accepted policy, swapping an allowedPath with an overlapping
// deniedPath must fail with ConflictingPaths.
func TestValidate_ConflictingPaths(t *testing.T) {
	base := &Policy{Name: "x", Version: "1.0.0"}

	base.Capability.AllowedPaths = []string{"/usr/local"}
	if err := Validate(base, opts()); err != nil {
		t.Fatalf("baseline should be valid, got %v", err)
	}

	base.Capability.DeniedPaths = []string{"/usr"}
	err := Validate(base, opts())
	if !hopserr.Is(err, hopserr.ConflictingPaths) {
		t.Fatalf("err = %v, want ConflictingPaths", err)
	}
}

func TestValidate_ResourceLimitOutOfRange(t *testing.T) {
	over := int64(999)
	p := &Policy{Name: "x", Version: "1.0.0", Capability: CapabilityGrant{ResourceLimits: ResourceLimits{CPUCount: &over}}}
	err := Validate(p, opts())
	if !hopserr.Is(err, hopserr.ResourceLimitOutOfRange) {
		t.Fatalf("err = %v, want ResourceLimitOutOfRange", err)
	}
}

func TestValidate_OverlappingMountDestinations(t *testing.T) {
	p := &Policy{
		Name: "x", Version: "1.0.0",
		Sandbox: SandboxConfig{Mounts: []MountEntry{
			{Type: MountTmpfs, Destination: "/mnt"},
			{Type: MountTmpfs, Destination: "/mnt/sub"},
		}},
	}
	err := Validate(p, opts())
	if !hopserr.Is(err, hopserr.ConflictingPaths) {
		t.Fatalf("err = %v, want ConflictingPaths", err)
	}
}

// TestValidate_BindMountSymlinkIntoSensitivePath covers the §8 quantified
// invariant: a Bind mount whose source is a symlink resolving into a
// sensitive path is rejected, not just a direct sensitive-path source.
func TestValidate_BindMountSymlinkIntoSensitivePath(t *testing.T) {
	dir := t.TempDir()

	sensitiveDir := filepath.Join(dir, "sensitive-root")
	if err := os.MkdirAll(sensitiveDir, 0700); err != nil {
		t.Fatal(err)
	}
	target := filepath.Join(sensitiveDir, "shadow")
	if err := os.WriteFile(target, []byte("secret"), 0600); err != nil {
		t.Fatal(err)
	}

	link := filepath.Join(dir, "innocuous-link")
	if err := os.Symlink(target, link); err != nil {
		t.Fatal(err)
	}

	p := &Policy{
		Name: "x", Version: "1.0.0",
		Sandbox: SandboxConfig{Mounts: []MountEntry{
			{Type: MountBind, Source: link, Destination: "/mnt/passthrough", Mode: MountReadOnly},
		}},
	}

	o := DefaultValidateOptions(dir)
	o.SensitivePaths = []string{sensitiveDir}

	err := Validate(p, o)
	if !hopserr.Is(err, hopserr.InsecureMountConfig) {
		t.Fatalf("err = %v, want InsecureMountConfig", err)
	}
}

func TestResolveRootfs(t *testing.T) {
	cases := []struct {
		ref, searchDir, want string
	}{
		{"/abs/rootfs.ext4", "/state/rootfs", "/abs/rootfs.ext4"},
		{"alpine.ext4", "/state/rootfs", "/state/rootfs/alpine.ext4"},
	}
	for _, c := range cases {
		got, err := ResolveRootfs(c.ref, c.searchDir)
		if err != nil {
			t.Fatalf("ResolveRootfs(%q) error: %v", c.ref, err)
		}
		if got != c.want {
			t.Errorf("ResolveRootfs(%q) = %q, want %q", c.ref, got, c.want)
		}
	}
}
