package policy

import (
	"testing"

	"github.com/hopsd/hops/pkg/hopserr"
)

func TestParse_Minimal(t *testing.T) {
	p, err := Parse(`name = "echo-sandbox"`)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if p.Version != defaultVersion {
		t.Errorf("Version = %q, want %q", p.Version, defaultVersion)
	}
	if p.Capability.NetworkMode != NetworkDisabled {
		t.Errorf("NetworkMode = %v, want NetworkDisabled", p.Capability.NetworkMode)
	}
	if len(p.Capability.FilesystemRights) != 0 {
		t.Errorf("FilesystemRights = %v, want empty", p.Capability.FilesystemRights)
	}
	if p.Capability.ResourceLimits.CPUCount != nil {
		t.Errorf("CPUCount = %v, want unset", p.Capability.ResourceLimits.CPUCount)
	}
}

func TestParse_MissingName(t *testing.T) {
	_, err := Parse(`version = "2.0.0"`)
	if !hopserr.Is(err, hopserr.MissingRequiredField) {
		t.Fatalf("err = %v, want MissingRequiredField", err)
	}
}

func TestParse_UnknownNetworkMode(t *testing.T) {
	doc := `
name = "x"
[capability]
network = "bogus"
`
	_, err := Parse(doc)
	if !hopserr.Is(err, hopserr.InvalidFieldValue) {
		t.Fatalf("err = %v, want InvalidFieldValue", err)
	}
}

func TestParse_UnknownMountType(t *testing.T) {
	doc := `
name = "x"
[[sandbox.mounts]]
type = "nfs"
source = "/a"
destination = "/b"
`
	_, err := Parse(doc)
	if !hopserr.Is(err, hopserr.InvalidFieldValue) {
		t.Fatalf("err = %v, want InvalidFieldValue", err)
	}
}

func TestParse_FullDocument(t *testing.T) {
	doc := `
name = "build-sandbox"
version = "2.1.0"
description = "runs builds"
rootfs = "custom.ext4"

[metadata]
owner = "ci"

[capability]
network = "outbound"
filesystem_rights = ["read", "write"]
allowed_paths = ["/usr/local"]
denied_paths = ["/etc"]

[capability.resources]
cpu_count = 2
memory_bytes = 268435456

[sandbox]
root_path = "/"
hostname = "builder"
working_directory = "/work"

[sandbox.environment]
PATH = "/usr/bin"
HOME = "/root"

[[sandbox.mounts]]
type = "bind"
source = "/data"
destination = "/mnt/data"
mode = "rw"
`
	p, err := Parse(doc)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if p.Name != "build-sandbox" || p.Version != "2.1.0" {
		t.Errorf("unexpected identity: %+v", p)
	}
	if p.Capability.NetworkMode != NetworkOutbound {
		t.Errorf("NetworkMode = %v, want Outbound", p.Capability.NetworkMode)
	}
	if !p.Capability.FilesystemRights.Has(RightWrite) {
		t.Error("expected write right")
	}
	if len(p.Sandbox.Mounts) != 1 || p.Sandbox.Mounts[0].Type != MountBind {
		t.Errorf("unexpected mounts: %+v", p.Sandbox.Mounts)
	}
	if *p.Capability.ResourceLimits.CPUCount != 2 {
		t.Errorf("CPUCount = %v, want 2", p.Capability.ResourceLimits.CPUCount)
	}
}

// TestParse_RoundTrip checks that Policy -> text -> Policy is the
// identity modulo key ordering and explicit defaults (§8).
func TestParse_RoundTrip(t *testing.T) {
	doc := `
name = "rt"
version = "3.0.0"

[capability]
network = "loopback"
filesystem_rights = ["read"]

[sandbox.environment]
A = "1"
B = "2"
`
	p1, err := Parse(doc)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	text, err := Encode(p1)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	p2, err := Parse(text)
	if err != nil {
		t.Fatalf("re-Parse failed: %v", err)
	}
	if p1.Name != p2.Name || p1.Version != p2.Version || p1.Capability.NetworkMode != p2.Capability.NetworkMode {
		t.Errorf("round trip mismatch: %+v vs %+v", p1, p2)
	}
	if len(p1.Sandbox.Environment) != len(p2.Sandbox.Environment) {
		t.Errorf("round trip environment mismatch: %+v vs %+v", p1.Sandbox.Environment, p2.Sandbox.Environment)
	}
}
