package rootfs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hopsd/hops/pkg/policy"
	"github.com/sirupsen/logrus"
)

func testProvisioner(t *testing.T) (*Provisioner, string) {
	t.Helper()
	dir := t.TempDir()
	base := filepath.Join(dir, "alpine-rootfs.ext4")
	if err := os.WriteFile(base, []byte("fake ext4 contents"), 0644); err != nil {
		t.Fatalf("seed base image: %v", err)
	}
	return New(dir, logrus.NewEntry(logrus.New())), dir
}

func TestProvision_DefaultImage(t *testing.T) {
	p, _ := testProvisioner(t)
	path, err := p.Provision("abc123", &policy.Policy{Name: "x", Version: "1.0.0"})
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read provisioned rootfs: %v", err)
	}
	if string(got) != "fake ext4 contents" {
		t.Errorf("content = %q", got)
	}
}

func TestProvision_MissingBaseImageFails(t *testing.T) {
	p, dir := testProvisioner(t)
	_ = os.Remove(filepath.Join(dir, "alpine-rootfs.ext4"))
	if _, err := p.Provision("abc123", &policy.Policy{Name: "x", Version: "1.0.0"}); err == nil {
		t.Fatal("expected error for missing base image")
	}
}

func TestProvision_NamedRootfs(t *testing.T) {
	p, dir := testProvisioner(t)
	namedDir := filepath.Join(dir, "rootfs")
	if err := os.MkdirAll(namedDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(namedDir, "custom.ext4"), []byte("custom"), 0644); err != nil {
		t.Fatal(err)
	}
	path, err := p.Provision("zz", &policy.Policy{Name: "x", Version: "1.0.0", Rootfs: "custom.ext4"})
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	got, _ := os.ReadFile(path)
	if string(got) != "custom" {
		t.Errorf("content = %q", got)
	}
}

func TestCleanup_RemovesContainerDirectory(t *testing.T) {
	p, _ := testProvisioner(t)
	path, err := p.Provision("cleanme", &policy.Policy{Name: "x", Version: "1.0.0"})
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if err := p.Cleanup("cleanme"); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected rootfs file removed, stat err = %v", err)
	}
}
