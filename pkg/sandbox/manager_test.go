package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hopsd/hops/pkg/vmm"
	"github.com/sirupsen/logrus"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	dir := t.TempDir()
	kernel := filepath.Join(dir, "vmlinux")
	initfs := filepath.Join(dir, "initfs")
	if err := os.WriteFile(kernel, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(initfs, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	m, err := New(Config{StateDir: dir, KernelPath: kernel, InitfsPath: initfs}, logrus.NewEntry(logrus.New()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func TestNew_SweepsStaleContainerDirs(t *testing.T) {
	dir := t.TempDir()
	kernel := filepath.Join(dir, "vmlinux")
	initfs := filepath.Join(dir, "initfs")
	os.WriteFile(kernel, []byte("x"), 0644)
	os.WriteFile(initfs, []byte("x"), 0644)

	stale := filepath.Join(dir, "containers", "leftover-id")
	if err := os.MkdirAll(stale, 0700); err != nil {
		t.Fatal(err)
	}

	if _, err := New(Config{StateDir: dir, KernelPath: kernel, InitfsPath: initfs}, logrus.NewEntry(logrus.New())); err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Errorf("expected stale container dir removed, stat err = %v", err)
	}
}

func TestGeneratedGuestPid_InRange(t *testing.T) {
	for _, id := range []string{"a", "some-long-container-id", ""} {
		pid := generatedGuestPid(id)
		if pid < 10000 || pid >= 60000 {
			t.Errorf("generatedGuestPid(%q) = %d, want in [10000,60000)", id, pid)
		}
	}
}

// injectRecord installs a Record directly, mirroring the teacher's
// concurrency_test.go convention of bypassing CreateVM-equivalents that
// require a real hypervisor.
func injectRecord(m *Manager, id string) *Record {
	r := &Record{ContainerID: id, PolicyName: "p", State: StateRunning, StartedAt: time.Now(), handle: &vmm.Handle{}}
	m.mu.Lock()
	m.table[id] = r
	m.activeCount++
	m.mu.Unlock()
	return r
}

func TestList_ReflectsTable(t *testing.T) {
	m := testManager(t)
	injectRecord(m, "c1")
	injectRecord(m, "c2")

	statuses := m.List()
	if len(statuses) != 2 {
		t.Fatalf("List len = %d, want 2", len(statuses))
	}
}

func TestStatus_FoundAndNotFound(t *testing.T) {
	m := testManager(t)
	injectRecord(m, "c1")

	if _, ok := m.Status("c1"); !ok {
		t.Error("expected c1 to be found")
	}
	if _, ok := m.Status("missing"); ok {
		t.Error("expected missing to be not found")
	}
}

func TestResize_NotFound(t *testing.T) {
	m := testManager(t)
	if err := m.Resize("never-existed", 80, 24); err == nil {
		t.Fatal("expected error for unknown id")
	}
}

func TestNew_BootSemaphoreOnlyWhenConfigured(t *testing.T) {
	dir := t.TempDir()
	kernel := filepath.Join(dir, "vmlinux")
	initfs := filepath.Join(dir, "initfs")
	os.WriteFile(kernel, []byte("x"), 0644)
	os.WriteFile(initfs, []byte("x"), 0644)

	unbounded, err := New(Config{StateDir: dir, KernelPath: kernel, InitfsPath: initfs}, logrus.NewEntry(logrus.New()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if unbounded.bootSem != nil {
		t.Error("expected nil bootSem when MaxConcurrentBoots is unset")
	}

	bounded, err := New(Config{StateDir: dir, KernelPath: kernel, InitfsPath: initfs, MaxConcurrentBoots: 2}, logrus.NewEntry(logrus.New()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if bounded.bootSem == nil {
		t.Fatal("expected non-nil bootSem when MaxConcurrentBoots is set")
	}
	if !bounded.bootSem.TryAcquire(2) {
		t.Error("expected to acquire full weight of 2")
	}
	if bounded.bootSem.TryAcquire(1) {
		t.Error("expected semaphore to already be saturated")
	}
}

func TestStop_TransitionsToStoppedWithNilExitCode(t *testing.T) {
	m := testManager(t)
	injectRecord(m, "c1")

	if err := m.Stop(context.Background(), "c1"); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	st, ok := m.Status("c1")
	if !ok {
		t.Fatal("expected c1 still present in the table immediately after Stop")
	}
	if st.State != StateStopped {
		t.Errorf("State = %v, want StateStopped", st.State)
	}
	if st.FinishedAt == nil {
		t.Error("expected FinishedAt to be set")
	}
	if st.ExitCode != nil {
		t.Errorf("ExitCode = %v, want nil (signalled termination)", *st.ExitCode)
	}
	if m.ActiveCount() != 0 {
		t.Errorf("ActiveCount = %d, want 0 after Stop", m.ActiveCount())
	}
}

func TestExitHandler_PreservesStoppedRecord(t *testing.T) {
	m := testManager(t)
	r := injectRecord(m, "c1")

	if err := m.Stop(context.Background(), "c1"); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	// The background wait goroutine observes the closed guest connection
	// and calls exitHandler with whatever code the broken bridge reports;
	// a Stopped record must not be overwritten by it.
	m.exitHandler("c1", -1)

	if r.State != StateStopped {
		t.Errorf("State = %v, want StateStopped (unchanged by exitHandler)", r.State)
	}
	if r.ExitCode != nil {
		t.Errorf("ExitCode = %v, want nil (unchanged by exitHandler)", *r.ExitCode)
	}
	if _, ok := m.Status("c1"); ok {
		t.Error("expected c1 removed from the table after exitHandler's cleanup")
	}
	if m.ActiveCount() != 0 {
		t.Errorf("ActiveCount = %d, want 0 (Stop already decremented it)", m.ActiveCount())
	}
}

func TestStop_NotFoundIsDeterministic(t *testing.T) {
	m := testManager(t)
	if err := m.Stop(context.Background(), "never-existed"); err == nil {
		t.Fatal("expected error for unknown id")
	}
	if err := m.Stop(context.Background(), "never-existed"); err == nil {
		t.Fatal("expected second call to also fail deterministically")
	}
}

func TestExitHandler_RemovesFromTableAndDecrementsCount(t *testing.T) {
	m := testManager(t)
	injectRecord(m, "c1")
	if m.ActiveCount() != 1 {
		t.Fatalf("ActiveCount = %d, want 1", m.ActiveCount())
	}

	m.exitHandler("c1", 0)

	if m.ActiveCount() != 0 {
		t.Errorf("ActiveCount = %d, want 0", m.ActiveCount())
	}
	if _, ok := m.Status("c1"); ok {
		t.Error("expected c1 removed from table after exit handler")
	}
}

func TestExitHandler_CleansUpArtifactsUnlessKept(t *testing.T) {
	m := testManager(t)
	id := "c-cleanup"
	dir := filepath.Join(m.cfg.StateDir, "containers", id)
	if err := os.MkdirAll(dir, 0700); err != nil {
		t.Fatal(err)
	}
	r := injectRecord(m, id)
	r.KeepArtifacts = false

	m.exitHandler(id, 0)

	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("expected container directory removed, stat err = %v", err)
	}
}

func TestExitHandler_KeepsArtifactsWhenRequested(t *testing.T) {
	m := testManager(t)
	id := "c-keep"
	dir := filepath.Join(m.cfg.StateDir, "containers", id)
	if err := os.MkdirAll(dir, 0700); err != nil {
		t.Fatal(err)
	}
	r := injectRecord(m, id)
	r.KeepArtifacts = true

	m.exitHandler(id, 0)

	if _, err := os.Stat(dir); err != nil {
		t.Errorf("expected container directory kept, stat err = %v", err)
	}
}
