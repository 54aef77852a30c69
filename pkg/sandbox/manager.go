package sandbox

import (
	"context"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/hopsd/hops/pkg/capability"
	"github.com/hopsd/hops/pkg/hopserr"
	"github.com/hopsd/hops/pkg/metrics"
	"github.com/hopsd/hops/pkg/policy"
	"github.com/hopsd/hops/pkg/rootfs"
	hopsstdin "github.com/hopsd/hops/pkg/stdin"
	"github.com/hopsd/hops/pkg/vmm"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// Config parameterizes Manager with the host paths described in §6.
type Config struct {
	StateDir   string
	KernelPath string
	InitfsPath string
	NATSubnet  capability.NATSubnet
	// MaxConcurrentBoots bounds how many CreateAndStart calls may be
	// in flight at once, mirroring the teacher's warmSem bound on
	// concurrent VM warming; 0 means unbounded.
	MaxConcurrentBoots int
}

// Manager is the Sandbox Manager (S): the single actor-like owner of
// the container table and the VM manager handle, matching the
// teacher's pkg/vm.Manager in spirit (one RWMutex-guarded map) but
// generalized from "pod sandbox with many containers" to "one
// container per microVM".
type Manager struct {
	mu              sync.RWMutex
	table           map[string]*Record
	activeCount     int
	vm              *vmm.Manager
	provisioner     *rootfs.Provisioner
	cfg             Config
	log             *logrus.Entry
	engineStartTime time.Time
	bootSem         *semaphore.Weighted
}

// New constructs the Sandbox Manager: verifies the kernel and init
// filesystem exist (via vmm.New), then performs the stale-artifact
// sweep described in §4.4.1 step 3.
func New(cfg Config, log *logrus.Entry) (*Manager, error) {
	vm, err := vmm.New(vmm.Config{
		KernelPath: cfg.KernelPath,
		InitfsPath: cfg.InitfsPath,
		StateDir:   cfg.StateDir,
	}, log)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		table:           make(map[string]*Record),
		vm:              vm,
		provisioner:     rootfs.New(cfg.StateDir, log),
		cfg:             cfg,
		log:             log.WithField("component", "sandbox"),
		engineStartTime: time.Now(),
	}
	if cfg.MaxConcurrentBoots > 0 {
		m.bootSem = semaphore.NewWeighted(int64(cfg.MaxConcurrentBoots))
	}

	if err := m.sweepStaleContainers(); err != nil {
		m.log.WithError(err).Warn("stale-artifact sweep encountered errors")
	}

	return m, nil
}

// sweepStaleContainers removes every directory under
// <state-dir>/containers/ unconditionally (§4.4.1 step 3, §9: running
// containers from a previous engine instance are not recoverable by
// design). Failures for individual directories are aggregated and
// logged, never propagated, matching the Cleanup propagation policy in
// §7.
func (m *Manager) sweepStaleContainers() error {
	containersDir := filepath.Join(m.cfg.StateDir, "containers")
	entries, err := os.ReadDir(containersDir)
	if err != nil {
		if os.IsNotExist(err) {
			return os.MkdirAll(containersDir, 0700)
		}
		return err
	}

	var result *multierror.Error
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(containersDir, e.Name())); err != nil {
			result = multierror.Append(result, fmt.Errorf("removing %s: %w", e.Name(), err))
		}
	}
	return result.ErrorOrNil()
}

// ActiveCount is the hook the engine supervisor polls for status
// reporting (§4.4.1).
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeCount
}

// EngineStartTime is exposed for GetEngineStatus.
func (m *Manager) EngineStartTime() time.Time { return m.engineStartTime }

// generatedGuestPid hashes id into the documented [10000, 60000) range
// (§4.4.2 step 5, §8). Collisions across distinct ids are expected and
// harmless; the value is explicitly not a real OS pid (§9).
func generatedGuestPid(id string) int64 {
	h := fnv.New32a()
	h.Write([]byte(id))
	return 10000 + int64(h.Sum32()%50000)
}

// RunStreaming implements runStreaming (§4.4.2). emit is called once per
// Stdout/Stderr/Exit event, synchronously, in fd order; it must not
// block for long since it sits between the guest bridge and whatever
// wraps the response stream. When allocateTty is set, RunStreaming
// creates a stdin injector, forwards what is written into it to the
// guest for as long as the container is alive, and returns it for the
// caller to write into; otherwise the returned injector is nil.
func (m *Manager) RunStreaming(ctx context.Context, id string, pol *policy.Policy, command []string, keepArtifacts, allocateTty bool, emit func(OutputChunk)) (*hopsstdin.Injector, error) {
	if err := m.checkIDUnused(id); err != nil {
		return nil, err
	}

	provisionTimer := metrics.NewTimer()
	rootfsPath, err := m.provisioner.Provision(id, pol)
	provisionTimer.ObserveDuration(metrics.RootfsProvisionDuration)
	if err != nil {
		metrics.ContainersFailedTotal.WithLabelValues(failureKind(err)).Inc()
		return nil, err
	}

	guestCfg := capability.Configure(pol, command, capability.IOHandles{
		HasStdoutSink: true, HasStderrSink: true, HasStdinSource: allocateTty,
	}, allocateTty, m.natSubnetOrDefault())

	if m.bootSem != nil {
		if err := m.bootSem.Acquire(ctx, 1); err != nil {
			m.provisioner.Cleanup(id)
			return nil, hopserr.Wrap(hopserr.CapacityError, "timed out waiting for a free boot slot", err)
		}
		defer m.bootSem.Release(1)
	}

	startTimer := metrics.NewTimer()
	handle, err := m.vm.CreateAndStart(ctx, id, rootfsPath, guestCfg)
	startTimer.ObserveDuration(metrics.VMMStartDuration)
	if err != nil {
		m.provisioner.Cleanup(id)
		metrics.ContainersFailedTotal.WithLabelValues(failureKind(err)).Inc()
		return nil, err
	}
	metrics.ContainersStartedTotal.Inc()
	metrics.ActiveContainers.Inc()

	var injector *hopsstdin.Injector
	if allocateTty {
		injector = hopsstdin.New()
	}

	record := &Record{
		ContainerID:            id,
		PolicyName:             pol.Name,
		CommandArgs:            guestCfg.ProcessArguments,
		GeneratedGuestPid:      generatedGuestPid(id),
		State:                  StateRunning,
		StartedAt:              time.Now(),
		KeepArtifacts:          keepArtifacts,
		StdinInjector:          injector,
		ContainerDirectoryPath: filepath.Join(m.cfg.StateDir, "containers", id),
		RootfsCopyPath:         rootfsPath,
		handle:                 handle,
		pol:                    pol,
	}

	m.mu.Lock()
	m.table[id] = record
	m.activeCount++
	m.mu.Unlock()

	stdoutW := sinkWriter{containerID: id, kind: ChunkStdout, emit: emit}
	stderrW := sinkWriter{containerID: id, kind: ChunkStderr, emit: emit}
	record.StdoutSink = stdoutW
	record.StderrSink = stderrW

	var stdinReader io.Reader
	if injector != nil {
		stdinReader = injector
	}

	bridgeDone := make(chan struct{})
	go func() {
		handle.Bridge(ctx, stdinReader, stdoutW, stderrW)
		close(bridgeDone)
	}()

	go func() {
		<-bridgeDone
		code, waitErr := handle.Wait(ctx)
		if waitErr != nil {
			code = -1
		}
		emit(OutputChunk{
			ContainerID:     id,
			Type:            ChunkExit,
			TimestampMillis: nowMillis(),
			ExitCode:        int32Ptr(int32(code)),
		})
		m.exitHandler(id, code)
	}()

	return injector, nil
}

// Run implements run (§4.4.3): identical to RunStreaming except output
// sinks are no-ops and the call returns as soon as the container has
// started, leaving the wait+cleanup to the background goroutine it
// already spawns.
func (m *Manager) Run(ctx context.Context, id string, pol *policy.Policy, command []string, keepArtifacts bool) error {
	_, err := m.RunStreaming(ctx, id, pol, command, keepArtifacts, false, func(OutputChunk) {})
	return err
}

// failureKind extracts the hopserr.Kind label for ContainersFailedTotal,
// falling back to "unknown" for errors outside the taxonomy.
func failureKind(err error) string {
	if he, ok := err.(*hopserr.Error); ok {
		return string(he.Kind)
	}
	return "unknown"
}

func (m *Manager) checkIDUnused(id string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, exists := m.table[id]; exists {
		return hopserr.New(hopserr.CapacityError, "container id already in use: "+id)
	}
	return nil
}

func (m *Manager) natSubnetOrDefault() capability.NATSubnet {
	if m.cfg.NATSubnet.IPAddr == "" {
		return capability.DefaultNATSubnet()
	}
	return m.cfg.NATSubnet
}

// Stop implements stop(id) (§4.4.4). Stop and exit are distinct terminal
// transitions (§4.4.6): stop marks the record Stopped synchronously,
// under the table lock, with finishedAt=now and exitCode left nil
// (signalled termination), before the guest connection is actually torn
// down. The background goroutine RunStreaming already started still
// observes the guest connection closing and calls exitHandler, but
// exitHandler leaves a Stopped record's State/ExitCode alone, only
// performing the cleanup shared with a natural exit.
//
// It is idempotent: once the exit handler has already removed the
// record (because the container exited or its cleanup ran), a second
// call deterministically returns StateError.
func (m *Manager) Stop(ctx context.Context, id string) error {
	m.mu.Lock()
	record, ok := m.table[id]
	if !ok {
		m.mu.Unlock()
		return hopserr.New(hopserr.StateError, "no such container: "+id)
	}
	if record.State == StateRunning {
		now := time.Now()
		record.State = StateStopped
		record.FinishedAt = &now
		m.activeCount--
		metrics.ActiveContainers.Dec()
		metrics.ContainerRunDuration.Observe(now.Sub(record.StartedAt).Seconds())
	}
	m.mu.Unlock()

	return record.handle.Stop(ctx)
}

// Resize forwards a terminal size change to the container's guest pty.
// It is a no-op error, not a panic, for a container that never
// requested AllocateTty: the guest agent simply ignores resize frames
// it has no pty to apply them to.
func (m *Manager) Resize(id string, cols, rows uint16) error {
	m.mu.RLock()
	record, ok := m.table[id]
	m.mu.RUnlock()
	if !ok {
		return hopserr.New(hopserr.StateError, "no such container: "+id)
	}
	return record.handle.Resize(cols, rows)
}

// List implements list() (§4.4.4).
func (m *Manager) List() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Status, 0, len(m.table))
	for _, r := range m.table {
		out = append(out, r.snapshot())
	}
	return out
}

// Status implements status(id) (§4.4.4).
func (m *Manager) Status(id string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.table[id]
	if !ok {
		return Status{}, false
	}
	return r.snapshot(), true
}

// Statistics implements statistics(id) (§4.4.4). See the Statistics
// type doc comment for the current best-effort limitation.
func (m *Manager) Statistics(id string) (Statistics, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.table[id]; !ok {
		return Statistics{}, false
	}
	return Statistics{ContainerID: id}, true
}

// exitHandler implements the exit handler and cleanup rules of §4.4.5.
// A record already marked Stopped by Stop keeps its Stopped state and
// nil exitCode (§4.4.4, §4.4.6): exitHandler only removes it from the
// table and runs the cleanup shared with a natural exit, rather than
// overwriting it with the wait's observed (and, for a stopped guest
// connection, meaningless) exit code.
func (m *Manager) exitHandler(id string, exitCode int) {
	m.mu.Lock()
	record, ok := m.table[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	wasStopped := record.State == StateStopped
	delete(m.table, id)
	if !wasStopped {
		m.activeCount--
	}
	m.mu.Unlock()

	if record.StdinInjector != nil {
		record.StdinInjector.Finish()
	}

	if !wasStopped {
		metrics.ActiveContainers.Dec()
		metrics.ContainerExitCodeTotal.WithLabelValues(strconv.Itoa(exitCode)).Inc()

		now := time.Now()
		record.FinishedAt = &now
		code := int32(exitCode)
		record.ExitCode = &code
		record.State = StateExited
		metrics.ContainerRunDuration.Observe(now.Sub(record.StartedAt).Seconds())
	}

	if !record.KeepArtifacts {
		if err := m.provisioner.Cleanup(id); err != nil {
			m.log.WithError(err).WithField("container_id", id).Warn("cleanup failed")
		}
	}
}

// ShutdownAll forces every remaining container to stop, used by the
// engine supervisor's graceful shutdown sequence (§5: "forces stop on
// every remaining container").
func (m *Manager) ShutdownAll(ctx context.Context) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.table))
	for id := range m.table {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		if err := m.Stop(ctx, id); err != nil {
			m.log.WithError(err).WithField("container_id", id).Warn("forced stop failed during shutdown")
		}
	}
}

// sinkWriter adapts an emit callback to io.Writer, used for both stdout
// and stderr (§9: "Guest I/O fan-out ... lightweight write-only
// handles").
type sinkWriter struct {
	containerID string
	kind        OutputChunkType
	emit        func(OutputChunk)
}

func (w sinkWriter) Write(p []byte) (int, error) {
	data := append([]byte(nil), p...)
	w.emit(OutputChunk{
		ContainerID:     w.containerID,
		Type:            w.kind,
		Data:            data,
		TimestampMillis: nowMillis(),
	})
	return len(p), nil
}

func nowMillis() int64 { return time.Now().UnixMilli() }

func int32Ptr(v int32) *int32 { return &v }
