// Package vmm adapts the teacher's Firecracker VM lifecycle management
// (pkg/vm.Manager) to the hops engine's single-container-per-machine
// model. Where the teacher manages a pod sandbox that can host many
// containers reached through a guest agent's JSON-RPC surface
// (pkg/agent.Client), a hops container owns the whole microVM: one
// Machine, one guest process, one exit code. The vsock/JSON-RPC
// transport convention is kept, trimmed to the handful of messages a
// single-process guest actually needs: a single "exec" call carrying
// the guest configuration, a stream of output/exit events flowing back,
// and a raw stdin byte stream flowing forward.
package vmm

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/firecracker-microvm/firecracker-go-sdk"
	"github.com/firecracker-microvm/firecracker-go-sdk/client/models"
	"github.com/hopsd/hops/pkg/capability"
	"github.com/hopsd/hops/pkg/hopserr"
	"github.com/mdlayher/vsock"
	"github.com/sirupsen/logrus"
)

// Config parameterizes the VM manager with the host paths shared by
// every container (§6).
type Config struct {
	KernelPath string
	InitfsPath string // shared, read-only init filesystem
	StateDir   string
	GuestCID   func() uint32 // next vsock context id; defaults to a counter starting at 3
}

// Manager owns the shared, read-only init filesystem attachment and
// creates one Firecracker machine per container. It never itself knows
// about containerTable bookkeeping; that lives in pkg/sandbox.
type Manager struct {
	mu         sync.Mutex
	cfg        Config
	log        *logrus.Entry
	cidCounter uint32
}

// New verifies the shared kernel and init filesystem images exist, per
// §4.4.1 step 1, and returns a ready Manager.
func New(cfg Config, log *logrus.Entry) (*Manager, error) {
	if _, err := os.Stat(cfg.KernelPath); err != nil {
		return nil, hopserr.Wrap(hopserr.EnvironmentError, "missing guest kernel image at "+cfg.KernelPath, err)
	}
	if _, err := os.Stat(cfg.InitfsPath); err != nil {
		return nil, hopserr.Wrap(hopserr.EnvironmentError, "missing shared init filesystem at "+cfg.InitfsPath, err)
	}
	return &Manager{cfg: cfg, log: log.WithField("component", "vmm"), cidCounter: 3}, nil
}

func (m *Manager) nextCID() uint32 {
	if m.cfg.GuestCID != nil {
		return m.cfg.GuestCID()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cid := m.cidCounter
	m.cidCounter++
	return cid
}

// Handle is a running guest container: one microVM plus the vsock bridge
// used to push stdin and receive stdout/stderr/exit events.
type Handle struct {
	id        string
	machine   *firecracker.Machine
	conn      net.Conn
	enc       *json.Encoder
	encMu     sync.Mutex
	dec       *json.Decoder
	log       *logrus.Entry
	exitCh    chan exitResult
	closeOnce sync.Once
}

type exitResult struct {
	code int
	err  error
}

// wireEvent mirrors the teacher's Request/Response shape (pkg/agent),
// trimmed to the three guest->host event kinds a single-process guest
// container emits (stdout, stderr, exit) plus the two host->guest frames
// (stdin, resize).
type wireEvent struct {
	Type string `json:"type"` // "stdout" | "stderr" | "exit" | "stdin" | "resize"
	Data []byte `json:"data,omitempty"`
	Code int    `json:"code,omitempty"`
	Cols uint16 `json:"cols,omitempty"`
	Rows uint16 `json:"rows,omitempty"`
}

type execRequest struct {
	Method string             `json:"method"`
	Spec   execGuestConfigDTO `json:"spec"`
}

type execGuestConfigDTO struct {
	Hostname         string            `json:"hostname"`
	Args             []string          `json:"args"`
	WorkingDirectory string            `json:"working_directory"`
	Environment      map[string]string `json:"environment"`
	AllocateTty      bool              `json:"allocate_tty"`
}

// CreateAndStart builds and boots a microVM for one container: the
// shared init filesystem attached read-only, the per-container rootfs
// attached read-write, a vsock device for the guest bridge, and (when
// the guest configuration calls for it) a single NAT network interface.
// It blocks until the machine has started and the exec request has been
// sent to the in-guest agent; it does not wait for a reply from the agent.
func (m *Manager) CreateAndStart(ctx context.Context, id, rootfsPath string, guestCfg capability.GuestContainerConfiguration) (*Handle, error) {
	cid := m.nextCID()
	sandboxDir := filepath.Join(m.cfg.StateDir, "containers", id)
	if err := os.MkdirAll(sandboxDir, 0700); err != nil {
		return nil, hopserr.Wrap(hopserr.IOError, "failed to create container run directory", err)
	}

	socketPath := filepath.Join(sandboxDir, "firecracker.sock")
	vsockPath := filepath.Join(sandboxDir, "vsock.sock")

	fcConfig := firecracker.Config{
		SocketPath:      socketPath,
		KernelImagePath: m.cfg.KernelPath,
		KernelArgs:      "console=ttyS0 reboot=k panic=1 pci=off quiet",
		MachineCfg: models.MachineConfiguration{
			VcpuCount:  firecracker.Int64(resourceOrDefault(guestCfg.Resources.CPUCount, 1)),
			MemSizeMib: firecracker.Int64(resourceOrDefault(guestCfg.Resources.MemoryBytes, 128*1024*1024) / (1024 * 1024)),
		},
		Drives: []models.Drive{
			{
				DriveID:      firecracker.String("initfs"),
				PathOnHost:   firecracker.String(m.cfg.InitfsPath),
				IsRootDevice: firecracker.Bool(false),
				IsReadOnly:   firecracker.Bool(true),
			},
			{
				DriveID:      firecracker.String("rootfs"),
				PathOnHost:   firecracker.String(rootfsPath),
				IsRootDevice: firecracker.Bool(true),
				IsReadOnly:   firecracker.Bool(false),
			},
		},
		VsockDevices: []firecracker.VsockDevice{
			{Path: vsockPath, CID: cid},
		},
	}

	if guestCfg.NetworkInterface != nil {
		tapName := "tap-" + shortID(id)
		if err := setupTapDevice(tapName, guestCfg.NetworkInterface.Gateway); err != nil {
			os.RemoveAll(sandboxDir)
			return nil, hopserr.Wrap(hopserr.EnvironmentError, "failed to prepare NAT tap device", err)
		}
		fcConfig.NetworkInterfaces = []firecracker.NetworkInterface{
			{HostDevName: tapName},
		}
	}

	machineOpts := []firecracker.Opt{
		firecracker.WithLogger(logrus.NewEntry(logrus.StandardLogger())),
	}

	machine, err := firecracker.NewMachine(ctx, fcConfig, machineOpts...)
	if err != nil {
		os.RemoveAll(sandboxDir)
		return nil, hopserr.Wrap(hopserr.RuntimeError, "failed to construct guest machine", err)
	}
	if err := machine.Start(ctx); err != nil {
		os.RemoveAll(sandboxDir)
		return nil, hopserr.Wrap(hopserr.RuntimeError, "failed to start guest machine", err)
	}

	h := &Handle{
		id:      id,
		machine: machine,
		log:     m.log.WithField("container_id", id),
		exitCh:  make(chan exitResult, 1),
	}

	conn, err := dialGuest(vsockPath, cid, 52)
	if err != nil {
		_ = machine.StopVMM()
		os.RemoveAll(sandboxDir)
		return nil, hopserr.Wrap(hopserr.RuntimeError, "failed to reach guest agent over vsock", err)
	}
	h.conn = conn
	h.enc = json.NewEncoder(conn)
	h.dec = json.NewDecoder(bufio.NewReader(conn))

	req := execRequest{
		Method: "exec",
		Spec: execGuestConfigDTO{
			Hostname:         guestCfg.Hostname,
			Args:             guestCfg.ProcessArguments,
			WorkingDirectory: guestCfg.WorkingDirectory,
			Environment:      guestCfg.Environment,
			AllocateTty:      guestCfg.AllocateTty,
		},
	}
	if err := h.enc.Encode(req); err != nil {
		h.Stop(ctx)
		return nil, hopserr.Wrap(hopserr.RuntimeError, "failed to send exec request to guest agent", err)
	}

	return h, nil
}

// dialGuest mirrors pkg/agent.Client.Connect's fallback order: prefer a
// genuine AF_VSOCK dial, fall back to the Unix socket Firecracker itself
// exposes for the vsock device when the kernel vsock module is absent
// (for example inside a nested test environment).
func dialGuest(vsockPath string, cid uint32, port uint32) (net.Conn, error) {
	if conn, err := vsock.Dial(cid, port, &vsock.Config{}); err == nil {
		return conn, nil
	}
	return net.DialTimeout("unix", fmt.Sprintf("%s_%d", vsockPath, port), 30*time.Second)
}

// Bridge starts forwarding stdin to the guest and dispatching Stdout,
// Stderr and Exit events to the given sinks until the guest reports
// exit or the connection closes. It returns once the guest's Exit event
// has been observed (or the connection errors), and is safe to call
// exactly once per Handle.
func (h *Handle) Bridge(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer) {
	go h.pumpStdin(stdin)

	for {
		var ev wireEvent
		if err := h.dec.Decode(&ev); err != nil {
			h.signalExit(-1, err)
			return
		}
		switch ev.Type {
		case "stdout":
			if stdout != nil {
				stdout.Write(ev.Data)
			}
		case "stderr":
			if stderr != nil {
				stderr.Write(ev.Data)
			}
		case "exit":
			h.signalExit(ev.Code, nil)
			return
		}
	}
}

func (h *Handle) pumpStdin(stdin io.Reader) {
	if stdin == nil {
		return
	}
	buf := make([]byte, 4096)
	for {
		n, err := stdin.Read(buf)
		if n > 0 {
			frame := wireEvent{Type: "stdin", Data: append([]byte(nil), buf[:n]...)}
			h.encMu.Lock()
			encErr := h.enc.Encode(frame)
			h.encMu.Unlock()
			if encErr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// Resize forwards a terminal size change to the guest's allocated pty,
// consumed only when the container was started with AllocateTty.
func (h *Handle) Resize(cols, rows uint16) error {
	h.encMu.Lock()
	defer h.encMu.Unlock()
	return h.enc.Encode(wireEvent{Type: "resize", Cols: cols, Rows: rows})
}

func (h *Handle) signalExit(code int, err error) {
	select {
	case h.exitCh <- exitResult{code: code, err: err}:
	default:
	}
}

// Wait blocks until the guest process exits (or the context is
// cancelled) and returns its exit code. A transport failure is reported
// as exit code -1, per §4.4.2's "failure after start" rule.
func (h *Handle) Wait(ctx context.Context) (int, error) {
	select {
	case r := <-h.exitCh:
		return r.code, r.err
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

// Stop requests the machine shut down, trying a graceful ACPI shutdown
// before forcing termination, mirroring the teacher's StopVM.
func (h *Handle) Stop(ctx context.Context) error {
	var stopErr error
	h.closeOnce.Do(func() {
		if h.machine != nil {
			if err := h.machine.Shutdown(ctx); err != nil {
				h.log.WithError(err).Warn("graceful shutdown failed, forcing stop")
				stopErr = h.machine.StopVMM()
			}
		}
		if h.conn != nil {
			h.conn.Close()
		}
	})
	return stopErr
}

// PID returns the VMM process id, best-effort.
func (h *Handle) PID() int {
	if h.machine == nil {
		return 0
	}
	pid, _ := h.machine.PID()
	return pid
}

func resourceOrDefault(v *int64, def int64) int64 {
	if v == nil {
		return def
	}
	return *v
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// setupTapDevice creates (or reuses) the host-side tap device for the
// single fixed NAT interface described in §4.2. Unlike the teacher's CNI
// integration, hops never selects among multiple network plugins: every
// outbound-capable container gets the same interface shape, so a direct
// "ip" invocation replaces the general-purpose CNI plugin exec path.
func setupTapDevice(name, gateway string) error {
	if err := exec.Command("ip", "tuntap", "add", "dev", name, "mode", "tap").Run(); err != nil {
		if !tapAlreadyExists(name) {
			return fmt.Errorf("create tap device: %w", err)
		}
	}
	if err := exec.Command("ip", "addr", "add", gateway+"/24", "dev", name).Run(); err != nil {
		return fmt.Errorf("assign gateway address: %w", err)
	}
	return exec.Command("ip", "link", "set", name, "up").Run()
}

func tapAlreadyExists(name string) bool {
	return exec.Command("ip", "link", "show", name).Run() == nil
}
