// Package engine implements the Engine Supervisor (D): process-wide
// lifecycle management around the Sandbox Manager and Control Service —
// state directory layout, the pidfile, the grpc listener's permissions,
// signal handling, and graceful shutdown (§4.4.1 step 1, §5, §6).
package engine

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hopsd/hops/pkg/api/hopspb"
	"github.com/hopsd/hops/pkg/capability"
	"github.com/hopsd/hops/pkg/control"
	"github.com/hopsd/hops/pkg/metrics"
	"github.com/hopsd/hops/pkg/sandbox"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
)

// Supervisor owns the state directory, the pidfile, the grpc server, and
// drives graceful shutdown on signal.
type Supervisor struct {
	cfg     *Config
	log     *logrus.Entry
	mgr     *sandbox.Manager
	svc     *control.Service
	server  *grpc.Server
	startedAt time.Time
}

// New wires the Sandbox Manager and Control Service against cfg. It
// performs no I/O beyond what sandbox.New already does (stale-artifact
// sweep); socket/pidfile setup happens in Run.
func New(cfg *Config, log *logrus.Entry) (*Supervisor, error) {
	mgr, err := sandbox.New(sandbox.Config{
		StateDir:           cfg.StateDir,
		KernelPath:         cfg.Kernel.Path,
		InitfsPath:         cfg.Kernel.InitfsPath,
		NATSubnet:          capability.DefaultNATSubnet(),
		MaxConcurrentBoots: cfg.MaxConcurrentBoots,
	}, log)
	if err != nil {
		return nil, err
	}

	svc := control.New(mgr, cfg.StateDir, log)

	server := grpc.NewServer()
	hopspb.RegisterControlServer(server, svc)

	return &Supervisor{
		cfg:       cfg,
		log:       log.WithField("component", "engine"),
		mgr:       mgr,
		svc:       svc,
		server:    server,
		startedAt: time.Now(),
	}, nil
}

// socketPath is <state-dir>/hops.sock (§6).
func (s *Supervisor) socketPath() string { return filepath.Join(s.cfg.StateDir, "hops.sock") }

// pidfilePath is <state-dir>/hopsd.pid (§6).
func (s *Supervisor) pidfilePath() string { return filepath.Join(s.cfg.StateDir, "hopsd.pid") }

// PrepareStateDir creates the state directory tree with the documented
// permissions (§5: "State directory: 0700"). A stale socket file is not
// touched here; listen removes it just before binding.
func PrepareStateDir(stateDir string) error {
	for _, dir := range []string{
		stateDir,
		filepath.Join(stateDir, "logs"),
		filepath.Join(stateDir, "profiles"),
		filepath.Join(stateDir, "containers"),
		filepath.Join(stateDir, "rootfs"),
	} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}

// writePidfile writes the current process id to <state-dir>/hopsd.pid
// with owner-only permissions (§6).
func (s *Supervisor) writePidfile() error {
	data := []byte(strconv.Itoa(os.Getpid()) + "\n")
	return os.WriteFile(s.pidfilePath(), data, 0600)
}

func (s *Supervisor) removePidfile() {
	if err := os.Remove(s.pidfilePath()); err != nil && !os.IsNotExist(err) {
		s.log.WithError(err).Warn("failed to remove pidfile")
	}
}

// listen removes a stale socket file (if any) and binds a new Unix
// listener at 0600 (§5).
func (s *Supervisor) listen() (net.Listener, error) {
	path := s.socketPath()
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("removing stale socket: %w", err)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", path, err)
	}
	if err := os.Chmod(path, 0600); err != nil {
		ln.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}
	return ln, nil
}

// Run starts the engine: writes the pidfile, binds the socket, optionally
// serves /metrics, and blocks serving grpc until ctx is cancelled (by a
// caller wiring SIGINT/SIGTERM into ctx), at which point it drives the
// graceful shutdown sequence from §5: reject new runs, wait up to the
// grace period, then force-stop everything still running.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := PrepareStateDir(s.cfg.StateDir); err != nil {
		return err
	}
	if err := s.writePidfile(); err != nil {
		return fmt.Errorf("writing pidfile: %w", err)
	}
	defer s.removePidfile()

	ln, err := s.listen()
	if err != nil {
		return err
	}

	metrics.RegisterEngineUptime(s.startedAt)
	if s.cfg.Metrics.Enabled {
		go s.serveMetrics()
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- s.server.Serve(ln) }()

	s.log.WithField("socket", s.socketPath()).Info("engine ready")

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutdown signal received, draining")
	s.svc.RejectNewRuns()

	drained := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(drained)
	}()

	select {
	case <-drained:
	case <-time.After(s.cfg.ShutdownGracePeriod):
		s.log.Warn("grace period elapsed, forcing stop")
		s.server.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGracePeriod)
	defer cancel()
	s.mgr.ShutdownAll(shutdownCtx)

	return nil
}

func (s *Supervisor) serveMetrics() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	if err := http.ListenAndServe(s.cfg.Metrics.Address, mux); err != nil && !strings.Contains(err.Error(), "use of closed") {
		s.log.WithError(err).Warn("metrics server stopped")
	}
}
