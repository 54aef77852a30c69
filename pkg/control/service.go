// Package control implements the Control Service (C): the grpc-over-
// Unix-socket wire surface described in §4.3, wrapping a
// sandbox.Manager. It is the hops analogue of the teacher's pkg/shim,
// which wraps the same kind of VM-lifecycle manager behind a ttrpc
// service generated from containerd's shim protobuf; here the service
// is hand-written against the JSON-codec grpc surface in
// pkg/api/hopspb because no .proto compiler runs in this environment.
package control

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hopsd/hops/pkg/api/hopspb"
	"github.com/hopsd/hops/pkg/hopserr"
	"github.com/hopsd/hops/pkg/policy"
	"github.com/hopsd/hops/pkg/sandbox"
	hopsstdin "github.com/hopsd/hops/pkg/stdin"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Version is reported by GetEngineStatus.
const Version = "0.1.0"

// Service implements hopspb.ControlServer.
type Service struct {
	mgr          *sandbox.Manager
	stateDir     string
	log          *logrus.Entry
	shuttingDown int32
}

// New wraps mgr behind the grpc service surface. stateDir is the
// engine's state directory, used to resolve policy.DefaultValidateOptions
// (the rootfs search root lives under it, not under a policy's own
// rootfs reference).
func New(mgr *sandbox.Manager, stateDir string, log *logrus.Entry) *Service {
	return &Service{mgr: mgr, stateDir: stateDir, log: log.WithField("component", "control")}
}

// RejectNewRuns flips the service into shutdown mode (§5: "on signal, C
// rejects new RunSandbox* calls"). It does not affect calls already in
// flight.
func (s *Service) RejectNewRuns() {
	atomic.StoreInt32(&s.shuttingDown, 1)
}

func (s *Service) isShuttingDown() bool {
	return atomic.LoadInt32(&s.shuttingDown) != 0
}

// RunSandbox implements the non-streaming run operation.
func (s *Service) RunSandbox(ctx context.Context, req *hopspb.RunRequest) (*hopspb.RunResponse, error) {
	if s.isShuttingDown() {
		return &hopspb.RunResponse{Success: false, Error: "engine is shutting down"}, nil
	}
	pol, err := policyFromWire(req.InlinePolicy)
	if err != nil {
		return &hopspb.RunResponse{Success: false, Error: err.Error()}, nil
	}
	if err := policy.Validate(pol, policy.DefaultValidateOptions(s.stateDir)); err != nil {
		return &hopspb.RunResponse{Success: false, Error: err.Error()}, nil
	}

	id := uuid.NewString()
	if err := s.mgr.Run(ctx, id, pol, req.Command, req.KeepArtifacts); err != nil {
		return &hopspb.RunResponse{Success: false, Error: err.Error()}, nil
	}
	return &hopspb.RunResponse{Success: true, ContainerID: id}, nil
}

// StopSandbox implements the stop operation.
func (s *Service) StopSandbox(ctx context.Context, req *hopspb.StopRequest) (*hopspb.StopResponse, error) {
	if err := s.mgr.Stop(ctx, req.ContainerID); err != nil {
		return &hopspb.StopResponse{Success: false, Error: err.Error()}, nil
	}
	return &hopspb.StopResponse{Success: true}, nil
}

// ListSandboxes implements the list operation.
func (s *Service) ListSandboxes(ctx context.Context, req *hopspb.ListRequest) (*hopspb.ListResponse, error) {
	statuses := s.mgr.List()
	out := make([]hopspb.SandboxStatus, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, statusToWire(st, true))
	}
	return &hopspb.ListResponse{Sandboxes: out}, nil
}

// GetStatus implements the status operation.
func (s *Service) GetStatus(ctx context.Context, req *hopspb.StatusRequest) (*hopspb.SandboxStatus, error) {
	st, found := s.mgr.Status(req.ContainerID)
	wire := statusToWire(st, found)
	if !found {
		wire.Error = "no such container: " + req.ContainerID
	}
	return &wire, nil
}

// GetEngineStatus implements the engine-level status operation.
func (s *Service) GetEngineStatus(ctx context.Context, req *hopspb.EngineStatusRequest) (*hopspb.EngineStatusResponse, error) {
	return &hopspb.EngineStatusResponse{
		ActiveContainerCount:  s.mgr.ActiveCount(),
		EngineStartTimeMillis: s.mgr.EngineStartTime().UnixMilli(),
		Version:               Version,
	}, nil
}

// RunSandboxStreaming implements the bidirectional-streaming run
// operation and its cancellation contract (§4.3).
func (s *Service) RunSandboxStreaming(stream hopspb.ControlRunSandboxStreamingServer) error {
	if s.isShuttingDown() {
		return status.Error(codes.Unavailable, "engine is shutting down")
	}

	first, err := stream.Recv()
	if err != nil {
		return status.Error(codes.InvalidArgument, "failed to read first chunk: "+err.Error())
	}
	if first.Type != hopspb.ChunkRun || first.Run == nil {
		return status.Error(codes.InvalidArgument, "first chunk of RunSandboxStreaming must be a Run chunk")
	}

	pol, err := policyFromWire(first.Run.InlinePolicy)
	if err != nil {
		return toGRPCError(err)
	}
	if err := policy.Validate(pol, policy.DefaultValidateOptions(s.stateDir)); err != nil {
		return toGRPCError(err)
	}

	id := uuid.NewString()

	var sendMu sync.Mutex
	exitSent := make(chan struct{})
	var sendErr error

	emit := func(chunk sandbox.OutputChunk) {
		sendMu.Lock()
		defer sendMu.Unlock()
		if sendErr != nil {
			return
		}
		if err := stream.Send(chunkToWire(chunk)); err != nil {
			sendErr = err
		}
		if chunk.Type == sandbox.ChunkExit {
			close(exitSent)
		}
	}

	injector, err := s.mgr.RunStreaming(stream.Context(), id, pol, first.Run.Command, first.Run.KeepArtifacts, first.Run.AllocateTty, emit)
	if err != nil {
		return toGRPCError(err)
	}

	go s.forwardInput(stream, id, injector)

	select {
	case <-exitSent:
	case <-stream.Context().Done():
	}

	sendMu.Lock()
	defer sendMu.Unlock()
	return sendErr
}

// forwardInput relays Stdin chunks into the container's stdin injector
// until the client half-closes or errors, and requests stop on
// cancellation (§4.3 streaming contract, rule 5).
func (s *Service) forwardInput(stream hopspb.ControlRunSandboxStreamingServer, id string, injector *hopsstdin.Injector) {
	for {
		chunk, err := stream.Recv()
		if err != nil {
			if err != io.EOF {
				s.log.WithError(err).WithField("container_id", id).Debug("input stream closed")
			}
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if stopErr := s.mgr.Stop(ctx, id); stopErr != nil && !hopserr.Is(stopErr, hopserr.StateError) {
				s.log.WithError(stopErr).WithField("container_id", id).Warn("stop on cancellation failed")
			}
			return
		}
		switch chunk.Type {
		case hopspb.ChunkStdin:
			if injector != nil {
				injector.Write(chunk.Stdin)
			}
		case hopspb.ChunkResize:
			if chunk.Resize != nil {
				if err := s.mgr.Resize(id, chunk.Resize.Cols, chunk.Resize.Rows); err != nil {
					s.log.WithError(err).WithField("container_id", id).Debug("resize forward failed")
				}
			}
		}
	}
}

func statusToWire(st sandbox.Status, found bool) hopspb.SandboxStatus {
	var exitCode *int32
	if st.ExitCode != nil {
		v := *st.ExitCode
		exitCode = &v
	}
	return hopspb.SandboxStatus{
		ContainerID:       st.ContainerID,
		PolicyName:        st.PolicyName,
		CommandArgs:       st.CommandArgs,
		GeneratedGuestPid: st.GeneratedGuestPid,
		State:             st.State.String(),
		StartedAtMillis:   st.StartedAt.UnixMilli(),
		ExitCode:          exitCode,
		Found:             found,
	}
}

func chunkToWire(c sandbox.OutputChunk) *hopspb.OutputChunk {
	wire := &hopspb.OutputChunk{
		ContainerID:     c.ContainerID,
		Data:            c.Data,
		TimestampMillis: c.TimestampMillis,
		ExitCode:        c.ExitCode,
	}
	switch c.Type {
	case sandbox.ChunkStdout:
		wire.Type = hopspb.ChunkStdout
	case sandbox.ChunkStderr:
		wire.Type = hopspb.ChunkStderr
	case sandbox.ChunkExit:
		wire.Type = hopspb.ChunkExit
	}
	return wire
}

// toGRPCError maps a hopserr.Kind to the grpc status code an operator's
// tooling would expect, per the Kind->codes table in the expanded
// design.
func toGRPCError(err error) error {
	he, ok := err.(*hopserr.Error)
	if !ok {
		return status.Error(codes.Internal, err.Error())
	}
	switch he.Kind {
	case hopserr.StateError:
		return status.Error(codes.NotFound, he.Error())
	case hopserr.CapacityError:
		return status.Error(codes.AlreadyExists, he.Error())
	case hopserr.IsolationError, hopserr.InsecureMountConfig:
		return status.Error(codes.PermissionDenied, he.Error())
	case hopserr.ResourceError, hopserr.ResourceLimitOutOfRange:
		return status.Error(codes.ResourceExhausted, he.Error())
	case hopserr.EnvironmentError, hopserr.FileNotFound, hopserr.RootfsNotFound:
		return status.Error(codes.FailedPrecondition, he.Error())
	case hopserr.IOError, hopserr.RuntimeError:
		return status.Error(codes.Internal, he.Error())
	default:
		return status.Error(codes.InvalidArgument, he.Error())
	}
}
