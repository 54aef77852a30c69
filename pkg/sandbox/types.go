// Package sandbox implements the Sandbox Manager (S), the concurrency
// core of the engine (§4.4). It owns the VM manager, the table of live
// containers, and the cleanup rules, generalizing the teacher's
// pkg/vm.Manager (which owned a map of pod sandboxes, each hosting many
// containers reached through a guest agent) down to a flatter model
// where one container is one microVM.
package sandbox

import (
	"io"
	"time"

	"github.com/hopsd/hops/pkg/policy"
	"github.com/hopsd/hops/pkg/stdin"
	"github.com/hopsd/hops/pkg/vmm"
)

// State is a container's position in the lifecycle described in §4.4.6.
type State int

const (
	StateCreated State = iota
	StateRunning
	StateStopped
	StateExited
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateExited:
		return "exited"
	default:
		return "unknown"
	}
}

// Record is the internal bookkeeping entry for one container, mirroring
// §3's ContainerRecord. It is mutated only by Manager. While the record
// is in the table, the fields List and Status read are written under the
// table lock; RunStreaming sets the output sinks just after inserting it,
// and exitHandler writes the final State, FinishedAt and ExitCode after
// removing it from the table.
type Record struct {
	ContainerID       string
	PolicyName        string
	CommandArgs       []string
	GeneratedGuestPid int64
	State             State
	StartedAt         time.Time
	FinishedAt        *time.Time
	ExitCode          *int32
	KeepArtifacts     bool

	StdoutSink io.Writer
	StderrSink io.Writer
	StdinInjector *stdin.Injector

	ContainerDirectoryPath string
	RootfsCopyPath         string

	handle *vmm.Handle
	pol    *policy.Policy
}

// snapshot projects a Record to the client-visible SandboxStatus shape
// (§4.4.4). It never exposes internal handles.
func (r *Record) snapshot() Status {
	return Status{
		ContainerID:       r.ContainerID,
		PolicyName:        r.PolicyName,
		CommandArgs:       append([]string(nil), r.CommandArgs...),
		GeneratedGuestPid: r.GeneratedGuestPid,
		State:             r.State,
		StartedAt:         r.StartedAt,
		FinishedAt:        r.FinishedAt,
		ExitCode:          r.ExitCode,
	}
}

// Status is the read-only projection returned by List/Status.
type Status struct {
	ContainerID       string
	PolicyName        string
	CommandArgs       []string
	GeneratedGuestPid int64
	State             State
	StartedAt         time.Time
	FinishedAt        *time.Time
	ExitCode          *int32
}

// Statistics is the best-effort resource counters returned by
// statistics(id) (§4.4.4). The underlying guest agent protocol this
// engine speaks does not yet report live counters, so every field
// defaults to zero; the shape is kept stable for forward compatibility
// once that wiring lands.
type Statistics struct {
	ContainerID    string
	CPUNanoseconds uint64
	MemoryBytes    uint64
	NetworkRxBytes uint64
	NetworkTxBytes uint64
}

// OutputChunkType mirrors hopspb.OutputChunkType without importing the
// wire package, keeping S transport-agnostic per the teacher's layering
// convention (domain types never import wire types).
type OutputChunkType int

const (
	ChunkStdout OutputChunkType = iota
	ChunkStderr
	ChunkExit
)

// OutputChunk is S's transport-agnostic event shape; pkg/control
// projects it onto hopspb.OutputChunk.
type OutputChunk struct {
	ContainerID     string
	Type            OutputChunkType
	Data            []byte
	TimestampMillis int64
	ExitCode        *int32
}
