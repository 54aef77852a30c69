package hopspb

// NetworkMode is the wire projection of policy.NetworkMode (§9: "the
// wire NetworkMode is a tagged enum; the internal NetworkMode and the
// wire projection are separate types joined by a total conversion").
type NetworkMode string

const (
	NetworkDisabled NetworkMode = "disabled"
	NetworkLoopback NetworkMode = "loopback"
	NetworkOutbound NetworkMode = "outbound"
	NetworkFull     NetworkMode = "full"
)

// MountType/MountMode mirror policy.MountType/MountMode on the wire.
type MountType string

const (
	MountBind     MountType = "bind"
	MountTmpfs    MountType = "tmpfs"
	MountOverlay  MountType = "overlay"
	MountProc     MountType = "proc"
	MountSysfs    MountType = "sysfs"
	MountDevtmpfs MountType = "devtmpfs"
)

type MountMode string

const (
	MountReadOnly  MountMode = "ro"
	MountReadWrite MountMode = "rw"
)

// ResourceLimits is the wire projection of policy.ResourceLimits.
type ResourceLimits struct {
	CPUCount     *int64 `json:"cpu_count,omitempty"`
	MemoryBytes  *int64 `json:"memory_bytes,omitempty"`
	MaxProcesses *int64 `json:"max_processes,omitempty"`
}

// MountEntry is the wire projection of policy.MountEntry.
type MountEntry struct {
	Source      string    `json:"source"`
	Destination string    `json:"destination"`
	Type        MountType `json:"type"`
	Mode        MountMode `json:"mode"`
	Options     []string  `json:"options,omitempty"`
}

// CapabilityGrant is the wire projection of policy.CapabilityGrant.
type CapabilityGrant struct {
	NetworkMode      NetworkMode    `json:"network_mode"`
	FilesystemRights []string       `json:"filesystem_rights,omitempty"`
	AllowedPaths     []string       `json:"allowed_paths,omitempty"`
	DeniedPaths      []string       `json:"denied_paths,omitempty"`
	ResourceLimits   ResourceLimits `json:"resource_limits"`
}

// EnvVar preserves document order across the wire, mirroring
// policy.EnvVar (§3: "environment (ordered map, keys unique)").
type EnvVar struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// InlinePolicy is the transport-level projection of policy.Policy
// carried inside a RunRequest (§4.3).
type InlinePolicy struct {
	Name             string            `json:"name"`
	Version          string            `json:"version"`
	Description      string            `json:"description,omitempty"`
	Capability       CapabilityGrant   `json:"capability"`
	RootPath         string            `json:"root_path,omitempty"`
	Hostname         string            `json:"hostname,omitempty"`
	WorkingDirectory string            `json:"working_directory,omitempty"`
	Environment      []EnvVar          `json:"environment,omitempty"`
	Mounts           []MountEntry      `json:"mounts,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	Rootfs           string            `json:"rootfs,omitempty"`
}

// RunRequest is the input of the RunSandbox unary call and the payload
// of the first InputChunk of a RunSandboxStreaming call (§4.3).
type RunRequest struct {
	Command          []string     `json:"command"`
	WorkingDirectory string       `json:"working_directory,omitempty"`
	InlinePolicy     InlinePolicy `json:"inline_policy"`
	KeepArtifacts    bool         `json:"keep_artifacts"`
	AllocateTty      bool         `json:"allocate_tty"`
}

// RunResponse is the output of the RunSandbox unary call.
type RunResponse struct {
	Success     bool   `json:"success"`
	ContainerID string `json:"container_id,omitempty"`
	Error       string `json:"error,omitempty"`
}

// StopRequest/StopResponse back the StopSandbox call.
type StopRequest struct {
	ContainerID string `json:"container_id"`
}

type StopResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// ListRequest/ListResponse back the ListSandboxes call.
type ListRequest struct{}

type ListResponse struct {
	Sandboxes []SandboxStatus `json:"sandboxes"`
	Error     string          `json:"error,omitempty"`
}

// StatusRequest backs the GetStatus call; SandboxStatus is both its
// response and each element of ListResponse (§4.4.4's projection).
type StatusRequest struct {
	ContainerID string `json:"container_id"`
}

type SandboxStatus struct {
	ContainerID       string   `json:"container_id"`
	PolicyName        string   `json:"policy_name"`
	CommandArgs       []string `json:"command_args"`
	GeneratedGuestPid int64    `json:"generated_guest_pid"`
	State             string   `json:"state"` // "running" | "stopped" | "exited"
	StartedAtMillis   int64    `json:"started_at_millis"`
	ExitCode          *int32   `json:"exit_code,omitempty"`
	Found             bool     `json:"found"`
	Error             string   `json:"error,omitempty"`
}

// EngineStatusRequest/EngineStatusResponse back GetEngineStatus. The
// response is richer than the spec's minimum projection, supplementing
// it with the fields an operator-facing status command would want
// (§9.1 of the expanded design).
type EngineStatusRequest struct{}

type EngineStatusResponse struct {
	ActiveContainerCount int    `json:"active_container_count"`
	EngineStartTimeMillis int64 `json:"engine_start_time_millis"`
	Version               string `json:"version"`
}

// OutputChunkType discriminates OutputChunk.Type.
type OutputChunkType string

const (
	ChunkStdout OutputChunkType = "stdout"
	ChunkStderr OutputChunkType = "stderr"
	ChunkExit   OutputChunkType = "exit"
)

// OutputChunk is a single frame on the RunSandboxStreaming response
// stream (§4.3).
type OutputChunk struct {
	ContainerID     string          `json:"container_id"`
	Type            OutputChunkType `json:"type"`
	Data            []byte          `json:"data,omitempty"`
	TimestampMillis int64           `json:"timestamp_millis"`
	ExitCode        *int32          `json:"exit_code,omitempty"`
}

// InputChunkType discriminates InputChunk.Type.
type InputChunkType string

const (
	ChunkRun    InputChunkType = "run"
	ChunkStdin  InputChunkType = "stdin"
	ChunkResize InputChunkType = "resize"
)

// InputChunk is a single frame on the RunSandboxStreaming request
// stream. The first chunk of every stream MUST have Type==ChunkRun
// (§4.3 streaming contract, rule 1).
type InputChunk struct {
	Type   InputChunkType `json:"type"`
	Run    *RunRequest    `json:"run,omitempty"`
	Stdin  []byte         `json:"stdin,omitempty"`
	Resize *ResizeHint    `json:"resize,omitempty"`
}

// ResizeHint carries a terminal resize. The server forwards it to the
// guest agent as a "resize" frame (sandbox.Manager.Resize,
// vmm.Handle.Resize); no host-side pty is involved.
type ResizeHint struct {
	Cols uint16 `json:"cols"`
	Rows uint16 `json:"rows"`
}
