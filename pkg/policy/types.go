// Package policy defines the plain-data policy model (M) and the
// parser/validator (V) that turns a TOML document into a Policy the
// rest of the engine can trust.
package policy

// NetworkMode controls what network access a sandbox's guest gets.
type NetworkMode int

const (
	NetworkDisabled NetworkMode = iota
	NetworkLoopback
	NetworkOutbound
	NetworkFull
)

func (m NetworkMode) String() string {
	switch m {
	case NetworkDisabled:
		return "disabled"
	case NetworkLoopback:
		return "loopback"
	case NetworkOutbound:
		return "outbound"
	case NetworkFull:
		return "full"
	default:
		return "unknown"
	}
}

func parseNetworkMode(s string) (NetworkMode, bool) {
	switch s {
	case "", "disabled":
		return NetworkDisabled, true
	case "loopback":
		return NetworkLoopback, true
	case "outbound":
		return NetworkOutbound, true
	case "full":
		return NetworkFull, true
	default:
		return NetworkDisabled, false
	}
}

// FilesystemRight is a single bit of the filesystem rights set.
type FilesystemRight int

const (
	RightRead FilesystemRight = iota
	RightWrite
	RightExecute
)

func parseFilesystemRight(s string) (FilesystemRight, bool) {
	switch s {
	case "read":
		return RightRead, true
	case "write":
		return RightWrite, true
	case "execute":
		return RightExecute, true
	default:
		return 0, false
	}
}

// FilesystemRights is a set over FilesystemRight.
type FilesystemRights map[FilesystemRight]struct{}

func (r FilesystemRights) Has(right FilesystemRight) bool {
	_, ok := r[right]
	return ok
}

// ResourceLimits holds optional integer limits; a nil pointer field means
// unset ("use the host/guest default").
type ResourceLimits struct {
	CPUCount     *int64
	MemoryBytes  *int64
	MaxProcesses *int64
}

// MountType enumerates the kinds of mount entries a sandbox may declare.
type MountType int

const (
	MountBind MountType = iota
	MountTmpfs
	MountOverlay
	MountProc
	MountSysfs
	MountDevtmpfs
)

func parseMountType(s string) (MountType, bool) {
	switch s {
	case "bind":
		return MountBind, true
	case "tmpfs":
		return MountTmpfs, true
	case "overlay":
		return MountOverlay, true
	case "proc":
		return MountProc, true
	case "sysfs":
		return MountSysfs, true
	case "devtmpfs":
		return MountDevtmpfs, true
	default:
		return 0, false
	}
}

// MountMode is the read/write bit of a mount.
type MountMode int

const (
	MountReadOnly MountMode = iota
	MountReadWrite
)

func parseMountMode(s string) (MountMode, bool) {
	switch s {
	case "", "ro", "read_only", "readonly":
		return MountReadOnly, true
	case "rw", "read_write", "readwrite":
		return MountReadWrite, true
	default:
		return 0, false
	}
}

// OverlayDirs holds the lower/upper/work directories for an Overlay mount.
type OverlayDirs struct {
	Lower string
	Upper string
	Work  string
}

// MountEntry describes a single mount the sandbox configuration requests.
type MountEntry struct {
	Source      string
	Destination string
	Type        MountType
	Mode        MountMode
	Options     []string
	Overlay     *OverlayDirs
}

// CapabilityGrant is the runtime-enforced set of rights extracted from a
// policy: network access, filesystem rights, path allow/deny lists, and
// resource limits.
type CapabilityGrant struct {
	NetworkMode      NetworkMode
	FilesystemRights FilesystemRights
	AllowedPaths     []string
	DeniedPaths      []string
	ResourceLimits   ResourceLimits
}

// SandboxConfig is the non-capability half of a policy: the guest
// environment shape.
type SandboxConfig struct {
	RootPath         string
	Mounts           []MountEntry
	Hostname         string
	WorkingDirectory string
	// Environment is ordered and keys are unique: a slice of key/value
	// pairs rather than a map, so document order survives a round trip.
	Environment []EnvVar
}

// EnvVar is one entry of an ordered, unique-keyed environment.
type EnvVar struct {
	Key   string
	Value string
}

// EnvMap projects Environment to a map for convenience.
func (s SandboxConfig) EnvMap() map[string]string {
	m := make(map[string]string, len(s.Environment))
	for _, kv := range s.Environment {
		m[kv.Key] = kv.Value
	}
	return m
}

// Policy is the full, validated policy document: identity, capability
// grant, sandbox configuration, and optional metadata/rootfs reference.
type Policy struct {
	Name        string
	Version     string
	Description string
	Capability  CapabilityGrant
	Sandbox     SandboxConfig
	Metadata    map[string]string
	// Rootfs is an optional reference to a rootfs image: a relative name
	// (resolved under <state-dir>/rootfs/), an absolute path, or a
	// tilde-expanded path. Empty means "use the engine's default image".
	Rootfs string
}
