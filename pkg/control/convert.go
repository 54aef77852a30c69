package control

import (
	"github.com/hopsd/hops/pkg/api/hopspb"
	"github.com/hopsd/hops/pkg/hopserr"
	"github.com/hopsd/hops/pkg/policy"
)

// policyFromWire projects a hopspb.InlinePolicy onto the internal
// policy.Policy model. It duplicates the handful of string->enum
// mappings pkg/policy's TOML parser keeps private to itself, since an
// inline policy arrives as already-structured JSON rather than TOML
// text and has no use for the parser's document-level machinery
// (quoted-string scanning, table layout, etc.) — only the leaf
// conversions are shared in spirit, not in code.
func policyFromWire(w hopspb.InlinePolicy) (*policy.Policy, error) {
	networkMode, ok := networkModeFromWire(w.Capability.NetworkMode)
	if !ok {
		return nil, hopserr.New(hopserr.InvalidFieldValue, "invalid network_mode: "+string(w.Capability.NetworkMode))
	}

	rights := make(policy.FilesystemRights, len(w.Capability.FilesystemRights))
	for _, s := range w.Capability.FilesystemRights {
		right, ok := filesystemRightFromWire(s)
		if !ok {
			return nil, hopserr.New(hopserr.InvalidFieldValue, "invalid filesystem right: "+s)
		}
		rights[right] = struct{}{}
	}

	mounts := make([]policy.MountEntry, 0, len(w.Mounts))
	for _, m := range w.Mounts {
		mountType, ok := mountTypeFromWire(m.Type)
		if !ok {
			return nil, hopserr.New(hopserr.InvalidFieldValue, "invalid mount type: "+string(m.Type))
		}
		mountMode, ok := mountModeFromWire(m.Mode)
		if !ok {
			return nil, hopserr.New(hopserr.InvalidFieldValue, "invalid mount mode: "+string(m.Mode))
		}
		mounts = append(mounts, policy.MountEntry{
			Source:      m.Source,
			Destination: m.Destination,
			Type:        mountType,
			Mode:        mountMode,
			Options:     append([]string(nil), m.Options...),
		})
	}

	env := make([]policy.EnvVar, 0, len(w.Environment))
	for _, e := range w.Environment {
		env = append(env, policy.EnvVar{Key: e.Key, Value: e.Value})
	}

	return &policy.Policy{
		Name:        w.Name,
		Version:     w.Version,
		Description: w.Description,
		Capability: policy.CapabilityGrant{
			NetworkMode:      networkMode,
			FilesystemRights: rights,
			AllowedPaths:     append([]string(nil), w.Capability.AllowedPaths...),
			DeniedPaths:      append([]string(nil), w.Capability.DeniedPaths...),
			ResourceLimits: policy.ResourceLimits{
				CPUCount:     w.Capability.ResourceLimits.CPUCount,
				MemoryBytes:  w.Capability.ResourceLimits.MemoryBytes,
				MaxProcesses: w.Capability.ResourceLimits.MaxProcesses,
			},
		},
		Sandbox: policy.SandboxConfig{
			RootPath:         w.RootPath,
			Mounts:           mounts,
			Hostname:         w.Hostname,
			WorkingDirectory: w.WorkingDirectory,
			Environment:      env,
		},
		Metadata: w.Metadata,
		Rootfs:   w.Rootfs,
	}, nil
}

func networkModeFromWire(s hopspb.NetworkMode) (policy.NetworkMode, bool) {
	switch s {
	case "", hopspb.NetworkDisabled:
		return policy.NetworkDisabled, true
	case hopspb.NetworkLoopback:
		return policy.NetworkLoopback, true
	case hopspb.NetworkOutbound:
		return policy.NetworkOutbound, true
	case hopspb.NetworkFull:
		return policy.NetworkFull, true
	default:
		return policy.NetworkDisabled, false
	}
}

func filesystemRightFromWire(s string) (policy.FilesystemRight, bool) {
	switch s {
	case "read":
		return policy.RightRead, true
	case "write":
		return policy.RightWrite, true
	case "execute":
		return policy.RightExecute, true
	default:
		return 0, false
	}
}

func mountTypeFromWire(t hopspb.MountType) (policy.MountType, bool) {
	switch t {
	case hopspb.MountBind:
		return policy.MountBind, true
	case hopspb.MountTmpfs:
		return policy.MountTmpfs, true
	case hopspb.MountOverlay:
		return policy.MountOverlay, true
	case hopspb.MountProc:
		return policy.MountProc, true
	case hopspb.MountSysfs:
		return policy.MountSysfs, true
	case hopspb.MountDevtmpfs:
		return policy.MountDevtmpfs, true
	default:
		return 0, false
	}
}

func mountModeFromWire(m hopspb.MountMode) (policy.MountMode, bool) {
	switch m {
	case "", hopspb.MountReadOnly:
		return policy.MountReadOnly, true
	case hopspb.MountReadWrite:
		return policy.MountReadWrite, true
	default:
		return 0, false
	}
}
