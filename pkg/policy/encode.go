package policy

import "bytes"
import "github.com/BurntSushi/toml"

// Encode serializes a Policy back to TOML text, the inverse of Parse. It
// supports the round-trip property in §8: Policy -> text -> Policy is the
// identity modulo key ordering and explicit defaults.
func Encode(p *Policy) (string, error) {
	doc := document{
		Name:        p.Name,
		Version:     p.Version,
		Description: p.Description,
		Metadata:    p.Metadata,
		Rootfs:      p.Rootfs,
		Capability: capabilityDoc{
			Network:      p.Capability.NetworkMode.String(),
			AllowedPaths: p.Capability.AllowedPaths,
			DeniedPaths:  p.Capability.DeniedPaths,
			Resources: resourceLimitDoc{
				CPUCount:     p.Capability.ResourceLimits.CPUCount,
				MemoryBytes:  p.Capability.ResourceLimits.MemoryBytes,
				MaxProcesses: p.Capability.ResourceLimits.MaxProcesses,
			},
		},
		Sandbox: sandboxDoc{
			RootPath:         p.Sandbox.RootPath,
			Hostname:         p.Sandbox.Hostname,
			WorkingDirectory: p.Sandbox.WorkingDirectory,
			Environment:      p.Sandbox.EnvMap(),
		},
	}
	for right := range p.Capability.FilesystemRights {
		doc.Capability.FilesystemRights = append(doc.Capability.FilesystemRights, filesystemRightString(right))
	}
	for _, kv := range p.Sandbox.Environment {
		doc.Sandbox.EnvironmentOrder = append(doc.Sandbox.EnvironmentOrder, kv.Key)
	}
	for _, m := range p.Sandbox.Mounts {
		md := mountDoc{
			Source:      m.Source,
			Destination: m.Destination,
			Type:        mountTypeString(m.Type),
			Mode:        mountModeString(m.Mode),
			Options:     m.Options,
		}
		if m.Overlay != nil {
			md.OverlayLower = m.Overlay.Lower
			md.OverlayUpper = m.Overlay.Upper
			md.OverlayWork = m.Overlay.Work
		}
		doc.Sandbox.Mounts = append(doc.Sandbox.Mounts, md)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(doc); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func filesystemRightString(r FilesystemRight) string {
	switch r {
	case RightRead:
		return "read"
	case RightWrite:
		return "write"
	case RightExecute:
		return "execute"
	default:
		return "unknown"
	}
}

func mountTypeString(t MountType) string {
	switch t {
	case MountBind:
		return "bind"
	case MountTmpfs:
		return "tmpfs"
	case MountOverlay:
		return "overlay"
	case MountProc:
		return "proc"
	case MountSysfs:
		return "sysfs"
	case MountDevtmpfs:
		return "devtmpfs"
	default:
		return "unknown"
	}
}

func mountModeString(m MountMode) string {
	if m == MountReadWrite {
		return "rw"
	}
	return "ro"
}
