// Package capability implements the Capability Enforcer (E): a pure
// translator from a policy, a command, and I/O handles to a guest
// container configuration record. E never mutates global state and never
// performs I/O beyond reading its inputs, mirroring the teacher's value
// object conventions (pkg/domain.VMConfig) but generalized to cover
// network, mount, and shell-interactive translation rules.
package capability

import (
	"path/filepath"
	"strings"

	"github.com/hopsd/hops/pkg/policy"
)

// shellBasenames is the fixed set of command names treated as an
// interactive shell for the purposes of "-i" injection (§4.2).
var shellBasenames = map[string]bool{
	"sh": true, "bash": true, "ash": true, "dash": true, "zsh": true,
}

// NetworkInterfaceConfig describes the single NAT interface attached
// when network mode is Outbound or Full.
type NetworkInterfaceConfig struct {
	IfaceID string
	IPAddr  string // CIDR, e.g. "192.168.65.5/24"
	Gateway string
}

// GuestMount is a single mount translated for the guest configuration.
type GuestMount struct {
	Source      string
	Destination string
	Type        policy.MountType
	Writable    bool
	Options     []string
	Overlay     *policy.OverlayDirs
}

// GuestResources carries the resource limits to apply to the guest, when set.
type GuestResources struct {
	CPUCount     *int64
	MemoryBytes  *int64
	MaxProcesses *int64
}

// GuestContainerConfiguration is the pure output of E: a value describing
// everything needed to build and start a guest container. It never
// references a VM manager or a live container.
type GuestContainerConfiguration struct {
	Hostname         string
	ProcessArguments []string
	WorkingDirectory string
	Environment      map[string]string
	Resources        GuestResources
	NetworkInterface *NetworkInterfaceConfig // nil when no interface is attached
	Mounts           []GuestMount
	DNSInjected      bool // whether the DNS-setup prefix was applied
	AllocateTty      bool
	Warnings         []string // e.g. mounts skipped because their destination is denied
}

// NATSubnet is the configuration value described in §9: the source notes
// this /24 is mandated by observed host NAT facility behavior, not a
// protocol requirement, so it is a variable here rather than a literal
// sprinkled through the translator.
type NATSubnet struct {
	IPAddr  string
	Gateway string
}

// DefaultNATSubnet returns the documented default (§4.2, §9).
func DefaultNATSubnet() NATSubnet {
	return NATSubnet{IPAddr: "192.168.65.5/24", Gateway: "192.168.65.1"}
}

// IOHandles names the optional I/O bindings E is told about. E never
// touches these beyond recording whether they are present; S is the one
// that wires real sinks.
type IOHandles struct {
	HasStdoutSink bool
	HasStderrSink bool
	HasStdinSource bool
}

// Configure is the pure function at the heart of E: policy + command +
// I/O handles -> a guest container configuration.
func Configure(p *policy.Policy, command []string, io IOHandles, allocateTty bool, nat NATSubnet) GuestContainerConfiguration {
	cfg := GuestContainerConfiguration{
		Hostname:         hostname(p),
		WorkingDirectory: p.Sandbox.WorkingDirectory,
		Environment:      environment(p, allocateTty),
		AllocateTty:      allocateTty,
		Resources: GuestResources{
			CPUCount:     p.Capability.ResourceLimits.CPUCount,
			MemoryBytes:  p.Capability.ResourceLimits.MemoryBytes,
			MaxProcesses: p.Capability.ResourceLimits.MaxProcesses,
		},
	}

	args := processArguments(command)
	args = applyShellInteractive(args, allocateTty)

	switch p.Capability.NetworkMode {
	case policy.NetworkOutbound, policy.NetworkFull:
		cfg.NetworkInterface = &NetworkInterfaceConfig{
			IfaceID: "eth0",
			IPAddr:  nat.IPAddr,
			Gateway: nat.Gateway,
		}
		if wrapped, ok := wrapWithDNS(args); ok {
			args = wrapped
			cfg.DNSInjected = true
		}
	case policy.NetworkDisabled, policy.NetworkLoopback:
		// no interface attached
	}

	cfg.ProcessArguments = args

	deniedDestinations := make(map[string]bool, len(p.Capability.DeniedPaths))
	for _, d := range p.Capability.DeniedPaths {
		deniedDestinations[filepath.Clean(d)] = true
	}

	mountDestinations := make(map[string]bool, len(p.Sandbox.Mounts))
	for _, m := range p.Sandbox.Mounts {
		dest := filepath.Clean(m.Destination)
		mountDestinations[dest] = true
		if deniedDestinations[dest] {
			cfg.Warnings = append(cfg.Warnings, "skipping mount denied by policy: "+dest)
			continue
		}
		cfg.Mounts = append(cfg.Mounts, GuestMount{
			Source:      m.Source,
			Destination: m.Destination,
			Type:        m.Type,
			Writable:    m.Mode == policy.MountReadWrite,
			Options:     m.Options,
			Overlay:     m.Overlay,
		})
	}

	for _, path := range p.Capability.AllowedPaths {
		dest := filepath.Clean(path)
		if mountDestinations[dest] {
			continue
		}
		if deniedDestinations[dest] {
			cfg.Warnings = append(cfg.Warnings, "skipping allowed path shadowed by deny list: "+dest)
			continue
		}
		cfg.Mounts = append(cfg.Mounts, GuestMount{
			Source:      path,
			Destination: path,
			Type:        policy.MountBind,
			Writable:    p.Capability.FilesystemRights.Has(policy.RightWrite),
		})
		mountDestinations[dest] = true
	}

	return cfg
}

func hostname(p *policy.Policy) string {
	if p.Sandbox.Hostname != "" {
		return p.Sandbox.Hostname
	}
	return p.Name
}

func processArguments(command []string) []string {
	if len(command) == 0 {
		return []string{"/bin/sh"}
	}
	out := make([]string, len(command))
	copy(out, command)
	return out
}

func environment(p *policy.Policy, allocateTty bool) map[string]string {
	env := p.Sandbox.EnvMap()
	if allocateTty {
		if _, ok := env["TERM"]; !ok {
			if env == nil {
				env = make(map[string]string)
			}
			env["TERM"] = "xterm-256color"
		}
		if _, ok := env["PS1"]; !ok {
			if env == nil {
				env = make(map[string]string)
			}
			env["PS1"] = `\u@\h:\w\$ `
		}
	}
	return env
}

// applyShellInteractive inserts "-i" as the second argument when the
// command is a bare invocation of a known shell and allocateTty is set,
// per §4.2. It never modifies a command that already passes "-c" or any
// other short option.
func applyShellInteractive(args []string, allocateTty bool) []string {
	if !allocateTty || len(args) == 0 {
		return args
	}
	base := filepath.Base(args[0])
	if !shellBasenames[base] {
		return args
	}
	if len(args) >= 2 && strings.HasPrefix(args[1], "-") {
		return args
	}
	out := make([]string, 0, len(args)+1)
	out = append(out, args[0], "-i")
	out = append(out, args[1:]...)
	return out
}

// wrapWithDNS wraps a "/bin/sh -c <script>" command with a prefix that
// writes resolv.conf before running the script, as described in §4.2.
// Non-shell-c commands are returned unchanged (§9: "non-shell commands
// silently do not get DNS").
func wrapWithDNS(args []string) ([]string, bool) {
	if len(args) != 3 {
		return args, false
	}
	if filepath.Base(args[0]) != "sh" && args[0] != "/bin/sh" {
		return args, false
	}
	if args[1] != "-c" {
		return args, false
	}
	const prefix = `printf '%s\n%s\n' 'nameserver 8.8.8.8' 'nameserver 8.8.4.4' > /etc/resolv.conf; `
	wrapped := make([]string, len(args))
	copy(wrapped, args)
	wrapped[2] = prefix + args[2]
	return wrapped, true
}
