package capability

import (
	"testing"

	"github.com/hopsd/hops/pkg/policy"
)

func TestConfigure_Defaults(t *testing.T) {
	p := &policy.Policy{Name: "sbx", Version: "1.0.0"}
	cfg := Configure(p, nil, IOHandles{}, false, DefaultNATSubnet())
	if len(cfg.ProcessArguments) != 1 || cfg.ProcessArguments[0] != "/bin/sh" {
		t.Errorf("ProcessArguments = %v, want [/bin/sh]", cfg.ProcessArguments)
	}
	if cfg.Hostname != "sbx" {
		t.Errorf("Hostname = %q, want sbx (falls back to policy name)", cfg.Hostname)
	}
	if cfg.NetworkInterface != nil {
		t.Error("expected no network interface for disabled network mode")
	}
}

func TestConfigure_ShellInteractiveInjection(t *testing.T) {
	p := &policy.Policy{Name: "sbx", Version: "1.0.0"}
	cfg := Configure(p, []string{"/bin/bash"}, IOHandles{}, true, DefaultNATSubnet())
	want := []string{"/bin/bash", "-i"}
	if len(cfg.ProcessArguments) != 2 || cfg.ProcessArguments[0] != want[0] || cfg.ProcessArguments[1] != want[1] {
		t.Errorf("ProcessArguments = %v, want %v", cfg.ProcessArguments, want)
	}
	if cfg.Environment["TERM"] == "" {
		t.Error("expected TERM to be injected for tty allocation")
	}
}

func TestConfigure_ShellInteractiveSkipsWhenFlagPresent(t *testing.T) {
	p := &policy.Policy{Name: "sbx", Version: "1.0.0"}
	cfg := Configure(p, []string{"/bin/sh", "-c", "echo hi"}, IOHandles{}, true, DefaultNATSubnet())
	if len(cfg.ProcessArguments) != 3 {
		t.Errorf("ProcessArguments = %v, expected untouched 3-arg form", cfg.ProcessArguments)
	}
}

func TestConfigure_NetworkOutboundAttachesInterfaceAndDNS(t *testing.T) {
	p := &policy.Policy{
		Name: "sbx", Version: "1.0.0",
		Capability: policy.CapabilityGrant{NetworkMode: policy.NetworkOutbound},
	}
	cfg := Configure(p, []string{"/bin/sh", "-c", "curl example.com"}, IOHandles{}, false, DefaultNATSubnet())
	if cfg.NetworkInterface == nil {
		t.Fatal("expected network interface for Outbound mode")
	}
	if cfg.NetworkInterface.IPAddr != "192.168.65.5/24" {
		t.Errorf("IPAddr = %q", cfg.NetworkInterface.IPAddr)
	}
	if !cfg.DNSInjected {
		t.Error("expected DNS prefix to be injected for sh -c form")
	}
}

func TestConfigure_NetworkOutboundSkipsDNSForNonShellC(t *testing.T) {
	p := &policy.Policy{
		Name: "sbx", Version: "1.0.0",
		Capability: policy.CapabilityGrant{NetworkMode: policy.NetworkOutbound},
	}
	cfg := Configure(p, []string{"/usr/bin/curl", "example.com"}, IOHandles{}, false, DefaultNATSubnet())
	if cfg.DNSInjected {
		t.Error("expected no DNS injection for a non shell -c invocation")
	}
}

func TestConfigure_DeniedMountSkippedWithWarning(t *testing.T) {
	p := &policy.Policy{
		Name: "sbx", Version: "1.0.0",
		Capability: policy.CapabilityGrant{DeniedPaths: []string{"/mnt/data"}},
		Sandbox: policy.SandboxConfig{Mounts: []policy.MountEntry{
			{Type: policy.MountBind, Source: "/data", Destination: "/mnt/data"},
		}},
	}
	cfg := Configure(p, nil, IOHandles{}, false, DefaultNATSubnet())
	if len(cfg.Mounts) != 0 {
		t.Errorf("Mounts = %v, want none (denied)", cfg.Mounts)
	}
	if len(cfg.Warnings) != 1 {
		t.Errorf("Warnings = %v, want exactly one", cfg.Warnings)
	}
}

func TestConfigure_AllowedPathSynthesizesBindMount(t *testing.T) {
	p := &policy.Policy{
		Name: "sbx", Version: "1.0.0",
		Capability: policy.CapabilityGrant{
			AllowedPaths:     []string{"/srv/data"},
			FilesystemRights: policy.FilesystemRights{policy.RightRead: struct{}{}},
		},
	}
	cfg := Configure(p, nil, IOHandles{}, false, DefaultNATSubnet())
	if len(cfg.Mounts) != 1 || cfg.Mounts[0].Destination != "/srv/data" {
		t.Errorf("Mounts = %v, want synthesized bind at /srv/data", cfg.Mounts)
	}
	if cfg.Mounts[0].Writable {
		t.Error("expected read-only synthesized mount")
	}
}
