package main

import (
	"testing"

	"github.com/hopsd/hops/pkg/api/hopspb"
	"github.com/hopsd/hops/pkg/policy"
)

func TestPolicyToWire_MapsCapabilityAndMounts(t *testing.T) {
	cpu := int64(2)
	pol := &policy.Policy{
		Name:    "p",
		Version: "1.0.0",
		Capability: policy.CapabilityGrant{
			NetworkMode:      policy.NetworkOutbound,
			FilesystemRights: policy.FilesystemRights{policy.RightRead: {}, policy.RightWrite: {}},
			ResourceLimits:   policy.ResourceLimits{CPUCount: &cpu},
		},
		Sandbox: policy.SandboxConfig{
			Mounts: []policy.MountEntry{
				{Source: "/data", Destination: "/mnt", Type: policy.MountTmpfs, Mode: policy.MountReadWrite},
			},
			Environment: []policy.EnvVar{{Key: "FOO", Value: "bar"}},
		},
		Rootfs: "base",
	}

	wire := policyToWire(pol)

	if wire.Capability.NetworkMode != hopspb.NetworkOutbound {
		t.Errorf("NetworkMode = %v", wire.Capability.NetworkMode)
	}
	if len(wire.Capability.FilesystemRights) != 2 {
		t.Errorf("FilesystemRights = %v", wire.Capability.FilesystemRights)
	}
	if wire.Capability.ResourceLimits.CPUCount == nil || *wire.Capability.ResourceLimits.CPUCount != 2 {
		t.Errorf("CPUCount = %v", wire.Capability.ResourceLimits.CPUCount)
	}
	if len(wire.Mounts) != 1 || wire.Mounts[0].Type != hopspb.MountTmpfs || wire.Mounts[0].Mode != hopspb.MountReadWrite {
		t.Errorf("Mounts = %+v", wire.Mounts)
	}
	if len(wire.Environment) != 1 || wire.Environment[0].Key != "FOO" {
		t.Errorf("Environment = %+v", wire.Environment)
	}
	if wire.Rootfs != "base" {
		t.Errorf("Rootfs = %q", wire.Rootfs)
	}
}

func TestPolicyToWire_DefaultNetworkModeIsDisabled(t *testing.T) {
	wire := policyToWire(&policy.Policy{Name: "p", Version: "1.0.0"})
	if wire.Capability.NetworkMode != hopspb.NetworkDisabled {
		t.Errorf("NetworkMode = %v, want disabled", wire.Capability.NetworkMode)
	}
}

func TestLoadInlinePolicy_RequiresPath(t *testing.T) {
	if _, err := loadInlinePolicy("", ""); err == nil {
		t.Fatal("expected error when --policy is unset")
	}
}
