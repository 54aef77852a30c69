package policy

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/hopsd/hops/pkg/hopserr"
)

// document is the TOML-tagged shape of a policy file, mirroring the
// teacher's tagged-struct configuration convention (pkg/config.Config in
// the retrieval pack). It is decoded with BurntSushi/toml rather than the
// teacher's hand-rolled key=value scanner.
type document struct {
	Name        string            `toml:"name"`
	Version     string            `toml:"version"`
	Description string            `toml:"description"`
	Metadata    map[string]string `toml:"metadata"`
	Rootfs      string            `toml:"rootfs"`

	Capability capabilityDoc `toml:"capability"`
	Sandbox    sandboxDoc    `toml:"sandbox"`
}

type capabilityDoc struct {
	Network          string           `toml:"network"`
	FilesystemRights []string         `toml:"filesystem_rights"`
	AllowedPaths     []string         `toml:"allowed_paths"`
	DeniedPaths      []string         `toml:"denied_paths"`
	Resources        resourceLimitDoc `toml:"resources"`
}

type resourceLimitDoc struct {
	CPUCount     *int64 `toml:"cpu_count"`
	MemoryBytes  *int64 `toml:"memory_bytes"`
	MaxProcesses *int64 `toml:"max_processes"`
}

type sandboxDoc struct {
	RootPath         string            `toml:"root_path"`
	Hostname         string            `toml:"hostname"`
	WorkingDirectory string            `toml:"working_directory"`
	Environment      map[string]string `toml:"environment"`
	// EnvironmentOrder lets callers pin key order explicitly; if absent,
	// keys are emitted in the (unstable) map iteration order sorted for
	// determinism, since TOML tables have no canonical order of their own.
	EnvironmentOrder []string     `toml:"environment_order"`
	Mounts           []mountDoc   `toml:"mounts"`
}

type mountDoc struct {
	Source      string   `toml:"source"`
	Destination string   `toml:"destination"`
	Type        string   `toml:"type"`
	Mode        string   `toml:"mode"`
	Options     []string `toml:"options"`
	OverlayLower string  `toml:"overlay_lower"`
	OverlayUpper string  `toml:"overlay_upper"`
	OverlayWork  string  `toml:"overlay_work"`
}

const defaultVersion = "1.0.0"

// ParseFile reads the file at path and parses it as a policy document.
func ParseFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, hopserr.Wrap(hopserr.FileNotFound, "policy file not found: "+path, err)
		}
		return nil, hopserr.Wrap(hopserr.UnreadableFile, "cannot read policy file: "+path, err)
	}
	return Parse(string(data))
}

// Parse parses text as a policy document and applies parse-time defaults.
// It does not validate the result; call Validate separately.
func Parse(text string) (*Policy, error) {
	var doc document
	meta, err := toml.Decode(text, &doc)
	if err != nil {
		return nil, hopserr.Wrap(hopserr.InvalidTOML, "malformed policy document", err)
	}
	_ = meta // unknown top-level keys are ignored for forward compatibility

	if doc.Name == "" {
		return nil, hopserr.New(hopserr.MissingRequiredField, "field \"name\" is required")
	}

	version := doc.Version
	if version == "" {
		version = defaultVersion
	}

	networkMode, ok := parseNetworkMode(doc.Capability.Network)
	if !ok {
		return nil, hopserr.New(hopserr.InvalidFieldValue,
			fmt.Sprintf("capability.network: unknown value %q", doc.Capability.Network))
	}

	rights := make(FilesystemRights)
	for _, r := range doc.Capability.FilesystemRights {
		right, ok := parseFilesystemRight(r)
		if !ok {
			return nil, hopserr.New(hopserr.InvalidFieldValue,
				fmt.Sprintf("capability.filesystem_rights: unknown value %q", r))
		}
		rights[right] = struct{}{}
	}

	mounts := make([]MountEntry, 0, len(doc.Sandbox.Mounts))
	for i, m := range doc.Sandbox.Mounts {
		mountType, ok := parseMountType(m.Type)
		if !ok {
			return nil, hopserr.New(hopserr.InvalidFieldValue,
				fmt.Sprintf("sandbox.mounts[%d].type: unknown value %q", i, m.Type))
		}
		mountMode, ok := parseMountMode(m.Mode)
		if !ok {
			return nil, hopserr.New(hopserr.InvalidFieldValue,
				fmt.Sprintf("sandbox.mounts[%d].mode: unknown value %q", i, m.Mode))
		}
		entry := MountEntry{
			Source:      m.Source,
			Destination: m.Destination,
			Type:        mountType,
			Mode:        mountMode,
			Options:     m.Options,
		}
		if mountType == MountOverlay {
			entry.Overlay = &OverlayDirs{Lower: m.OverlayLower, Upper: m.OverlayUpper, Work: m.OverlayWork}
		}
		mounts = append(mounts, entry)
	}

	p := &Policy{
		Name:        doc.Name,
		Version:     version,
		Description: doc.Description,
		Metadata:    doc.Metadata,
		Rootfs:      doc.Rootfs,
		Capability: CapabilityGrant{
			NetworkMode:      networkMode,
			FilesystemRights: rights,
			AllowedPaths:     doc.Capability.AllowedPaths,
			DeniedPaths:      doc.Capability.DeniedPaths,
			ResourceLimits: ResourceLimits{
				CPUCount:     doc.Capability.Resources.CPUCount,
				MemoryBytes:  doc.Capability.Resources.MemoryBytes,
				MaxProcesses: doc.Capability.Resources.MaxProcesses,
			},
		},
		Sandbox: SandboxConfig{
			RootPath:         doc.Sandbox.RootPath,
			Hostname:         doc.Sandbox.Hostname,
			WorkingDirectory: doc.Sandbox.WorkingDirectory,
			Mounts:           mounts,
			Environment:      orderedEnv(doc.Sandbox.Environment, doc.Sandbox.EnvironmentOrder),
		},
	}

	return p, nil
}

// orderedEnv builds a deterministic, unique-keyed Environment slice. If
// order names every key present in env, that order is used verbatim;
// otherwise keys are sorted lexically so output is reproducible.
func orderedEnv(env map[string]string, order []string) []EnvVar {
	if len(env) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(env))
	result := make([]EnvVar, 0, len(env))
	for _, k := range order {
		if v, ok := env[k]; ok && !seen[k] {
			result = append(result, EnvVar{Key: k, Value: v})
			seen[k] = true
		}
	}
	if len(result) == len(env) {
		return result
	}
	remaining := make([]string, 0, len(env)-len(result))
	for k := range env {
		if !seen[k] {
			remaining = append(remaining, k)
		}
	}
	sortStrings(remaining)
	for _, k := range remaining {
		result = append(result, EnvVar{Key: k, Value: env[k]})
	}
	return result
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
