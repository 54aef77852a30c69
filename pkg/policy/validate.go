package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/hopsd/hops/pkg/hopserr"
)

var versionPattern = regexp.MustCompile(`^\d+\.\d+\.\d+$`)

// defaultSensitivePaths is the built-in sensitive path set (§4.1).
// Validate uses it when ValidateOptions.SensitivePaths is nil; a non-nil
// SensitivePaths replaces it rather than extending it.
var defaultSensitivePaths = []string{
	"/etc/shadow",
	"/etc/passwd",
	"/etc/sudoers",
	"/etc/sudoers.d",
	"/root/.ssh",
	"/var/run/secrets",
	"/run/secrets",
	"/etc/ssh",
	"/var/lib/kubelet/pki",
	"/home/.aws",
}

// ResourceLimitBounds are the closed intervals resource limits must fall
// within when set.
type ResourceLimitBounds struct {
	MinCPU, MaxCPU             int64
	MinMemoryBytes, MaxMemory  int64
	MinProcesses, MaxProcesses int64
}

// DefaultResourceLimitBounds returns the spec's documented defaults.
func DefaultResourceLimitBounds() ResourceLimitBounds {
	const mib = 1 << 20
	const gib = 1 << 30
	return ResourceLimitBounds{
		MinCPU: 1, MaxCPU: 16,
		MinMemoryBytes: 1 * mib, MaxMemory: 8 * gib,
		MinProcesses: 1, MaxProcesses: 1024,
	}
}

// ValidateOptions parameterizes Validate with host-specific state: the
// sensitive path set and resource bounds, plus the rootfs search root
// used to resolve an optional image reference.
type ValidateOptions struct {
	SensitivePaths      []string
	ResourceBounds      ResourceLimitBounds
	RootfsSearchDir      string // <state-dir>/rootfs
	SkipHostFilesystemChecks bool // for unit tests without a real filesystem
}

// DefaultValidateOptions returns sensible defaults for a live host.
func DefaultValidateOptions(stateDir string) ValidateOptions {
	return ValidateOptions{
		SensitivePaths: defaultSensitivePaths,
		ResourceBounds: DefaultResourceLimitBounds(),
		RootfsSearchDir: filepath.Join(stateDir, "rootfs"),
	}
}

// Validate checks a Policy against the rules in §4.1. It never mutates p.
func Validate(p *Policy, opts ValidateOptions) error {
	if p.Name == "" {
		return hopserr.New(hopserr.EmptyName, "policy name must not be empty")
	}
	if !versionPattern.MatchString(p.Version) {
		return hopserr.New(hopserr.InvalidVersion,
			fmt.Sprintf("version %q does not match MAJOR.MINOR.PATCH", p.Version))
	}

	for _, p2 := range []struct{ field, value string }{
		{"sandbox.root_path", p.Sandbox.RootPath},
		{"sandbox.working_directory", p.Sandbox.WorkingDirectory},
	} {
		if p2.value != "" && !filepath.IsAbs(p2.value) {
			return hopserr.New(hopserr.NonAbsolutePath, p2.field+" must be absolute: "+p2.value)
		}
	}
	for _, path := range p.Capability.AllowedPaths {
		if !filepath.IsAbs(path) {
			return hopserr.New(hopserr.NonAbsolutePath, "allowed_paths entry must be absolute: "+path)
		}
	}
	for _, path := range p.Capability.DeniedPaths {
		if !filepath.IsAbs(path) {
			return hopserr.New(hopserr.NonAbsolutePath, "denied_paths entry must be absolute: "+path)
		}
	}
	for i, m := range p.Sandbox.Mounts {
		if m.Type == MountBind {
			if !filepath.IsAbs(m.Source) {
				return hopserr.New(hopserr.NonAbsolutePath, fmt.Sprintf("mounts[%d].source must be absolute: %s", i, m.Source))
			}
			if !filepath.IsAbs(m.Destination) {
				return hopserr.New(hopserr.NonAbsolutePath, fmt.Sprintf("mounts[%d].destination must be absolute: %s", i, m.Destination))
			}
		}
	}

	if err := checkPathSetsDisjoint(p.Capability.AllowedPaths, p.Capability.DeniedPaths); err != nil {
		return err
	}

	if err := checkResourceLimits(p.Capability.ResourceLimits, opts.ResourceBounds); err != nil {
		return err
	}

	sensitive := opts.SensitivePaths
	if sensitive == nil {
		sensitive = defaultSensitivePaths
	}

	if !opts.SkipHostFilesystemChecks {
		for i, m := range p.Sandbox.Mounts {
			if m.Type != MountBind {
				continue
			}
			if err := checkBindMountSecurity(i, m, sensitive); err != nil {
				return err
			}
		}
	}

	if err := checkMountDestinationsDisjoint(p.Sandbox.Mounts, sensitive); err != nil {
		return err
	}

	if p.Rootfs != "" && !opts.SkipHostFilesystemChecks {
		resolved, err := ResolveRootfs(p.Rootfs, opts.RootfsSearchDir)
		if err != nil {
			return err
		}
		if _, statErr := os.Stat(resolved); statErr != nil {
			return hopserr.New(hopserr.RootfsNotFound, "rootfs image not found: "+resolved)
		}
	}

	return nil
}

// canonicalize rejects a relative path and returns the lexically clean
// absolute path: filepath.Clean drops "." and empty components and
// resolves ".." rather than rejecting them. It does not touch the
// filesystem.
func canonicalize(path string) (string, error) {
	if !filepath.IsAbs(path) {
		return "", hopserr.New(hopserr.NonAbsolutePath, "path must be absolute: "+path)
	}
	clean := filepath.Clean(path)
	for _, part := range strings.Split(clean, string(filepath.Separator)) {
		if part == ".." {
			return "", hopserr.New(hopserr.NonAbsolutePath, "path must not contain ..: "+path)
		}
	}
	return clean, nil
}

func isPrefix(prefix, path string) bool {
	if prefix == path {
		return true
	}
	return strings.HasPrefix(path, strings.TrimSuffix(prefix, "/")+"/")
}

func checkPathSetsDisjoint(allowed, denied []string) error {
	canonAllowed := make([]string, 0, len(allowed))
	for _, p := range allowed {
		c, err := canonicalize(p)
		if err != nil {
			return err
		}
		canonAllowed = append(canonAllowed, c)
	}
	canonDenied := make([]string, 0, len(denied))
	for _, p := range denied {
		c, err := canonicalize(p)
		if err != nil {
			return err
		}
		canonDenied = append(canonDenied, c)
	}
	for _, a := range canonAllowed {
		for _, d := range canonDenied {
			if isPrefix(a, d) || isPrefix(d, a) {
				return hopserr.New(hopserr.ConflictingPaths,
					fmt.Sprintf("allowed path %q conflicts with denied path %q", a, d))
			}
		}
	}
	return nil
}

func checkResourceLimits(limits ResourceLimits, bounds ResourceLimitBounds) error {
	if limits.CPUCount != nil {
		v := *limits.CPUCount
		if v < bounds.MinCPU || v > bounds.MaxCPU {
			return hopserr.New(hopserr.ResourceLimitOutOfRange,
				fmt.Sprintf("cpu_count %d out of range [%d,%d]", v, bounds.MinCPU, bounds.MaxCPU))
		}
	}
	if limits.MemoryBytes != nil {
		v := *limits.MemoryBytes
		if v < bounds.MinMemoryBytes || v > bounds.MaxMemory {
			return hopserr.New(hopserr.ResourceLimitOutOfRange,
				fmt.Sprintf("memory_bytes %d out of range [%d,%d]", v, bounds.MinMemoryBytes, bounds.MaxMemory))
		}
	}
	if limits.MaxProcesses != nil {
		v := *limits.MaxProcesses
		if v < bounds.MinProcesses || v > bounds.MaxProcesses {
			return hopserr.New(hopserr.ResourceLimitOutOfRange,
				fmt.Sprintf("max_processes %d out of range [%d,%d]", v, bounds.MinProcesses, bounds.MaxProcesses))
		}
	}
	return nil
}

func checkBindMountSecurity(index int, m MountEntry, sensitive []string) error {
	resolved := m.Source
	info, err := os.Lstat(m.Source)
	if err != nil {
		return hopserr.New(hopserr.NonAbsolutePath, fmt.Sprintf("mounts[%d].source does not exist: %s", index, m.Source))
	}
	if info.Mode()&os.ModeSymlink != 0 {
		target, err := filepath.EvalSymlinks(m.Source)
		if err != nil {
			return hopserr.Wrap(hopserr.InsecureMountConfig, fmt.Sprintf("mounts[%d].source symlink could not be resolved", index), err)
		}
		resolved = target
	}
	for _, s := range sensitive {
		if isPrefix(s, resolved) || isPrefix(resolved, s) {
			return hopserr.New(hopserr.InsecureMountConfig,
				fmt.Sprintf("mounts[%d] resolves into sensitive path %q", index, s))
		}
	}
	if m.Mode == MountReadWrite {
		destClean, err := canonicalize(m.Destination)
		if err == nil {
			for _, s := range sensitive {
				if isPrefix(destClean, s) {
					return hopserr.New(hopserr.InsecureMountConfig,
						fmt.Sprintf("mounts[%d] is read-write into sensitive path %q", index, s))
				}
			}
		}
	}
	return nil
}

func checkMountDestinationsDisjoint(mounts []MountEntry, sensitive []string) error {
	for i, a := range mounts {
		ca, err := canonicalize(a.Destination)
		if err != nil {
			continue
		}
		for j, b := range mounts {
			if i == j {
				continue
			}
			cb, err := canonicalize(b.Destination)
			if err != nil {
				continue
			}
			if isPrefix(ca, cb) || isPrefix(cb, ca) {
				return hopserr.New(hopserr.ConflictingPaths,
					fmt.Sprintf("mounts[%d] destination %q overlaps mounts[%d] destination %q", i, ca, j, cb))
			}
		}
	}
	_ = sensitive
	return nil
}

// ResolveRootfs resolves a policy's rootfs reference per the rules in §4.1:
// a leading "/" is absolute, a leading "~" expands the home directory,
// otherwise the name is looked up under searchDir.
func ResolveRootfs(ref, searchDir string) (string, error) {
	switch {
	case strings.HasPrefix(ref, "/"):
		return ref, nil
	case strings.HasPrefix(ref, "~"):
		home, err := os.UserHomeDir()
		if err != nil {
			return "", hopserr.Wrap(hopserr.RootfsNotFound, "cannot expand ~ in rootfs reference", err)
		}
		return filepath.Join(home, strings.TrimPrefix(ref, "~")), nil
	default:
		return filepath.Join(searchDir, ref), nil
	}
}
