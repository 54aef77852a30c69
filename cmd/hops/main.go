// hops is the command-line front end for hopsd: it dials the engine's
// Unix socket and drives a single RunSandboxStreaming call, or issues
// one of the simpler unary calls (ls, status, stop).
//
// Build: go build -o hops ./cmd/hops
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/creack/pty"
	"github.com/hopsd/hops/pkg/api/hopspb"
	"github.com/hopsd/hops/pkg/engine"
	"github.com/hopsd/hops/pkg/policy"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// CLI holds flags shared across subcommands, in the teacher's CLI-state
// struct style.
type CLI struct {
	socket        string
	policyPath    string
	rootfs        string
	tty           bool
	keepArtifacts bool
}

func main() {
	stateDir, err := engine.ResolveStateDir(os.Getenv("HOPS_STATE_DIR"))
	if err != nil {
		fatal("%v", err)
	}

	cli := &CLI{socket: filepath.Join(stateDir, "hops.sock")}

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	args := os.Args[1:]
	for len(args) > 0 && strings.HasPrefix(args[0], "-") {
		switch args[0] {
		case "--socket":
			requireValue(args, "--socket")
			cli.socket = args[1]
			args = args[2:]
		case "--policy":
			requireValue(args, "--policy")
			cli.policyPath = args[1]
			args = args[2:]
		case "--rootfs":
			requireValue(args, "--rootfs")
			cli.rootfs = args[1]
			args = args[2:]
		case "--tty", "-t":
			cli.tty = true
			args = args[1:]
		case "--keep-artifacts":
			cli.keepArtifacts = true
			args = args[1:]
		case "-h", "--help":
			printUsage()
			os.Exit(0)
		default:
			fatal("unknown flag: %s", args[0])
		}
	}

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	cmd := args[0]
	cmdArgs := args[1:]

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	conn, err := dial(ctx, cli.socket)
	if err != nil {
		fatal("connecting to %s: %v", cli.socket, err)
	}
	defer conn.Close()
	client := hopspb.NewControlClient(conn)

	switch cmd {
	case "run":
		err = cmdRun(ctx, client, cli, cmdArgs)
	case "ls", "list":
		err = cmdList(ctx, client)
	case "status":
		err = cmdStatus(ctx, client, cmdArgs)
	case "stop":
		err = cmdStop(ctx, client, cmdArgs)
	default:
		fatal("unknown command: %s", cmd)
	}

	if err != nil {
		fatal("%v", err)
	}
}

func dial(ctx context.Context, socketPath string) (*grpc.ClientConn, error) {
	return grpc.DialContext(ctx, "unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(hopspb.CodecName)),
		grpc.WithBlock(),
	)
}

func cmdRun(ctx context.Context, client hopspb.ControlClient, cli *CLI, command []string) error {
	if len(command) == 0 {
		return fmt.Errorf("usage: hops run [flags] <command> [args...]")
	}

	inline, err := loadInlinePolicy(cli.policyPath, cli.rootfs)
	if err != nil {
		return err
	}

	stream, err := client.RunSandboxStreaming(ctx)
	if err != nil {
		return fmt.Errorf("opening stream: %w", err)
	}

	runReq := &hopspb.RunRequest{
		Command:       command,
		InlinePolicy:  inline,
		KeepArtifacts: cli.keepArtifacts,
		AllocateTty:   cli.tty,
	}
	if err := stream.Send(&hopspb.InputChunk{Type: hopspb.ChunkRun, Run: runReq}); err != nil {
		return fmt.Errorf("sending run request: %w", err)
	}

	if cli.tty {
		go watchResize(ctx, stream)
	}
	go pumpStdin(stream)

	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("receiving output: %w", err)
		}
		switch chunk.Type {
		case hopspb.ChunkStdout:
			os.Stdout.Write(chunk.Data)
		case hopspb.ChunkStderr:
			os.Stderr.Write(chunk.Data)
		case hopspb.ChunkExit:
			code := 0
			if chunk.ExitCode != nil {
				code = int(*chunk.ExitCode)
			}
			if code != 0 {
				os.Exit(code)
			}
			return nil
		}
	}
}

func pumpStdin(stream hopspb.ControlRunSandboxStreamingClient) {
	buf := make([]byte, 4096)
	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			if sendErr := stream.Send(&hopspb.InputChunk{Type: hopspb.ChunkStdin, Stdin: append([]byte(nil), buf[:n]...)}); sendErr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// watchResize sends an initial terminal size hint and one more on every
// SIGWINCH. pty.GetsizeFull reads the controlling terminal's window
// size directly off the fd, no local pty pair required.
func watchResize(ctx context.Context, stream hopspb.ControlRunSandboxStreamingClient) {
	send := func() {
		size, err := pty.GetsizeFull(os.Stdin)
		if err != nil {
			return
		}
		stream.Send(&hopspb.InputChunk{
			Type:   hopspb.ChunkResize,
			Resize: &hopspb.ResizeHint{Cols: size.Cols, Rows: size.Rows},
		})
	}
	send()

	winch := make(chan os.Signal, 1)
	signal.Notify(winch, syscall.SIGWINCH)
	defer signal.Stop(winch)
	for {
		select {
		case <-ctx.Done():
			return
		case <-winch:
			send()
		}
	}
}

func cmdList(ctx context.Context, client hopspb.ControlClient) error {
	resp, err := client.ListSandboxes(ctx, &hopspb.ListRequest{})
	if err != nil {
		return err
	}
	if resp.Error != "" {
		return fmt.Errorf("%s", resp.Error)
	}
	if len(resp.Sandboxes) == 0 {
		fmt.Println("No sandboxes found")
		return nil
	}
	for _, sb := range resp.Sandboxes {
		fmt.Printf("%s\t%s\t%s\n", sb.ContainerID, sb.PolicyName, sb.State)
	}
	return nil
}

func cmdStatus(ctx context.Context, client hopspb.ControlClient, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: hops status <container-id>")
	}
	st, err := client.GetStatus(ctx, &hopspb.StatusRequest{ContainerID: args[0]})
	if err != nil {
		return err
	}
	if !st.Found {
		return fmt.Errorf("no such container: %s", args[0])
	}
	fmt.Printf("id:      %s\n", st.ContainerID)
	fmt.Printf("policy:  %s\n", st.PolicyName)
	fmt.Printf("state:   %s\n", st.State)
	if st.ExitCode != nil {
		fmt.Printf("exit:    %d\n", *st.ExitCode)
	}
	return nil
}

func cmdStop(ctx context.Context, client hopspb.ControlClient, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: hops stop <container-id>")
	}
	resp, err := client.StopSandbox(ctx, &hopspb.StopRequest{ContainerID: args[0]})
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("%s", resp.Error)
	}
	return nil
}

// loadInlinePolicy parses a policy document off disk and projects it to
// the wire InlinePolicy the engine expects. rootfsOverride, when set,
// wins over whatever the policy file itself names.
func loadInlinePolicy(path, rootfsOverride string) (hopspb.InlinePolicy, error) {
	if path == "" {
		return hopspb.InlinePolicy{}, fmt.Errorf("--policy is required")
	}
	pol, err := policy.ParseFile(path)
	if err != nil {
		return hopspb.InlinePolicy{}, fmt.Errorf("parsing policy %s: %w", path, err)
	}
	if rootfsOverride != "" {
		pol.Rootfs = rootfsOverride
	}
	return policyToWire(pol), nil
}

// policyToWire is the client-side inverse of pkg/control's
// policyFromWire: it projects a parsed policy.Policy onto the wire
// InlinePolicy carried in a RunRequest.
func policyToWire(p *policy.Policy) hopspb.InlinePolicy {
	rights := make([]string, 0, len(p.Capability.FilesystemRights))
	for _, r := range []policy.FilesystemRight{policy.RightRead, policy.RightWrite, policy.RightExecute} {
		if p.Capability.FilesystemRights.Has(r) {
			rights = append(rights, filesystemRightString(r))
		}
	}

	mounts := make([]hopspb.MountEntry, 0, len(p.Sandbox.Mounts))
	for _, m := range p.Sandbox.Mounts {
		mounts = append(mounts, hopspb.MountEntry{
			Source:      m.Source,
			Destination: m.Destination,
			Type:        mountTypeWire(m.Type),
			Mode:        mountModeWire(m.Mode),
			Options:     m.Options,
		})
	}

	env := make([]hopspb.EnvVar, 0, len(p.Sandbox.Environment))
	for _, e := range p.Sandbox.Environment {
		env = append(env, hopspb.EnvVar{Key: e.Key, Value: e.Value})
	}

	return hopspb.InlinePolicy{
		Name:        p.Name,
		Version:     p.Version,
		Description: p.Description,
		Capability: hopspb.CapabilityGrant{
			NetworkMode:      networkModeWire(p.Capability.NetworkMode),
			FilesystemRights: rights,
			AllowedPaths:     p.Capability.AllowedPaths,
			DeniedPaths:      p.Capability.DeniedPaths,
			ResourceLimits: hopspb.ResourceLimits{
				CPUCount:     p.Capability.ResourceLimits.CPUCount,
				MemoryBytes:  p.Capability.ResourceLimits.MemoryBytes,
				MaxProcesses: p.Capability.ResourceLimits.MaxProcesses,
			},
		},
		RootPath:         p.Sandbox.RootPath,
		Hostname:         p.Sandbox.Hostname,
		WorkingDirectory: p.Sandbox.WorkingDirectory,
		Environment:      env,
		Mounts:           mounts,
		Metadata:         p.Metadata,
		Rootfs:           p.Rootfs,
	}
}

func networkModeWire(m policy.NetworkMode) hopspb.NetworkMode {
	switch m {
	case policy.NetworkLoopback:
		return hopspb.NetworkLoopback
	case policy.NetworkOutbound:
		return hopspb.NetworkOutbound
	case policy.NetworkFull:
		return hopspb.NetworkFull
	default:
		return hopspb.NetworkDisabled
	}
}

func filesystemRightString(r policy.FilesystemRight) string {
	switch r {
	case policy.RightWrite:
		return "write"
	case policy.RightExecute:
		return "execute"
	default:
		return "read"
	}
}

func mountTypeWire(t policy.MountType) hopspb.MountType {
	switch t {
	case policy.MountTmpfs:
		return hopspb.MountTmpfs
	case policy.MountOverlay:
		return hopspb.MountOverlay
	case policy.MountProc:
		return hopspb.MountProc
	case policy.MountSysfs:
		return hopspb.MountSysfs
	case policy.MountDevtmpfs:
		return hopspb.MountDevtmpfs
	default:
		return hopspb.MountBind
	}
}

func mountModeWire(m policy.MountMode) hopspb.MountMode {
	if m == policy.MountReadWrite {
		return hopspb.MountReadWrite
	}
	return hopspb.MountReadOnly
}

func requireValue(args []string, flag string) {
	if len(args) < 2 {
		fatal("%s requires a value", flag)
	}
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "hops: "+format+"\n", args...)
	os.Exit(1)
}

func printUsage() {
	fmt.Println(`hops - capability-constrained sandbox client

Usage:
  hops [flags] <command> [args]

Commands:
  run <cmd> [args...]   Run a command under a policy, streaming stdio
  ls                    List known sandboxes
  status <id>           Show a sandbox's status
  stop <id>             Stop a running sandbox

Flags:
  --socket <path>       Control socket (default: <state-dir>/hops.sock)
  --policy <path>       Policy document for "run" (required)
  --rootfs <ref>        Override the policy's rootfs reference
  --tty, -t             Allocate a pty and forward terminal resizes
  --keep-artifacts      Keep the container's rootfs copy after exit

Environment:
  HOPS_STATE_DIR        Engine state directory (default: $HOME/.hops)`)
}
