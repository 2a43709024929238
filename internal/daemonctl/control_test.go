package daemonctl_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"assessflow/internal/daemon"
	"assessflow/internal/daemonctl"
	"assessflow/internal/ipc"
	"assessflow/internal/testsupport"
)

func TestProcessInfoWithoutSocket(t *testing.T) {
	running, pid, err := daemonctl.ProcessInfo(filepath.Join(t.TempDir(), "missing.sock"))
	if err != nil {
		t.Fatalf("ProcessInfo: %v", err)
	}
	if running || pid != 0 {
		t.Fatalf("expected no daemon, got running=%v pid=%d", running, pid)
	}
}

func TestProcessInfoAndEnsureStartedAgainstLiveDaemon(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithMemoryStore())
	d, err := daemon.New(cfg, nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	srv, err := ipc.NewServer(ctx, cfg.Paths.SocketPath, d, nil)
	if err != nil {
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(func() {
		cancel()
		srv.Close()
		_ = d.Close()
	})

	running, pid, err := daemonctl.ProcessInfo(cfg.Paths.SocketPath)
	if err != nil {
		t.Fatalf("ProcessInfo: %v", err)
	}
	if !running || pid != os.Getpid() {
		t.Fatalf("expected in-process daemon, got running=%v pid=%d", running, pid)
	}

	client, err := daemonctl.WaitForClient(cfg.Paths.SocketPath, time.Second)
	if err != nil {
		t.Fatalf("WaitForClient: %v", err)
	}
	_ = client.Close()

	result, err := daemonctl.EnsureStarted(cfg.Paths.SocketPath, "/nonexistent/assessflow", daemonctl.LaunchOptions{}, time.Second)
	if err != nil {
		t.Fatalf("EnsureStarted: %v", err)
	}
	if result.State != daemonctl.StartStateAlreadyRunning {
		t.Fatalf("expected already running, got %s", result.State)
	}
}

func TestWaitForClientTimesOut(t *testing.T) {
	_, err := daemonctl.WaitForClient(filepath.Join(t.TempDir(), "missing.sock"), 300*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestLaunchRequiresExecutable(t *testing.T) {
	if err := daemonctl.Launch("  ", daemonctl.LaunchOptions{}); err == nil {
		t.Fatal("expected empty executable to fail")
	}
}

func TestReadPID(t *testing.T) {
	dir := t.TempDir()

	pid, err := daemonctl.ReadPID(filepath.Join(dir, "missing.pid"))
	if err != nil || pid != 0 {
		t.Fatalf("expected zero pid for missing file, got %d (%v)", pid, err)
	}

	path := filepath.Join(dir, "assessflowd.pid")
	if err := os.WriteFile(path, []byte("4242\n"), 0o644); err != nil {
		t.Fatalf("write pid: %v", err)
	}
	pid, err = daemonctl.ReadPID(path)
	if err != nil || pid != 4242 {
		t.Fatalf("expected 4242, got %d (%v)", pid, err)
	}

	if err := os.WriteFile(path, []byte("garbage"), 0o644); err != nil {
		t.Fatalf("write pid: %v", err)
	}
	if _, err := daemonctl.ReadPID(path); err == nil {
		t.Fatal("expected malformed pid error")
	}
}

func TestSignalRefusesCurrentProcess(t *testing.T) {
	if err := daemonctl.Signal(os.Getpid(), unix.SIGTERM); err == nil {
		t.Fatal("expected refusal to signal self")
	}
	if err := daemonctl.Signal(0, unix.SIGTERM); err == nil {
		t.Fatal("expected invalid pid error")
	}
	if !daemonctl.Alive(os.Getpid()) {
		t.Fatal("current process should be alive")
	}
	if daemonctl.Alive(-1) {
		t.Fatal("negative pid should not be alive")
	}
}

func TestStopWithoutDaemon(t *testing.T) {
	dir := t.TempDir()
	_, err := daemonctl.Stop(filepath.Join(dir, "missing.sock"), filepath.Join(dir, "missing.pid"), time.Second)
	if !errors.Is(err, daemonctl.ErrDaemonNotRunning) {
		t.Fatalf("expected ErrDaemonNotRunning, got %v", err)
	}
}
