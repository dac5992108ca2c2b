package registry

import (
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.mkern.dev/moor/internal/core"
)

// useTempDir points the registry at a fresh directory for the test.
func useTempDir(t *testing.T) string {
	t.Helper()
	old := core.Config.SocketDir
	dir := filepath.Join(t.TempDir(), "reg")
	core.Config.SocketDir = dir
	t.Cleanup(func() { core.Config.SocketDir = old })
	return dir
}

func TestValidName(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"test-ok", true},
		{"my_session", true},
		{"v1.2", true},
		{"ABC123", true},
		{"a", true},
		{strings.Repeat("x", 64), true},
		{"", false},
		{".", false},
		{"..", false},
		{"../etc", false},
		{"a b", false},
		{"a/b", false},
		{"a;rm", false},
		{"héllo", false},
		{strings.Repeat("x", 65), false},
		{strings.Repeat("x", 100), false},
	}
	for _, tt := range tests {
		if got := ValidName(tt.name); got != tt.valid {
			t.Errorf("ValidName(%q) = %v, want %v", tt.name, got, tt.valid)
		}
	}
}

func TestEnsureDirCreatesPrivate(t *testing.T) {
	dir := useTempDir(t)

	got, err := EnsureDir()
	if err != nil {
		t.Fatalf("EnsureDir: %v", err)
	}
	if got != dir {
		t.Errorf("dir = %q, want %q", got, dir)
	}
	fi, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if fi.Mode().Perm() != 0o700 {
		t.Errorf("mode = %o, want 0700", fi.Mode().Perm())
	}
}

func TestEnsureDirRefusesSymlink(t *testing.T) {
	base := t.TempDir()
	target := filepath.Join(base, "target")
	if err := os.Mkdir(target, 0o700); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(base, "link")
	if err := os.Symlink(target, link); err != nil {
		t.Fatal(err)
	}

	old := core.Config.SocketDir
	core.Config.SocketDir = link
	t.Cleanup(func() { core.Config.SocketDir = old })

	if _, err := EnsureDir(); err == nil {
		t.Fatal("expected error for symlinked session directory")
	}
}

func TestPidRoundTrip(t *testing.T) {
	useTempDir(t)
	if _, err := EnsureDir(); err != nil {
		t.Fatal(err)
	}

	if err := WritePid("sess", 4242); err != nil {
		t.Fatalf("WritePid: %v", err)
	}
	pid, err := ReadPid("sess")
	if err != nil {
		t.Fatalf("ReadPid: %v", err)
	}
	if pid != 4242 {
		t.Errorf("pid = %d, want 4242", pid)
	}

	if _, err := ReadPid("absent"); err == nil {
		t.Error("expected error for missing pid file")
	}
}

func TestInfoRoundTrip(t *testing.T) {
	useTempDir(t)
	if _, err := EnsureDir(); err != nil {
		t.Fatal(err)
	}

	if err := WriteInfo("sess", 123, 2, 1700000000, "htop"); err != nil {
		t.Fatalf("WriteInfo: %v", err)
	}
	s, err := ReadInfo("sess")
	if err != nil {
		t.Fatalf("ReadInfo: %v", err)
	}
	if s.Pid != 123 || s.Clients != 2 || s.Created != 1700000000 || s.Cmd != "htop" {
		t.Errorf("unexpected session record: %+v", s)
	}
}

func TestReadInfoIgnoresMalformedLines(t *testing.T) {
	useTempDir(t)
	if _, err := EnsureDir(); err != nil {
		t.Fatal(err)
	}

	content := "pid=77\ngarbage line\nclients=notanumber\ncreated=1700000001\ncmd=bash\n"
	if err := os.WriteFile(InfoPath("sess"), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	s, err := ReadInfo("sess")
	if err != nil {
		t.Fatalf("ReadInfo: %v", err)
	}
	if s.Pid != 77 || s.Clients != 0 || s.Created != 1700000001 {
		t.Errorf("unexpected session record: %+v", s)
	}
}

func TestAlivePid(t *testing.T) {
	if !AlivePid(os.Getpid()) {
		t.Error("own pid should be alive")
	}
	if AlivePid(0) || AlivePid(-1) {
		t.Error("non-positive pids are never alive")
	}
	// A pid beyond any real pid space.
	if AlivePid(1 << 30) {
		t.Error("absurd pid should be dead")
	}
}

func TestCleanupIdempotent(t *testing.T) {
	useTempDir(t)
	if _, err := EnsureDir(); err != nil {
		t.Fatal(err)
	}
	if err := WritePid("sess", 1); err != nil {
		t.Fatal(err)
	}

	Cleanup("sess")
	Cleanup("sess") // second pass is a no-op

	if _, err := os.Stat(PidPath("sess")); !os.IsNotExist(err) {
		t.Error("pid file should be gone")
	}
}

func TestEnumerateRemovesStale(t *testing.T) {
	useTempDir(t)
	if _, err := EnsureDir(); err != nil {
		t.Fatal(err)
	}

	// Live session: a real listener plus our own pid.
	l, err := net.Listen("unix", SocketPath("live"))
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	if err := WritePid("live", os.Getpid()); err != nil {
		t.Fatal(err)
	}
	if err := WriteInfo("live", os.Getpid(), 1, 1700000002, "bash"); err != nil {
		t.Fatal(err)
	}

	// Stale session: socket file plus a dead pid.
	if err := os.WriteFile(SocketPath("stale"), nil, 0o600); err != nil {
		t.Fatal(err)
	}
	if err := WritePid("stale", 1<<30); err != nil {
		t.Fatal(err)
	}
	if err := WriteInfo("stale", 1<<30, 0, 1700000003, "bash"); err != nil {
		t.Fatal(err)
	}

	sessions, err := Enumerate()
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	if len(sessions) != 1 || sessions[0].Name != "live" {
		t.Fatalf("sessions = %+v, want only 'live'", sessions)
	}
	if sessions[0].Clients != 1 || sessions[0].Cmd != "bash" {
		t.Errorf("unexpected live record: %+v", sessions[0])
	}

	for _, p := range []string{SocketPath("stale"), PidPath("stale"), InfoPath("stale")} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("stale file %s should have been removed", p)
		}
	}
}

func TestEnumerateSkipsHostileStems(t *testing.T) {
	useTempDir(t)
	if _, err := EnsureDir(); err != nil {
		t.Fatal(err)
	}

	// A socket-suffixed file whose stem fails validation must not surface.
	hostile := filepath.Join(Dir(), "a b"+SockSuffix)
	if err := os.WriteFile(hostile, nil, 0o600); err != nil {
		t.Fatal(err)
	}

	sessions, err := Enumerate()
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	if len(sessions) != 0 {
		t.Errorf("sessions = %+v, want none", sessions)
	}
	// Skipped, not cleaned: the registry never touches names it does not own.
	if _, err := os.Stat(hostile); err != nil {
		t.Errorf("hostile file should be left in place: %v", err)
	}
}

func TestCheckSocketPath(t *testing.T) {
	useTempDir(t)
	if err := CheckSocketPath("short"); err != nil {
		t.Errorf("short name should fit: %v", err)
	}

	old := core.Config.SocketDir
	core.Config.SocketDir = filepath.Join(t.TempDir(), strings.Repeat("deep", 30))
	t.Cleanup(func() { core.Config.SocketDir = old })
	if err := CheckSocketPath(strings.Repeat("y", 64)); err == nil {
		t.Error("expected error for oversize socket path")
	}
}
