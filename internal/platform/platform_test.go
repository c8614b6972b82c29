package platform

import (
	"path/filepath"
	"runtime"
	"testing"
)

func TestDetectIsStable(t *testing.T) {
	p := Detect()
	if p == "" {
		t.Fatal("Detect() returned empty platform")
	}
	if runtime.GOOS == "darwin" && p != PlatformMacOS {
		t.Errorf("expected macos on darwin, got %s", p)
	}
	if Detect() != p {
		t.Error("Detect() should return the cached value")
	}
}

func TestDetectPure(t *testing.T) {
	tests := []struct {
		goos, distro, proc string
		want               Platform
	}{
		{"darwin", "", "", PlatformMacOS},
		{"windows", "", "", PlatformWindows},
		{"freebsd", "", "", PlatformUnknown},
		{"linux", "", "Linux version 6.8.0-45-generic", PlatformLinux},
		{"linux", "Ubuntu", "Linux version 5.15.153.1-microsoft-standard-WSL2", PlatformWSL2},
	}
	for _, tt := range tests {
		if got := detect(tt.goos, tt.distro, tt.proc); got != tt.want {
			t.Errorf("detect(%q, %q, %q) = %s, want %s", tt.goos, tt.distro, tt.proc, got, tt.want)
		}
	}
}

func TestPlatformString(t *testing.T) {
	tests := []struct {
		platform Platform
		expected string
	}{
		{PlatformMacOS, "macOS"},
		{PlatformLinux, "Linux"},
		{PlatformWSL1, "WSL1"},
		{PlatformWSL2, "WSL2"},
		{PlatformWindows, "Windows"},
		{Platform("plan9"), "Unknown"},
	}
	for _, tt := range tests {
		if got := tt.platform.String(); got != tt.expected {
			t.Errorf("%q.String() = %q, want %q", tt.platform, got, tt.expected)
		}
	}
}

func TestInstallDirs(t *testing.T) {
	dirs := InstallDirs(PlatformMacOS, "/Users/dev")
	if dirs[0] != filepath.Join("/Users/dev", ".local", "bin") {
		t.Errorf("home dirs should come first, got %v", dirs)
	}
	found := false
	for _, d := range dirs {
		found = found || d == "/opt/homebrew/bin"
	}
	if !found {
		t.Errorf("macOS should search Homebrew, got %v", dirs)
	}

	if got := InstallDirs(PlatformLinux, ""); got[0] != "/usr/local/bin" {
		t.Errorf("without a home dir the system dirs lead, got %v", got)
	}
}

func TestMountFsType(t *testing.T) {
	mounts := "rootfs / ext4 rw 0 0\n" +
		"drvfs /mnt/c 9p rw 0 0\n" +
		"server:/export /mnt/cfg nfs4 rw 0 0\n"

	if got := mountFsType(mounts, "/mnt/c/Users/dev/config.toml"); got != "9p" {
		t.Errorf("got %q, want 9p", got)
	}
	if got := mountFsType(mounts, "/mnt/cfgx/file"); got != "ext4" {
		t.Errorf("prefix must respect path boundaries, got %q", got)
	}
	if fsTypeWarning("ext4") != "" {
		t.Error("ext4 should not warn")
	}
	if fsTypeWarning("nfs4") == "" {
		t.Error("nfs4 should warn")
	}
}
