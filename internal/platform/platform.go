// Package platform detects the host OS flavour and answers the few
// questions that differ between them.
package platform

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
)

// Platform represents the detected platform
type Platform string

const (
	PlatformMacOS   Platform = "macos"
	PlatformLinux   Platform = "linux"
	PlatformWSL1    Platform = "wsl1"
	PlatformWSL2    Platform = "wsl2"
	PlatformWindows Platform = "windows"
	PlatformUnknown Platform = "unknown"
)

var (
	detectOnce sync.Once
	detected   Platform
)

// Detect returns the current platform. The result is computed once.
func Detect() Platform {
	detectOnce.Do(func() {
		detected = detect(runtime.GOOS, os.Getenv("WSL_DISTRO_NAME"), readProcVersion())
	})
	return detected
}

func readProcVersion() string {
	b, err := os.ReadFile("/proc/version")
	if err != nil {
		return ""
	}
	return string(b)
}

func detect(goos, wslDistro, procVersion string) Platform {
	switch goos {
	case "darwin":
		return PlatformMacOS
	case "windows":
		return PlatformWindows
	case "linux":
	default:
		return PlatformUnknown
	}

	if wslDistro == "" && !strings.Contains(strings.ToLower(procVersion), "microsoft") {
		return PlatformLinux
	}
	// WSL2 kernels report "microsoft-standard"; WSL1 only a capitalised "Microsoft".
	if strings.Contains(procVersion, "microsoft-standard") {
		return PlatformWSL2
	}
	if _, err := os.Stat("/run/WSL"); err == nil {
		return PlatformWSL2
	}
	return PlatformWSL1
}

// IsWSL returns true if running in any WSL environment
func IsWSL() bool {
	p := Detect()
	return p == PlatformWSL1 || p == PlatformWSL2
}

// String returns a human-readable platform name
func (p Platform) String() string {
	switch p {
	case PlatformMacOS:
		return "macOS"
	case PlatformLinux:
		return "Linux"
	case PlatformWSL1:
		return "WSL1"
	case PlatformWSL2:
		return "WSL2"
	case PlatformWindows:
		return "Windows"
	default:
		return "Unknown"
	}
}

// InstallDirs lists where assistant CLIs usually land when PATH inside a
// fresh tmux shell does not include them (npm globals, Homebrew, bun,
// per-tool installers). Order is search order.
func InstallDirs(p Platform, home string) []string {
	var dirs []string
	if home != "" {
		dirs = append(dirs,
			filepath.Join(home, ".local", "bin"),
			filepath.Join(home, ".claude", "local"),
			filepath.Join(home, ".npm-global", "bin"),
			filepath.Join(home, ".bun", "bin"),
			filepath.Join(home, ".volta", "bin"),
			filepath.Join(home, "bin"),
		)
	}
	switch p {
	case PlatformMacOS:
		dirs = append(dirs, "/opt/homebrew/bin", "/usr/local/bin")
	case PlatformLinux, PlatformWSL1, PlatformWSL2:
		dirs = append(dirs, "/usr/local/bin", "/usr/bin", "/home/linuxbrew/.linuxbrew/bin", "/snap/bin")
	default:
		dirs = append(dirs, "/usr/local/bin", "/usr/bin")
	}
	return dirs
}

// CheckFsnotifySupport returns a warning when path lives on a filesystem
// where fsnotify events are unreliable (9p, NFS, CIFS, sshfs), or "".
func CheckFsnotifySupport(path string) string {
	if runtime.GOOS != "linux" {
		return ""
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return ""
	}
	mounts, err := os.ReadFile("/proc/mounts")
	if err != nil {
		return ""
	}
	return fsTypeWarning(mountFsType(string(mounts), absPath))
}

// mountFsType returns the filesystem type of the longest mount point
// containing absPath.
func mountFsType(mounts, absPath string) string {
	var best, fsType string
	for _, line := range strings.Split(mounts, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		mp := fields[1]
		if (absPath == mp || strings.HasPrefix(absPath, strings.TrimSuffix(mp, "/")+"/")) && len(mp) > len(best) {
			best, fsType = mp, fields[2]
		}
	}
	return fsType
}

func fsTypeWarning(fsType string) string {
	switch {
	case fsType == "9p":
		return "config on a 9p mount (WSL2 Windows filesystem): live reload disabled, restart watch after edits"
	case fsType == "nfs" || fsType == "nfs4":
		return "config on an NFS mount: live reload may miss edits"
	case fsType == "cifs" || fsType == "smbfs":
		return "config on a CIFS/SMB mount: live reload may miss edits"
	case strings.HasPrefix(fsType, "fuse.sshfs"):
		return "config on an SSHFS mount: live reload disabled, restart watch after edits"
	}
	return ""
}
