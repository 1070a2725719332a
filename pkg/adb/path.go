package adb

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

// ResolvePath picks the adb executable: explicit path, then the Android SDK, then PATH.
func ResolvePath(explicit string) string {
	if explicit != "" {
		return explicit
	}

	name := "adb"
	if runtime.GOOS == "windows" {
		name = "adb.exe"
	}

	for _, env := range []string{"ANDROID_HOME", "ANDROID_SDK_ROOT"} {
		root := os.Getenv(env)
		if root == "" {
			continue
		}
		candidate := filepath.Join(root, "platform-tools", name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}

	if p, err := exec.LookPath(name); err == nil {
		return p
	}
	return name
}
