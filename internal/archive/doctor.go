package archive

import (
	"fmt"
	"os"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"

	"asset-harvester/internal/config"
	"asset-harvester/internal/discovery"
	"asset-harvester/internal/model"
	"asset-harvester/internal/runstore"
)

const minFreeBytes = 512 << 20

type DoctorResult struct {
	OK     bool          `json:"ok"`
	Checks []DoctorCheck `json:"checks"`
}

type DoctorCheck struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

func Doctor(cfg config.Config) DoctorResult {
	checks := make([]DoctorCheck, 0, 6)

	rootOK, rootMessage := ensureWritableDir(cfg.DownloadRoot)
	checks = append(checks, DoctorCheck{Name: "directory:download_root", OK: rootOK, Message: rootMessage})

	stateOK, stateMessage := ensureWritableDir(cfg.StateDir)
	checks = append(checks, DoctorCheck{Name: "directory:state", OK: stateOK, Message: stateMessage})

	if rootOK {
		checks = append(checks, diskCheck(cfg.DownloadRoot))
	}
	checks = append(checks, lockCheck(cfg.StateDir))
	if c, ok := driveCredentialsCheck(cfg); ok {
		checks = append(checks, c)
	}

	result := DoctorResult{OK: true, Checks: checks}
	for _, c := range checks {
		if !c.OK {
			result.OK = false
			break
		}
	}
	return result
}

func diskCheck(root string) DoctorCheck {
	usage, err := disk.Usage(root)
	if err != nil {
		return DoctorCheck{Name: "disk:free", OK: false, Message: err.Error()}
	}
	msg := fmt.Sprintf("%s free of %s", formatBytesIEC(int64(usage.Free)), formatBytesIEC(int64(usage.Total)))
	if usage.Free < minFreeBytes {
		return DoctorCheck{Name: "disk:free", OK: false, Message: msg + " (low)"}
	}
	return DoctorCheck{Name: "disk:free", OK: true, Message: msg}
}

func lockCheck(stateDir string) DoctorCheck {
	st := runstore.InspectRunLock(stateDir)
	switch {
	case !st.Held:
		return DoctorCheck{Name: "lock:run", OK: true, Message: "free"}
	case st.Stale:
		return DoctorCheck{Name: "lock:run", OK: true, Message: fmt.Sprintf("stale lock from pid %d, the next run replaces it", st.Owner.PID)}
	case st.Owner != nil:
		return DoctorCheck{Name: "lock:run", OK: false, Message: fmt.Sprintf("held by pid %d on %s since %s", st.Owner.PID, st.Owner.Hostname, st.Owner.CreatedAt)}
	default:
		return DoctorCheck{Name: "lock:run", OK: false, Message: "held by an unknown owner"}
	}
}

// driveCredentialsCheck only applies when Drive seeds or credentials are configured.
func driveCredentialsCheck(cfg config.Config) (DoctorCheck, bool) {
	needed := false
	for _, raw := range cfg.Seeds {
		if seed, err := discovery.ParseSeed(raw); err == nil && seed.Kind == model.KindDrive {
			needed = true
			break
		}
	}
	path := strings.TrimSpace(cfg.DriveCredentials)
	if !needed && path == "" {
		return DoctorCheck{}, false
	}
	if path == "" {
		return DoctorCheck{Name: "credentials:gdrive", OK: false, Message: "drive seeds configured but no credentials file (drive_credentials or GOOGLE_APPLICATION_CREDENTIALS)"}, true
	}
	f, err := os.Open(path)
	if err != nil {
		return DoctorCheck{Name: "credentials:gdrive", OK: false, Message: err.Error()}, true
	}
	_ = f.Close()
	return DoctorCheck{Name: "credentials:gdrive", OK: true, Message: "readable: " + path}, true
}

func ensureWritableDir(path string) (bool, string) {
	if strings.TrimSpace(path) == "" {
		return false, "empty path"
	}
	if err := runstore.Mkdir(path); err != nil {
		return false, err.Error()
	}
	f, err := os.CreateTemp(path, "asset-harvester-check-*.tmp")
	if err != nil {
		return false, err.Error()
	}
	_ = f.Close()
	_ = os.Remove(f.Name())
	return true, "writable"
}
