package runstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"asset-harvester/internal/model"
)

const (
	runLockDirName   = ".run.lock"
	runLockOwnerFile = "owner.json"

	// ownerlessLockGrace is how long a lock directory may exist without an
	// owner file before it counts as left behind by a crashed holder.
	ownerlessLockGrace = 30 * time.Second
)

type RunLock struct {
	lockDir string

	// Recovered is set when a stale lock left by a dead process was replaced.
	Recovered *LockOwner
}

type LockOwner struct {
	PID       int    `json:"pid"`
	CreatedAt string `json:"created_at"`
	Hostname  string `json:"hostname,omitempty"`
}

// LockState describes the lock of a state directory without acquiring it.
type LockState struct {
	Held  bool       `json:"held"`
	Stale bool       `json:"stale"`
	Owner *LockOwner `json:"owner,omitempty"`
}

func AcquireRunLock(stateDir string) (RunLock, error) {
	target := strings.TrimSpace(stateDir)
	if target == "" {
		return RunLock{}, fmt.Errorf("state directory is required")
	}
	if err := Mkdir(target); err != nil {
		return RunLock{}, err
	}

	lockDir := filepath.Join(target, runLockDirName)
	var recovered *LockOwner
	if err := os.Mkdir(lockDir, 0o755); err != nil {
		if !os.IsExist(err) {
			return RunLock{}, fmt.Errorf("acquire run lock for %s: %w", target, err)
		}
		state := InspectRunLock(target)
		if !state.Stale {
			if state.Owner != nil {
				return RunLock{}, model.Wrap(model.ErrLockContention, target, fmt.Errorf(
					"state directory is locked (pid=%d created_at=%s host=%s)",
					state.Owner.PID, state.Owner.CreatedAt, state.Owner.Hostname,
				))
			}
			return RunLock{}, model.Wrap(model.ErrLockContention, target, fmt.Errorf("state directory is locked"))
		}
		if err := os.RemoveAll(lockDir); err != nil {
			return RunLock{}, fmt.Errorf("remove stale run lock %s: %w", lockDir, err)
		}
		if err := os.Mkdir(lockDir, 0o755); err != nil {
			if os.IsExist(err) {
				return RunLock{}, model.Wrap(model.ErrLockContention, target, fmt.Errorf("state directory is locked"))
			}
			return RunLock{}, fmt.Errorf("acquire run lock for %s: %w", target, err)
		}
		recovered = state.Owner
	}

	owner := LockOwner{
		PID:       os.Getpid(),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Hostname:  hostnameOrUnknown(),
	}
	ownerPath := filepath.Join(lockDir, runLockOwnerFile)
	if err := WriteJSON(ownerPath, owner); err != nil {
		_ = os.Remove(lockDir)
		return RunLock{}, fmt.Errorf("write run lock owner for %s: %w", target, err)
	}

	return RunLock{lockDir: lockDir, Recovered: recovered}, nil
}

// InspectRunLock reports whether the lock is held and whether it is stale: its
// owner is a process on this host that no longer exists, or it never got an
// owner file and is older than a short grace period.
func InspectRunLock(stateDir string) LockState {
	lockDir := filepath.Join(strings.TrimSpace(stateDir), runLockDirName)
	info, err := os.Stat(lockDir)
	if err != nil {
		return LockState{}
	}
	var owner LockOwner
	if err := ReadJSON(filepath.Join(lockDir, runLockOwnerFile), &owner); err != nil || owner.PID <= 0 {
		// the holder may still be writing its owner file
		return LockState{Held: true, Stale: time.Since(info.ModTime()) > ownerlessLockGrace}
	}
	state := LockState{Held: true, Owner: &owner}
	if owner.Hostname != hostnameOrUnknown() || owner.PID == os.Getpid() {
		return state
	}
	alive, err := process.PidExists(int32(owner.PID))
	if err == nil && !alive {
		state.Stale = true
	}
	return state
}

func (l RunLock) Release() error {
	if strings.TrimSpace(l.lockDir) == "" {
		return nil
	}
	_ = os.Remove(filepath.Join(l.lockDir, runLockOwnerFile))
	if err := os.Remove(l.lockDir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release run lock %s: %w", l.lockDir, err)
	}
	return nil
}

func hostnameOrUnknown() string {
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return "unknown"
	}
	return host
}
