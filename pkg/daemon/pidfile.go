package daemon

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// PIDFileName is the daemon PID file inside the runtime directory.
const PIDFileName = "good-night.pid"

// PIDFile tracks the daemon process id on disk.
type PIDFile struct {
	path string
}

// NewPIDFile returns the PID file for a runtime directory.
func NewPIDFile(runtimeDir string) *PIDFile {
	return &PIDFile{path: filepath.Join(runtimeDir, PIDFileName)}
}

// Path returns the PID file location.
func (p *PIDFile) Path() string { return p.path }

// Write records the current process id.
func (p *PIDFile) Write() error {
	return os.WriteFile(p.path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// Read returns the recorded pid. ok is false when the file is absent or
// unparseable.
func (p *PIDFile) Read() (pid int, ok bool) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return 0, false
	}
	pid, err = strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// Remove deletes the PID file. A missing file is not an error.
func (p *PIDFile) Remove() error {
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Running reports the recorded pid and whether that process is alive.
// A stale file left by a dead process is removed.
func (p *PIDFile) Running() (pid int, running bool) {
	pid, ok := p.Read()
	if !ok {
		return 0, false
	}
	if !processAlive(pid) {
		_ = p.Remove()
		return 0, false
	}
	return pid, true
}

// Stop signals the recorded process with SIGTERM, or SIGKILL when force
// is set, and removes the PID file. Returns false when no daemon is
// running.
func (p *PIDFile) Stop(force bool) (bool, error) {
	pid, running := p.Running()
	if !running {
		return false, nil
	}
	sig := syscall.SIGTERM
	if force {
		sig = syscall.SIGKILL
	}
	if err := syscall.Kill(pid, sig); err != nil {
		return false, err
	}
	return true, p.Remove()
}

// Reload sends SIGHUP to the recorded process. Returns false when it is
// not running.
func (p *PIDFile) Reload() (bool, error) {
	pid, running := p.Running()
	if !running {
		return false, nil
	}
	if err := syscall.Kill(pid, syscall.SIGHUP); err != nil {
		return false, err
	}
	return true, nil
}

// processAlive checks pid liveness with signal 0. os.FindProcess always
// succeeds on Unix, so the signal probe is what actually tests the
// process.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
