// Package daemon tracks a background API server through a state file that
// records its PID and listen address.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// Info is what a running server records about itself.
type Info struct {
	PID  int
	Addr string
}

// URL returns the server's base URL, or "" when no address was recorded.
func (i Info) URL() string {
	if i.Addr == "" {
		return ""
	}
	if strings.HasPrefix(i.Addr, ":") {
		return "http://localhost" + i.Addr
	}
	return "http://" + i.Addr
}

// PIDFile manages the state file of a background server.
type PIDFile struct {
	Path string
}

// NewPIDFile creates a PIDFile manager for the given path.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{Path: path}
}

// Write records the current process as serving on addr.
func (p *PIDFile) Write(addr string) error {
	return p.WriteInfo(Info{PID: os.Getpid(), Addr: addr})
}

// WriteInfo writes "<pid> <addr>" to the file.
func (p *PIDFile) WriteInfo(info Info) error {
	line := strconv.Itoa(info.PID)
	if info.Addr != "" {
		line += " " + info.Addr
	}
	return os.WriteFile(p.Path, []byte(line+"\n"), 0o644)
}

// Read parses the file.
func (p *PIDFile) Read() (Info, error) {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return Info{}, err
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return Info{}, fmt.Errorf("invalid PID file content: empty")
	}
	pid, err := strconv.Atoi(fields[0])
	if err != nil {
		return Info{}, fmt.Errorf("invalid PID file content: %w", err)
	}
	info := Info{PID: pid}
	if len(fields) > 1 {
		info.Addr = fields[1]
	}
	return info, nil
}

// Remove deletes the file. A missing file is not an error.
func (p *PIDFile) Remove() error {
	if err := os.Remove(p.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// IsRunning reads the file and reports whether its process is alive.
func (p *PIDFile) IsRunning() (Info, bool) {
	info, err := p.Read()
	if err != nil {
		return Info{}, false
	}
	return info, processAlive(info.PID)
}

// Signal sends sig to the recorded process.
func (p *PIDFile) Signal(sig syscall.Signal) error {
	info, err := p.Read()
	if err != nil {
		return fmt.Errorf("read PID file: %w", err)
	}
	return signalProcess(info.PID, sig)
}

// Acquire records the current process, refusing when another live server
// already holds the file. A file left behind by a dead process is replaced.
func (p *PIDFile) Acquire(addr string) error {
	if info, running := p.IsRunning(); running && info.PID != os.Getpid() {
		return fmt.Errorf("server already running (pid %d)", info.PID)
	}
	return p.Write(addr)
}
