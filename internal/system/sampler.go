package system

import (
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// Sampler reads instantaneous kernel counters. It keeps no state between
// calls; any unreadable source yields a zero value, never an error.
type Sampler struct {
	procRoot string

	// Overridable for tests.
	hostname func() (string, error)
	uname    func(*unix.Utsname) error
}

func NewSampler(procRoot string) *Sampler {
	if strings.TrimSpace(procRoot) == "" {
		procRoot = "/proc"
	}
	return &Sampler{procRoot: procRoot, hostname: os.Hostname, uname: unix.Uname}
}

func (s *Sampler) path(name string) string {
	return filepath.Join(s.procRoot, name)
}

// SampleHostname returns the short hostname (everything before the first dot).
func (s *Sampler) SampleHostname() string {
	name, err := s.hostname()
	if err != nil {
		return ""
	}
	return ShortHostname(name)
}

func ShortHostname(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.IndexByte(name, '.'); i >= 0 {
		return name[:i]
	}
	return name
}

// SampleKernel returns "<sysname> <release>", e.g. "Linux 6.1.0-18-amd64".
func (s *Sampler) SampleKernel() string {
	var u unix.Utsname
	if err := s.uname(&u); err != nil {
		return ""
	}
	sys := unix.ByteSliceToString(u.Sysname[:])
	rel := unix.ByteSliceToString(u.Release[:])
	return strings.TrimSpace(sys + " " + rel)
}
