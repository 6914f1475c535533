package fleet

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// TargetSource yields the child node identifiers for one poll cycle.
type TargetSource interface {
	Targets() ([]string, error)
}

// StaticTargets is a fixed child list.
type StaticTargets []string

func (s StaticTargets) Targets() ([]string, error) {
	return append([]string(nil), s...), nil
}

// FileTargets re-reads the targets file on every call so edits apply on the
// next cycle without a restart.
type FileTargets struct {
	Path       string
	MasterAddr string
}

func (f FileTargets) Targets() ([]string, error) {
	return ReadTargets(f.Path, f.MasterAddr)
}

// ReadTargets parses path with ParseTargets. A missing file means no children.
func ReadTargets(path, masterAddr string) ([]string, error) {
	fh, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open targets %s: %w", path, err)
	}
	defer fh.Close()
	return ParseTargets(fh, masterAddr)
}

// ParseTargets returns one identifier per non-comment line, in file order,
// without duplicates and without masterAddr. Inline "#" comments are
// stripped, and a trailing ":/path" sync target is dropped from the entry.
func ParseTargets(r io.Reader, masterAddr string) ([]string, error) {
	masterAddr = strings.TrimSpace(masterAddr)
	seen := make(map[string]struct{})
	var out []string

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		id := fields[0]
		if i := strings.Index(id, ":/"); i > 0 {
			id = id[:i]
		}
		if id == "" || id == masterAddr || id == "master" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	if err := sc.Err(); err != nil {
		return out, fmt.Errorf("read targets: %w", err)
	}
	return out, nil
}
