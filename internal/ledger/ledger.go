// Package ledger keeps the append-only record of completed uploads.
//
// The ledger is a tab-separated file that starts with a fixed header row.
// Rows are only ever appended; a path that appears in the ledger is never
// uploaded again, even if its content later changes.
package ledger

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/cleverdata/cloud-courier/internal/checksum"
)

// Header is the first line of every ledger file.
const Header = "file_path\tcloud_path\tchecksum\n"

var ErrMalformedRow = errors.New("malformed ledger row")

// Entry is one completed upload.
type Entry struct {
	LocalPath  string
	RemotePath string
	Checksum   checksum.Checksum
}

// Ledger reads and appends the ledger file at Path.
type Ledger struct {
	fs   afero.Fs
	path string
}

func New(fs afero.Fs, path string) *Ledger {
	return &Ledger{fs: fs, path: path}
}

func (l *Ledger) Path() string { return l.path }

// CreateIfAbsent writes the header row when the ledger file does not exist yet.
func (l *Ledger) CreateIfAbsent() error {
	exists, err := afero.Exists(l.fs, l.path)
	if err != nil {
		return fmt.Errorf("failed to stat ledger %s: %w", l.path, err)
	}
	if exists {
		return nil
	}
	if err := l.fs.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create ledger directory: %w", err)
	}
	if err := afero.WriteFile(l.fs, l.path, []byte(Header), 0644); err != nil {
		return fmt.Errorf("failed to create ledger %s: %w", l.path, err)
	}
	return nil
}

// Append adds one row for a completed upload.
func (l *Ledger) Append(e Entry) error {
	if err := Check(e); err != nil {
		return err
	}

	f, err := l.fs.OpenFile(l.path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open ledger %s: %w", l.path, err)
	}
	_, err = fmt.Fprintf(f, "%s\t%s\t%s\n", e.LocalPath, e.RemotePath, e.Checksum)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to append to ledger %s: %w", l.path, err)
	}
	return nil
}

// Check reports ErrMalformedRow when e cannot be stored as a single row.
func Check(e Entry) error {
	for _, field := range []string{e.LocalPath, e.RemotePath, e.Checksum.String()} {
		if strings.ContainsAny(field, "\t\r\n") {
			return fmt.Errorf("%w: field %q contains a tab or line break", ErrMalformedRow, field)
		}
	}
	return nil
}

// Entries returns every row after the header, in file order.
func (l *Ledger) Entries() ([]Entry, error) {
	f, err := l.fs.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger %s: %w", l.path, err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		if lineNo == 1 {
			continue
		}
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 3 {
			return nil, fmt.Errorf("%w: %s line %d has %d fields", ErrMalformedRow, l.path, lineNo, len(fields))
		}
		entries = append(entries, Entry{
			LocalPath:  fields[0],
			RemotePath: fields[1],
			Checksum:   checksum.Checksum(fields[2]),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read ledger %s: %w", l.path, err)
	}
	return entries, nil
}

// Index maps each uploaded local path to the set of checksums recorded for it.
type Index map[string]map[checksum.Checksum]struct{}

// Load reads the whole ledger into an Index.
func (l *Ledger) Load() (Index, error) {
	entries, err := l.Entries()
	if err != nil {
		return nil, err
	}
	idx := Index{}
	for _, e := range entries {
		idx.Add(e.LocalPath, e.Checksum)
	}
	return idx, nil
}

func (idx Index) Add(path string, sum checksum.Checksum) {
	sums, ok := idx[path]
	if !ok {
		sums = map[checksum.Checksum]struct{}{}
		idx[path] = sums
	}
	sums[sum] = struct{}{}
}

// Contains reports whether path was uploaded before, whatever its checksum.
func (idx Index) Contains(path string) bool {
	_, ok := idx[path]
	return ok
}
