// Package histfile reads and writes histories in the binary and JSON
// encodings and lays them out on disk.
package histfile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/seantiz/dbcop/internal/model"
)

// Format is an on-disk history encoding.
type Format string

// Supported formats.
const (
	FormatBinary Format = "binary"
	FormatJSON   Format = "json"
)

// File extensions of each format.
const (
	ExtBinary = ".binpb"
	ExtJSON   = ".json"
)

// ResultFile is the name of the result file inside a per-history output directory.
const ResultFile = "history" + ExtBinary

// backSuffix marks binary files converted back from JSON so they never
// overwrite the original test case.
const backSuffix = "-back"

var histName = regexp.MustCompile(`^hist-(\d+)(-back)?(\.binpb|\.json)$`)

// ParseFormat parses a format name.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "binary", "bin", "binpb":
		return FormatBinary, nil
	case "json":
		return FormatJSON, nil
	}
	return "", errors.Newf("unknown history format %q", s)
}

// Ext returns the file extension of f.
func (f Format) Ext() string {
	if f == FormatJSON {
		return ExtJSON
	}
	return ExtBinary
}

// FileName returns the test case file name of history id in format f,
// e.g. hist-00001.binpb.
func FileName(id int, f Format) string {
	return fmt.Sprintf("hist-%05d%s", id, f.Ext())
}

// DirName returns the per-history output directory name, e.g. hist-00001.
func DirName(id int) string {
	return fmt.Sprintf("hist-%05d", id)
}

// Match reports whether name is a history file and returns its id and format.
func Match(name string) (int, Format, bool) {
	m := histName.FindStringSubmatch(name)
	if m == nil {
		return 0, "", false
	}
	id, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, "", false
	}
	if m[3] == ExtJSON {
		return id, FormatJSON, true
	}
	return id, FormatBinary, true
}

// Marshal encodes h in format f.
func Marshal(h *model.History, f Format) ([]byte, error) {
	if f == FormatJSON {
		return MarshalJSON(h)
	}
	return MarshalBinary(h), nil
}

// Unmarshal decodes a history in format f.
func Unmarshal(b []byte, f Format) (*model.History, error) {
	if f == FormatJSON {
		return UnmarshalJSON(b)
	}
	return UnmarshalBinary(b)
}

// FormatOf infers the format of path from its extension.
func FormatOf(path string) Format {
	if filepath.Ext(path) == ExtJSON {
		return FormatJSON
	}
	return FormatBinary
}

// Load reads the history stored at path, inferring the format from the
// file extension.
func Load(path string) (*model.History, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read history")
	}
	h, err := Unmarshal(b, FormatOf(path))
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	return h, nil
}

// Save writes h to path in format f. The file is written to a temporary
// sibling and renamed so readers never observe a partial history.
func Save(path string, h *model.History, f Format) error {
	b, err := Marshal(h, f)
	if err != nil {
		return err
	}
	return writeAtomic(path, filepath.Dir(path), b)
}

// SaveResult writes the executed history h into dir/history.binpb. The
// temporary file is staged in the parent of dir, so dir only ever holds the
// finished result.
func SaveResult(dir string, h *model.History) (string, error) {
	path := filepath.Join(dir, ResultFile)
	if err := writeAtomic(path, filepath.Dir(dir), MarshalBinary(h)); err != nil {
		return "", err
	}
	return path, nil
}

func writeAtomic(path, tmpDir string, b []byte) error {
	tmp, err := os.CreateTemp(tmpDir, ".dbcop-*.tmp")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return errors.Wrap(err, "write temp file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close temp file")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrapf(err, "rename to %s", path)
	}
	return nil
}

// Entry is a history file found in a directory.
type Entry struct {
	Path   string
	ID     int
	Format Format
}

// List returns the history files directly inside dir, sorted by name.
// Subdirectories and unrelated files are ignored.
func List(dir string) ([]Entry, error) {
	des, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "read history directory")
	}
	var out []Entry
	for _, de := range des {
		if de.IsDir() {
			continue
		}
		id, f, ok := Match(de.Name())
		if !ok {
			continue
		}
		out = append(out, Entry{Path: filepath.Join(dir, de.Name()), ID: id, Format: f})
	}
	return out, nil
}

// LoadDir loads every history file in dir. Any decode failure aborts the
// whole load.
func LoadDir(dir string) ([]*model.History, error) {
	entries, err := List(dir)
	if err != nil {
		return nil, err
	}
	hists := make([]*model.History, 0, len(entries))
	for _, e := range entries {
		h, err := Load(e.Path)
		if err != nil {
			return nil, err
		}
		hists = append(hists, h)
	}
	return hists, nil
}

// Convert converts every history in dir from format from into the other
// format, writing next to the source. Binary files become hist-N.json;
// JSON files become hist-N-back.binpb. It returns the written paths.
func Convert(dir string, from Format, logger *slog.Logger) ([]string, error) {
	entries, err := List(dir)
	if err != nil {
		return nil, err
	}

	var written []string
	for _, e := range entries {
		if e.Format != from {
			continue
		}
		base := filepath.Base(e.Path)
		if strings.Contains(base, backSuffix) {
			continue
		}
		h, err := Load(e.Path)
		if err != nil {
			return written, err
		}

		to, name := FormatJSON, strings.TrimSuffix(base, ExtBinary)+ExtJSON
		if from == FormatJSON {
			to, name = FormatBinary, strings.TrimSuffix(base, ExtJSON)+backSuffix+ExtBinary
		}
		out := filepath.Join(dir, name)
		if err := Save(out, h, to); err != nil {
			return written, err
		}
		logger.Info("converted history", "from", base, "to", name)
		written = append(written, out)
	}
	return written, nil
}
