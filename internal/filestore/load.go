package filestore

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"time"
)

// Status describes how a load went. Every status other than Loaded means the
// caller should fall back to its empty value.
type Status int

const (
	Loaded Status = iota
	Missing
	// Unreadable covers I/O failures other than absence (permissions, EISDIR).
	Unreadable
	// Corrupt means the bytes were read but did not decode or failed a shape check.
	Corrupt
)

func (s Status) String() string {
	switch s {
	case Loaded:
		return "loaded"
	case Missing:
		return "missing"
	case Unreadable:
		return "unreadable"
	case Corrupt:
		return "corrupt"
	default:
		return "unknown"
	}
}

// Result is the outcome of Load. Load never returns an error; the reason a
// value is empty lives here instead.
type Result struct {
	Status     Status
	BackupPath string // set when a corrupt file was moved aside
	Err        error  // underlying read/decode/backup error, informational only
}

// OK reports whether the value was populated from disk.
func (r Result) OK() bool { return r.Status == Loaded }

// LoadOptions tunes Load.
type LoadOptions struct {
	// Validate runs on the raw bytes after they decode as JSON. A non-nil
	// error marks the file Corrupt.
	Validate func(raw []byte) error
	// SkipBackup leaves corrupt files in place.
	SkipBackup bool
	// Now stamps the backup name. Defaults to time.Now.
	Now func() time.Time
}

// Load decodes the JSON file at path into v. When the Result is not OK, v may
// hold a partial decode and must be discarded. Corrupt files are renamed aside
// with BackupCorruptFile unless SkipBackup is set.
func Load(path string, v any, opts LoadOptions) Result {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Result{Status: Missing}
		}
		return Result{Status: Unreadable, Err: err}
	}

	decodeErr := json.Unmarshal(data, v)
	if decodeErr == nil && opts.Validate != nil {
		decodeErr = opts.Validate(data)
	}
	if decodeErr == nil {
		return Result{Status: Loaded}
	}

	res := Result{Status: Corrupt, Err: decodeErr}
	if opts.SkipBackup {
		return res
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	backup, err := BackupCorruptFile(path, now())
	if err != nil {
		res.Err = errors.Join(decodeErr, err)
		return res
	}
	res.BackupPath = backup
	return res
}
