package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"

	"github.com/caio-sobreiro/dicomreceptor/dicom"
	"github.com/caio-sobreiro/dicomreceptor/types"
)

// Outcome classifies the result of persisting one instance.
type Outcome int

const (
	Success Outcome = iota
	Duplicate
	DirectoryFailure
	WriteFailure
	UnexpectedFailure
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Duplicate:
		return "duplicate"
	case DirectoryFailure:
		return "directory_failure"
	case WriteFailure:
		return "write_failure"
	case UnexpectedFailure:
		return "unexpected_failure"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Status maps the outcome to the C-STORE response status.
func (o Outcome) Status() uint16 {
	switch o {
	case Success, Duplicate:
		return types.StatusSuccess
	case DirectoryFailure:
		return types.StatusStoreDirectoryFailure
	case WriteFailure:
		return types.StatusStoreWriteFailure
	default:
		return types.StatusStoreUnexpectedFailure
	}
}

// Stored reports whether the instance is on disk after the call.
func (o Outcome) Stored() bool {
	return o == Success || o == Duplicate
}

// Instance is one received object: its identifying attributes, the transfer
// metadata it arrived with and the dataset bytes in that transfer syntax.
type Instance struct {
	Attributes Attributes
	Meta       dicom.FileMeta
	Dataset    []byte
}

// Result is returned by Persist. Path is the absolute target path when it
// could be derived; Err carries the cause of a failure outcome.
type Result struct {
	Outcome Outcome
	Path    string
	Err     error
}

// WriteError reports a failure writing the instance file.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// EncodeFunc writes meta and dataset to w as a Part 10 file.
type EncodeFunc func(w io.Writer, meta dicom.FileMeta, dataset []byte) (int64, error)

// Store persists received instances under a root directory. It holds no
// mutable state and is safe for concurrent use.
type Store struct {
	root     string
	resolver *Resolver
	encode   EncodeFunc
	logger   *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for per-instance log lines.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithResolver replaces the default Resolver.
func WithResolver(r *Resolver) Option {
	return func(s *Store) {
		if r != nil {
			s.resolver = r
		}
	}
}

// WithEncoder replaces the Part 10 encoder.
func WithEncoder(fn EncodeFunc) Option {
	return func(s *Store) {
		if fn != nil {
			s.encode = fn
		}
	}
}

// NewStore creates a Store rooted at root. The root itself is created lazily
// together with the first instance's directories.
func NewStore(root string, opts ...Option) *Store {
	s := &Store{
		root:     root,
		resolver: &Resolver{},
		encode:   dicom.WritePart10,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Root returns the output root directory.
func (s *Store) Root() string {
	return s.root
}

// Persist writes inst below the root and reports what happened. It never
// panics and never returns a failure other than through Result.
func (s *Store) Persist(ctx context.Context, inst *Instance) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic while storing instance: %v", r)
			s.logger.ErrorContext(ctx, "Unexpected failure storing instance",
				"path", res.Path,
				"error", err,
				"stack", string(debug.Stack()))
			res = Result{Outcome: UnexpectedFailure, Path: res.Path, Err: err}
		}
	}()

	if inst == nil {
		panic("nil instance")
	}

	loc := s.resolver.Derive(inst.Attributes)
	res.Path = filepath.Join(s.root, loc.Path())

	dir, err := EnsureDirectories(s.root, loc)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to create directory", "error", err)
		return Result{Outcome: DirectoryFailure, Path: res.Path, Err: err}
	}

	target := filepath.Join(dir, loc.Filename)
	if _, err := os.Stat(target); err == nil {
		s.logger.WarnContext(ctx, "Duplicate instance ignored, file already exists",
			"path", target,
			"sop_instance_uid", inst.Attributes.SOPInstanceUID)
		return Result{Outcome: Duplicate, Path: target}
	} else if !errors.Is(err, fs.ErrNotExist) {
		werr := &WriteError{Path: target, Err: err}
		s.logger.ErrorContext(ctx, "Failed to check existing file", "error", werr)
		return Result{Outcome: WriteFailure, Path: target, Err: werr}
	}

	size, err := s.write(dir, target, inst)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to write instance", "error", err)
		return Result{Outcome: WriteFailure, Path: target, Err: err}
	}

	s.logger.InfoContext(ctx, "Instance stored",
		"path", target,
		"bytes", size,
		"sop_class_uid", inst.Meta.MediaStorageSOPClassUID,
		"sop_instance_uid", inst.Meta.MediaStorageSOPInstanceUID,
		"transfer_syntax", inst.Meta.TransferSyntaxUID)
	return Result{Outcome: Success, Path: target}
}

// write encodes inst into a temporary file in dir and renames it onto
// target. The temporary file is removed on any failure, including a panic
// in the encoder.
func (s *Store) write(dir, target string, inst *Instance) (int64, error) {
	tmp, err := os.CreateTemp(dir, ".incoming-*")
	if err != nil {
		return 0, &WriteError{Path: target, Err: err}
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	size, err := s.encode(tmp, inst.Meta, inst.Dataset)
	if err != nil {
		return 0, &WriteError{Path: target, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		return 0, &WriteError{Path: target, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return 0, &WriteError{Path: target, Err: err}
	}
	if err := os.Rename(tmpName, target); err != nil {
		return 0, &WriteError{Path: target, Err: err}
	}
	committed = true
	return size, nil
}

// HealthCheck reports whether the output root exists, or can be created,
// and accepts new files.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return &DirectoryError{Path: s.root, Err: err}
	}
	f, err := os.CreateTemp(s.root, ".healthcheck-*")
	if err != nil {
		return &WriteError{Path: s.root, Err: err}
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}
