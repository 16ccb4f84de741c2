package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caio-sobreiro/dicomreceptor/dicom"
	"github.com/caio-sobreiro/dicomreceptor/types"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func sampleInstance() *Instance {
	attrs := sampleAttributes()
	return &Instance{
		Attributes: attrs,
		Meta: dicom.FileMeta{
			MediaStorageSOPClassUID:      types.CTImageStorage,
			MediaStorageSOPInstanceUID:   attrs.SOPInstanceUID,
			TransferSyntaxUID:            types.ExplicitVRLittleEndian,
			SourceApplicationEntityTitle: "MODALITY",
		},
		Dataset: []byte{0x08, 0x00, 0x60, 0x00, 'C', 'S', 0x02, 0x00, 'C', 'T'},
	}
}

// listFiles returns every regular file below root, relative to it.
func listFiles(t *testing.T, root string) []string {
	t.Helper()
	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			rel, _ := filepath.Rel(root, path)
			files = append(files, rel)
		}
		return nil
	})
	require.NoError(t, err)
	return files
}

func TestStorePersist(t *testing.T) {
	root := t.TempDir()
	var logs bytes.Buffer
	store := NewStore(root, WithLogger(newTestLogger(&logs)))
	inst := sampleInstance()

	res := store.Persist(context.Background(), inst)

	require.Equal(t, Success, res.Outcome)
	require.NoError(t, res.Err)
	want := filepath.Join(root, "John_Doe_P1", "20240101_E999999999999", "CT_S111122223333", "CT_0003_444455556666.dcm")
	assert.Equal(t, want, res.Path)
	assert.Equal(t, []string{filepath.Join("John_Doe_P1", "20240101_E999999999999", "CT_S111122223333", "CT_0003_444455556666.dcm")},
		listFiles(t, root))
	assert.Contains(t, logs.String(), "Instance stored")

	data, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	meta, dataset, err := dicom.ReadPart10(data)
	require.NoError(t, err)
	assert.Equal(t, inst.Dataset, dataset)
	assert.Equal(t, types.ExplicitVRLittleEndian, meta.TransferSyntaxUID)
	assert.Equal(t, types.CTImageStorage, meta.MediaStorageSOPClassUID)
	assert.Equal(t, inst.Meta.MediaStorageSOPInstanceUID, meta.MediaStorageSOPInstanceUID)
	assert.Equal(t, "MODALITY", meta.SourceApplicationEntityTitle)
}

func TestStorePersistDuplicate(t *testing.T) {
	root := t.TempDir()
	var logs bytes.Buffer
	store := NewStore(root, WithLogger(newTestLogger(&logs)))

	first := store.Persist(context.Background(), sampleInstance())
	require.Equal(t, Success, first.Outcome)

	old := time.Now().Add(-time.Hour).Truncate(time.Second)
	require.NoError(t, os.Chtimes(first.Path, old, old))
	before, err := os.ReadFile(first.Path)
	require.NoError(t, err)

	second := store.Persist(context.Background(), sampleInstance())

	assert.Equal(t, Duplicate, second.Outcome)
	assert.Equal(t, first.Path, second.Path)
	assert.Equal(t, uint16(types.StatusSuccess), second.Outcome.Status())
	assert.Len(t, listFiles(t, root), 1)
	assert.Contains(t, logs.String(), "Duplicate instance ignored")

	info, err := os.Stat(first.Path)
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(old), "existing file must not be touched")
	after, err := os.ReadFile(first.Path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestStorePersistDirectoryFailure(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "output")
	require.NoError(t, os.WriteFile(root, []byte("regular file"), 0o644))

	var logs bytes.Buffer
	store := NewStore(root, WithLogger(newTestLogger(&logs)))

	res := store.Persist(context.Background(), sampleInstance())

	assert.Equal(t, DirectoryFailure, res.Outcome)
	var dirErr *DirectoryError
	assert.ErrorAs(t, res.Err, &dirErr)
	assert.Equal(t, []string{"output"}, listFiles(t, parent))
	assert.Equal(t, 1, bytes.Count(logs.Bytes(), []byte("level=ERROR")))
}

func TestStorePersistSanitizesPatientName(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root, WithLogger(newTestLogger(&bytes.Buffer{})))
	inst := sampleInstance()
	inst.Attributes.PatientName = `Jo:hn/Doe*`

	res := store.Persist(context.Background(), inst)

	require.Equal(t, Success, res.Outcome)
	rel, err := filepath.Rel(root, res.Path)
	require.NoError(t, err)
	assert.Equal(t, "Jo_hn_Doe__P1", strings.Split(rel, string(filepath.Separator))[0])
	assert.DirExists(t, filepath.Join(root, "Jo_hn_Doe__P1"))
}

func TestStorePersistWriteFailureLeavesNoFile(t *testing.T) {
	root := t.TempDir()
	boom := errors.New("disk full")
	store := NewStore(root,
		WithLogger(newTestLogger(&bytes.Buffer{})),
		WithEncoder(func(w io.Writer, meta dicom.FileMeta, dataset []byte) (int64, error) {
			_, _ = w.Write([]byte("partial"))
			return 7, boom
		}))

	res := store.Persist(context.Background(), sampleInstance())

	assert.Equal(t, WriteFailure, res.Outcome)
	assert.ErrorIs(t, res.Err, boom)
	var writeErr *WriteError
	assert.ErrorAs(t, res.Err, &writeErr)
	assert.Equal(t, uint16(types.StatusStoreWriteFailure), res.Outcome.Status())
	assert.Empty(t, listFiles(t, root))
}

func TestStorePersistRecoversFromPanic(t *testing.T) {
	root := t.TempDir()
	var logs bytes.Buffer
	store := NewStore(root,
		WithLogger(newTestLogger(&logs)),
		WithEncoder(func(io.Writer, dicom.FileMeta, []byte) (int64, error) {
			panic("encoder exploded")
		}))

	var res Result
	require.NotPanics(t, func() {
		res = store.Persist(context.Background(), sampleInstance())
	})

	assert.Equal(t, UnexpectedFailure, res.Outcome)
	assert.ErrorContains(t, res.Err, "encoder exploded")
	assert.Equal(t, uint16(types.StatusStoreUnexpectedFailure), res.Outcome.Status())
	assert.Empty(t, listFiles(t, root))
	assert.Contains(t, logs.String(), "stack=")
}

func TestStorePersistNilInstance(t *testing.T) {
	store := NewStore(t.TempDir(), WithLogger(newTestLogger(&bytes.Buffer{})))

	res := store.Persist(context.Background(), nil)

	assert.Equal(t, UnexpectedFailure, res.Outcome)
}

func TestStorePersistConcurrentSameInstance(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root, WithLogger(newTestLogger(&bytes.Buffer{})))

	const workers = 8
	outcomes := make([]Outcome, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i] = store.Persist(context.Background(), sampleInstance()).Outcome
		}(i)
	}
	wg.Wait()

	for _, o := range outcomes {
		assert.True(t, o.Stored(), "outcome %s", o)
	}
	assert.Len(t, listFiles(t, root), 1)
}

func TestOutcomeStatus(t *testing.T) {
	tests := []struct {
		outcome Outcome
		name    string
		status  uint16
	}{
		{Success, "success", types.StatusSuccess},
		{Duplicate, "duplicate", types.StatusSuccess},
		{DirectoryFailure, "directory_failure", types.StatusStoreDirectoryFailure},
		{WriteFailure, "write_failure", types.StatusStoreWriteFailure},
		{UnexpectedFailure, "unexpected_failure", types.StatusStoreUnexpectedFailure},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.name, tt.outcome.String())
		assert.Equal(t, tt.status, tt.outcome.Status())
	}
	assert.NotEqual(t, WriteFailure.Status(), UnexpectedFailure.Status())
}

func TestStoreHealthCheck(t *testing.T) {
	root := filepath.Join(t.TempDir(), "studies")
	store := NewStore(root)

	require.NoError(t, store.HealthCheck(context.Background()))
	assert.DirExists(t, root)
	assert.Empty(t, listFiles(t, root))
}

func TestStoreHealthCheckRootIsFile(t *testing.T) {
	root := filepath.Join(t.TempDir(), "studies")
	require.NoError(t, os.WriteFile(root, nil, 0o644))

	err := NewStore(root).HealthCheck(context.Background())

	var dirErr *DirectoryError
	assert.ErrorAs(t, err, &dirErr)
}
