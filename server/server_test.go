package server

import (
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caio-sobreiro/dicomreceptor/client"
	"github.com/caio-sobreiro/dicomreceptor/dicom"
	dicomerrors "github.com/caio-sobreiro/dicomreceptor/errors"
	"github.com/caio-sobreiro/dicomreceptor/services"
	"github.com/caio-sobreiro/dicomreceptor/storage"
	"github.com/caio-sobreiro/dicomreceptor/types"
)

const testAETitle = "MI_RECEPTOR"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startServer runs a receiver storing under root and returns its address.
func startServer(t *testing.T, root string, opts ...Option) (string, *Server) {
	t.Helper()
	logger := discardLogger()

	registry := services.NewRegistry(logger)
	registry.RegisterHandler(types.CEchoRQ, services.NewEchoService(logger))
	registry.RegisterHandler(types.CStoreRQ, services.NewStoreService(
		storage.NewStore(root, storage.WithLogger(logger)), logger))

	opts = append([]Option{WithLogger(logger), WithReadTimeout(5 * time.Second)}, opts...)
	srv := New(testAETitle, registry, opts...)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return ln.Addr().String(), srv
}

func clientConfig(abstract ...string) client.Config {
	return client.Config{
		CallingAETitle:   "MODALITY",
		CalledAETitle:    testAETitle,
		Logger:           discardLogger(),
		AbstractSyntaxes: abstract,
		ReadTimeout:      5 * time.Second,
		WriteTimeout:     5 * time.Second,
	}
}

func testDataset(t *testing.T, transferSyntax string) []byte {
	t.Helper()
	ds := dicom.NewDataset()
	ds.AddElement(dicom.TagSOPClassUID, dicom.VR_UI, types.CTImageStorage)
	ds.AddElement(dicom.TagSOPInstanceUID, dicom.VR_UI, "1.2.826.0.1.444455556666")
	ds.AddElement(dicom.TagStudyDate, dicom.VR_DA, "20240115")
	ds.AddElement(dicom.TagModality, dicom.VR_CS, "CT")
	ds.AddElement(dicom.TagPatientName, dicom.VR_PN, "John Doe")
	ds.AddElement(dicom.TagPatientID, dicom.VR_LO, "P1")
	ds.AddElement(dicom.TagStudyInstanceUID, dicom.VR_UI, "1.2.826.0.1.999999999999")
	ds.AddElement(dicom.TagSeriesInstanceUID, dicom.VR_UI, "1.2.826.0.1.2.111122223333")
	ds.AddElement(dicom.TagInstanceNumber, dicom.VR_IS, "3")
	ds.AddElement(dicom.TagPixelData, dicom.VR_OW, make([]byte, 40000))

	data, err := dicom.EncodeDatasetWithTransferSyntax(ds, transferSyntax)
	require.NoError(t, err)
	return data
}

func TestServerEcho(t *testing.T) {
	addr, _ := startServer(t, t.TempDir())

	assoc, err := client.Connect(addr, clientConfig(types.VerificationSOPClass))
	require.NoError(t, err)
	defer assoc.Close()

	resp, err := assoc.SendCEcho(0)
	require.NoError(t, err)
	assert.Equal(t, uint16(types.StatusSuccess), resp.Status)
}

func TestServerStoreIsIdempotent(t *testing.T) {
	for _, ts := range []string{types.ImplicitVRLittleEndian, types.ExplicitVRLittleEndian} {
		t.Run(ts, func(t *testing.T) {
			root := t.TempDir()
			addr, _ := startServer(t, root, WithMaxPDULength(16384))

			cfg := clientConfig(types.CTImageStorage)
			cfg.TransferSyntaxes = []string{ts}
			cfg.MaxPDULength = 4096
			assoc, err := client.Connect(addr, cfg)
			require.NoError(t, err)
			defer assoc.Close()

			data := testDataset(t, ts)
			for i := 0; i < 2; i++ {
				resp, err := assoc.SendCStore(&client.CStoreRequest{
					SOPClassUID:    types.CTImageStorage,
					SOPInstanceUID: "1.2.826.0.1.444455556666",
					Data:           data,
				})
				require.NoError(t, err)
				assert.Equal(t, uint16(types.StatusSuccess), resp.Status)
				assert.Equal(t, "1.2.826.0.1.444455556666", resp.SOPInstanceUID)
			}

			path := filepath.Join(root, "John_Doe_P1", "20240115_E999999999999", "CT_S111122223333", "CT_0003_444455556666.dcm")
			raw, err := os.ReadFile(path)
			require.NoError(t, err)

			meta, dataset, err := dicom.ReadPart10(raw)
			require.NoError(t, err)
			assert.Equal(t, data, dataset)
			assert.Equal(t, ts, meta.TransferSyntaxUID)
			assert.Equal(t, types.CTImageStorage, meta.MediaStorageSOPClassUID)
			assert.Equal(t, "1.2.826.0.1.444455556666", meta.MediaStorageSOPInstanceUID)
			assert.Equal(t, "MODALITY", meta.SourceApplicationEntityTitle)

			entries, err := os.ReadDir(filepath.Dir(path))
			require.NoError(t, err)
			assert.Len(t, entries, 1)
		})
	}
}

func TestServerStoreDirectoryFailure(t *testing.T) {
	root := filepath.Join(t.TempDir(), "output")
	require.NoError(t, os.WriteFile(root, nil, 0o644))
	addr, _ := startServer(t, root)

	assoc, err := client.Connect(addr, clientConfig(types.CTImageStorage, types.VerificationSOPClass))
	require.NoError(t, err)
	defer assoc.Close()

	resp, err := assoc.SendCStore(&client.CStoreRequest{
		SOPClassUID:    types.CTImageStorage,
		SOPInstanceUID: "1.2.826.0.1.444455556666",
		Data:           testDataset(t, types.ExplicitVRLittleEndian),
	})
	require.NoError(t, err)
	assert.Equal(t, uint16(types.StatusStoreDirectoryFailure), resp.Status)
	assert.Equal(t, "directory_failure", resp.ErrorComment)

	// the association survives a failed store
	echo, err := assoc.SendCEcho(0)
	require.NoError(t, err)
	assert.Equal(t, uint16(types.StatusSuccess), echo.Status)
}

func TestServerNegotiation(t *testing.T) {
	addr, _ := startServer(t, t.TempDir())

	cfg := clientConfig(types.VerificationSOPClass, types.CTImageStorage, "1.2.840.10008.5.1.4.1.2.2.1")
	cfg.TransferSyntaxes = []string{types.DeflatedExplicitVRLittleEndian}
	assoc, err := client.Connect(addr, cfg)
	require.NoError(t, err)
	defer assoc.Close()

	assert.Empty(t, assoc.AcceptedContexts())

	_, _, err = assoc.GetPresentationContextID(types.CTImageStorage)
	assert.ErrorIs(t, err, dicomerrors.ErrNoPresentationCtx)
}

func TestServerAcceptsEncapsulatedSyntax(t *testing.T) {
	addr, _ := startServer(t, t.TempDir())

	cfg := clientConfig(types.CTImageStorage, "1.2.840.10008.5.1.4.1.2.2.1")
	cfg.TransferSyntaxes = []string{types.JPEG2000Lossless}
	assoc, err := client.Connect(addr, cfg)
	require.NoError(t, err)
	defer assoc.Close()

	_, ts, err := assoc.GetPresentationContextID(types.CTImageStorage)
	require.NoError(t, err)
	assert.Equal(t, types.JPEG2000Lossless, ts)

	_, _, err = assoc.GetPresentationContextID("1.2.840.10008.5.1.4.1.2.2.1")
	assert.ErrorIs(t, err, dicomerrors.ErrNoPresentationCtx)
}

func TestServerCalledAETitle(t *testing.T) {
	t.Run("strict rejects mismatch", func(t *testing.T) {
		addr, _ := startServer(t, t.TempDir(), WithRequireCalledAETitle(true))
		cfg := clientConfig()
		cfg.CalledAETitle = "SOMEONE_ELSE"

		_, err := client.Connect(addr, cfg)

		require.ErrorIs(t, err, dicomerrors.ErrAssociationRejected)
		var rej *dicomerrors.AssociationError
		require.ErrorAs(t, err, &rej)
		assert.Equal(t, dicomerrors.RejectReasonCalledAETitleNotRecognized, rej.Reason)
	})

	t.Run("lenient accepts mismatch", func(t *testing.T) {
		addr, _ := startServer(t, t.TempDir())
		cfg := clientConfig()
		cfg.CalledAETitle = "SOMEONE_ELSE"

		assoc, err := client.Connect(addr, cfg)
		require.NoError(t, err)
		assert.NoError(t, assoc.Close())
	})
}

func TestServerMaxAssociations(t *testing.T) {
	addr, srv := startServer(t, t.TempDir(), WithMaxAssociations(1))

	first, err := client.Connect(addr, clientConfig())
	require.NoError(t, err)
	assert.Equal(t, 1, srv.ActiveAssociations())

	_, err = client.Connect(addr, clientConfig())
	require.ErrorIs(t, err, dicomerrors.ErrAssociationRejected)
	var rej *dicomerrors.AssociationError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, dicomerrors.RejectSourcePresentation, rej.Source)
	assert.Equal(t, dicomerrors.RejectReasonLocalLimitExceeded, rej.Reason)
	assert.Equal(t, dicomerrors.RejectResultTransient, rej.Result)

	require.NoError(t, first.Close())
	require.Eventually(t, func() bool { return srv.ActiveAssociations() == 0 }, 5*time.Second, 10*time.Millisecond)

	again, err := client.Connect(addr, clientConfig())
	require.NoError(t, err)
	assert.NoError(t, again.Close())
}

func TestServerAssociationRate(t *testing.T) {
	addr, _ := startServer(t, t.TempDir(), WithAssociationRate(0.001, 1))

	first, err := client.Connect(addr, clientConfig())
	require.NoError(t, err)
	require.NoError(t, first.Close())

	_, err = client.Connect(addr, clientConfig())
	require.ErrorIs(t, err, dicomerrors.ErrAssociationRejected)
	var rej *dicomerrors.AssociationError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, dicomerrors.RejectReasonLocalLimitExceeded, rej.Reason)
	assert.Equal(t, dicomerrors.RejectResultTransient, rej.Result)
}

func TestWithAssociationRate(t *testing.T) {
	assert.Nil(t, New(testAETitle, nil, WithAssociationRate(0, 5)).limiter)

	srv := New(testAETitle, nil, WithAssociationRate(2, 0))
	require.NotNil(t, srv.limiter)
	assert.Equal(t, 1, srv.limiter.Burst())
}

func TestServerShutdownEndsAssociations(t *testing.T) {
	srv := New(testAETitle, services.NewEchoService(discardLogger()), WithLogger(discardLogger()))
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	assoc, err := client.Connect(ln.Addr().String(), clientConfig())
	require.NoError(t, err)
	defer assoc.Abort()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.Equal(t, ln.Addr().String(), srv.Addr().String())
}

func TestServeValidation(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	assert.Error(t, New(testAETitle, nil).Serve(context.Background(), ln))
	assert.Error(t, New("", services.NewEchoService(nil)).Serve(context.Background(), ln))
	assert.Error(t, New(testAETitle, services.NewEchoService(nil)).Serve(context.Background(), nil))
}
