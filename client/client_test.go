package client

import (
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dicomerrors "github.com/caio-sobreiro/dicomreceptor/errors"
	"github.com/caio-sobreiro/dicomreceptor/dimse"
	"github.com/caio-sobreiro/dicomreceptor/pdu"
	"github.com/caio-sobreiro/dicomreceptor/types"
)

// fakeSCP accepts one connection and runs script against it.
func fakeSCP(t *testing.T, script func(conn net.Conn)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
		script(conn)
	}()
	return ln.Addr().String()
}

// acceptAll answers an A-ASSOCIATE-RQ accepting every context with its
// first transfer syntax.
func acceptAll(t *testing.T, conn net.Conn) *pdu.AssociateRQ {
	p, err := pdu.ReadPDU(conn, 0)
	if !assert.NoError(t, err) {
		return nil
	}
	rq, err := pdu.ParseAssociateRQ(p.Data)
	if !assert.NoError(t, err) {
		return nil
	}
	ac := &pdu.AssociateAC{
		CalledAETitle:   rq.CalledAETitle,
		CallingAETitle:  rq.CallingAETitle,
		UserInformation: pdu.UserInformation{MaxPDULength: 1024},
	}
	for _, pc := range rq.PresentationContexts {
		ac.PresentationContexts = append(ac.PresentationContexts, pdu.PresentationContext{
			ID:             pc.ID,
			Result:         pdu.ResultAcceptance,
			TransferSyntax: pc.TransferSyntaxes[0],
		})
	}
	assert.NoError(t, pdu.WritePDU(conn, pdu.TypeAssociateAC, ac.Encode()))
	return rq
}

func answerRelease(conn net.Conn) {
	p, err := pdu.ReadPDU(conn, 0)
	if err == nil && p.Type == pdu.TypeReleaseRQ {
		_ = pdu.WriteReleaseRP(conn)
	}
}

func testConfig(abstract ...string) Config {
	return Config{
		CallingAETitle:   "SCU",
		CalledAETitle:    "MI_RECEPTOR",
		Logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
		AbstractSyntaxes: abstract,
		ReadTimeout:      5 * time.Second,
		WriteTimeout:     5 * time.Second,
	}
}

func TestConnectProposesConfiguredContexts(t *testing.T) {
	proposed := make(chan *pdu.AssociateRQ, 1)
	addr := fakeSCP(t, func(conn net.Conn) {
		proposed <- acceptAll(t, conn)
		answerRelease(conn)
	})

	cfg := testConfig(types.VerificationSOPClass, types.CTImageStorage)
	cfg.TransferSyntaxes = []string{types.JPEGLossless}
	assoc, err := Connect(addr, cfg)
	require.NoError(t, err)

	rq := <-proposed
	require.Len(t, rq.PresentationContexts, 2)
	assert.Equal(t, byte(1), rq.PresentationContexts[0].ID)
	assert.Equal(t, byte(3), rq.PresentationContexts[1].ID)
	assert.Equal(t, types.CTImageStorage, rq.PresentationContexts[1].AbstractSyntax)
	assert.Equal(t, []string{types.JPEGLossless}, rq.PresentationContexts[1].TransferSyntaxes)
	assert.Equal(t, "SCU", rq.CallingAETitle)
	assert.Equal(t, "MI_RECEPTOR", rq.CalledAETitle)

	id, ts, err := assoc.GetPresentationContextID(types.CTImageStorage)
	require.NoError(t, err)
	assert.Equal(t, byte(3), id)
	assert.Equal(t, types.JPEGLossless, ts)
	assert.Len(t, assoc.AcceptedContexts(), 2)

	_, _, err = assoc.GetPresentationContextID(types.MRImageStorage)
	assert.ErrorIs(t, err, dicomerrors.ErrNoPresentationCtx)

	require.NoError(t, assoc.Close())
}

func TestConnectRejected(t *testing.T) {
	addr := fakeSCP(t, func(conn net.Conn) {
		if _, err := pdu.ReadPDU(conn, 0); err != nil {
			return
		}
		_ = pdu.WriteAssociateRJ(conn, dicomerrors.NewAssociationError(
			dicomerrors.RejectResultPermanent,
			dicomerrors.RejectSourceServiceUser,
			dicomerrors.RejectReasonCalledAETitleNotRecognized,
			"called AE title not recognized"))
	})

	_, err := Connect(addr, testConfig())

	require.Error(t, err)
	assert.ErrorIs(t, err, dicomerrors.ErrAssociationRejected)
	var rej *dicomerrors.AssociationError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, dicomerrors.RejectReasonCalledAETitleNotRecognized, rej.Reason)
}

func TestSendCEcho(t *testing.T) {
	addr := fakeSCP(t, func(conn net.Conn) {
		if acceptAll(t, conn) == nil {
			return
		}
		msg, _, err := dimse.ReceiveDIMSEMessage(conn)
		if !assert.NoError(t, err) {
			return
		}
		assert.Equal(t, uint16(types.CEchoRQ), msg.CommandField)
		rsp, _ := dimse.EncodeCommand(&types.Message{
			CommandField:              types.CEchoRSP,
			MessageIDBeingRespondedTo: msg.MessageID,
			AffectedSOPClassUID:       types.VerificationSOPClass,
			CommandDataSetType:        types.NoDataSet,
			Status:                    types.StatusSuccess,
		})
		assert.NoError(t, dimse.SendDIMSEMessage(conn, 1, 0, rsp, nil))
		answerRelease(conn)
	})

	assoc, err := Connect(addr, testConfig())
	require.NoError(t, err)
	defer assoc.Close()

	resp, err := assoc.SendCEcho(0)
	require.NoError(t, err)
	assert.Equal(t, uint16(types.StatusSuccess), resp.Status)
	assert.Equal(t, uint16(1), resp.MessageID)
}

func TestSendCStoreFragmentsToPeerMaximum(t *testing.T) {
	payload := make([]byte, 5000)
	for i := range payload {
		payload[i] = byte(i)
	}
	received := make(chan []byte, 1)

	addr := fakeSCP(t, func(conn net.Conn) {
		if acceptAll(t, conn) == nil {
			return
		}
		msg, data, err := dimse.ReceiveDIMSEMessage(conn)
		if !assert.NoError(t, err) {
			return
		}
		received <- data
		rsp, _ := dimse.EncodeCommand(&types.Message{
			CommandField:              types.CStoreRSP,
			MessageIDBeingRespondedTo: msg.MessageID,
			AffectedSOPClassUID:       msg.AffectedSOPClassUID,
			AffectedSOPInstanceUID:    msg.AffectedSOPInstanceUID,
			CommandDataSetType:        types.NoDataSet,
			Status:                    types.StatusStoreWriteFailure,
		})
		assert.NoError(t, dimse.SendDIMSEMessage(conn, 1, 0, rsp, nil))
		answerRelease(conn)
	})

	assoc, err := Connect(addr, testConfig(types.CTImageStorage))
	require.NoError(t, err)
	defer assoc.Close()

	resp, err := assoc.SendCStore(&CStoreRequest{
		SOPClassUID:    types.CTImageStorage,
		SOPInstanceUID: "1.2.3.4",
		Data:           payload,
		MessageID:      7,
	})
	require.NoError(t, err)
	assert.Equal(t, uint16(types.StatusStoreWriteFailure), resp.Status)
	assert.Equal(t, uint16(7), resp.MessageID)
	assert.Equal(t, "1.2.3.4", resp.SOPInstanceUID)
	assert.Equal(t, payload, <-received)
}

func TestSendCStoreWithoutContext(t *testing.T) {
	addr := fakeSCP(t, func(conn net.Conn) {
		acceptAll(t, conn)
		answerRelease(conn)
	})

	assoc, err := Connect(addr, testConfig())
	require.NoError(t, err)
	defer assoc.Close()

	_, err = assoc.SendCStore(&CStoreRequest{SOPClassUID: types.CTImageStorage, SOPInstanceUID: "1.2"})
	assert.ErrorIs(t, err, dicomerrors.ErrNoPresentationCtx)
}

func TestConnectRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	_, err = Connect(addr, testConfig())

	var netErr *dicomerrors.NetworkError
	assert.ErrorAs(t, err, &netErr)
}
