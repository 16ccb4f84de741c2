package pdu

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"slices"
	"sync/atomic"
	"time"

	dicomerrors "github.com/caio-sobreiro/dicomreceptor/errors"
	"github.com/caio-sobreiro/dicomreceptor/interfaces"
	"github.com/caio-sobreiro/dicomreceptor/types"
)

// Layer handles the DICOM Upper Layer Protocol for one SCP association.
type Layer struct {
	conn            net.Conn
	dimseHandler    interfaces.DIMSEHandler
	serverAETitle   string
	logger          *slog.Logger
	acceptor        Acceptor
	maxPDULength    uint32
	readTimeout     time.Duration
	writeTimeout    time.Duration
	requireCalledAE bool
	associationID   string
	association     *AssociationContext
	stopping        atomic.Bool
}

// AssociationContext holds association state
type AssociationContext struct {
	CalledAETitle    string
	CallingAETitle   string
	PeerMaxPDULength uint32
	PresentationCtxs map[byte]*PresentationContext
}

// LayerOption configures a Layer
type LayerOption func(*Layer)

// WithAcceptor replaces the presentation context policy.
func WithAcceptor(a Acceptor) LayerOption {
	return func(l *Layer) { l.acceptor = a }
}

// WithMaxPDULength sets the maximum PDU length advertised to the peer and
// enforced on reads. Zero means unlimited.
func WithMaxPDULength(n uint32) LayerOption {
	return func(l *Layer) { l.maxPDULength = n }
}

// WithReadTimeout bounds the wait for each incoming PDU.
func WithReadTimeout(d time.Duration) LayerOption {
	return func(l *Layer) { l.readTimeout = d }
}

// WithWriteTimeout bounds each outgoing PDU write.
func WithWriteTimeout(d time.Duration) LayerOption {
	return func(l *Layer) { l.writeTimeout = d }
}

// WithRequireCalledAETitle rejects associations whose called AE title does
// not match the server AE title.
func WithRequireCalledAETitle(require bool) LayerOption {
	return func(l *Layer) { l.requireCalledAE = require }
}

// WithAssociationID tags the layer's logs and message contexts.
func WithAssociationID(id string) LayerOption {
	return func(l *Layer) { l.associationID = id }
}

// NewLayer creates a new PDU layer handler
func NewLayer(conn net.Conn, dimseHandler interfaces.DIMSEHandler, serverAETitle string, logger *slog.Logger, opts ...LayerOption) *Layer {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Layer{
		conn:          conn,
		dimseHandler:  dimseHandler,
		serverAETitle: serverAETitle,
		logger:        logger,
		acceptor:      StorageAcceptor,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Association returns the negotiated association, or nil before negotiation.
func (p *Layer) Association() *AssociationContext {
	return p.association
}

// HandleConnection runs one association to completion: negotiation, DIMSE
// traffic, then release or abort. It returns nil after an orderly release,
// an *errors.AbortError when the peer aborts and an
// *errors.AssociationError when the association is rejected.
func (p *Layer) HandleConnection(ctx context.Context) error {
	defer p.conn.Close()

	stop := context.AfterFunc(ctx, func() {
		p.stopping.Store(true)
		_ = p.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	if err := p.handleAssociationPhase(); err != nil {
		return err
	}

	for {
		if ctx.Err() != nil {
			p.abort(AbortSourceServiceProvider, 0x00)
			return ctx.Err()
		}

		pdu, err := p.readPDU(p.maxPDULength)
		if err != nil {
			if ctx.Err() != nil {
				p.abort(AbortSourceServiceProvider, 0x00)
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("%w: peer closed connection without release", dicomerrors.ErrConnectionClosed)
			}
			var pduErr *dicomerrors.PDUError
			if errors.As(err, &pduErr) {
				p.abort(AbortSourceServiceProvider, 0x02)
			}
			return dicomerrors.NewNetworkError("read PDU", err)
		}

		done, err := p.handlePDU(ctx, pdu)
		if err != nil {
			var abortErr *dicomerrors.AbortError
			if !errors.As(err, &abortErr) {
				p.abort(AbortSourceServiceProvider, 0x00)
			}
			return err
		}
		if done {
			return nil
		}
	}
}

// Reject reads the pending A-ASSOCIATE-RQ and answers it with an
// A-ASSOCIATE-RJ carrying rej, then closes the connection.
func (p *Layer) Reject(rej *dicomerrors.AssociationError) error {
	defer p.conn.Close()

	pdu, err := p.readPDU(p.associateRQLimit())
	if err != nil {
		return dicomerrors.NewNetworkError("read A-ASSOCIATE-RQ", err)
	}
	if pdu.Type != TypeAssociateRQ {
		return dicomerrors.NewPDUError(pdu.Type, "expected A-ASSOCIATE-RQ")
	}
	if err := p.write(func(w io.Writer) error { return WriteAssociateRJ(w, rej) }); err != nil {
		return dicomerrors.NewNetworkError("write A-ASSOCIATE-RJ", err)
	}
	return rej
}

func (p *Layer) readPDU(maxLength uint32) (*PDU, error) {
	if p.readTimeout > 0 {
		if err := p.conn.SetReadDeadline(time.Now().Add(p.readTimeout)); err != nil {
			return nil, err
		}
		// A shutdown that raced the deadline above must still interrupt the read.
		if p.stopping.Load() {
			_ = p.conn.SetReadDeadline(time.Now())
		}
	}
	return ReadPDU(p.conn, maxLength)
}

// associateRQLimit bounds the first read of a connection, before the peer
// has negotiated anything.
func (p *Layer) associateRQLimit() uint32 {
	if p.maxPDULength > 0 && p.maxPDULength < MaxAssociateRQLength {
		return p.maxPDULength
	}
	return MaxAssociateRQLength
}

func (p *Layer) write(fn func(w io.Writer) error) error {
	if p.writeTimeout > 0 {
		if err := p.conn.SetWriteDeadline(time.Now().Add(p.writeTimeout)); err != nil {
			return err
		}
	}
	return fn(p.conn)
}

func (p *Layer) abort(source, reason byte) {
	if err := p.write(func(w io.Writer) error { return WriteAbort(w, source, reason) }); err != nil {
		p.logger.Debug("Failed to send A-ABORT", "error", err)
	}
}

// handlePDU routes PDUs to appropriate handlers. done is true once the
// association has been released.
func (p *Layer) handlePDU(ctx context.Context, pdu *PDU) (done bool, err error) {
	p.logger.Debug("Received PDU", "type", fmt.Sprintf("0x%02x", pdu.Type), "length", pdu.Length)

	switch pdu.Type {
	case TypePDataTF:
		return false, p.handlePDataTF(ctx, pdu)
	case TypeReleaseRQ:
		p.logger.Debug("Processing A-RELEASE-RQ")
		if err := p.write(WriteReleaseRP); err != nil {
			return false, dicomerrors.NewNetworkError("write A-RELEASE-RP", err)
		}
		return true, nil
	case TypeAbort:
		source, reason := ParseAbort(pdu.Data)
		return false, dicomerrors.NewAbortError(source, reason)
	default:
		return false, dicomerrors.NewPDUError(pdu.Type, "unexpected PDU on established association")
	}
}

// handleAssociationPhase handles the association establishment
func (p *Layer) handleAssociationPhase() error {
	pdu, err := p.readPDU(p.associateRQLimit())
	if err != nil {
		var pduErr *dicomerrors.PDUError
		if errors.As(err, &pduErr) {
			p.abort(AbortSourceServiceProvider, 0x02)
		}
		return dicomerrors.NewNetworkError("read A-ASSOCIATE-RQ", err)
	}
	if pdu.Type != TypeAssociateRQ {
		p.abort(AbortSourceServiceProvider, 0x01)
		return dicomerrors.NewPDUError(pdu.Type, "expected A-ASSOCIATE-RQ")
	}

	rq, err := ParseAssociateRQ(pdu.Data)
	if err != nil {
		p.abort(AbortSourceServiceProvider, 0x06)
		return fmt.Errorf("%w: %v", dicomerrors.ErrInvalidPDU, err)
	}

	if rej := p.checkAssociateRequest(rq); rej != nil {
		p.logger.Warn("Rejecting association",
			"calling_ae", rq.CallingAETitle,
			"called_ae", rq.CalledAETitle,
			"reason", rej.Error())
		if err := p.write(func(w io.Writer) error { return WriteAssociateRJ(w, rej) }); err != nil {
			return dicomerrors.NewNetworkError("write A-ASSOCIATE-RJ", err)
		}
		return rej
	}

	ac := p.negotiate(rq)
	if err := p.write(func(w io.Writer) error { return WritePDU(w, TypeAssociateAC, ac.Encode()) }); err != nil {
		return dicomerrors.NewNetworkError("write A-ASSOCIATE-AC", err)
	}
	return nil
}

func (p *Layer) checkAssociateRequest(rq *AssociateRQ) *dicomerrors.AssociationError {
	if rq.ApplicationContext != "" && rq.ApplicationContext != types.ApplicationContextUID {
		return dicomerrors.NewAssociationError(dicomerrors.RejectResultPermanent,
			dicomerrors.RejectSourceServiceUser, dicomerrors.RejectReasonApplicationContextNotSupported,
			"unsupported application context "+rq.ApplicationContext)
	}
	if p.requireCalledAE && rq.CalledAETitle != p.serverAETitle {
		return dicomerrors.NewAssociationError(dicomerrors.RejectResultPermanent,
			dicomerrors.RejectSourceServiceUser, dicomerrors.RejectReasonCalledAETitleNotRecognized,
			"called AE title "+rq.CalledAETitle+" not recognized")
	}
	return nil
}

func (p *Layer) negotiate(rq *AssociateRQ) *AssociateAC {
	p.association = &AssociationContext{
		CalledAETitle:    rq.CalledAETitle,
		CallingAETitle:   rq.CallingAETitle,
		PeerMaxPDULength: rq.MaxPDULength,
		PresentationCtxs: make(map[byte]*PresentationContext, len(rq.PresentationContexts)),
	}

	ac := &AssociateAC{
		CalledAETitle:   rq.CalledAETitle,
		CallingAETitle:  rq.CallingAETitle,
		UserInformation: UserInformation{MaxPDULength: p.maxPDULength},
	}

	accepted := 0
	for _, proposed := range rq.PresentationContexts {
		pc := p.acceptor.Negotiate(proposed)
		p.association.PresentationCtxs[pc.ID] = &pc
		if pc.Accepted() {
			accepted++
		}
		p.logger.Debug("Presentation context negotiation result",
			"context_id", pc.ID,
			"abstract_syntax", pc.AbstractSyntax,
			"transfer_syntax", pc.TransferSyntax,
			"result", pc.Result)
	}

	ids := make([]byte, 0, len(p.association.PresentationCtxs))
	for id := range p.association.PresentationCtxs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		ac.PresentationContexts = append(ac.PresentationContexts, *p.association.PresentationCtxs[id])
	}

	p.logger.Info("Association accepted",
		"calling_ae", rq.CallingAETitle,
		"called_ae", rq.CalledAETitle,
		"proposed_contexts", len(rq.PresentationContexts),
		"accepted_contexts", accepted,
		"peer_max_pdu", rq.MaxPDULength)
	return ac
}

// handlePDataTF forwards every PDV of a P-DATA-TF to the DIMSE layer.
func (p *Layer) handlePDataTF(ctx context.Context, pdu *PDU) error {
	pdvs, err := SplitPDVs(pdu.Data)
	if err != nil {
		return err
	}
	for _, pdv := range pdvs {
		pc, ok := p.association.PresentationCtxs[pdv.ContextID]
		if !ok || !pc.Accepted() {
			return dicomerrors.NewPDUError(TypePDataTF,
				fmt.Sprintf("PDV on unaccepted presentation context %d", pdv.ContextID))
		}
		if err := p.dimseHandler.HandleDIMSEMessage(ctx, pdv.ContextID, pdv.ControlHeader, pdv.Data, p); err != nil {
			return err
		}
	}
	return nil
}

// SendDIMSEResponseWithDataset sends a DIMSE response with optional dataset
// via P-DATA-TF, fragmented to the peer's maximum PDU length.
func (p *Layer) SendDIMSEResponseWithDataset(presContextID byte, commandData []byte, datasetData []byte) error {
	var peerMax uint32
	if p.association != nil {
		peerMax = p.association.PeerMaxPDULength
	}
	return p.write(func(w io.Writer) error {
		if err := WritePDataTF(w, presContextID, peerMax, commandData, true); err != nil {
			return err
		}
		if len(datasetData) > 0 {
			return WritePDataTF(w, presContextID, peerMax, datasetData, false)
		}
		return nil
	})
}

// MessageContext describes presContextID on this association.
func (p *Layer) MessageContext(presContextID byte) interfaces.MessageContext {
	mc := interfaces.MessageContext{
		AssociationID:         p.associationID,
		PresentationContextID: presContextID,
		CalledAETitle:         p.serverAETitle,
	}
	if addr := p.conn.RemoteAddr(); addr != nil {
		mc.RemoteAddr = addr.String()
	}
	if p.association == nil {
		return mc
	}
	mc.CallingAETitle = p.association.CallingAETitle
	if p.association.CalledAETitle != "" {
		mc.CalledAETitle = p.association.CalledAETitle
	}
	if pc, ok := p.association.PresentationCtxs[presContextID]; ok {
		mc.AbstractSyntaxUID = pc.AbstractSyntax
		mc.TransferSyntaxUID = pc.TransferSyntax
	}
	return mc
}
