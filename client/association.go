// Package client implements the SCU side of the receiver's protocol: it
// opens associations, sends C-ECHO and C-STORE requests and releases the
// association. The CLI uses it for the echo and send commands.
package client

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	dicomerrors "github.com/caio-sobreiro/dicomreceptor/errors"
	"github.com/caio-sobreiro/dicomreceptor/pdu"
	"github.com/caio-sobreiro/dicomreceptor/types"
)

const (
	defaultMaxPDULength   = 16384
	defaultConnectTimeout = 30 * time.Second
	defaultIOTimeout      = 60 * time.Second
)

// Association represents a client-side DICOM association
type Association struct {
	conn             net.Conn
	callingAETitle   string
	calledAETitle    string
	maxPDULength     uint32
	peerMaxPDULength uint32
	readTimeout      time.Duration
	writeTimeout     time.Duration
	presentationCtxs map[byte]*pdu.PresentationContext
	logger           *slog.Logger
	nextMessageID    uint16
}

// Config holds client configuration
type Config struct {
	CallingAETitle string
	CalledAETitle  string
	MaxPDULength   uint32        // Largest PDU we accept (default: 16KB)
	ConnectTimeout time.Duration // Timeout for establishing connection (default: 30s)
	ReadTimeout    time.Duration // Timeout for each read (default: 60s)
	WriteTimeout   time.Duration // Timeout for each write (default: 60s)
	Logger         *slog.Logger  // Logger for the association (default: slog.Default())

	// AbstractSyntaxes lists the SOP classes to propose, one presentation
	// context each (default: Verification only).
	AbstractSyntaxes []string
	// TransferSyntaxes are proposed for every context, in order of
	// preference (default: Explicit VR LE, Implicit VR LE).
	TransferSyntaxes []string
}

func (c *Config) setDefaults() {
	if c.MaxPDULength == 0 {
		c.MaxPDULength = defaultMaxPDULength
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = defaultIOTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = defaultIOTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if len(c.AbstractSyntaxes) == 0 {
		c.AbstractSyntaxes = []string{types.VerificationSOPClass}
	}
	if len(c.TransferSyntaxes) == 0 {
		c.TransferSyntaxes = types.GetCommonTransferSyntaxes()
	}
}

// Connect establishes a DICOM association with a remote SCP
func Connect(address string, config Config) (*Association, error) {
	config.setDefaults()
	if len(config.AbstractSyntaxes) > 128 {
		return nil, fmt.Errorf("too many abstract syntaxes: %d (at most 128)", len(config.AbstractSyntaxes))
	}

	dialer := &net.Dialer{Timeout: config.ConnectTimeout}
	conn, err := dialer.Dial("tcp", address)
	if err != nil {
		return nil, dicomerrors.NewNetworkError("connect", err)
	}

	assoc := &Association{
		conn:             conn,
		callingAETitle:   config.CallingAETitle,
		calledAETitle:    config.CalledAETitle,
		maxPDULength:     config.MaxPDULength,
		readTimeout:      config.ReadTimeout,
		writeTimeout:     config.WriteTimeout,
		presentationCtxs: make(map[byte]*pdu.PresentationContext),
		logger:           config.Logger,
	}

	rq := &pdu.AssociateRQ{
		CalledAETitle:   config.CalledAETitle,
		CallingAETitle:  config.CallingAETitle,
		UserInformation: pdu.UserInformation{MaxPDULength: config.MaxPDULength},
	}
	for i, abstract := range config.AbstractSyntaxes {
		id := byte(2*i + 1) // odd context IDs
		rq.PresentationContexts = append(rq.PresentationContexts, pdu.ProposedContext{
			ID:               id,
			AbstractSyntax:   abstract,
			TransferSyntaxes: config.TransferSyntaxes,
		})
		assoc.presentationCtxs[id] = &pdu.PresentationContext{
			ID:             id,
			Result:         pdu.ResultNoReason,
			AbstractSyntax: abstract,
		}
	}

	if err := assoc.writePDU(pdu.TypeAssociateRQ, rq.Encode()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send A-ASSOCIATE-RQ: %w", err)
	}

	if err := assoc.receiveAssociateAC(); err != nil {
		conn.Close()
		return nil, err
	}

	assoc.logger.Info("DICOM association established",
		"remote_addr", address,
		"calling_ae", config.CallingAETitle,
		"called_ae", config.CalledAETitle,
		"accepted_contexts", len(assoc.AcceptedContexts()))

	return assoc, nil
}

// receiveAssociateAC reads the peer's answer to the association request.
func (a *Association) receiveAssociateAC() error {
	p, err := a.readPDU()
	if err != nil {
		return fmt.Errorf("failed to receive A-ASSOCIATE-AC: %w", err)
	}

	switch p.Type {
	case pdu.TypeAssociateAC:
	case pdu.TypeAssociateRJ:
		return pdu.ParseAssociateRJ(p.Data)
	case pdu.TypeAbort:
		source, reason := pdu.ParseAbort(p.Data)
		return dicomerrors.NewAbortError(source, reason)
	default:
		return dicomerrors.NewPDUError(p.Type, "expected A-ASSOCIATE-AC")
	}

	ac, err := pdu.ParseAssociateAC(p.Data)
	if err != nil {
		return fmt.Errorf("%w: %v", dicomerrors.ErrInvalidPDU, err)
	}
	a.peerMaxPDULength = ac.MaxPDULength

	for _, result := range ac.PresentationContexts {
		pc, ok := a.presentationCtxs[result.ID]
		if !ok {
			continue
		}
		pc.Result = result.Result
		if pc.Accepted() {
			pc.TransferSyntax = result.TransferSyntax
		}
		a.logger.Debug("Presentation context negotiation",
			"context_id", pc.ID,
			"abstract_syntax", pc.AbstractSyntax,
			"result", pc.Result,
			"accepted", pc.Accepted(),
			"transfer_syntax", pc.TransferSyntax)
	}
	return nil
}

// Close gracefully releases the association and closes the connection.
func (a *Association) Close() error {
	if err := a.write(func() error { return pdu.WriteReleaseRQ(a.conn) }); err != nil {
		a.logger.Warn("Failed to send release request", "error", err)
		return a.conn.Close()
	}

	p, err := a.readPDU()
	if err != nil {
		a.logger.Debug("No release response", "error", err)
	} else if p.Type != pdu.TypeReleaseRP {
		a.logger.Warn("Unexpected PDU in reply to release request", "pdu_type", p.Type)
	}
	return a.conn.Close()
}

// Abort sends an A-ABORT and closes the connection without waiting.
func (a *Association) Abort() error {
	_ = a.write(func() error { return pdu.WriteAbort(a.conn, pdu.AbortSourceServiceUser, 0) })
	return a.conn.Close()
}

// AcceptedContexts returns the presentation contexts the peer accepted.
func (a *Association) AcceptedContexts() []pdu.PresentationContext {
	var accepted []pdu.PresentationContext
	for _, pc := range a.presentationCtxs {
		if pc.Accepted() {
			accepted = append(accepted, *pc)
		}
	}
	return accepted
}

// GetPresentationContextID finds an accepted presentation context for the
// given abstract syntax and returns its ID and negotiated transfer syntax.
func (a *Association) GetPresentationContextID(abstractSyntax string) (byte, string, error) {
	for _, pc := range a.presentationCtxs {
		if pc.AbstractSyntax == abstractSyntax && pc.Accepted() {
			return pc.ID, pc.TransferSyntax, nil
		}
	}
	return 0, "", fmt.Errorf("%w: abstract syntax %s", dicomerrors.ErrNoPresentationCtx, abstractSyntax)
}

func (a *Association) messageID(requested uint16) uint16 {
	if requested != 0 {
		return requested
	}
	a.nextMessageID++
	if a.nextMessageID == 0 {
		a.nextMessageID = 1
	}
	return a.nextMessageID
}

func (a *Association) readPDU() (*pdu.PDU, error) {
	if a.readTimeout > 0 {
		if err := a.conn.SetReadDeadline(time.Now().Add(a.readTimeout)); err != nil {
			return nil, err
		}
	}
	p, err := pdu.ReadPDU(a.conn, 0)
	if err != nil {
		if errors.Is(err, dicomerrors.ErrInvalidPDU) {
			return nil, err
		}
		return nil, dicomerrors.NewNetworkError("read", err)
	}
	return p, nil
}

func (a *Association) write(fn func() error) error {
	if a.writeTimeout > 0 {
		if err := a.conn.SetWriteDeadline(time.Now().Add(a.writeTimeout)); err != nil {
			return err
		}
	}
	if err := fn(); err != nil {
		return dicomerrors.NewNetworkError("write", err)
	}
	return nil
}

func (a *Association) writePDU(pduType byte, data []byte) error {
	return a.write(func() error { return pdu.WritePDU(a.conn, pduType, data) })
}
