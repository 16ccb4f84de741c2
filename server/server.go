// Package server runs the DICOM listener: it accepts TCP connections and
// drives one association per connection through the PDU and DIMSE layers.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/caio-sobreiro/dicomreceptor/dimse"
	dicomerrors "github.com/caio-sobreiro/dicomreceptor/errors"
	"github.com/caio-sobreiro/dicomreceptor/interfaces"
	"github.com/caio-sobreiro/dicomreceptor/metrics"
	"github.com/caio-sobreiro/dicomreceptor/pdu"
)

// Option configures a Server instance.
type Option func(*Server)

// WithLogger overrides the logger used by the server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.Logger = logger
	}
}

// WithReadTimeout sets the idle timeout applied before each incoming PDU.
func WithReadTimeout(timeout time.Duration) Option {
	return func(s *Server) {
		s.ReadTimeout = timeout
	}
}

// WithWriteTimeout sets the timeout for each outgoing PDU.
func WithWriteTimeout(timeout time.Duration) Option {
	return func(s *Server) {
		s.WriteTimeout = timeout
	}
}

// WithMaxPDULength sets the maximum PDU length advertised to peers. Zero
// means unlimited.
func WithMaxPDULength(n uint32) Option {
	return func(s *Server) {
		s.MaxPDULength = n
	}
}

// WithMaxAssociations limits concurrent associations. Connections beyond
// the limit are rejected with "local limit exceeded". Zero means no limit.
func WithMaxAssociations(n int) Option {
	return func(s *Server) {
		s.MaxAssociations = n
	}
}

// WithAssociationRate limits how quickly new associations are admitted.
// Connections over the rate are rejected with "local limit exceeded". A
// non-positive perSecond means no limit.
func WithAssociationRate(perSecond float64, burst int) Option {
	return func(s *Server) {
		if perSecond <= 0 {
			s.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithRequireCalledAETitle rejects associations addressed to another AE title.
func WithRequireCalledAETitle(require bool) Option {
	return func(s *Server) {
		s.RequireCalledAETitle = require
	}
}

// WithAcceptor replaces the presentation context policy.
func WithAcceptor(a pdu.Acceptor) Option {
	return func(s *Server) {
		s.acceptor = &a
	}
}

// Server exposes a reusable DICOM listener that wires the DIMSE and PDU layers.
type Server struct {
	AETitle              string
	Handler              interfaces.ServiceHandler
	Logger               *slog.Logger
	ReadTimeout          time.Duration
	WriteTimeout         time.Duration
	MaxPDULength         uint32
	MaxAssociations      int
	RequireCalledAETitle bool

	acceptor *pdu.Acceptor
	limiter  *rate.Limiter
	active   atomic.Int64
	addr     atomic.Pointer[net.Addr]
}

// New builds a Server with the provided AE title and handler.
func New(aeTitle string, handler interfaces.ServiceHandler, opts ...Option) *Server {
	srv := &Server{AETitle: aeTitle, Handler: handler}
	for _, opt := range opts {
		opt(srv)
	}
	return srv
}

// ListenAndServe listens on address and serves until ctx is done or an
// error occurs.
func (s *Server) ListenAndServe(ctx context.Context, address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	defer listener.Close()

	return s.Serve(ctx, listener)
}

// Addr returns the address the server is listening on, or nil before Serve.
func (s *Server) Addr() net.Addr {
	if a := s.addr.Load(); a != nil {
		return *a
	}
	return nil
}

// ActiveAssociations returns the number of connections being served.
func (s *Server) ActiveAssociations() int {
	return int(s.active.Load())
}

// Serve accepts connections from listener until ctx is cancelled or an
// unrecoverable error occurs. It waits for open associations to finish
// before returning.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	if listener == nil {
		return errors.New("dicomserver: listener is required")
	}
	if s.Handler == nil {
		return errors.New("dicomserver: handler is required")
	}
	if s.AETitle == "" {
		return errors.New("dicomserver: AE title is required")
	}

	logger := s.logger()
	addr := listener.Addr()
	s.addr.Store(&addr)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	logger.Info("DICOM server listening",
		"address", addr.String(),
		"ae_title", s.AETitle,
		"max_pdu", s.MaxPDULength,
		"max_associations", s.MaxAssociations)

	var (
		wg       sync.WaitGroup
		serveErr error
	)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				logger.Warn("Accept timeout", "error", err)
				continue
			}
			serveErr = err
			break
		}

		wg.Add(1)
		go func(c net.Conn) {
			defer wg.Done()
			s.handleConnection(ctx, c, logger)
		}(conn)
	}

	wg.Wait()
	logger.Info("DICOM server stopped", "address", addr.String())

	if serveErr != nil {
		return serveErr
	}
	return ctx.Err()
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn, logger *slog.Logger) {
	associationID := uuid.NewString()
	logger = logger.With("association_id", associationID, "remote_addr", conn.RemoteAddr().String())

	n := s.active.Add(1)
	defer s.active.Add(-1)

	logger.Info("Connection established")

	opts := []pdu.LayerOption{
		pdu.WithAssociationID(associationID),
		pdu.WithMaxPDULength(s.MaxPDULength),
		pdu.WithReadTimeout(s.ReadTimeout),
		pdu.WithWriteTimeout(s.WriteTimeout),
		pdu.WithRequireCalledAETitle(s.RequireCalledAETitle),
	}
	if s.acceptor != nil {
		opts = append(opts, pdu.WithAcceptor(*s.acceptor))
	}
	layer := pdu.NewLayer(conn, dimse.NewService(s.Handler, logger), s.AETitle, logger, opts...)

	if s.MaxAssociations > 0 && n > int64(s.MaxAssociations) {
		s.rejectOverLimit(layer, logger, "too many concurrent associations")
		return
	}
	if s.limiter != nil && !s.limiter.Allow() {
		s.rejectOverLimit(layer, logger, "association rate exceeded")
		return
	}

	metrics.TrackActiveAssociation(true)
	defer metrics.TrackActiveAssociation(false)

	err := layer.HandleConnection(ctx)
	s.logOutcome(ctx, logger, err)
	logger.Info("Connection closed")
}

// rejectOverLimit answers the association request with a transient
// "local limit exceeded" rejection.
func (s *Server) rejectOverLimit(layer *pdu.Layer, logger *slog.Logger, msg string) {
	err := layer.Reject(dicomerrors.NewAssociationError(
		dicomerrors.RejectResultTransient,
		dicomerrors.RejectSourcePresentation,
		dicomerrors.RejectReasonLocalLimitExceeded,
		msg))
	logger.Warn("Association rejected", "reason", msg, "error", err)
	metrics.RecordAssociation("rejected")
	logger.Info("Connection closed")
}

// logOutcome logs and counts how an association ended.
func (s *Server) logOutcome(ctx context.Context, logger *slog.Logger, err error) {
	var (
		abortErr *dicomerrors.AbortError
		rejErr   *dicomerrors.AssociationError
	)
	switch {
	case err == nil:
		metrics.RecordAssociation("released")
	case errors.As(err, &abortErr):
		logger.Warn("Association aborted", "source", abortErr.Source, "reason", abortErr.Reason)
		metrics.RecordAssociation("aborted")
	case errors.As(err, &rejErr):
		logger.Info("Association rejected", "error", err)
		metrics.RecordAssociation("rejected")
	case ctx.Err() != nil:
		logger.Info("Association ended by shutdown")
		metrics.RecordAssociation("aborted")
	default:
		logger.Warn("Association ended with error", "error", err)
		metrics.RecordAssociation("failed")
	}
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
