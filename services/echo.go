// Package services provides the DIMSE service implementations of the
// receiver: the verification (C-ECHO) responder, the C-STORE service that
// hands received instances to storage, and the registry that routes
// requests to them.
package services

import (
	"context"
	"log/slog"

	"github.com/caio-sobreiro/dicomreceptor/interfaces"
	"github.com/caio-sobreiro/dicomreceptor/types"
)

// EchoService handles C-ECHO verification requests.
//
// C-ECHO is used to verify connectivity and application-level communication
// between two DICOM Application Entities (AEs). It's the DICOM equivalent
// of a "ping" operation.
//
// The service is stateless and always answers with success.
type EchoService struct {
	logger *slog.Logger
}

// NewEchoService creates a new C-ECHO service instance.
func NewEchoService(logger *slog.Logger) *EchoService {
	if logger == nil {
		logger = slog.Default()
	}
	return &EchoService{logger: logger}
}

// HandleDIMSE logs the request and returns a C-ECHO-RSP with success status.
//
// According to DICOM standard PS3.7, C-ECHO has no dataset and simply
// returns a status indicating whether the AE is operational.
//
// This method implements the interfaces.ServiceHandler interface.
func (s *EchoService) HandleDIMSE(ctx context.Context, msg *types.Message, data []byte, meta interfaces.MessageContext) (*types.Message, []byte, error) {
	s.logger.InfoContext(ctx, "C-ECHO request received",
		"message_id", msg.MessageID,
		"calling_ae", meta.CallingAETitle,
		"remote_addr", meta.RemoteAddr)

	return NewCEchoResponse(msg, types.StatusSuccess), nil, nil
}

// HealthCheck verifies that the echo service is operational.
//
// Since echo service is stateless with no external dependencies,
// this always returns healthy.
func (s *EchoService) HealthCheck(ctx context.Context) error {
	return nil
}
