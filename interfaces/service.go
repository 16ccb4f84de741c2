// Package interfaces contains the contracts between the association layer,
// the DIMSE layer and the services that handle requests.
package interfaces

import (
	"context"

	"github.com/caio-sobreiro/dicomreceptor/types"
)

// MessageContext describes the association and presentation context a
// DIMSE message arrived on.
type MessageContext struct {
	AssociationID         string
	PresentationContextID byte
	AbstractSyntaxUID     string
	TransferSyntaxUID     string
	CallingAETitle        string
	CalledAETitle         string
	RemoteAddr            string
}

// ServiceHandler interface for handling DIMSE operations
type ServiceHandler interface {
	HandleDIMSE(ctx context.Context, msg *types.Message, data []byte, meta MessageContext) (*types.Message, []byte, error)
}

// HealthChecker is implemented by services that can report readiness.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// DIMSEHandler interface for PDU layer to communicate with DIMSE layer
type DIMSEHandler interface {
	HandleDIMSEMessage(ctx context.Context, presContextID byte, msgCtrlHeader byte, data []byte, pduLayer PDULayer) error
}

// PDULayer interface for DIMSE layer to communicate with PDU layer
type PDULayer interface {
	SendDIMSEResponseWithDataset(presContextID byte, commandData []byte, dataset []byte) error
	MessageContext(presContextID byte) MessageContext
}
