package client

import (
	"fmt"

	"github.com/caio-sobreiro/dicomreceptor/types"
)

// CEchoResponse represents the result of a C-ECHO operation.
type CEchoResponse struct {
	Status    uint16
	MessageID uint16
}

// SendCEcho performs a DICOM C-ECHO (verification) request and returns the
// response status. A zero messageID picks the next one for the association.
func (a *Association) SendCEcho(messageID uint16) (*CEchoResponse, error) {
	presContextID, _, err := a.GetPresentationContextID(types.VerificationSOPClass)
	if err != nil {
		return nil, err
	}

	command := &types.Message{
		CommandField:        types.CEchoRQ,
		MessageID:           a.messageID(messageID),
		CommandDataSetType:  types.NoDataSet,
		AffectedSOPClassUID: types.VerificationSOPClass,
	}

	msg, err := a.roundTrip(presContextID, command, nil)
	if err != nil {
		return nil, fmt.Errorf("C-ECHO failed: %w", err)
	}
	if msg.CommandField != types.CEchoRSP {
		return nil, fmt.Errorf("unexpected command: 0x%04x (expected C-ECHO-RSP)", msg.CommandField)
	}

	return &CEchoResponse{
		Status:    msg.Status,
		MessageID: msg.MessageIDBeingRespondedTo,
	}, nil
}
