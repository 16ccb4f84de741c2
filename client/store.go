package client

import (
	"fmt"
	"time"

	"github.com/caio-sobreiro/dicomreceptor/dicom"
	"github.com/caio-sobreiro/dicomreceptor/dimse"
	"github.com/caio-sobreiro/dicomreceptor/types"
)

// CStoreRequest represents a C-STORE request. Data must already be encoded
// in the transfer syntax negotiated for SOPClassUID.
type CStoreRequest struct {
	SOPClassUID    string
	SOPInstanceUID string
	Data           []byte
	MessageID      uint16
}

// CStoreResponse represents a C-STORE response
type CStoreResponse struct {
	Status         uint16
	MessageID      uint16
	SOPClassUID    string
	SOPInstanceUID string
	ErrorComment   string
}

// NewCStoreRequestFromFile builds a request from a Part 10 file. It returns
// the transfer syntax the dataset is encoded in, which must be negotiated
// for the request's SOP class.
func NewCStoreRequestFromFile(data []byte) (*CStoreRequest, string, error) {
	meta, dataset, err := dicom.ReadPart10(data)
	if err != nil {
		return nil, "", err
	}
	if meta.MediaStorageSOPClassUID == "" || meta.MediaStorageSOPInstanceUID == "" {
		return nil, "", fmt.Errorf("file meta lacks SOP class or instance UID")
	}
	return &CStoreRequest{
		SOPClassUID:    meta.MediaStorageSOPClassUID,
		SOPInstanceUID: meta.MediaStorageSOPInstanceUID,
		Data:           dataset,
	}, meta.TransferSyntaxUID, nil
}

// SendCStore sends a C-STORE request and waits for response
func (a *Association) SendCStore(req *CStoreRequest) (*CStoreResponse, error) {
	presContextID, transferSyntax, err := a.GetPresentationContextID(req.SOPClassUID)
	if err != nil {
		return nil, err
	}

	command := &types.Message{
		CommandField:           types.CStoreRQ,
		MessageID:              a.messageID(req.MessageID),
		CommandDataSetType:     types.DataSetPresent,
		AffectedSOPClassUID:    req.SOPClassUID,
		AffectedSOPInstanceUID: req.SOPInstanceUID,
	}

	start := time.Now()
	msg, err := a.roundTrip(presContextID, command, req.Data)
	if err != nil {
		return nil, fmt.Errorf("C-STORE failed: %w", err)
	}
	if msg.CommandField != types.CStoreRSP {
		return nil, fmt.Errorf("unexpected command: 0x%04x (expected C-STORE-RSP)", msg.CommandField)
	}

	a.logger.Debug("C-STORE completed",
		"sop_class", req.SOPClassUID,
		"sop_instance", req.SOPInstanceUID,
		"transfer_syntax", transferSyntax,
		"data_size", len(req.Data),
		"status", fmt.Sprintf("0x%04X", msg.Status),
		"duration", time.Since(start))

	return &CStoreResponse{
		Status:         msg.Status,
		MessageID:      msg.MessageIDBeingRespondedTo,
		SOPClassUID:    msg.AffectedSOPClassUID,
		SOPInstanceUID: msg.AffectedSOPInstanceUID,
		ErrorComment:   msg.ErrorComment,
	}, nil
}

// roundTrip sends a request and waits for the single response to it.
func (a *Association) roundTrip(presContextID byte, command *types.Message, dataset []byte) (*types.Message, error) {
	commandData, err := dimse.EncodeCommand(command)
	if err != nil {
		return nil, fmt.Errorf("failed to encode command: %w", err)
	}

	if err := a.write(func() error {
		return dimse.SendDIMSEMessage(a.conn, presContextID, a.peerMaxPDULength, commandData, dataset)
	}); err != nil {
		return nil, err
	}

	if a.readTimeout > 0 {
		if err := a.conn.SetReadDeadline(time.Now().Add(a.readTimeout)); err != nil {
			return nil, err
		}
	}
	msg, _, err := dimse.ReceiveDIMSEMessage(a.conn)
	if err != nil {
		return nil, err
	}
	if msg.MessageIDBeingRespondedTo != command.MessageID {
		return nil, fmt.Errorf("response to message %d, expected %d", msg.MessageIDBeingRespondedTo, command.MessageID)
	}
	return msg, nil
}
