package dimse

import (
	"context"
	"fmt"
	"log/slog"

	dicomerrors "github.com/caio-sobreiro/dicomreceptor/errors"
	"github.com/caio-sobreiro/dicomreceptor/interfaces"
	"github.com/caio-sobreiro/dicomreceptor/types"
)

// Service reassembles DIMSE messages from PDV fragments for one association
// and routes complete messages to the service handler. It is not safe for
// concurrent use; the association layer feeds it from a single goroutine.
type Service struct {
	handler       interfaces.ServiceHandler
	commandData   []byte
	datasetData   []byte
	currentMsg    *types.Message
	presContextID byte
	logger        *slog.Logger
}

// NewService creates a new DIMSE service with a handler
func NewService(handler interfaces.ServiceHandler, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		handler: handler,
		logger:  logger,
	}
}

// HandleDIMSEMessage accumulates one PDV fragment and dispatches the message
// once the command, and the dataset if one is announced, are complete.
func (d *Service) HandleDIMSEMessage(ctx context.Context, presContextID byte, msgCtrlHeader byte, data []byte, pduLayer interfaces.PDULayer) error {
	isCommand := msgCtrlHeader&controlCommand != 0
	isLastFragment := msgCtrlHeader&controlLast != 0

	if isCommand {
		d.commandData = append(d.commandData, data...)
		if !isLastFragment {
			return nil
		}

		msg, err := DecodeCommand(d.commandData)
		d.commandData = nil
		if err != nil {
			return fmt.Errorf("failed to parse DIMSE command: %w", err)
		}
		d.currentMsg = msg
		d.presContextID = presContextID

		d.logger.DebugContext(ctx, "Received DIMSE command",
			"command", types.CommandName(msg.CommandField),
			"message_id", msg.MessageID,
			"context_id", presContextID)

		if !msg.HasDataSet() {
			return d.processCompleteMessage(ctx, pduLayer)
		}
		return nil
	}

	if d.currentMsg == nil {
		return fmt.Errorf("%w: dataset fragment received before its command", dicomerrors.ErrInvalidMessage)
	}
	if presContextID != d.presContextID {
		return fmt.Errorf("%w: dataset on presentation context %d, command on %d",
			dicomerrors.ErrInvalidMessage, presContextID, d.presContextID)
	}

	d.datasetData = append(d.datasetData, data...)
	if isLastFragment {
		return d.processCompleteMessage(ctx, pduLayer)
	}
	return nil
}

// processCompleteMessage processes a complete DIMSE message (command + optional dataset)
func (d *Service) processCompleteMessage(ctx context.Context, pduLayer interfaces.PDULayer) error {
	msg, dataset, presContextID := d.currentMsg, d.datasetData, d.presContextID
	d.currentMsg = nil
	d.datasetData = nil

	meta := pduLayer.MessageContext(presContextID)

	d.logger.DebugContext(ctx, "Processing complete DIMSE message",
		"command", types.CommandName(msg.CommandField),
		"message_id", msg.MessageID,
		"dataset_size", len(dataset),
		"transfer_syntax", meta.TransferSyntaxUID)

	responseMsg, responseData, err := d.handler.HandleDIMSE(ctx, msg, dataset, meta)
	if err != nil {
		return fmt.Errorf("service handler failed: %w", err)
	}
	if responseMsg == nil {
		return nil
	}

	commandData, err := EncodeCommand(responseMsg)
	if err != nil {
		return err
	}
	return pduLayer.SendDIMSEResponseWithDataset(presContextID, commandData, responseData)
}
