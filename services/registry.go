package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/caio-sobreiro/dicomreceptor/interfaces"
	"github.com/caio-sobreiro/dicomreceptor/metrics"
	"github.com/caio-sobreiro/dicomreceptor/types"
)

// Registry manages DICOM service handlers and routes incoming DIMSE messages.
//
// The registry acts as a dispatcher, routing DIMSE messages to the appropriate
// service handler based on the command field. Requests for commands without a
// handler are answered with status 0x0211 (unrecognized operation) instead of
// failing the association.
//
// Example usage:
//
//	registry := services.NewRegistry(logger)
//	registry.RegisterHandler(types.CEchoRQ, services.NewEchoService(logger))
//	registry.RegisterHandler(types.CStoreRQ, services.NewStoreService(store, logger))
//
//	// In the DIMSE layer:
//	response, data, err := registry.HandleDIMSE(ctx, msg, data, meta)
type Registry struct {
	handlers map[uint16]interfaces.ServiceHandler
	logger   *slog.Logger
}

// NewRegistry creates a new service registry.
//
// Returns an empty registry. Use RegisterHandler to add service handlers.
// A nil logger falls back to slog.Default().
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		handlers: make(map[uint16]interfaces.ServiceHandler),
		logger:   logger,
	}
}

// RegisterHandler registers a service handler for a specific DIMSE command.
//
// Only one handler can be registered per command field; calling
// RegisterHandler again with the same command replaces the previous handler.
// Handlers must be registered before the registry starts serving.
//
// Parameters:
//   - commandField: The DIMSE request command field (e.g., types.CEchoRQ)
//   - handler: The service handler that will process messages for this command
func (r *Registry) RegisterHandler(commandField uint16, handler interfaces.ServiceHandler) {
	r.handlers[commandField] = handler
}

// UnregisterHandler removes a service handler for a specific DIMSE command.
//
// After unregistering, messages with this command field are answered with an
// unrecognized operation status.
func (r *Registry) UnregisterHandler(commandField uint16) {
	delete(r.handlers, commandField)
}

// HandleDIMSE routes DIMSE messages to the appropriate service handler.
//
// Parameters:
//   - ctx: Context for cancellation and request tracking
//   - msg: The incoming DIMSE command message
//   - data: The optional dataset associated with the message
//   - meta: The association and presentation context the message arrived on
//
// Returns:
//   - Response DIMSE message (nil when nothing should be sent)
//   - Response dataset (if any)
//   - Error if the handler fails in a way that should end the association
func (r *Registry) HandleDIMSE(ctx context.Context, msg *types.Message, data []byte, meta interfaces.MessageContext) (*types.Message, []byte, error) {
	command := types.CommandName(msg.CommandField)
	r.logger.DebugContext(ctx, "Routing DIMSE message",
		"command_field", fmt.Sprintf("0x%04x", msg.CommandField),
		"message_id", msg.MessageID,
		"association_id", meta.AssociationID)

	if msg.IsResponse() {
		r.logger.WarnContext(ctx, "Ignoring unsolicited DIMSE response",
			"command_field", fmt.Sprintf("0x%04x", msg.CommandField),
			"calling_ae", meta.CallingAETitle)
		return nil, nil, nil
	}

	handler, ok := r.handlers[msg.CommandField]
	if !ok {
		r.logger.WarnContext(ctx, "No handler registered for DIMSE command",
			"command_field", fmt.Sprintf("0x%04x", msg.CommandField),
			"calling_ae", meta.CallingAETitle)
		metrics.RecordDIMSE(command, types.StatusUnrecognizedOperation, 0)
		return CreateErrorResponse(msg, types.StatusUnrecognizedOperation), nil, nil
	}

	start := time.Now()
	response, responseData, err := handler.HandleDIMSE(ctx, msg, data, meta)
	if err != nil {
		return nil, nil, err
	}
	if response != nil {
		metrics.RecordDIMSE(command, response.Status, time.Since(start))
	}
	return response, responseData, nil
}

// HasHandler returns true if a handler is registered for the given command field.
func (r *Registry) HasHandler(commandField uint16) bool {
	_, ok := r.handlers[commandField]
	return ok
}

// RegisteredCommands returns the command fields that have handlers
// registered, in ascending order.
func (r *Registry) RegisteredCommands() []uint16 {
	commands := make([]uint16, 0, len(r.handlers))
	for cmd := range r.handlers {
		commands = append(commands, cmd)
	}
	sort.Slice(commands, func(i, j int) bool { return commands[i] < commands[j] })
	return commands
}

// HealthCheck reports the first failing health check among the registered
// handlers that implement interfaces.HealthChecker.
func (r *Registry) HealthCheck(ctx context.Context) error {
	for _, cmd := range r.RegisteredCommands() {
		if hc, ok := r.handlers[cmd].(interfaces.HealthChecker); ok {
			if err := hc.HealthCheck(ctx); err != nil {
				return fmt.Errorf("%s handler: %w", types.CommandName(cmd), err)
			}
		}
	}
	return nil
}

// CreateErrorResponse creates a standard DIMSE error response message.
//
// The response carries the matching response command field, the message ID
// being responded to, the affected SOP class and instance of the request and
// the specified status code. It never has a dataset.
func CreateErrorResponse(req *types.Message, status uint16) *types.Message {
	return &types.Message{
		CommandField:              types.ResponseCommandFor(req.CommandField),
		MessageIDBeingRespondedTo: req.MessageID,
		AffectedSOPClassUID:       req.AffectedSOPClassUID,
		AffectedSOPInstanceUID:    req.AffectedSOPInstanceUID,
		CommandDataSetType:        types.NoDataSet,
		Status:                    status,
	}
}
