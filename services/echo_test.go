package services

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caio-sobreiro/dicomreceptor/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEchoService_HandleDIMSE(t *testing.T) {
	tests := []struct {
		name string
		msg  *types.Message
	}{
		{
			name: "Basic C-ECHO request",
			msg: &types.Message{
				CommandField:        types.CEchoRQ,
				MessageID:           1,
				AffectedSOPClassUID: types.VerificationSOPClass,
				CommandDataSetType:  types.NoDataSet,
			},
		},
		{
			name: "C-ECHO without affected SOP class",
			msg: &types.Message{
				CommandField:       types.CEchoRQ,
				MessageID:          42,
				CommandDataSetType: types.NoDataSet,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var logs bytes.Buffer
			service := NewEchoService(slog.New(slog.NewTextHandler(&logs, nil)))

			resp, data, err := service.HandleDIMSE(context.Background(), tt.msg, nil, testMeta())

			require.NoError(t, err)
			assert.Nil(t, data)
			assert.Equal(t, uint16(types.CEchoRSP), resp.CommandField)
			assert.Equal(t, tt.msg.MessageID, resp.MessageIDBeingRespondedTo)
			assert.Equal(t, types.VerificationSOPClass, resp.AffectedSOPClassUID)
			assert.Equal(t, uint16(types.StatusSuccess), resp.Status)
			assert.False(t, resp.HasDataSet())
			assert.Contains(t, logs.String(), "level=INFO")
			assert.Contains(t, logs.String(), "C-ECHO request received")
		})
	}
}

func TestEchoService_HealthCheck(t *testing.T) {
	assert.NoError(t, NewEchoService(nil).HealthCheck(context.Background()))
}
