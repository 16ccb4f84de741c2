package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/caio-sobreiro/dicomreceptor/types"
)

func TestCStoreResponse(t *testing.T) {
	req := &types.Message{
		CommandField:           types.CStoreRQ,
		MessageID:              3,
		AffectedSOPClassUID:    types.MRImageStorage,
		AffectedSOPInstanceUID: "1.2.3",
	}

	t.Run("defaults to request instance", func(t *testing.T) {
		resp := NewCStoreResponse(req, types.StatusSuccess)

		assert.Equal(t, uint16(types.CStoreRSP), resp.CommandField)
		assert.Equal(t, uint16(3), resp.MessageIDBeingRespondedTo)
		assert.Equal(t, types.MRImageStorage, resp.AffectedSOPClassUID)
		assert.Equal(t, "1.2.3", resp.AffectedSOPInstanceUID)
		assert.Equal(t, uint16(types.NoDataSet), resp.CommandDataSetType)
	})

	t.Run("explicit instance", func(t *testing.T) {
		resp := NewResponseBuilder(req).CStoreResponse(types.StatusStoreDirectoryFailure, "9.9.9")

		assert.Equal(t, "9.9.9", resp.AffectedSOPInstanceUID)
		assert.Equal(t, types.MRImageStorage, resp.AffectedSOPClassUID)
		assert.Equal(t, uint16(types.StatusStoreDirectoryFailure), resp.Status)
	})
}

func TestCEchoResponse(t *testing.T) {
	resp := NewCEchoResponse(&types.Message{CommandField: types.CEchoRQ, MessageID: 8}, types.StatusSuccess)

	assert.Equal(t, uint16(types.CEchoRSP), resp.CommandField)
	assert.Equal(t, uint16(8), resp.MessageIDBeingRespondedTo)
	assert.Equal(t, types.VerificationSOPClass, resp.AffectedSOPClassUID)
	assert.Equal(t, uint16(types.StatusSuccess), resp.Status)
}
