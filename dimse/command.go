package dimse

import (
	"encoding/binary"
	"fmt"
	"strings"

	dicomerrors "github.com/caio-sobreiro/dicomreceptor/errors"
	"github.com/caio-sobreiro/dicomreceptor/types"
)

// Command set element numbers (group 0000).
const (
	elemGroupLength               = 0x0000
	elemAffectedSOPClassUID       = 0x0002
	elemRequestedSOPClassUID      = 0x0003
	elemCommandField              = 0x0100
	elemMessageID                 = 0x0110
	elemMessageIDBeingRespondedTo = 0x0120
	elemPriority                  = 0x0700
	elemCommandDataSetType        = 0x0800
	elemStatus                    = 0x0900
	elemErrorComment              = 0x0902
	elemAffectedSOPInstanceUID    = 0x1000
	elemMoveOriginatorAETitle     = 0x1030
	elemMoveOriginatorMessageID   = 0x1031
)

// EncodeCommand encodes a DIMSE command message using Implicit VR Little Endian.
// Responses always carry a Status element, including success.
func EncodeCommand(msg *types.Message) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("%w: nil command", dicomerrors.ErrInvalidMessage)
	}

	buf := make([]byte, 0, 256)

	// Command Group Length (0000,0000), patched once the rest is encoded.
	buf = AppendImplicitElement(buf, 0x0000, elemGroupLength, make([]byte, 4))
	lengthPos := len(buf) - 4

	if msg.AffectedSOPClassUID != "" {
		buf = AppendImplicitElement(buf, 0x0000, elemAffectedSOPClassUID, padUID(msg.AffectedSOPClassUID))
	}
	if msg.RequestedSOPClassUID != "" {
		buf = AppendImplicitElement(buf, 0x0000, elemRequestedSOPClassUID, padUID(msg.RequestedSOPClassUID))
	}

	buf = AppendImplicitElement(buf, 0x0000, elemCommandField, us(msg.CommandField))

	if msg.MessageID != 0 {
		buf = AppendImplicitElement(buf, 0x0000, elemMessageID, us(msg.MessageID))
	}
	if msg.MessageIDBeingRespondedTo != 0 {
		buf = AppendImplicitElement(buf, 0x0000, elemMessageIDBeingRespondedTo, us(msg.MessageIDBeingRespondedTo))
	}
	if !msg.IsResponse() && (msg.CommandField == types.CStoreRQ || msg.Priority != 0) {
		buf = AppendImplicitElement(buf, 0x0000, elemPriority, us(msg.Priority))
	}

	buf = AppendImplicitElement(buf, 0x0000, elemCommandDataSetType, us(msg.CommandDataSetType))

	if msg.IsResponse() || msg.Status != 0 {
		buf = AppendImplicitElement(buf, 0x0000, elemStatus, us(msg.Status))
	}
	if msg.ErrorComment != "" {
		buf = AppendImplicitElement(buf, 0x0000, elemErrorComment, padText(msg.ErrorComment))
	}
	if msg.AffectedSOPInstanceUID != "" {
		buf = AppendImplicitElement(buf, 0x0000, elemAffectedSOPInstanceUID, padUID(msg.AffectedSOPInstanceUID))
	}
	if msg.MoveOriginatorAETitle != "" {
		buf = AppendImplicitElement(buf, 0x0000, elemMoveOriginatorAETitle, padText(msg.MoveOriginatorAETitle))
		buf = AppendImplicitElement(buf, 0x0000, elemMoveOriginatorMessageID, us(msg.MoveOriginatorMessageID))
	}

	binary.LittleEndian.PutUint32(buf[lengthPos:], uint32(len(buf)-lengthPos-4))
	return buf, nil
}

func us(v uint16) []byte {
	return binary.LittleEndian.AppendUint16(nil, v)
}

func padUID(uid string) []byte {
	b := []byte(uid)
	if len(b)%2 == 1 {
		b = append(b, 0x00)
	}
	return b
}

func padText(s string) []byte {
	b := []byte(s)
	if len(b)%2 == 1 {
		b = append(b, ' ')
	}
	return b
}

// AppendImplicitElement appends a DICOM element using Implicit VR (no VR field)
func AppendImplicitElement(buf []byte, group, element uint16, value []byte) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, group)
	buf = binary.LittleEndian.AppendUint16(buf, element)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(value)))
	return append(buf, value...)
}

// DecodeCommand decodes a DIMSE command set. A command without a Command
// Field element is rejected.
func DecodeCommand(data []byte) (*types.Message, error) {
	msg := &types.Message{
		CommandDataSetType: types.NoDataSet,
	}
	haveCommandField := false

	offset := 0
	for offset+8 <= len(data) {
		group := binary.LittleEndian.Uint16(data[offset:])
		element := binary.LittleEndian.Uint16(data[offset+2:])
		length := binary.LittleEndian.Uint32(data[offset+4:])

		end := offset + 8 + int(length)
		if end > len(data) || end < offset+8 {
			return nil, fmt.Errorf("%w: element (%04x,%04x) exceeds command length",
				dicomerrors.ErrInvalidMessage, group, element)
		}
		value := data[offset+8 : end]
		offset = end

		if group != 0x0000 {
			continue
		}

		switch element {
		case elemAffectedSOPClassUID:
			msg.AffectedSOPClassUID = trimUID(value)
		case elemRequestedSOPClassUID:
			msg.RequestedSOPClassUID = trimUID(value)
		case elemCommandField:
			if len(value) >= 2 {
				msg.CommandField = binary.LittleEndian.Uint16(value)
				haveCommandField = true
			}
		case elemMessageID:
			if len(value) >= 2 {
				msg.MessageID = binary.LittleEndian.Uint16(value)
			}
		case elemMessageIDBeingRespondedTo:
			if len(value) >= 2 {
				msg.MessageIDBeingRespondedTo = binary.LittleEndian.Uint16(value)
			}
		case elemPriority:
			if len(value) >= 2 {
				msg.Priority = binary.LittleEndian.Uint16(value)
			}
		case elemCommandDataSetType:
			if len(value) >= 2 {
				msg.CommandDataSetType = binary.LittleEndian.Uint16(value)
			}
		case elemStatus:
			if len(value) >= 2 {
				msg.Status = binary.LittleEndian.Uint16(value)
			}
		case elemErrorComment:
			msg.ErrorComment = trimUID(value)
		case elemAffectedSOPInstanceUID:
			msg.AffectedSOPInstanceUID = trimUID(value)
		case elemMoveOriginatorAETitle:
			msg.MoveOriginatorAETitle = trimUID(value)
		case elemMoveOriginatorMessageID:
			if len(value) >= 2 {
				msg.MoveOriginatorMessageID = binary.LittleEndian.Uint16(value)
			}
		}
	}

	if !haveCommandField {
		return nil, fmt.Errorf("%w: missing command field", dicomerrors.ErrInvalidMessage)
	}
	return msg, nil
}

func trimUID(value []byte) string {
	return strings.TrimRight(string(value), "\x00 ")
}
