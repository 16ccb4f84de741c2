package dimse

import (
	"fmt"
	"io"

	dicomerrors "github.com/caio-sobreiro/dicomreceptor/errors"
	"github.com/caio-sobreiro/dicomreceptor/pdu"
	"github.com/caio-sobreiro/dicomreceptor/types"
)

// Connection interface for sending/receiving DICOM data
type Connection interface {
	io.ReadWriter
}

// PDV message control header bits.
const (
	controlCommand = 0x01
	controlLast    = 0x02
)

// SendDIMSEMessage sends a command and its optional dataset as P-DATA-TF
// PDUs no larger than maxPDULength. Zero means the peer imposes no limit.
func SendDIMSEMessage(conn Connection, presContextID byte, maxPDULength uint32, commandData []byte, datasetData []byte) error {
	if err := SendPDataTF(conn, presContextID, maxPDULength, commandData, true); err != nil {
		return err
	}
	if len(datasetData) > 0 {
		if err := SendPDataTF(conn, presContextID, maxPDULength, datasetData, false); err != nil {
			return err
		}
	}
	return nil
}

// SendPDataTF fragments data into one PDV per P-DATA-TF PDU, marking the
// final fragment as last.
func SendPDataTF(conn Connection, presContextID byte, maxPDULength uint32, data []byte, isCommand bool) error {
	return pdu.WritePDataTF(conn, presContextID, maxPDULength, data, isCommand)
}

// ReceiveDIMSEMessage reads P-DATA-TF PDUs until a complete DIMSE message
// (command and optional dataset) has arrived.
func ReceiveDIMSEMessage(conn Connection) (*types.Message, []byte, error) {
	var commandData []byte
	var datasetData []byte
	var currentMsg *types.Message
	datasetComplete := false

	for {
		p, err := pdu.ReadPDU(conn, 0)
		if err != nil {
			return nil, nil, err
		}

		switch p.Type {
		case pdu.TypePDataTF:
			pdvs, err := pdu.SplitPDVs(p.Data)
			if err != nil {
				return nil, nil, err
			}
			for _, pdv := range pdvs {
				if pdv.IsCommand() {
					commandData = append(commandData, pdv.Data...)
					if !pdv.IsLast() {
						continue
					}
					currentMsg, err = DecodeCommand(commandData)
					if err != nil {
						return nil, nil, fmt.Errorf("failed to decode command: %w", err)
					}
					continue
				}
				datasetData = append(datasetData, pdv.Data...)
				if pdv.IsLast() {
					datasetComplete = true
				}
			}
		case pdu.TypeAbort:
			source, reason := pdu.ParseAbort(p.Data)
			return nil, nil, dicomerrors.NewAbortError(source, reason)
		case pdu.TypeReleaseRQ:
			return nil, nil, fmt.Errorf("%w: peer requested release", dicomerrors.ErrConnectionClosed)
		default:
			return nil, nil, dicomerrors.NewPDUError(p.Type, "unexpected PDU while awaiting DIMSE message")
		}

		if currentMsg != nil && (!currentMsg.HasDataSet() || datasetComplete) {
			return currentMsg, datasetData, nil
		}
	}
}
