package pdu

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	dicomerrors "github.com/caio-sobreiro/dicomreceptor/errors"
)

// PDU types
const (
	TypeAssociateRQ = 0x01
	TypeAssociateAC = 0x02
	TypeAssociateRJ = 0x03
	TypePDataTF     = 0x04
	TypeReleaseRQ   = 0x05
	TypeReleaseRP   = 0x06
	TypeAbort       = 0x07
)

// MaxAssociateRQLength bounds the A-ASSOCIATE-RQ read before a maximum PDU
// length has been negotiated.
const MaxAssociateRQLength = 64 * 1024

// A-ABORT sources
const (
	AbortSourceServiceUser     byte = 0x00
	AbortSourceServiceProvider byte = 0x02
)

// PDU represents a Protocol Data Unit
type PDU struct {
	Type   byte
	Length uint32
	Data   []byte
}

// ReadPDU reads one PDU. A non-zero maxLength bounds the variable field.
func ReadPDU(r io.Reader, maxLength uint32) (*PDU, error) {
	header := make([]byte, 6)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	pduType := header[0]
	if pduType < TypeAssociateRQ || pduType > TypeAbort {
		return nil, dicomerrors.NewPDUError(pduType, "unknown PDU type")
	}
	pduLength := binary.BigEndian.Uint32(header[2:6])
	if maxLength > 0 && pduLength > maxLength {
		return nil, dicomerrors.NewPDUError(pduType, fmt.Sprintf("length %d exceeds maximum %d", pduLength, maxLength))
	}

	// The buffer grows with the bytes that arrive, not with the declared length.
	var body bytes.Buffer
	if n, err := io.CopyN(&body, r, int64(pduLength)); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("failed to read PDU data (%d of %d bytes): %w", n, pduLength, err)
	}

	return &PDU{
		Type:   pduType,
		Length: pduLength,
		Data:   body.Bytes(),
	}, nil
}

// WritePDU writes a PDU header followed by its variable field in one write.
func WritePDU(w io.Writer, pduType byte, data []byte) error {
	buf := make([]byte, 0, 6+len(data))
	buf = append(buf, pduType, 0x00)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(data)))
	buf = append(buf, data...)
	_, err := w.Write(buf)
	return err
}

// PDV is one presentation data value item of a P-DATA-TF.
type PDV struct {
	ContextID     byte
	ControlHeader byte
	Data          []byte
}

// IsCommand reports whether the PDV carries command set bytes.
func (p PDV) IsCommand() bool { return p.ControlHeader&0x01 != 0 }

// IsLast reports whether the PDV is the last fragment of its command or dataset.
func (p PDV) IsLast() bool { return p.ControlHeader&0x02 != 0 }

// SplitPDVs returns every PDV item in a P-DATA-TF variable field.
func SplitPDVs(data []byte) ([]PDV, error) {
	var pdvs []PDV
	offset := 0
	for offset < len(data) {
		if offset+6 > len(data) {
			return nil, dicomerrors.NewPDUError(TypePDataTF, "truncated PDV header")
		}
		itemLength := binary.BigEndian.Uint32(data[offset:])
		end := offset + 4 + int(itemLength)
		if itemLength < 2 || end > len(data) {
			return nil, dicomerrors.NewPDUError(TypePDataTF, fmt.Sprintf("PDV length %d exceeds PDU", itemLength))
		}
		pdvs = append(pdvs, PDV{
			ContextID:     data[offset+4],
			ControlHeader: data[offset+5],
			Data:          data[offset+6 : end],
		})
		offset = end
	}
	if len(pdvs) == 0 {
		return nil, dicomerrors.NewPDUError(TypePDataTF, "P-DATA-TF without PDV items")
	}
	return pdvs, nil
}

// WritePDataTF sends data as a sequence of single-PDV P-DATA-TF PDUs whose
// variable field does not exceed maxPDULength (zero for no limit).
func WritePDataTF(w io.Writer, presContextID byte, maxPDULength uint32, data []byte, isCommand bool) error {
	// item length (4) + context ID (1) + control header (1)
	maxFragment := len(data)
	if maxPDULength > 0 {
		maxFragment = int(maxPDULength) - 6
		if maxFragment <= 0 {
			return fmt.Errorf("max PDU length %d too small", maxPDULength)
		}
	}

	offset := 0
	for {
		chunk := len(data) - offset
		last := true
		if chunk > maxFragment {
			chunk = maxFragment
			last = false
		}

		control := byte(0)
		if isCommand {
			control |= 0x01
		}
		if last {
			control |= 0x02
		}

		item := make([]byte, 0, 6+chunk)
		item = binary.BigEndian.AppendUint32(item, uint32(chunk+2))
		item = append(item, presContextID, control)
		item = append(item, data[offset:offset+chunk]...)
		if err := WritePDU(w, TypePDataTF, item); err != nil {
			return fmt.Errorf("failed to write PDU: %w", err)
		}

		offset += chunk
		if last {
			return nil
		}
	}
}

// ParseAbort returns the source and reason of an A-ABORT variable field.
func ParseAbort(data []byte) (source, reason byte) {
	if len(data) >= 4 {
		return data[2], data[3]
	}
	return 0, 0
}

// WriteAbort sends an A-ABORT PDU.
func WriteAbort(w io.Writer, source, reason byte) error {
	return WritePDU(w, TypeAbort, []byte{0x00, 0x00, source, reason})
}

// WriteReleaseRQ sends an A-RELEASE-RQ PDU.
func WriteReleaseRQ(w io.Writer) error {
	return WritePDU(w, TypeReleaseRQ, make([]byte, 4))
}

// WriteReleaseRP sends an A-RELEASE-RP PDU.
func WriteReleaseRP(w io.Writer) error {
	return WritePDU(w, TypeReleaseRP, make([]byte, 4))
}

// WriteAssociateRJ sends an A-ASSOCIATE-RJ PDU describing rej.
func WriteAssociateRJ(w io.Writer, rej *dicomerrors.AssociationError) error {
	return WritePDU(w, TypeAssociateRJ, []byte{0x00, byte(rej.Result), byte(rej.Source), byte(rej.Reason)})
}

// ParseAssociateRJ converts an A-ASSOCIATE-RJ variable field into an error.
func ParseAssociateRJ(data []byte) *dicomerrors.AssociationError {
	if len(data) < 4 {
		return dicomerrors.NewAssociationError(dicomerrors.RejectResultPermanent,
			dicomerrors.RejectSourceServiceUser, dicomerrors.RejectReasonNoReasonGiven, "malformed A-ASSOCIATE-RJ")
	}
	return dicomerrors.NewAssociationError(
		dicomerrors.AssociationRejectResult(data[1]),
		dicomerrors.AssociationRejectSource(data[2]),
		dicomerrors.AssociationRejectReason(data[3]),
		"rejected by peer")
}
