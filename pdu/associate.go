package pdu

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/caio-sobreiro/dicomreceptor/types"
)

// Variable item types of A-ASSOCIATE-RQ/AC.
const (
	itemApplicationContext    = 0x10
	itemPresentationContextRQ = 0x20
	itemPresentationContextAC = 0x21
	itemAbstractSyntax        = 0x30
	itemTransferSyntax        = 0x40
	itemUserInformation       = 0x50
	itemMaxLength             = 0x51
	itemImplementationClass   = 0x52
	itemImplementationVersion = 0x55
)

const fixedFieldsLength = 68

// Presentation context results carried in an A-ASSOCIATE-AC.
const (
	ResultAcceptance           byte = 0x00
	ResultUserRejection        byte = 0x01
	ResultNoReason             byte = 0x02
	ResultAbstractSyntaxReject byte = 0x03
	ResultTransferSyntaxReject byte = 0x04
)

// ProposedContext is one presentation context of an A-ASSOCIATE-RQ.
type ProposedContext struct {
	ID               byte
	AbstractSyntax   string
	TransferSyntaxes []string
}

// PresentationContext represents a negotiated presentation context
type PresentationContext struct {
	ID             byte
	Result         byte
	AbstractSyntax string
	TransferSyntax string
}

// Accepted reports whether the context may carry DIMSE messages.
func (pc *PresentationContext) Accepted() bool {
	return pc.Result == ResultAcceptance
}

// UserInformation holds the negotiated user information sub-items.
type UserInformation struct {
	MaxPDULength              uint32
	ImplementationClassUID    string
	ImplementationVersionName string
}

// AssociateRQ is the decoded variable field of an A-ASSOCIATE-RQ.
type AssociateRQ struct {
	CalledAETitle        string
	CallingAETitle       string
	ApplicationContext   string
	PresentationContexts []ProposedContext
	UserInformation
}

// AssociateAC is the decoded variable field of an A-ASSOCIATE-AC.
type AssociateAC struct {
	CalledAETitle        string
	CallingAETitle       string
	PresentationContexts []PresentationContext
	UserInformation
}

func normalizeUID(raw []byte) string {
	return strings.TrimRight(string(raw), "\x00 ")
}

func aeTitle(raw []byte) string {
	s := string(raw)
	if idx := strings.IndexByte(s, 0); idx != -1 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

func appendItem(buf []byte, itemType byte, value []byte) []byte {
	buf = append(buf, itemType, 0x00)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(value)))
	return append(buf, value...)
}

func appendFixedFields(buf []byte, called, calling string) []byte {
	buf = binary.BigEndian.AppendUint16(buf, 0x0001)
	buf = append(buf, 0x00, 0x00)
	buf = append(buf, fmt.Sprintf("%-16.16s", called)...)
	buf = append(buf, fmt.Sprintf("%-16.16s", calling)...)
	return append(buf, make([]byte, 32)...)
}

func (u UserInformation) encode() []byte {
	var sub []byte
	sub = appendItem(sub, itemMaxLength, binary.BigEndian.AppendUint32(nil, u.MaxPDULength))
	implClass, implVersion := u.ImplementationClassUID, u.ImplementationVersionName
	if implClass == "" {
		implClass, implVersion = types.ImplementationClassUID, types.ImplementationVersionName
	}
	sub = appendItem(sub, itemImplementationClass, []byte(implClass))
	if implVersion != "" {
		sub = appendItem(sub, itemImplementationVersion, []byte(implVersion))
	}
	return appendItem(nil, itemUserInformation, sub)
}

// walkItems calls fn for every item in data, failing on items that overrun.
func walkItems(data []byte, fn func(itemType byte, value []byte) error) error {
	offset := 0
	for offset+4 <= len(data) {
		itemType := data[offset]
		length := int(binary.BigEndian.Uint16(data[offset+2:]))
		end := offset + 4 + length
		if end > len(data) {
			return fmt.Errorf("item 0x%02x exceeds PDU length", itemType)
		}
		if err := fn(itemType, data[offset+4:end]); err != nil {
			return err
		}
		offset = end
	}
	return nil
}

func parseUserInformation(data []byte) (UserInformation, error) {
	var u UserInformation
	err := walkItems(data, func(itemType byte, value []byte) error {
		switch itemType {
		case itemMaxLength:
			if len(value) == 4 {
				u.MaxPDULength = binary.BigEndian.Uint32(value)
			}
		case itemImplementationClass:
			u.ImplementationClassUID = normalizeUID(value)
		case itemImplementationVersion:
			u.ImplementationVersionName = strings.TrimSpace(string(value))
		}
		return nil
	})
	return u, err
}

// Encode returns the A-ASSOCIATE-RQ variable field.
func (rq *AssociateRQ) Encode() []byte {
	buf := appendFixedFields(make([]byte, 0, 512), rq.CalledAETitle, rq.CallingAETitle)

	appContext := rq.ApplicationContext
	if appContext == "" {
		appContext = types.ApplicationContextUID
	}
	buf = appendItem(buf, itemApplicationContext, []byte(appContext))

	for _, pc := range rq.PresentationContexts {
		sub := []byte{pc.ID, 0x00, 0x00, 0x00}
		sub = appendItem(sub, itemAbstractSyntax, []byte(pc.AbstractSyntax))
		for _, ts := range pc.TransferSyntaxes {
			sub = appendItem(sub, itemTransferSyntax, []byte(ts))
		}
		buf = appendItem(buf, itemPresentationContextRQ, sub)
	}

	return append(buf, rq.UserInformation.encode()...)
}

// ParseAssociateRQ decodes an A-ASSOCIATE-RQ variable field.
func ParseAssociateRQ(data []byte) (*AssociateRQ, error) {
	if len(data) < fixedFieldsLength {
		return nil, fmt.Errorf("association request too short: %d bytes", len(data))
	}

	rq := &AssociateRQ{
		CalledAETitle:  aeTitle(data[4:20]),
		CallingAETitle: aeTitle(data[20:36]),
	}

	err := walkItems(data[fixedFieldsLength:], func(itemType byte, value []byte) error {
		switch itemType {
		case itemApplicationContext:
			rq.ApplicationContext = normalizeUID(value)
		case itemPresentationContextRQ:
			pc, err := parseProposedContext(value)
			if err != nil {
				return err
			}
			rq.PresentationContexts = append(rq.PresentationContexts, pc)
		case itemUserInformation:
			u, err := parseUserInformation(value)
			if err != nil {
				return err
			}
			rq.UserInformation = u
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rq, nil
}

func parseProposedContext(data []byte) (ProposedContext, error) {
	if len(data) < 4 {
		return ProposedContext{}, fmt.Errorf("presentation context too short: %d", len(data))
	}
	pc := ProposedContext{ID: data[0]}
	err := walkItems(data[4:], func(itemType byte, value []byte) error {
		switch itemType {
		case itemAbstractSyntax:
			pc.AbstractSyntax = normalizeUID(value)
		case itemTransferSyntax:
			pc.TransferSyntaxes = append(pc.TransferSyntaxes, normalizeUID(value))
		}
		return nil
	})
	if err != nil {
		return ProposedContext{}, fmt.Errorf("presentation context %d: %w", pc.ID, err)
	}
	return pc, nil
}

// Encode returns the A-ASSOCIATE-AC variable field.
func (ac *AssociateAC) Encode() []byte {
	buf := appendFixedFields(make([]byte, 0, 512), ac.CalledAETitle, ac.CallingAETitle)
	buf = appendItem(buf, itemApplicationContext, []byte(types.ApplicationContextUID))

	for _, pc := range ac.PresentationContexts {
		sub := []byte{pc.ID, 0x00, pc.Result, 0x00}
		if pc.TransferSyntax != "" {
			sub = appendItem(sub, itemTransferSyntax, []byte(pc.TransferSyntax))
		}
		buf = appendItem(buf, itemPresentationContextAC, sub)
	}

	return append(buf, ac.UserInformation.encode()...)
}

// ParseAssociateAC decodes an A-ASSOCIATE-AC variable field.
func ParseAssociateAC(data []byte) (*AssociateAC, error) {
	if len(data) < fixedFieldsLength {
		return nil, fmt.Errorf("association accept too short: %d bytes", len(data))
	}

	ac := &AssociateAC{
		CalledAETitle:  aeTitle(data[4:20]),
		CallingAETitle: aeTitle(data[20:36]),
	}

	err := walkItems(data[fixedFieldsLength:], func(itemType byte, value []byte) error {
		switch itemType {
		case itemPresentationContextAC:
			if len(value) < 4 {
				return fmt.Errorf("presentation context result too short: %d", len(value))
			}
			pc := PresentationContext{ID: value[0], Result: value[2]}
			if err := walkItems(value[4:], func(subType byte, subValue []byte) error {
				if subType == itemTransferSyntax {
					pc.TransferSyntax = normalizeUID(subValue)
				}
				return nil
			}); err != nil {
				return err
			}
			ac.PresentationContexts = append(ac.PresentationContexts, pc)
		case itemUserInformation:
			u, err := parseUserInformation(value)
			if err != nil {
				return err
			}
			ac.UserInformation = u
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ac, nil
}
