package types

// DIMSE Command types
const (
	CStoreRQ  = 0x0001
	CStoreRSP = 0x8001
	CGetRQ    = 0x0010
	CGetRSP   = 0x8010
	CFindRQ   = 0x0020
	CFindRSP  = 0x8020
	CMoveRQ   = 0x0021
	CMoveRSP  = 0x8021
	CEchoRQ   = 0x0030
	CEchoRSP  = 0x8030
	CCancelRQ = 0x0FFF
)

// CommandDataSetType values. Any value other than NoDataSet signals that a
// dataset follows the command.
const (
	DataSetPresent = 0x0000
	NoDataSet      = 0x0101
)

// DIMSE Status codes
const (
	StatusSuccess                = 0x0000
	StatusPending                = 0xFF00
	StatusFailure                = 0xC000
	StatusUnrecognizedOperation  = 0x0211
	StatusSOPClassNotSupported   = 0x0122
	StatusStoreDirectoryFailure  = 0xC001
	StatusStoreWriteFailure      = 0xC002
	StatusStoreUnexpectedFailure = 0xC003
)

// Message represents a parsed DIMSE command
type Message struct {
	CommandField              uint16
	MessageID                 uint16
	AffectedSOPClassUID       string
	AffectedSOPInstanceUID    string
	RequestedSOPClassUID      string
	Priority                  uint16
	CommandDataSetType        uint16
	Status                    uint16
	MessageIDBeingRespondedTo uint16
	MoveOriginatorAETitle     string
	MoveOriginatorMessageID   uint16
	ErrorComment              string
}

// HasDataSet reports whether a dataset follows this command.
func (m *Message) HasDataSet() bool {
	return m.CommandDataSetType != NoDataSet
}

// IsResponse reports whether the command field denotes a response.
func (m *Message) IsResponse() bool {
	return m.CommandField&0x8000 != 0
}

// ResponseCommandFor maps a DIMSE request command to its corresponding response command.
func ResponseCommandFor(request uint16) uint16 {
	switch request {
	case CStoreRQ:
		return CStoreRSP
	case CGetRQ:
		return CGetRSP
	case CFindRQ:
		return CFindRSP
	case CMoveRQ:
		return CMoveRSP
	case CEchoRQ:
		return CEchoRSP
	default:
		return request | 0x8000
	}
}

// CommandName returns a short printable name for a command field.
func CommandName(cmd uint16) string {
	switch cmd {
	case CStoreRQ:
		return "C-STORE-RQ"
	case CStoreRSP:
		return "C-STORE-RSP"
	case CGetRQ:
		return "C-GET-RQ"
	case CFindRQ:
		return "C-FIND-RQ"
	case CMoveRQ:
		return "C-MOVE-RQ"
	case CEchoRQ:
		return "C-ECHO-RQ"
	case CEchoRSP:
		return "C-ECHO-RSP"
	case CCancelRQ:
		return "C-CANCEL-RQ"
	default:
		return "UNKNOWN"
	}
}
