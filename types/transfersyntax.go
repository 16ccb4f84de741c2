package types

// Transfer syntax UIDs
const (
	ImplicitVRLittleEndian         = "1.2.840.10008.1.2"
	ExplicitVRLittleEndian         = "1.2.840.10008.1.2.1"
	DeflatedExplicitVRLittleEndian = "1.2.840.10008.1.2.1.99"
	ExplicitVRBigEndian            = "1.2.840.10008.1.2.2"

	JPEGBaseline8Bit   = "1.2.840.10008.1.2.4.50"
	JPEGExtended12Bit  = "1.2.840.10008.1.2.4.51"
	JPEGLossless       = "1.2.840.10008.1.2.4.57"
	JPEGLosslessSV1    = "1.2.840.10008.1.2.4.70"
	JPEGLSLossless     = "1.2.840.10008.1.2.4.80"
	JPEGLSNearLossless = "1.2.840.10008.1.2.4.81"
	JPEG2000Lossless   = "1.2.840.10008.1.2.4.90"
	JPEG2000           = "1.2.840.10008.1.2.4.91"
	MPEG2MainProfile   = "1.2.840.10008.1.2.4.100"
	MPEG4HighProfile   = "1.2.840.10008.1.2.4.102"
	HEVCMainProfile    = "1.2.840.10008.1.2.4.107"
	HTJ2KLossless      = "1.2.840.10008.1.2.4.201"
	HTJ2KLosslessRPCL  = "1.2.840.10008.1.2.4.202"
	HTJ2K              = "1.2.840.10008.1.2.4.203"
	RLELossless        = "1.2.840.10008.1.2.5"
)

// TransferSyntaxInfo describes how a transfer syntax encodes a dataset.
type TransferSyntaxInfo struct {
	UID          string
	Name         string
	ExplicitVR   bool
	BigEndian    bool
	Deflated     bool
	Encapsulated bool
	Lossless     bool
}

var transferSyntaxRegistry = map[string]TransferSyntaxInfo{}

func register(uid, name string, explicit, bigEndian, deflated, encapsulated, lossless bool) {
	transferSyntaxRegistry[uid] = TransferSyntaxInfo{
		UID:          uid,
		Name:         name,
		ExplicitVR:   explicit,
		BigEndian:    bigEndian,
		Deflated:     deflated,
		Encapsulated: encapsulated,
		Lossless:     lossless,
	}
}

func init() {
	register(ImplicitVRLittleEndian, "Implicit VR Little Endian", false, false, false, false, true)
	register(ExplicitVRLittleEndian, "Explicit VR Little Endian", true, false, false, false, true)
	register(DeflatedExplicitVRLittleEndian, "Deflated Explicit VR Little Endian", true, false, true, false, true)
	register(ExplicitVRBigEndian, "Explicit VR Big Endian", true, true, false, false, true)

	register(JPEGBaseline8Bit, "JPEG Baseline (Process 1)", true, false, false, true, false)
	register(JPEGExtended12Bit, "JPEG Extended (Process 2 & 4)", true, false, false, true, false)
	register(JPEGLossless, "JPEG Lossless, Non-Hierarchical (Process 14)", true, false, false, true, true)
	register(JPEGLosslessSV1, "JPEG Lossless, First-Order Prediction", true, false, false, true, true)
	register(JPEGLSLossless, "JPEG-LS Lossless", true, false, false, true, true)
	register(JPEGLSNearLossless, "JPEG-LS Near-Lossless", true, false, false, true, false)
	register(JPEG2000Lossless, "JPEG 2000 (Lossless Only)", true, false, false, true, true)
	register(JPEG2000, "JPEG 2000", true, false, false, true, false)
	register(MPEG2MainProfile, "MPEG2 Main Profile / Main Level", true, false, false, true, false)
	register(MPEG4HighProfile, "MPEG-4 AVC/H.264 High Profile", true, false, false, true, false)
	register(HEVCMainProfile, "HEVC/H.265 Main Profile", true, false, false, true, false)
	register(HTJ2KLossless, "HTJ2K (Lossless Only)", true, false, false, true, true)
	register(HTJ2KLosslessRPCL, "HTJ2K with RPCL Options (Lossless Only)", true, false, false, true, true)
	register(HTJ2K, "HTJ2K", true, false, false, true, false)
	register(RLELossless, "RLE Lossless", true, false, false, true, true)
}

// GetTransferSyntaxInfo returns information about a transfer syntax UID.
// The second result is false for syntaxes not in the registry.
func GetTransferSyntaxInfo(uid string) (TransferSyntaxInfo, bool) {
	info, ok := transferSyntaxRegistry[uid]
	if !ok {
		return TransferSyntaxInfo{UID: uid, Name: "Unknown"}, false
	}
	return info, true
}

// IsExplicitVR reports whether datasets in this syntax carry explicit VRs.
// Unknown syntaxes default to explicit VR little endian, the PS3.5 rule for
// private syntaxes.
func IsExplicitVR(uid string) bool {
	info, ok := GetTransferSyntaxInfo(uid)
	return !ok || info.ExplicitVR
}

// IsLossless returns true if the transfer syntax is lossless
func IsLossless(uid string) bool {
	info, ok := GetTransferSyntaxInfo(uid)
	return ok && info.Lossless
}

// IsStorable reports whether a dataset received in this transfer syntax can
// be inspected for identifying attributes and written to disk as received.
// Deflated and big endian encodings are excluded.
func IsStorable(uid string) bool {
	info, ok := GetTransferSyntaxInfo(uid)
	return ok && !info.BigEndian && !info.Deflated
}

// GetCommonTransferSyntaxes returns the syntaxes an SCU proposes by default.
func GetCommonTransferSyntaxes() []string {
	return []string{ExplicitVRLittleEndian, ImplicitVRLittleEndian}
}
