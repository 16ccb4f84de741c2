package dicom

import "fmt"

// Tag represents a DICOM tag (group, element)
type Tag struct {
	Group   uint16
	Element uint16
}

// String returns the tag as a string in (GGGG,EEEE) format
func (t Tag) String() string {
	return fmt.Sprintf("(%04x,%04x)", t.Group, t.Element)
}

// File meta information (group 0002)
var (
	TagFileMetaInformationGroupLength = Tag{0x0002, 0x0000}
	TagFileMetaInformationVersion     = Tag{0x0002, 0x0001}
	TagMediaStorageSOPClassUID        = Tag{0x0002, 0x0002}
	TagMediaStorageSOPInstanceUID     = Tag{0x0002, 0x0003}
	TagTransferSyntaxUID              = Tag{0x0002, 0x0010}
	TagImplementationClassUID         = Tag{0x0002, 0x0012}
	TagImplementationVersionName      = Tag{0x0002, 0x0013}
	TagSourceApplicationEntityTitle   = Tag{0x0002, 0x0016}
)

// Dataset attributes the receiver reads.
var (
	TagSpecificCharacterSet = Tag{0x0008, 0x0005}
	TagSOPClassUID          = Tag{0x0008, 0x0016}
	TagSOPInstanceUID       = Tag{0x0008, 0x0018}
	TagStudyDate            = Tag{0x0008, 0x0020}
	TagModality             = Tag{0x0008, 0x0060}
	TagPatientName          = Tag{0x0010, 0x0010}
	TagPatientID            = Tag{0x0010, 0x0020}
	TagStudyInstanceUID     = Tag{0x0020, 0x000D}
	TagSeriesInstanceUID    = Tag{0x0020, 0x000E}
	TagInstanceNumber       = Tag{0x0020, 0x0013}
	TagPixelData            = Tag{0x7FE0, 0x0010}
)

// Sequence item and delimitation tags. These carry no VR in any encoding.
var (
	TagItem                 = Tag{0xFFFE, 0xE000}
	TagItemDelimitation     = Tag{0xFFFE, 0xE00D}
	TagSequenceDelimitation = Tag{0xFFFE, 0xE0DD}
)

// implicitVRs covers the attributes read or written by this module. Other
// tags parse as UN under implicit VR.
var implicitVRs = map[Tag]string{
	TagSpecificCharacterSet: VR_CS,
	TagSOPClassUID:          VR_UI,
	TagSOPInstanceUID:       VR_UI,
	TagStudyDate:            VR_DA,
	{0x0008, 0x0030}:        VR_TM,
	{0x0008, 0x0050}:        VR_SH,
	TagModality:             VR_CS,
	{0x0008, 0x0090}:        VR_PN,
	{0x0008, 0x1030}:        VR_LO,
	{0x0008, 0x103E}:        VR_LO,
	{0x0008, 0x1110}:        VR_SQ,
	{0x0008, 0x1115}:        VR_SQ,
	{0x0008, 0x1140}:        VR_SQ,
	TagPatientName:          VR_PN,
	TagPatientID:            VR_LO,
	{0x0010, 0x0030}:        VR_DA,
	{0x0010, 0x0040}:        VR_CS,
	TagStudyInstanceUID:     VR_UI,
	TagSeriesInstanceUID:    VR_UI,
	{0x0020, 0x0010}:        VR_SH,
	{0x0020, 0x0011}:        VR_IS,
	TagInstanceNumber:       VR_IS,
	{0x0028, 0x0010}:        VR_US,
	{0x0028, 0x0011}:        VR_US,
	TagPixelData:            VR_OW,
}

// determineVR returns the VR used for tag when the encoding is implicit.
func determineVR(tag Tag) string {
	if tag.Element == 0x0000 {
		return VR_UL
	}
	if vr, ok := implicitVRs[tag]; ok {
		return vr
	}
	return VR_UN
}
