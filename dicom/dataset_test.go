package dicom

import (
	"encoding/binary"
	"testing"

	"github.com/caio-sobreiro/dicomreceptor/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func explicitShort(tag Tag, vr, value string) []byte {
	b := binary.LittleEndian.AppendUint16(nil, tag.Group)
	b = binary.LittleEndian.AppendUint16(b, tag.Element)
	b = append(b, vr...)
	b = binary.LittleEndian.AppendUint16(b, uint16(len(value)))
	return append(b, value...)
}

func explicitLong(tag Tag, vr string, length uint32, value []byte) []byte {
	b := binary.LittleEndian.AppendUint16(nil, tag.Group)
	b = binary.LittleEndian.AppendUint16(b, tag.Element)
	b = append(b, vr...)
	b = append(b, 0, 0)
	b = binary.LittleEndian.AppendUint32(b, length)
	return append(b, value...)
}

func noVR(tag Tag, length uint32) []byte {
	b := binary.LittleEndian.AppendUint16(nil, tag.Group)
	b = binary.LittleEndian.AppendUint16(b, tag.Element)
	return binary.LittleEndian.AppendUint32(b, length)
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func TestParseDataset_ExplicitVR(t *testing.T) {
	data := concat(
		explicitShort(TagSOPInstanceUID, VR_UI, "1.2.3.4\x00"),
		explicitShort(TagModality, VR_CS, "CT"),
		explicitShort(TagPatientName, VR_PN, "DOE^JOHN"),
		explicitShort(TagPatientID, VR_LO, "P1"),
	)

	ds, err := ParseDataset(data)
	require.NoError(t, err)

	assert.Equal(t, "1.2.3.4", ds.GetString(TagSOPInstanceUID))
	assert.Equal(t, "CT", ds.GetString(TagModality))
	assert.Equal(t, "DOE^JOHN", ds.GetString(TagPatientName))
	assert.Equal(t, "P1", ds.GetString(TagPatientID))
	assert.Equal(t, "", ds.GetString(TagStudyDate))
}

func TestParseDataset_UndefinedLengthSequence(t *testing.T) {
	item := concat(
		noVR(TagItem, undefinedLength),
		explicitShort(Tag{0x0008, 0x1150}, VR_UI, "1.2.840.10008.5.1.4.1.1.2\x00"),
		noVR(TagItemDelimitation, 0),
	)
	definedItem := concat(
		noVR(TagItem, 10),
		explicitShort(Tag{0x0008, 0x0100}, VR_SH, "AB"),
	)
	sequence := concat(
		explicitLong(Tag{0x0008, 0x1110}, VR_SQ, undefinedLength, nil),
		item,
		definedItem,
		noVR(TagSequenceDelimitation, 0),
	)
	data := concat(
		explicitShort(TagModality, VR_CS, "MR"),
		sequence,
		explicitShort(TagPatientName, VR_PN, "Smith"),
	)

	ds, err := ParseDataset(data)
	require.NoError(t, err)

	assert.Equal(t, "MR", ds.GetString(TagModality))
	assert.Equal(t, "Smith", ds.GetString(TagPatientName))
	assert.True(t, ds.Has(Tag{0x0008, 0x1110}))
	assert.False(t, ds.Has(Tag{0x0008, 0x1150}), "nested attributes stay inside the sequence")
}

func TestParseDataset_EncapsulatedPixelData(t *testing.T) {
	data := concat(
		explicitShort(TagPatientID, VR_LO, "ID01"),
		explicitLong(TagPixelData, VR_OB, undefinedLength, nil),
		noVR(TagItem, 0),
		noVR(TagItem, 4), []byte{1, 2, 3, 4},
		noVR(TagSequenceDelimitation, 0),
	)

	ds, err := ParseDatasetWithTransferSyntax(data, types.JPEGBaseline8Bit)
	require.NoError(t, err)
	assert.Equal(t, "ID01", ds.GetString(TagPatientID))
	assert.True(t, ds.Has(TagPixelData))
}

func TestParseDataset_Truncated(t *testing.T) {
	data := concat(
		explicitShort(TagModality, VR_CS, "CT"),
		explicitShort(TagPatientName, VR_PN, "DOE^JOHN")[:10],
	)

	ds, err := ParseDataset(data)
	assert.ErrorIs(t, err, ErrTruncated)
	require.NotNil(t, ds)
	assert.Equal(t, "CT", ds.GetString(TagModality))
}

func TestParseDataset_UnterminatedSequence(t *testing.T) {
	data := concat(
		explicitLong(Tag{0x0008, 0x1110}, VR_SQ, undefinedLength, nil),
		noVR(TagItem, undefinedLength),
	)

	_, err := ParseDataset(data)
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestParseDatasetWithTransferSyntax_Implicit(t *testing.T) {
	ds := NewDataset()
	ds.AddElement(TagPatientName, VR_PN, "Doe^Jane")
	ds.AddElement(TagStudyInstanceUID, VR_UI, "1.2.3")
	ds.AddElement(TagInstanceNumber, VR_IS, "7")

	data, err := EncodeDatasetWithTransferSyntax(ds, types.ImplicitVRLittleEndian)
	require.NoError(t, err)

	parsed, err := ParseDatasetWithTransferSyntax(data, types.ImplicitVRLittleEndian)
	require.NoError(t, err)
	assert.Equal(t, "Doe^Jane", parsed.GetString(TagPatientName))
	assert.Equal(t, "1.2.3", parsed.GetString(TagStudyInstanceUID))
	assert.Equal(t, "7", parsed.GetString(TagInstanceNumber))
	assert.Equal(t, VR_UI, parsed.Elements[TagStudyInstanceUID].VR)
}

func TestParseDatasetWithTransferSyntax_Unsupported(t *testing.T) {
	_, err := ParseDatasetWithTransferSyntax([]byte{0x08, 0x00}, types.DeflatedExplicitVRLittleEndian)
	assert.Error(t, err)

	_, err = ParseDatasetWithTransferSyntax([]byte{0x00, 0x08}, types.ExplicitVRBigEndian)
	assert.Error(t, err)
}

func TestEncodeDataset_Padding(t *testing.T) {
	ds := NewDataset()
	ds.AddElement(TagSOPInstanceUID, VR_UI, "1.2.3")
	ds.AddElement(TagModality, VR_CS, "OPT")

	data := ds.EncodeDataset()

	// Sorted by tag: (0008,0018) then (0008,0060), both padded to even length.
	require.Len(t, data, 8+6+8+4)
	assert.Equal(t, byte(0x00), data[8+5])
	assert.Equal(t, byte(' '), data[8+6+8+3])
}
