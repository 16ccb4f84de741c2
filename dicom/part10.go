package dicom

import (
	"bytes"
	"fmt"
	"io"

	"github.com/caio-sobreiro/dicomreceptor/types"
)

const (
	preambleLength = 128
	magic          = "DICM"
)

// FileMeta is the group 0002 File Meta Information of a Part 10 file.
type FileMeta struct {
	MediaStorageSOPClassUID      string
	MediaStorageSOPInstanceUID   string
	TransferSyntaxUID            string
	ImplementationClassUID       string
	ImplementationVersionName    string
	SourceApplicationEntityTitle string
}

func (m FileMeta) dataset() *Dataset {
	ds := NewDataset()
	ds.AddElement(TagFileMetaInformationVersion, VR_OB, []byte{0x00, 0x01})
	ds.AddElement(TagMediaStorageSOPClassUID, VR_UI, m.MediaStorageSOPClassUID)
	ds.AddElement(TagMediaStorageSOPInstanceUID, VR_UI, m.MediaStorageSOPInstanceUID)
	ds.AddElement(TagTransferSyntaxUID, VR_UI, m.TransferSyntaxUID)

	implClass := m.ImplementationClassUID
	implVersion := m.ImplementationVersionName
	if implClass == "" {
		implClass = types.ImplementationClassUID
		implVersion = types.ImplementationVersionName
	}
	ds.AddElement(TagImplementationClassUID, VR_UI, implClass)
	if implVersion != "" {
		ds.AddElement(TagImplementationVersionName, VR_SH, implVersion)
	}
	if m.SourceApplicationEntityTitle != "" {
		ds.AddElement(TagSourceApplicationEntityTitle, VR_AE, m.SourceApplicationEntityTitle)
	}
	return ds
}

// WritePart10 writes a DICOM Part 10 file: the 128 byte preamble, the DICM
// prefix, the File Meta Information (explicit VR little endian) and the
// dataset bytes unchanged. The dataset must already be encoded in
// meta.TransferSyntaxUID.
func WritePart10(w io.Writer, meta FileMeta, dataset []byte) (int64, error) {
	if meta.TransferSyntaxUID == "" {
		return 0, fmt.Errorf("dicom: file meta requires a transfer syntax")
	}

	body := meta.dataset().EncodeDataset()
	groupLength := &Element{Tag: TagFileMetaInformationGroupLength, VR: VR_UL, Value: uint32(len(body))}

	var head bytes.Buffer
	head.Grow(preambleLength + len(magic) + 12 + len(body))
	head.Write(make([]byte, preambleLength))
	head.WriteString(magic)
	head.Write(appendExplicitElement(nil, groupLength))
	head.Write(body)

	n, err := head.WriteTo(w)
	if err != nil {
		return n, err
	}
	m, err := w.Write(dataset)
	return n + int64(m), err
}

// ReadPart10 splits a Part 10 file into its File Meta Information and the
// dataset bytes that follow it.
func ReadPart10(data []byte) (FileMeta, []byte, error) {
	if len(data) < preambleLength+len(magic) {
		return FileMeta{}, nil, fmt.Errorf("data too short to be DICOM Part 10 (need at least %d bytes, got %d)",
			preambleLength+len(magic), len(data))
	}
	if !HasPart10Header(data) {
		return FileMeta{}, nil, fmt.Errorf("not a valid DICOM Part 10 file (missing DICM prefix at offset 128)")
	}

	p := parser{data: data, explicit: true}
	meta := NewDataset()
	offset := preambleLength + len(magic)
	for offset+8 <= len(data) {
		h, err := p.header(offset)
		if err != nil {
			return FileMeta{}, nil, fmt.Errorf("file meta information: %w", err)
		}
		if h.tag.Group != 0x0002 {
			break
		}
		end := h.valueOffset + int(h.length)
		if h.length == undefinedLength || end > len(data) {
			return FileMeta{}, nil, fmt.Errorf("file meta information: %w", ErrTruncated)
		}
		meta.Elements[h.tag] = &Element{Tag: h.tag, VR: h.vr, Length: h.length, Value: parseElementValue(h.vr, data[h.valueOffset:end])}
		offset = end
	}

	fm := FileMeta{
		MediaStorageSOPClassUID:      meta.GetString(TagMediaStorageSOPClassUID),
		MediaStorageSOPInstanceUID:   meta.GetString(TagMediaStorageSOPInstanceUID),
		TransferSyntaxUID:            meta.GetString(TagTransferSyntaxUID),
		ImplementationClassUID:       meta.GetString(TagImplementationClassUID),
		ImplementationVersionName:    meta.GetString(TagImplementationVersionName),
		SourceApplicationEntityTitle: meta.GetString(TagSourceApplicationEntityTitle),
	}
	if offset > len(data) {
		offset = len(data)
	}
	return fm, data[offset:], nil
}

// StripPart10Header removes the DICOM Part 10 preamble and File Meta Information
// to extract just the dataset, as sent in a C-STORE.
func StripPart10Header(data []byte) ([]byte, error) {
	_, dataset, err := ReadPart10(data)
	if err != nil {
		return nil, err
	}
	if len(dataset) == 0 {
		return nil, fmt.Errorf("failed to find dataset after File Meta Information")
	}
	return dataset, nil
}

// HasPart10Header checks if the data starts with a DICOM Part 10 header.
//
// Returns true if the data contains the 128-byte preamble followed by "DICM".
func HasPart10Header(data []byte) bool {
	if len(data) < preambleLength+len(magic) {
		return false
	}
	return string(data[preambleLength:preambleLength+len(magic)]) == magic
}
