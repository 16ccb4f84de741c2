package dicom

import (
	"encoding/binary"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/caio-sobreiro/dicomreceptor/types"
)

// VR (Value Representation) constants
const (
	VR_AE = "AE" // Application Entity
	VR_AS = "AS" // Age String
	VR_AT = "AT" // Attribute Tag
	VR_CS = "CS" // Code String
	VR_DA = "DA" // Date
	VR_DS = "DS" // Decimal String
	VR_DT = "DT" // Date Time
	VR_FL = "FL" // Floating Point Single
	VR_FD = "FD" // Floating Point Double
	VR_IS = "IS" // Integer String
	VR_LO = "LO" // Long String
	VR_LT = "LT" // Long Text
	VR_OB = "OB" // Other Byte
	VR_OD = "OD" // Other Double
	VR_OF = "OF" // Other Float
	VR_OL = "OL" // Other Long
	VR_OV = "OV" // Other Very Long
	VR_OW = "OW" // Other Word
	VR_PN = "PN" // Person Name
	VR_SH = "SH" // Short String
	VR_SL = "SL" // Signed Long
	VR_SQ = "SQ" // Sequence of Items
	VR_SS = "SS" // Signed Short
	VR_ST = "ST" // Short Text
	VR_SV = "SV" // Signed Very Long
	VR_TM = "TM" // Time
	VR_UC = "UC" // Unlimited Characters
	VR_UI = "UI" // Unique Identifier
	VR_UL = "UL" // Unsigned Long
	VR_UN = "UN" // Unknown
	VR_UR = "UR" // Universal Resource
	VR_US = "US" // Unsigned Short
	VR_UT = "UT" // Unlimited Text
	VR_UV = "UV" // Unsigned Very Long
)

const (
	undefinedLength = 0xFFFFFFFF
	maxNestingDepth = 64
)

// ErrTruncated is returned when an element header or value runs past the end
// of the buffer. Elements parsed before the truncation are still returned.
var ErrTruncated = errors.New("dicom: truncated dataset")

// Element represents a DICOM data element. Value holds a string for text
// VRs and the raw bytes otherwise. Sequences are recorded with a nil Value.
type Element struct {
	Tag    Tag
	VR     string
	Length uint32
	Value  interface{}
}

// Dataset represents a collection of DICOM elements
type Dataset struct {
	Elements map[Tag]*Element
}

// NewDataset creates a new empty dataset
func NewDataset() *Dataset {
	return &Dataset{
		Elements: make(map[Tag]*Element),
	}
}

// AddElement adds an element to the dataset
func (d *Dataset) AddElement(tag Tag, vr string, value interface{}) {
	d.Elements[tag] = &Element{
		Tag:   tag,
		VR:    vr,
		Value: value,
	}
}

// GetElement returns an element by tag
func (d *Dataset) GetElement(tag Tag) (*Element, bool) {
	element, exists := d.Elements[tag]
	return element, exists
}

// GetString returns the trimmed text value of tag, or "" when absent.
func (d *Dataset) GetString(tag Tag) string {
	element, exists := d.Elements[tag]
	if !exists {
		return ""
	}
	switch v := element.Value.(type) {
	case string:
		return trimValue(v)
	case []byte:
		return trimValue(string(v))
	}
	return ""
}

// Has reports whether tag is present, even with an empty value.
func (d *Dataset) Has(tag Tag) bool {
	_, ok := d.Elements[tag]
	return ok
}

func trimValue(v string) string {
	return strings.TrimSpace(strings.TrimRight(v, "\x00"))
}

func isLongVR(vr string) bool {
	switch vr {
	case VR_OB, VR_OD, VR_OF, VR_OL, VR_OV, VR_OW, VR_SQ, VR_SV, VR_UC, VR_UN, VR_UR, VR_UT, VR_UV:
		return true
	}
	return false
}

func isTextVR(vr string) bool {
	switch vr {
	case VR_AE, VR_AS, VR_CS, VR_DA, VR_DS, VR_DT, VR_IS, VR_LO, VR_LT, VR_PN,
		VR_SH, VR_ST, VR_TM, VR_UC, VR_UI, VR_UR, VR_UT:
		return true
	}
	return false
}

// ParseDataset parses a DICOM dataset from raw bytes (Explicit VR Little Endian)
func ParseDataset(data []byte) (*Dataset, error) {
	return parser{data: data, explicit: true}.parse()
}

// ParseDatasetWithTransferSyntax parses a dataset using the provided transfer syntax.
// Encapsulated syntaxes share the explicit VR little endian element encoding.
func ParseDatasetWithTransferSyntax(data []byte, transferSyntaxUID string) (*Dataset, error) {
	if transferSyntaxUID == "" {
		return ParseDataset(data)
	}
	info, known := types.GetTransferSyntaxInfo(transferSyntaxUID)
	if known && (info.BigEndian || info.Deflated) {
		return nil, fmt.Errorf("dicom: cannot parse dataset in %s", info.Name)
	}
	return parser{data: data, explicit: types.IsExplicitVR(transferSyntaxUID)}.parse()
}

type parser struct {
	data     []byte
	explicit bool
}

type header struct {
	tag         Tag
	vr          string
	length      uint32
	valueOffset int
}

func (p parser) header(offset int) (header, error) {
	if offset+8 > len(p.data) {
		return header{}, ErrTruncated
	}
	h := header{tag: Tag{
		Group:   binary.LittleEndian.Uint16(p.data[offset:]),
		Element: binary.LittleEndian.Uint16(p.data[offset+2:]),
	}}

	if h.tag.Group == 0xFFFE || !p.explicit {
		h.length = binary.LittleEndian.Uint32(p.data[offset+4:])
		h.valueOffset = offset + 8
		if h.tag.Group != 0xFFFE {
			h.vr = determineVR(h.tag)
		}
		return h, nil
	}

	h.vr = string(p.data[offset+4 : offset+6])
	if isLongVR(h.vr) {
		if offset+12 > len(p.data) {
			return header{}, ErrTruncated
		}
		h.length = binary.LittleEndian.Uint32(p.data[offset+8:])
		h.valueOffset = offset + 12
		return h, nil
	}
	h.length = uint32(binary.LittleEndian.Uint16(p.data[offset+6:]))
	h.valueOffset = offset + 8
	return h, nil
}

func (p parser) parse() (*Dataset, error) {
	dataset := NewDataset()

	offset := 0
	for offset < len(p.data) {
		h, err := p.header(offset)
		if err != nil {
			return dataset, err
		}

		if h.length == undefinedLength {
			end, err := p.skipUndefined(h.valueOffset, 0)
			if err != nil {
				return dataset, err
			}
			vr := h.vr
			if vr == VR_UN {
				vr = VR_SQ
			}
			dataset.Elements[h.tag] = &Element{Tag: h.tag, VR: vr, Length: h.length}
			offset = end
			continue
		}

		end := h.valueOffset + int(h.length)
		if end > len(p.data) || end < h.valueOffset {
			return dataset, ErrTruncated
		}

		element := &Element{Tag: h.tag, VR: h.vr, Length: h.length}
		if h.vr != VR_SQ {
			element.Value = parseElementValue(h.vr, p.data[h.valueOffset:end])
		}
		dataset.Elements[h.tag] = element
		offset = end
	}

	return dataset, nil
}

// skipUndefined walks the contents of an undefined-length sequence, item or
// encapsulated pixel data element and returns the offset just past the
// delimiter that closes it.
func (p parser) skipUndefined(offset, depth int) (int, error) {
	if depth > maxNestingDepth {
		return 0, fmt.Errorf("dicom: sequences nested deeper than %d", maxNestingDepth)
	}
	for offset < len(p.data) {
		h, err := p.header(offset)
		if err != nil {
			return 0, err
		}
		if h.tag == TagItemDelimitation || h.tag == TagSequenceDelimitation {
			return h.valueOffset, nil
		}
		if h.length == undefinedLength {
			offset, err = p.skipUndefined(h.valueOffset, depth+1)
			if err != nil {
				return 0, err
			}
			continue
		}
		end := h.valueOffset + int(h.length)
		if end > len(p.data) || end < h.valueOffset {
			return 0, ErrTruncated
		}
		offset = end
	}
	return 0, ErrTruncated
}

// parseElementValue returns text VRs as strings and everything else as the
// raw value bytes, sharing the input buffer.
func parseElementValue(vr string, data []byte) interface{} {
	if !isTextVR(vr) {
		return data
	}
	return trimValue(string(data))
}

// EncodeDataset encodes a dataset to bytes (Explicit VR Little Endian)
func (d *Dataset) EncodeDataset() []byte {
	var result []byte
	for _, tag := range d.sortedTags() {
		result = appendExplicitElement(result, d.Elements[tag])
	}
	return result
}

// EncodeDatasetWithTransferSyntax encodes a dataset using the provided transfer syntax.
func EncodeDatasetWithTransferSyntax(dataset *Dataset, transferSyntaxUID string) ([]byte, error) {
	if dataset == nil {
		return nil, nil
	}
	if transferSyntaxUID == types.ImplicitVRLittleEndian {
		return encodeImplicitVRDataset(dataset), nil
	}
	if info, known := types.GetTransferSyntaxInfo(transferSyntaxUID); known && (info.BigEndian || info.Deflated) {
		return nil, fmt.Errorf("dicom: cannot encode dataset in %s", info.Name)
	}
	return dataset.EncodeDataset(), nil
}

func (d *Dataset) sortedTags() []Tag {
	tags := make([]Tag, 0, len(d.Elements))
	for tag := range d.Elements {
		tags = append(tags, tag)
	}
	slices.SortFunc(tags, func(a, b Tag) int {
		if a.Group != b.Group {
			return int(a.Group) - int(b.Group)
		}
		return int(a.Element) - int(b.Element)
	})
	return tags
}

func appendExplicitElement(result []byte, element *Element) []byte {
	result = binary.LittleEndian.AppendUint16(result, element.Tag.Group)
	result = binary.LittleEndian.AppendUint16(result, element.Tag.Element)
	result = append(result, element.VR...)

	valueBytes := encodeElementValue(element)
	if isLongVR(element.VR) {
		result = append(result, 0x00, 0x00)
		result = binary.LittleEndian.AppendUint32(result, uint32(len(valueBytes)))
	} else {
		if len(valueBytes) > 0xFFFF {
			valueBytes = valueBytes[:0xFFFE]
		}
		result = binary.LittleEndian.AppendUint16(result, uint16(len(valueBytes)))
	}
	return append(result, valueBytes...)
}

func encodeImplicitVRDataset(dataset *Dataset) []byte {
	var result []byte
	for _, tag := range dataset.sortedTags() {
		valueBytes := encodeElementValue(dataset.Elements[tag])
		result = binary.LittleEndian.AppendUint16(result, tag.Group)
		result = binary.LittleEndian.AppendUint16(result, tag.Element)
		result = binary.LittleEndian.AppendUint32(result, uint32(len(valueBytes)))
		result = append(result, valueBytes...)
	}
	return result
}

// encodeElementValue encodes an element value to even-length bytes. UIs and
// binary values pad with NUL, text pads with a space.
func encodeElementValue(element *Element) []byte {
	var out []byte
	switch v := element.Value.(type) {
	case nil:
	case string:
		out = []byte(strings.TrimRight(v, "\x00"))
	case []string:
		out = []byte(strings.Join(v, "\\"))
	case []byte:
		out = slices.Clone(v)
	case int:
		out = []byte(fmt.Sprintf("%d", v))
	case uint16:
		out = binary.LittleEndian.AppendUint16(nil, v)
	case uint32:
		out = binary.LittleEndian.AppendUint32(nil, v)
	default:
		out = []byte(fmt.Sprintf("%v", v))
	}

	if len(out)%2 == 1 {
		if isTextVR(element.VR) && element.VR != VR_UI {
			out = append(out, ' ')
		} else {
			out = append(out, 0x00)
		}
	}
	return out
}
