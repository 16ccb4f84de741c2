package types

import "strings"

// DICOM Application Context UID
const ApplicationContextUID = "1.2.840.10008.3.1.1.1"

// Implementation identity written into association negotiation and Part 10
// file meta information.
const (
	ImplementationClassUID    = "2.25.163915089254347129403592727917380367941"
	ImplementationVersionName = "DICOMRECEPTOR_1"
)

// Verification Service
const VerificationSOPClass = "1.2.840.10008.1.1"

// Commonly seen storage SOP classes. The receiver accepts every class under
// the storage root, these are named for clients and tests.
const (
	ComputedRadiographyImageStorage = "1.2.840.10008.5.1.4.1.1.1"
	DigitalXRayImageStorage         = "1.2.840.10008.5.1.4.1.1.1.1"
	CTImageStorage                  = "1.2.840.10008.5.1.4.1.1.2"
	EnhancedCTImageStorage          = "1.2.840.10008.5.1.4.1.1.2.1"
	MRImageStorage                  = "1.2.840.10008.5.1.4.1.1.4"
	EnhancedMRImageStorage          = "1.2.840.10008.5.1.4.1.1.4.1"
	UltrasoundImageStorage          = "1.2.840.10008.5.1.4.1.1.6.1"
	SecondaryCaptureImageStorage    = "1.2.840.10008.5.1.4.1.1.7"
	XRayAngiographicImageStorage    = "1.2.840.10008.5.1.4.1.1.12.1"
	NuclearMedicineImageStorage     = "1.2.840.10008.5.1.4.1.1.20"
	PETImageStorage                 = "1.2.840.10008.5.1.4.1.1.128"
	RTImageStorage                  = "1.2.840.10008.5.1.4.1.1.481.1"
	RTDoseStorage                   = "1.2.840.10008.5.1.4.1.1.481.2"
	RTStructureSetStorage           = "1.2.840.10008.5.1.4.1.1.481.3"
	RTPlanStorage                   = "1.2.840.10008.5.1.4.1.1.481.5"
	BasicTextSRStorage              = "1.2.840.10008.5.1.4.1.1.88.11"
	EnhancedSRStorage               = "1.2.840.10008.5.1.4.1.1.88.22"
	EncapsulatedPDFStorage          = "1.2.840.10008.5.1.4.1.1.104.1"
)

// Storage SOP classes registered outside the 1.2.840.10008.5.1.4.1.1 root.
const (
	HangingProtocolStorage            = "1.2.840.10008.5.1.4.38.1"
	ColorPaletteStorage               = "1.2.840.10008.5.1.4.39.1"
	GenericImplantTemplateStorage     = "1.2.840.10008.5.1.4.43.1"
	ImplantAssemblyTemplateStorage    = "1.2.840.10008.5.1.4.44.1"
	ImplantTemplateGroupStorage       = "1.2.840.10008.5.1.4.45.1"
	RTBeamsDeliveryInstructionStorage = "1.2.840.10008.5.1.4.34.7"
)

const storageRoot = "1.2.840.10008.5.1.4.1.1."

var extraStorageClasses = map[string]struct{}{
	HangingProtocolStorage:            {},
	ColorPaletteStorage:               {},
	GenericImplantTemplateStorage:     {},
	ImplantAssemblyTemplateStorage:    {},
	ImplantTemplateGroupStorage:       {},
	RTBeamsDeliveryInstructionStorage: {},
}

// IsStorageSOPClass returns true if the UID is a storage SOP class
func IsStorageSOPClass(uid string) bool {
	if strings.HasPrefix(uid, storageRoot) && len(uid) > len(storageRoot) {
		return true
	}
	_, ok := extraStorageClasses[uid]
	return ok
}

// IsVerificationSOPClass returns true for the C-ECHO SOP class.
func IsVerificationSOPClass(uid string) bool {
	return uid == VerificationSOPClass
}
