package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	defaultModality       = "XX"
	defaultInstanceNumber = "0"
	defaultExtension      = ".dcm"
	instanceNumberWidth   = 4
)

// Attributes are the identifying fields read from a received dataset.
// Absent values are empty strings.
type Attributes struct {
	PatientID         string
	PatientName       string
	StudyInstanceUID  string
	SeriesInstanceUID string
	SOPInstanceUID    string
	Modality          string
	InstanceNumber    string
	StudyDate         string
}

// Location is the four-level place an instance is stored under the output
// root: patient, study and series directories plus the file name.
type Location struct {
	PatientFolder string
	StudyFolder   string
	SeriesFolder  string
	Filename      string
}

// Dir returns the series directory relative to the output root.
func (l Location) Dir() string {
	return filepath.Join(l.PatientFolder, l.StudyFolder, l.SeriesFolder)
}

// Path returns the file path relative to the output root.
func (l Location) Path() string {
	return filepath.Join(l.Dir(), l.Filename)
}

// Resolver derives Locations from Attributes. The zero value uses the
// package defaults.
type Resolver struct {
	MaxNameLength  int
	ShortUIDLength int
	Extension      string
	// NewUID generates identifiers for missing UIDs; NewUID by default.
	NewUID func() string
}

func (r *Resolver) uidOrGenerate(uid string) string {
	if uid != "" {
		return uid
	}
	if r.NewUID != nil {
		return r.NewUID()
	}
	return NewUID()
}

func (r *Resolver) short(uid string) string {
	return replaceIllegal(ShortenUID(r.uidOrGenerate(uid), r.ShortUIDLength))
}

// Derive computes the storage location for attrs:
//
//	{name}_{id}/{date}_E{study}/{modality}_S{series}/{modality}_{nnnn}_{sop}.dcm
//
// where study, series and sop are shortened UIDs. Missing UIDs are replaced by
// freshly generated ones, so only fully identified instances map to a stable
// location.
func (r *Resolver) Derive(attrs Attributes) Location {
	patientID := NoIDToken
	if attrs.PatientID != "" {
		patientID = SanitizeName(attrs.PatientID, r.MaxNameLength)
	}
	patientName := SanitizeName(attrs.PatientName, r.MaxNameLength)

	modality := defaultModality
	if m := strings.TrimSpace(attrs.Modality); m != "" {
		modality = SanitizeName(m, r.MaxNameLength)
	}

	studyDate := truncateRunes(replaceIllegal(strings.TrimSpace(attrs.StudyDate)), r.maxNameLength())

	ext := r.Extension
	if ext == "" {
		ext = defaultExtension
	}

	return Location{
		PatientFolder: patientName + "_" + patientID,
		StudyFolder:   studyDate + "_E" + r.short(attrs.StudyInstanceUID),
		SeriesFolder:  modality + "_S" + r.short(attrs.SeriesInstanceUID),
		Filename: fmt.Sprintf("%s_%s_%s%s", modality, padInstanceNumber(attrs.InstanceNumber, r.maxNameLength()),
			r.short(attrs.SOPInstanceUID), ext),
	}
}

func (r *Resolver) maxNameLength() int {
	if r.MaxNameLength <= 0 {
		return DefaultMaxNameLength
	}
	return r.MaxNameLength
}

// padInstanceNumber zero-fills to four digits, keeping a leading sign in
// front of the padding ("-1" becomes "-001"), and cuts the result to maxLen
// runes.
func padInstanceNumber(raw string, maxLen int) string {
	n := truncateRunes(replaceIllegal(strings.TrimSpace(raw)), maxLen)
	if n == "" {
		n = defaultInstanceNumber
	}
	sign := ""
	if n[0] == '-' || n[0] == '+' {
		sign, n = n[:1], n[1:]
	}
	if pad := instanceNumberWidth - len(sign) - len(n); pad > 0 {
		n = strings.Repeat("0", pad) + n
	}
	return sign + n
}

// DirectoryError reports a failure to create one level of the hierarchy.
type DirectoryError struct {
	Path string
	Err  error
}

func (e *DirectoryError) Error() string {
	return fmt.Sprintf("create directory %s: %v", e.Path, e.Err)
}

func (e *DirectoryError) Unwrap() error {
	return e.Err
}

// EnsureDirectories creates the patient, study and series directories of loc
// under basePath in that order, tolerating levels that already exist, and
// returns the series directory. It stops at the first failure; levels
// created before it are left in place.
func EnsureDirectories(basePath string, loc Location) (string, error) {
	dir := basePath
	for _, level := range []string{loc.PatientFolder, loc.StudyFolder, loc.SeriesFolder} {
		dir = filepath.Join(dir, level)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", &DirectoryError{Path: dir, Err: err}
		}
	}
	return dir, nil
}
