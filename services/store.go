package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/caio-sobreiro/dicomreceptor/dicom"
	"github.com/caio-sobreiro/dicomreceptor/interfaces"
	"github.com/caio-sobreiro/dicomreceptor/metrics"
	"github.com/caio-sobreiro/dicomreceptor/storage"
	"github.com/caio-sobreiro/dicomreceptor/types"
)

// Persister stores one received instance. *storage.Store implements it.
type Persister interface {
	Persist(ctx context.Context, inst *storage.Instance) storage.Result
}

// StoreService handles C-STORE requests by handing each received instance
// to a Persister and answering with the status its outcome maps to.
//
// Storage problems never surface as errors: the sender always receives a
// C-STORE-RSP and the association stays open.
type StoreService struct {
	store  Persister
	logger *slog.Logger
	newUID func() string
}

// NewStoreService creates a C-STORE service writing through store.
func NewStoreService(store Persister, logger *slog.Logger) *StoreService {
	if logger == nil {
		logger = slog.Default()
	}
	return &StoreService{
		store:  store,
		logger: logger,
		newUID: storage.NewUID,
	}
}

// HandleDIMSE processes a C-STORE-RQ and its dataset.
//
// The dataset is parsed in the negotiated transfer syntax only to extract the
// identifying attributes; the bytes written to disk are the ones received.
// A dataset that cannot be parsed completely is still stored, using whatever
// attributes were read before the fault.
//
// This method implements the interfaces.ServiceHandler interface.
func (s *StoreService) HandleDIMSE(ctx context.Context, msg *types.Message, data []byte, meta interfaces.MessageContext) (*types.Message, []byte, error) {
	inst := s.buildInstance(ctx, msg, data, meta)

	start := time.Now()
	res := s.store.Persist(ctx, inst)
	metrics.RecordInstance(res.Outcome.String(), res.Outcome.Stored(), len(data), time.Since(start))

	status := res.Outcome.Status()
	s.logger.DebugContext(ctx, "C-STORE request processed",
		"message_id", msg.MessageID,
		"outcome", res.Outcome.String(),
		"status", metrics.FormatStatus(status),
		"calling_ae", meta.CallingAETitle)

	// The response echoes the command's Affected SOP Instance UID even when the
	// dataset disagrees; the dataset value only names the stored file.
	response := NewResponseBuilder(msg).CStoreResponse(status,
		firstNonEmpty(msg.AffectedSOPInstanceUID, inst.Meta.MediaStorageSOPInstanceUID))
	if res.Err != nil && !res.Outcome.Stored() {
		response.ErrorComment = truncateComment(res.Outcome.String())
	}
	return response, nil, nil
}

// HealthCheck reports whether the storage backend can accept instances.
func (s *StoreService) HealthCheck(ctx context.Context) error {
	if hc, ok := s.store.(interfaces.HealthChecker); ok {
		return hc.HealthCheck(ctx)
	}
	return nil
}

func (s *StoreService) buildInstance(ctx context.Context, msg *types.Message, data []byte, meta interfaces.MessageContext) *storage.Instance {
	transferSyntax := meta.TransferSyntaxUID
	if transferSyntax == "" {
		transferSyntax = types.ImplicitVRLittleEndian
	}

	ds, err := dicom.ParseDatasetWithTransferSyntax(data, transferSyntax)
	if err != nil {
		s.logger.WarnContext(ctx, "Dataset could not be fully parsed, storing with partial attributes",
			"message_id", msg.MessageID,
			"transfer_syntax", transferSyntax,
			"error", err)
	}
	if ds == nil {
		ds = dicom.NewDataset()
	}

	sopInstance := firstNonEmpty(ds.GetString(dicom.TagSOPInstanceUID), msg.AffectedSOPInstanceUID)
	if sopInstance == "" {
		sopInstance = s.newUID()
	}
	sopClass := firstNonEmpty(msg.AffectedSOPClassUID, ds.GetString(dicom.TagSOPClassUID), meta.AbstractSyntaxUID)

	return &storage.Instance{
		Attributes: storage.Attributes{
			PatientID:         ds.GetString(dicom.TagPatientID),
			PatientName:       ds.GetString(dicom.TagPatientName),
			StudyInstanceUID:  ds.GetString(dicom.TagStudyInstanceUID),
			SeriesInstanceUID: ds.GetString(dicom.TagSeriesInstanceUID),
			SOPInstanceUID:    sopInstance,
			Modality:          ds.GetString(dicom.TagModality),
			InstanceNumber:    ds.GetString(dicom.TagInstanceNumber),
			StudyDate:         ds.GetString(dicom.TagStudyDate),
		},
		Meta: dicom.FileMeta{
			MediaStorageSOPClassUID:      sopClass,
			MediaStorageSOPInstanceUID:   sopInstance,
			TransferSyntaxUID:            transferSyntax,
			SourceApplicationEntityTitle: meta.CallingAETitle,
		},
		Dataset: data,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// truncateComment keeps an Error Comment within its 64 character LO limit.
func truncateComment(s string) string {
	if len(s) > 64 {
		return s[:64]
	}
	return s
}
