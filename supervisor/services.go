package supervisor

import (
	"context"

	"github.com/caio-sobreiro/dicomreceptor/server"
)

// DICOMService runs a DICOM server as a supervised service.
type DICOMService struct {
	server  *server.Server
	address string
}

// NewDICOMService wraps srv so it listens on address under supervision.
func NewDICOMService(srv *server.Server, address string) *DICOMService {
	return &DICOMService{server: srv, address: address}
}

// Serve listens until ctx is canceled. A listener failure is returned so
// the supervisor restarts the service with backoff.
func (d *DICOMService) Serve(ctx context.Context) error {
	return d.server.ListenAndServe(ctx, d.address)
}

func (d *DICOMService) String() string {
	return "dicom-server"
}
