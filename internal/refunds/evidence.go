package refunds

import (
	"context"
	"io"
	"path"

	"solar_leads_backend/internal/storage"

	"github.com/google/uuid"
)

// EvidenceStore keeps files attached to refund claims.
type EvidenceStore interface {
	Upload(ctx context.Context, offerID uuid.UUID, fileName, contentType string, r io.Reader, size int64) (string, error)
}

// MinIOEvidence stores evidence under offers/<offerId>/ in one bucket.
type MinIOEvidence struct {
	svc    *storage.MinIOService
	bucket string
}

func NewMinIOEvidence(svc *storage.MinIOService, bucket string) *MinIOEvidence {
	return &MinIOEvidence{svc: svc, bucket: bucket}
}

// EnsureBucket creates the evidence bucket on startup.
func (e *MinIOEvidence) EnsureBucket(ctx context.Context) error {
	return e.svc.EnsureBucketExists(ctx, e.bucket)
}

func (e *MinIOEvidence) Upload(ctx context.Context, offerID uuid.UUID, fileName, contentType string, r io.Reader, size int64) (string, error) {
	return e.svc.UploadFile(ctx, e.bucket, path.Join("offers", offerID.String()), fileName, contentType, r, size)
}
