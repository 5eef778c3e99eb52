package reports

import "context"

// Repository port (interface untuk persistence)
type Repository interface {
	Create(ctx context.Context, in CreateInput) (*Report, error)
	FindByID(ctx context.Context, id ReportID) (*Report, error)
	// Update applies p only if the stored version still equals expectedVersion.
	Update(ctx context.Context, id ReportID, expectedVersion int64, p Patch) (*Report, error)
	LatestByUser(ctx context.Context, userID string, limit int) ([]*Report, error)
}

// MediaStore port (interface untuk penyimpanan file report).
// UploadAndCleanup removes localPath whether or not the upload succeeds.
type MediaStore interface {
	UploadAndCleanup(ctx context.Context, localPath, key, contentType string) (string, error)
}

// ImageFetcher downloads the bytes behind a stored report URL.
type ImageFetcher interface {
	Fetch(ctx context.Context, url string) (Image, error)
}

// Image is a downloaded report image.
type Image struct {
	Data     []byte
	MimeType string
}
