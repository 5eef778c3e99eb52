package ai

import "context"

type Client interface {
	Analyze(ctx context.Context, img Image) (string, error)
}

// Image is the inline payload sent for analysis.
type Image struct {
	Data     []byte
	MimeType string
}
