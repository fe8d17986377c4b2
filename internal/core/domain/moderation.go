package domain

import "time"

// MimeType is the sniffed content type of an uploaded byte stream.
type MimeType string

const (
	MimeJPEG    MimeType = "image/jpeg"
	MimePNG     MimeType = "image/png"
	MimeGIF     MimeType = "image/gif"
	MimeWebP    MimeType = "image/webp"
	MimeBMP     MimeType = "image/bmp"
	MimePDF     MimeType = "application/pdf"
	MimePE      MimeType = "application/x-msdownload"
	MimeELF     MimeType = "application/x-elf"
	MimeUnknown MimeType = "application/octet-stream"
)

// IsImage reports whether the sniffed type is one of the accepted image formats.
func (m MimeType) IsImage() bool {
	switch m {
	case MimeJPEG, MimePNG, MimeGIF, MimeWebP, MimeBMP:
		return true
	}
	return false
}

// IsExecutable reports whether the sniffed type is a native executable format.
func (m MimeType) IsExecutable() bool {
	return m == MimePE || m == MimeELF
}

// AbuseFlag is one independent signal from the upload scan.
type AbuseFlag struct {
	Reason     string
	Confidence float64
}

const (
	// BlockConfidence is the per-flag confidence at which a single signal
	// blocks the upload.
	BlockConfidence = 0.8
	// AggregateBlockScore blocks when the sum of sub-threshold signals
	// crosses it. Low-confidence flags on their own are logged, not rejected.
	AggregateBlockScore = 1.2
	// SuspendConfidence is the malware confidence past which the uploader's
	// account is automatically suspended.
	SuspendConfidence = 0.95
)

// ScanResult aggregates the per-upload abuse checks.
type ScanResult struct {
	Sniffed MimeType
	Flags   []AbuseFlag
}

// Flagged reports whether the result should block persistence: any single
// high-confidence flag, or enough low-confidence ones stacked together.
func (r ScanResult) Flagged() bool {
	aggregate := 0.0
	for _, f := range r.Flags {
		if f.Confidence >= BlockConfidence {
			return true
		}
		aggregate += f.Confidence
	}
	return aggregate >= AggregateBlockScore
}

// MaxConfidence returns the strongest signal in the result.
func (r ScanResult) MaxConfidence() float64 {
	max := 0.0
	for _, f := range r.Flags {
		if f.Confidence > max {
			max = f.Confidence
		}
	}
	return max
}

// ContentFlag is an immutable record handed to the moderation queue.
type ContentFlag struct {
	ID         string
	ImageID    string
	FlagType   string
	Confidence float64
	FlaggedBy  string
	Metadata   map[string]any
	CreatedAt  time.Time
}

const (
	FlagTypeMalware    = "malware"
	FlagTypeMismatch   = "mime_mismatch"
	FlagTypeSuspicious = "suspicious"
)
