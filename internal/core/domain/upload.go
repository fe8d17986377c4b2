package domain

import "time"

// Upload is the slice of an image record the abuse heuristics care about.
type Upload struct {
	ID         string
	IdentityID string
	Filename   string
	SizeBytes  int64
	Mime       MimeType
	ObjectKey  string
	CreatedAt  time.Time
}
