package port

import "context"

// Mailer dispatches templated mail. Fire-and-forget: callers never block a
// request on delivery, and failures are logged rather than surfaced.
type Mailer interface {
	Send(ctx context.Context, to, templateID, token string) error
}
