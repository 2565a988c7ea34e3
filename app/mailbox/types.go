package mailbox

import (
	"context"
	"time"
)

// RawMessage is one email as returned by the mailbox provider. Bodies are
// already decoded; no charset handling happens downstream.
type RawMessage struct {
	ID        string
	Sender    string
	Subject   string
	Body      string
	Timestamp time.Time
}

// Credential carries the per-account OAuth tokens loaded from storage.
type Credential struct {
	AccessToken  string
	RefreshToken string
}

// Client fetches messages from a mailbox provider. Implementations must
// respect the context deadline; the import worker bounds every call.
type Client interface {
	FetchMessages(ctx context.Context, cred Credential, query string, since time.Time) ([]RawMessage, error)
}
