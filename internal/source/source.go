package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/nhle/filterctl/internal/mailrpc"
)

// AuthError indicates that authentication has failed or expired for a mail
// server. It is returned by clients when LOGIN or AUTH is rejected.
type AuthError struct {
	SourceType SourceType
	Message    string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%s): %s", e.SourceType, e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// SourceType identifies the protocol side of a mail account.
type SourceType string

const (
	SourceTypeIMAP SourceType = "imap"
	SourceTypeSMTP SourceType = "smtp"
)

// Inbox is the receiving half of a mail account.
type Inbox interface {
	// AccountID returns the configured account the inbox belongs to.
	AccountID() string

	// ValidateConnection verifies credentials and connectivity.
	// Returns a human-readable status message on success.
	ValidateConnection(ctx context.Context) (string, error)

	// FetchReplies returns unseen messages carrying the reply subject.
	// Fetching marks them seen.
	FetchReplies(ctx context.Context) ([]mailrpc.InboundMessage, error)
}
