// package services defines interface Feed for talking to Twitter v1.1 compatible feed APIs
package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/desertthunder/feedbridge/internal/shared"
)

// Feed is the client side of one authenticated feed account.
type Feed interface {
	// Post publishes text as a new entry.
	Post(ctx context.Context, text string) (*Entry, error)

	// Reply publishes text as a threaded reply to the entry inReplyTo.
	Reply(ctx context.Context, text string, inReplyTo int64) (*Entry, error)

	Favorite(ctx context.Context, id int64) error
	Retweet(ctx context.Context, id int64) error
	Block(ctx context.Context, handle string) error
	ReportSpam(ctx context.Context, handle string) error

	// HomeTimeline returns entries newer than sinceID. Zero fetches the full available history.
	// Ordering is not guaranteed.
	HomeTimeline(ctx context.Context, sinceID int64) ([]Entry, error)

	// DirectMessages returns direct messages newer than sinceID. Zero fetches the full available history.
	// Ordering is not guaranteed.
	DirectMessages(ctx context.Context, sinceID int64) ([]DirectMessage, error)

	// GetEntry returns a single entry by id.
	GetEntry(ctx context.Context, id int64) (*Entry, error)

	// Name returns the configured service tag.
	Name() string
}

// Author identifies a feed user.
type Author struct {
	Handle string // screen name, unique per service
	Name   string // display name
}

// Entry is one timeline status.
type Entry struct {
	ID        int64
	Text      string
	Author    Author
	CreatedAt time.Time
	Source    string // posting client, may contain HTML
}

// DirectMessage is one private message addressed to the account.
type DirectMessage struct {
	ID        int64
	Text      string
	Sender    Author
	CreatedAt time.Time
}

// APIError is returned for every failed feed call.
//
// It matches [shared.ErrFeedAPI] and, for 401 responses, [shared.ErrAuthentication].
type APIError struct {
	StatusCode int // zero when no response was received
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s (HTTP %d)", e.Message, e.StatusCode)
	}
	return e.Message
}

func (e *APIError) Unwrap() []error {
	errs := []error{shared.ErrFeedAPI}
	if e.StatusCode == http.StatusUnauthorized {
		errs = append(errs, shared.ErrAuthentication)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// IsAPIError reports whether err came from a feed call.
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}
