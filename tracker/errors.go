package tracker

import (
	"errors"
	"fmt"

	"invite_tracker/models"
)

var (
	// ErrUnknownGuild is returned for a guild whose snapshot was never initialized
	ErrUnknownGuild = errors.New("unknown guild")
	ErrClosed       = errors.New("tracker closed")
	// ErrFetchForbidden marks fetch errors that retrying cannot fix
	ErrFetchForbidden = errors.New("missing permission to list invites")
)

type FetchFailure struct {
	GuildID string
	Err     error
}

func (e *FetchFailure) Error() string {
	return fmt.Sprintf("fetch invites of guild %s: %v", e.GuildID, e.Err)
}

func (e *FetchFailure) Unwrap() error {
	return e.Err
}

// PersistenceFailure is reported when an attribution could not be written
// after all retries. The attribution is kept and flushed later.
type PersistenceFailure struct {
	Attribution models.MembershipAttribution
	Err         error
}

func (e *PersistenceFailure) Error() string {
	return fmt.Sprintf("save attribution of member %s in guild %s: %v",
		e.Attribution.InviteeID, e.Attribution.GuildID, e.Err)
}

func (e *PersistenceFailure) Unwrap() error {
	return e.Err
}
