package ticket

import (
	"context"
	"time"

	"ticket-bot/storage"
)

// Message is a platform message as seen by the engine. Bot marks messages
// authored by any bot account; those never count as ticket activity.
type Message struct {
	ID          string
	AuthorID    string
	AuthorName  string
	Bot         bool
	Content     string
	Timestamp   time.Time
	Attachments []string
}

// Gateway abstracts the chat platform. The discord implementation lives in
// the handlers package; tests use an in-memory fake.
type Gateway interface {
	// CreateTicketChannel creates a private channel under parentCategory
	// visible to the creator and the given support roles only.
	CreateTicketChannel(ctx context.Context, guildID, name, parentCategory, creatorID string, supportRoles []string) (channelID string, err error)

	// GrantAccess gives a user the standard participant permissions
	// (view, send, attach, read history).
	GrantAccess(ctx context.Context, channelID, userID string) error
	// GrantStaffAccess additionally allows message management.
	GrantStaffAccess(ctx context.Context, channelID, userID string) error
	// RevokeAccess removes a user's permission overwrite entirely.
	RevokeAccess(ctx context.Context, channelID, userID string) error

	SendWelcome(ctx context.Context, t *storage.Ticket) error
	AnnounceClaim(ctx context.Context, t *storage.Ticket) error
	AnnounceClosed(ctx context.Context, t *storage.Ticket) error
	AnnounceReopened(ctx context.Context, t *storage.Ticket) error
	DeliverTranscript(ctx context.Context, destChannelID string, t *storage.Ticket, transcript string) error

	FetchRecentMessages(ctx context.Context, channelID string, limit int) ([]Message, error)
	ChannelExists(ctx context.Context, channelID string) (bool, error)
	DeleteChannel(ctx context.Context, channelID string) error
}

// Notifier delivers out-of-band direct messages. Delivery is best-effort;
// callers swallow the error after logging it.
type Notifier interface {
	NotifyUser(ctx context.Context, userID, content string) error
}

// Publisher receives lifecycle events for external consumers. Implemented
// by the events package; a no-op implementation exists for tests and for
// deployments without a broker.
type Publisher interface {
	Publish(ctx context.Context, eventType string, t *storage.Ticket, actorID string)
}

// Actor is the identity attempting an operation, resolved by the caller
// from the interaction member.
type Actor struct {
	ID      string
	Roles   []string
	IsAdmin bool
	// CanManage corresponds to a channel-management permission, required
	// for deletion.
	CanManage bool
}

func (a Actor) holdsAny(roleIDs []string) bool {
	for _, want := range roleIDs {
		for _, have := range a.Roles {
			if want == have {
				return true
			}
		}
	}
	return false
}
