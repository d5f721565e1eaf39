package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ticket-bot/config"

	"go.uber.org/zap"
)

// Ticket status values. Deleted is terminal.
const (
	StatusOpen    = "open"
	StatusClosed  = "closed"
	StatusDeleted = "deleted"
)

// Close reasons.
const (
	CloseReasonResolved    = "resolved"
	CloseReasonUserRequest = "user_request"
	CloseReasonAutoClose   = "auto_close"
)

// AutoCloseActor is recorded as closedBy when the system closes a ticket.
const AutoCloseActor = "AUTO_CLOSE"

// MessageHistoryCap bounds the per-ticket message history. Oldest entries
// are evicted once the cap is reached; the authoritative transcript is
// rendered from the live channel at close time.
const MessageHistoryCap = 100

var (
	ErrNotFound = errors.New("storage: not found")
	// ErrConflict means a conditional update's guard did not match; the
	// returned record (when non-nil) carries the current state.
	ErrConflict = errors.New("storage: conditional update conflict")
)

type TicketMessage struct {
	AuthorID  string    `json:"author_id"  bson:"author_id"`
	Content   string    `json:"content"    bson:"content"`
	Timestamp time.Time `json:"timestamp"  bson:"timestamp"`
}

type Ticket struct {
	TicketID     string          `json:"ticket_id"     bson:"ticket_id"`
	Number       int             `json:"number"        bson:"number"`
	GuildID      string          `json:"guild_id"      bson:"guild_id"`
	ChannelID    string          `json:"channel_id"    bson:"channel_id"`
	CreatorID    string          `json:"creator_id"    bson:"creator_id"`
	Status       string          `json:"status"        bson:"status"`
	Subject      string          `json:"subject"       bson:"subject"`
	Category     string          `json:"category"      bson:"category"`
	Priority     string          `json:"priority"      bson:"priority"`
	ClaimedBy    string          `json:"claimed_by"    bson:"claimed_by"`
	ClosedBy     string          `json:"closed_by"     bson:"closed_by"`
	CloseReason  string          `json:"close_reason"  bson:"close_reason"`
	Transcript   string          `json:"transcript"    bson:"transcript"`
	Participants []string        `json:"participants"  bson:"participants"`
	Messages     []TicketMessage `json:"messages"      bson:"messages"`
	ReopenCount  int             `json:"reopen_count"  bson:"reopen_count"`
	CreatedAt    time.Time       `json:"created_at"    bson:"created_at"`
	LastActivity time.Time       `json:"last_activity" bson:"last_activity"`
	ClaimedAt    *time.Time      `json:"claimed_at"    bson:"claimed_at"`
	ClosedAt     *time.Time      `json:"closed_at"     bson:"closed_at"`
}

type AutoCloseSettings struct {
	Enabled         bool `json:"enabled"          bson:"enabled"`
	InactivityHours int  `json:"inactivity_hours" bson:"inactivity_hours"`
}

type GuildConfig struct {
	GuildID           string            `json:"guild_id"           bson:"guild_id"`
	TicketCategory    string            `json:"ticket_category"    bson:"ticket_category"`
	PanelChannel      string            `json:"panel_channel"      bson:"panel_channel"`
	PanelMessageID    string            `json:"panel_message_id"   bson:"panel_message_id"`
	TranscriptChannel string            `json:"transcript_channel" bson:"transcript_channel"`
	SupportRoles      []string          `json:"support_roles"      bson:"support_roles"`
	TicketCounter     int               `json:"ticket_counter"     bson:"ticket_counter"`
	MaxOpenTickets    int               `json:"max_open_tickets"   bson:"max_open_tickets"`
	AllowReopen       bool              `json:"allow_reopen"       bson:"allow_reopen"`
	NamingTemplate    string            `json:"naming_template"    bson:"naming_template"`
	AutoClose         AutoCloseSettings `json:"auto_close"         bson:"auto_close"`
	UpdatedAt         time.Time         `json:"updated_at"         bson:"updated_at"`
}

type TicketCounts struct {
	Total       int64
	Open        int64
	ClosedSince int64
}

// Store is the persistence surface for tickets and guild configurations.
// Every state-changing ticket operation is a single conditional update
// guarded on the current status (and claimant, for Claim) so concurrent
// double-actions resolve to ErrConflict instead of lost writes.
type Store interface {
	Init() error
	Close() error

	InsertTicket(ctx context.Context, t *Ticket) error
	TicketByChannel(ctx context.Context, channelID string) (*Ticket, error)
	OpenTicketsByCreator(ctx context.Context, guildID, creatorID string) ([]Ticket, error)
	OpenTickets(ctx context.Context, guildID string) ([]Ticket, error)
	StaleOpenTickets(ctx context.Context, guildID string, cutoff time.Time) ([]Ticket, error)

	// ClaimTicket sets claimedBy/claimedAt iff the ticket is OPEN and
	// unclaimed. On guard failure it returns the current record and
	// ErrConflict so the caller can name the existing claimant.
	ClaimTicket(ctx context.Context, channelID, actorID string, at time.Time) (*Ticket, error)
	// CloseTicket moves OPEN -> CLOSED and records closedBy, reason,
	// transcript and closedAt in the same update.
	CloseTicket(ctx context.Context, channelID, closedBy, reason, transcript string, at time.Time) (*Ticket, error)
	// ReopenTicket moves CLOSED -> OPEN, clears closedAt/closedBy/
	// closeReason and clears the claim so the ticket can be re-claimed.
	ReopenTicket(ctx context.Context, channelID string, at time.Time) (*Ticket, error)
	// MarkDeleted moves any non-DELETED ticket to DELETED.
	MarkDeleted(ctx context.Context, channelID string) (*Ticket, error)
	TransferTicket(ctx context.Context, channelID, newCreatorID string) (*Ticket, error)
	// TouchActivity records a message on an OPEN ticket: lastActivity is
	// advanced (never moved back), the author joins participants, and the
	// message lands in the bounded history.
	TouchActivity(ctx context.Context, channelID string, msg TicketMessage) error

	CountTickets(ctx context.Context, since time.Time) (TicketCounts, error)
	PurgeDeleted(ctx context.Context, olderThan time.Time) (int64, error)

	GetGuildConfig(ctx context.Context, guildID string) (*GuildConfig, error)
	SaveGuildConfig(ctx context.Context, gc *GuildConfig) error
	// NextTicketNumber atomically increments and returns the guild's
	// ticket counter.
	NextTicketNumber(ctx context.Context, guildID string) (int, error)
	AutoCloseGuilds(ctx context.Context) ([]GuildConfig, error)
}

func InitDB(cfg *config.DatabaseConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Driver {
	case "sqlite":
		db := NewSQLiteStore(cfg.SQLite.Path, logger)
		if err := db.Init(); err != nil {
			return nil, err
		}
		return db, nil

	case "mongodb":
		db := NewMongoStore(cfg.MongoDB.URI, cfg.MongoDB.Database, logger)
		if err := db.Init(); err != nil {
			return nil, err
		}
		return db, nil

	default:
		return nil, fmt.Errorf("unsupported database driver: %s (use \"sqlite\" or \"mongodb\")", cfg.Driver)
	}
}
