package ticket

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ticket-bot/storage"

	"go.uber.org/zap"
)

// Lifecycle event types handed to the Publisher.
const (
	EventCreated     = "ticket_created"
	EventClaimed     = "ticket_claimed"
	EventClosed      = "ticket_closed"
	EventReopened    = "ticket_reopened"
	EventDeleted     = "ticket_deleted"
	EventTransferred = "ticket_transferred"
)

const transcriptFetchLimit = 100

// Engine owns every ticket state transition. All guarded transitions go
// through the store's atomic conditional updates; the engine never does a
// read-then-write on ticket state.
type Engine struct {
	store    storage.Store
	gateway  Gateway
	notifier Notifier
	events   Publisher
	logger   *zap.Logger

	// deleteGrace is the delay between acknowledging a delete and
	// removing the backing channel.
	deleteGrace time.Duration

	now func() time.Time
}

func NewEngine(store storage.Store, gateway Gateway, notifier Notifier, events Publisher, deleteGrace time.Duration, logger *zap.Logger) *Engine {
	return &Engine{
		store:       store,
		gateway:     gateway,
		notifier:    notifier,
		events:      events,
		logger:      logger,
		deleteGrace: deleteGrace,
		now:         time.Now,
	}
}

func (e *Engine) guildConfig(ctx context.Context, guildID string) (*storage.GuildConfig, error) {
	gc, err := e.store.GetGuildConfig(ctx, guildID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, failure(KindNotConfigured)
	}
	if err != nil {
		return nil, external(err)
	}
	return gc, nil
}

func canHandle(actor Actor, t *storage.Ticket, gc *storage.GuildConfig) bool {
	return actor.ID == t.CreatorID || actor.IsAdmin || actor.holdsAny(gc.SupportRoles)
}

func isSupport(actor Actor, gc *storage.GuildConfig) bool {
	return actor.IsAdmin || actor.holdsAny(gc.SupportRoles)
}

// Open creates a ticket: allocates the next display number atomically,
// creates the private channel, persists the OPEN record and posts the
// welcome message.
func (e *Engine) Open(ctx context.Context, guildID string, creator Actor, subject, category string) (*storage.Ticket, error) {
	gc, err := e.guildConfig(ctx, guildID)
	if err != nil {
		return nil, err
	}

	open, err := e.store.OpenTicketsByCreator(ctx, guildID, creator.ID)
	if err != nil {
		return nil, external(err)
	}
	if len(open) >= gc.MaxOpenTickets {
		if gc.MaxOpenTickets == 1 {
			return nil, failure(KindAlreadyOpen)
		}
		return nil, failure(KindQuotaExceeded)
	}

	num, err := e.store.NextTicketNumber(ctx, guildID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, failure(KindNotConfigured)
	}
	if err != nil {
		return nil, external(err)
	}

	name := fmt.Sprintf(gc.NamingTemplate, num)
	channelID, err := e.gateway.CreateTicketChannel(ctx, guildID, name, gc.TicketCategory, creator.ID, gc.SupportRoles)
	if err != nil {
		return nil, external(err)
	}

	now := e.now()
	t := &storage.Ticket{
		TicketID:     fmt.Sprintf("%04d", num),
		Number:       num,
		GuildID:      guildID,
		ChannelID:    channelID,
		CreatorID:    creator.ID,
		Status:       storage.StatusOpen,
		Subject:      subject,
		Category:     category,
		Participants: []string{creator.ID},
		CreatedAt:    now,
		LastActivity: now,
	}
	if err := e.store.InsertTicket(ctx, t); err != nil {
		// The channel exists but the record does not; remove the channel
		// so no orphan is left behind.
		if derr := e.gateway.DeleteChannel(ctx, channelID); derr != nil {
			e.logger.Warn("orphan channel cleanup failed",
				zap.String("channel", channelID), zap.Error(derr))
		}
		return nil, external(err)
	}

	if err := e.gateway.SendWelcome(ctx, t); err != nil {
		e.logger.Warn("welcome message failed", zap.String("ticket", t.TicketID), zap.Error(err))
	}
	e.events.Publish(ctx, EventCreated, t, creator.ID)
	return t, nil
}

// RequestClose validates that the actor may close the ticket. It mutates
// nothing; the caller renders a confirm/cancel prompt on success.
func (e *Engine) RequestClose(ctx context.Context, actor Actor, channelID string) (*storage.Ticket, error) {
	t, err := e.ticketByChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	gc, err := e.guildConfig(ctx, t.GuildID)
	if err != nil {
		return nil, err
	}
	if !canHandle(actor, t, gc) {
		return nil, failure(KindForbidden)
	}
	if t.Status != storage.StatusOpen {
		return nil, failure(KindAlreadyClosed)
	}
	return t, nil
}

// ConfirmClose executes the close transition with the actor recorded as
// closer.
func (e *Engine) ConfirmClose(ctx context.Context, actor Actor, channelID, reason string) (*storage.Ticket, error) {
	t, err := e.ticketByChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	gc, err := e.guildConfig(ctx, t.GuildID)
	if err != nil {
		return nil, err
	}
	if !canHandle(actor, t, gc) {
		return nil, failure(KindForbidden)
	}
	if reason == "" {
		reason = storage.CloseReasonResolved
	}
	return e.close(ctx, gc, channelID, actor.ID, reason)
}

// ForceClose is the administrator-only close that skips the role gate.
func (e *Engine) ForceClose(ctx context.Context, admin Actor, channelID, reason string) (*storage.Ticket, error) {
	if !admin.IsAdmin {
		return nil, failure(KindForbidden)
	}
	t, err := e.ticketByChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	gc, err := e.guildConfig(ctx, t.GuildID)
	if err != nil {
		return nil, err
	}
	if reason == "" {
		reason = storage.CloseReasonUserRequest
	}
	return e.close(ctx, gc, channelID, admin.ID, reason)
}

// AutoClose is the system-initiated close used by the inactivity sweep.
func (e *Engine) AutoClose(ctx context.Context, t *storage.Ticket) (*storage.Ticket, error) {
	gc, err := e.guildConfig(ctx, t.GuildID)
	if err != nil {
		return nil, err
	}
	return e.close(ctx, gc, t.ChannelID, storage.AutoCloseActor, storage.CloseReasonAutoClose)
}

func (e *Engine) close(ctx context.Context, gc *storage.GuildConfig, channelID, closedBy, reason string) (*storage.Ticket, error) {
	transcript := ""
	msgs, err := e.gateway.FetchRecentMessages(ctx, channelID, transcriptFetchLimit)
	if err != nil {
		e.logger.Warn("transcript fetch failed", zap.String("channel", channelID), zap.Error(err))
	} else {
		transcript = RenderTranscript(msgs)
	}

	t, err := e.store.CloseTicket(ctx, channelID, closedBy, reason, transcript, e.now())
	if err != nil {
		return nil, e.mapConflict(err, t, storage.StatusOpen)
	}

	// The close is authoritative from here on; everything below is
	// best-effort.
	if gc.TranscriptChannel != "" && transcript != "" {
		if err := e.gateway.DeliverTranscript(ctx, gc.TranscriptChannel, t, transcript); err != nil {
			e.logger.Warn("transcript delivery failed", zap.String("ticket", t.TicketID), zap.Error(err))
		}
	}
	if err := e.gateway.RevokeAccess(ctx, channelID, t.CreatorID); err != nil {
		e.logger.Warn("creator access revoke failed", zap.String("ticket", t.TicketID), zap.Error(err))
	}
	if err := e.gateway.AnnounceClosed(ctx, t); err != nil {
		e.logger.Warn("close announcement failed", zap.String("ticket", t.TicketID), zap.Error(err))
	}
	e.events.Publish(ctx, EventClosed, t, closedBy)
	return t, nil
}

// Claim assigns the actor as the ticket's handler. The at-most-one-
// claimant invariant rides entirely on the store's conditional update.
func (e *Engine) Claim(ctx context.Context, actor Actor, channelID string) (*storage.Ticket, error) {
	t, err := e.ticketByChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	gc, err := e.guildConfig(ctx, t.GuildID)
	if err != nil {
		return nil, err
	}
	if !isSupport(actor, gc) {
		return nil, failure(KindForbidden)
	}

	t, err = e.store.ClaimTicket(ctx, channelID, actor.ID, e.now())
	if errors.Is(err, storage.ErrConflict) {
		if t != nil && t.Status == storage.StatusOpen && t.ClaimedBy != "" {
			return nil, &Error{Kind: KindAlreadyClaimed, Claimant: t.ClaimedBy}
		}
		return nil, failure(KindNotOpen)
	}
	if err != nil {
		return nil, e.mapConflict(err, t, storage.StatusOpen)
	}

	if err := e.gateway.GrantStaffAccess(ctx, channelID, actor.ID); err != nil {
		e.logger.Warn("claim permission grant failed", zap.String("ticket", t.TicketID), zap.Error(err))
	}
	if err := e.gateway.AnnounceClaim(ctx, t); err != nil {
		e.logger.Warn("claim announcement failed", zap.String("ticket", t.TicketID), zap.Error(err))
	}
	e.events.Publish(ctx, EventClaimed, t, actor.ID)
	return t, nil
}

// Reopen moves a closed ticket back to OPEN and restores the creator's
// access.
func (e *Engine) Reopen(ctx context.Context, actor Actor, channelID string) (*storage.Ticket, error) {
	t, err := e.ticketByChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	gc, err := e.guildConfig(ctx, t.GuildID)
	if err != nil {
		return nil, err
	}
	if !canHandle(actor, t, gc) {
		return nil, failure(KindForbidden)
	}
	if !gc.AllowReopen {
		return nil, failure(KindReopenDisabled)
	}

	t, err = e.store.ReopenTicket(ctx, channelID, e.now())
	if err != nil {
		return nil, e.mapConflict(err, t, storage.StatusClosed)
	}

	if err := e.gateway.GrantAccess(ctx, channelID, t.CreatorID); err != nil {
		e.logger.Warn("reopen access restore failed", zap.String("ticket", t.TicketID), zap.Error(err))
	}
	if err := e.gateway.AnnounceReopened(ctx, t); err != nil {
		e.logger.Warn("reopen announcement failed", zap.String("ticket", t.TicketID), zap.Error(err))
	}
	if err := e.notifier.NotifyUser(ctx, t.CreatorID, fmt.Sprintf("Your ticket %s was reopened.", t.TicketID)); err != nil {
		e.logger.Debug("reopen notification failed", zap.String("user", t.CreatorID), zap.Error(err))
	}
	e.events.Publish(ctx, EventReopened, t, actor.ID)
	return t, nil
}

// RequestDelete validates the (stronger) delete gate without mutating
// anything.
func (e *Engine) RequestDelete(ctx context.Context, actor Actor, channelID string) (*storage.Ticket, error) {
	if !actor.IsAdmin && !actor.CanManage {
		return nil, failure(KindForbidden)
	}
	t, err := e.ticketByChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if t.Status == storage.StatusDeleted {
		return nil, failure(KindAlreadyDeleted)
	}
	return t, nil
}

// ConfirmDelete marks the ticket DELETED immediately and removes the
// backing channel after a grace delay. Channel deletion failure does not
// roll the status back.
func (e *Engine) ConfirmDelete(ctx context.Context, actor Actor, channelID string) (*storage.Ticket, error) {
	if !actor.IsAdmin && !actor.CanManage {
		return nil, failure(KindForbidden)
	}

	t, err := e.store.MarkDeleted(ctx, channelID)
	if errors.Is(err, storage.ErrConflict) {
		return nil, failure(KindAlreadyDeleted)
	}
	if errors.Is(err, storage.ErrNotFound) {
		return nil, failure(KindAlreadyDeleted)
	}
	if err != nil {
		return nil, external(err)
	}

	e.events.Publish(ctx, EventDeleted, t, actor.ID)

	logger := e.logger
	gw := e.gateway
	time.AfterFunc(e.deleteGrace, func() {
		if err := gw.DeleteChannel(context.Background(), channelID); err != nil {
			logger.Warn("ticket channel deletion failed",
				zap.String("channel", channelID), zap.Error(err))
		}
	})
	return t, nil
}

// Transfer reassigns ticket ownership to newOwnerID.
func (e *Engine) Transfer(ctx context.Context, admin Actor, channelID, newOwnerID string) (*storage.Ticket, error) {
	if !admin.IsAdmin {
		return nil, failure(KindForbidden)
	}
	old, err := e.ticketByChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}

	t, err := e.store.TransferTicket(ctx, channelID, newOwnerID)
	if errors.Is(err, storage.ErrConflict) {
		return nil, failure(KindAlreadyDeleted)
	}
	if err != nil {
		return nil, external(err)
	}

	if err := e.gateway.RevokeAccess(ctx, channelID, old.CreatorID); err != nil {
		e.logger.Warn("transfer revoke failed", zap.String("ticket", t.TicketID), zap.Error(err))
	}
	if err := e.gateway.GrantAccess(ctx, channelID, newOwnerID); err != nil {
		e.logger.Warn("transfer grant failed", zap.String("ticket", t.TicketID), zap.Error(err))
	}
	if err := e.notifier.NotifyUser(ctx, newOwnerID, fmt.Sprintf("Ticket %s was transferred to you.", t.TicketID)); err != nil {
		e.logger.Debug("transfer notification failed", zap.String("user", newOwnerID), zap.Error(err))
	}
	e.events.Publish(ctx, EventTransferred, t, admin.ID)
	return t, nil
}

// TrackActivity records an inbound channel message against its OPEN
// ticket. Messages on channels without an open ticket are ignored.
func (e *Engine) TrackActivity(ctx context.Context, channelID string, msg storage.TicketMessage) error {
	if err := e.store.TouchActivity(ctx, channelID, msg); err != nil {
		return external(err)
	}
	return nil
}

// TicketByChannel exposes lookups for read-only command handlers.
func (e *Engine) TicketByChannel(ctx context.Context, channelID string) (*storage.Ticket, error) {
	return e.ticketByChannel(ctx, channelID)
}

func (e *Engine) ticketByChannel(ctx context.Context, channelID string) (*storage.Ticket, error) {
	t, err := e.store.TicketByChannel(ctx, channelID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, failure(KindNotFound)
	}
	if err != nil {
		return nil, external(err)
	}
	return t, nil
}

// mapConflict turns a store conflict into the InvalidState kind implied
// by the transition's expected status.
func (e *Engine) mapConflict(err error, current *storage.Ticket, expected string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return failure(KindNotFound)
	}
	if !errors.Is(err, storage.ErrConflict) {
		return external(err)
	}
	if current != nil && current.Status == storage.StatusDeleted {
		return failure(KindAlreadyDeleted)
	}
	switch expected {
	case storage.StatusOpen:
		return failure(KindAlreadyClosed)
	case storage.StatusClosed:
		return failure(KindNotClosed)
	}
	return failure(KindNotFound)
}
