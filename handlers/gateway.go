package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"ticket-bot/lang"
	"ticket-bot/storage"
	"ticket-bot/ticket"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	memberAllow = discordgo.PermissionViewChannel | discordgo.PermissionSendMessages |
		discordgo.PermissionAttachFiles | discordgo.PermissionReadMessageHistory
	staffAllow = memberAllow | discordgo.PermissionManageMessages
)

// DiscordGateway adapts a discordgo session to the engine's Gateway,
// Notifier and the status package's Presence interfaces.
type DiscordGateway struct {
	session *discordgo.Session
	logger  *zap.Logger
}

func NewDiscordGateway(s *discordgo.Session, logger *zap.Logger) *DiscordGateway {
	return &DiscordGateway{session: s, logger: logger}
}

func (g *DiscordGateway) CreateTicketChannel(ctx context.Context, guildID, name, parentCategory, creatorID string, supportRoles []string) (string, error) {
	overwrites := []*discordgo.PermissionOverwrite{
		{ID: guildID, Type: discordgo.PermissionOverwriteTypeRole, Deny: discordgo.PermissionViewChannel},
		{ID: creatorID, Type: discordgo.PermissionOverwriteTypeMember, Allow: memberAllow},
	}
	for _, roleID := range supportRoles {
		overwrites = append(overwrites, &discordgo.PermissionOverwrite{
			ID:    roleID,
			Type:  discordgo.PermissionOverwriteTypeRole,
			Allow: staffAllow,
		})
	}

	ch, err := g.session.GuildChannelCreateComplex(guildID, discordgo.GuildChannelCreateData{
		Name:                 name,
		Type:                 discordgo.ChannelTypeGuildText,
		ParentID:             parentCategory,
		PermissionOverwrites: overwrites,
	})
	if err != nil {
		return "", fmt.Errorf("create channel: %w", err)
	}
	return ch.ID, nil
}

func (g *DiscordGateway) GrantAccess(ctx context.Context, channelID, userID string) error {
	return g.session.ChannelPermissionSet(channelID, userID, discordgo.PermissionOverwriteTypeMember, memberAllow, 0)
}

func (g *DiscordGateway) GrantStaffAccess(ctx context.Context, channelID, userID string) error {
	return g.session.ChannelPermissionSet(channelID, userID, discordgo.PermissionOverwriteTypeMember, staffAllow, 0)
}

func (g *DiscordGateway) RevokeAccess(ctx context.Context, channelID, userID string) error {
	return g.session.ChannelPermissionDelete(channelID, userID)
}

func (g *DiscordGateway) SendWelcome(ctx context.Context, t *storage.Ticket) error {
	topic := t.Category
	if t.Subject != "" {
		topic = t.Subject
		if t.Category != "" {
			topic = t.Category + " → " + t.Subject
		}
	}

	embed := &discordgo.MessageEmbed{
		Title:       lang.T("ticket.welcome.title", "number", t.TicketID),
		Description: lang.T("ticket.welcome.body", "user", t.CreatorID, "topic", topic),
		Color:       0x57F287,
		Timestamp:   t.CreatedAt.Format(time.RFC3339),
	}

	_, err := g.session.ChannelMessageSendComplex(t.ChannelID, &discordgo.MessageSend{
		Content: fmt.Sprintf("<@%s>", t.CreatorID),
		Embeds:  []*discordgo.MessageEmbed{embed},
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{
				Components: []discordgo.MessageComponent{
					discordgo.Button{Label: lang.T("ticket.button.close"), Style: discordgo.DangerButton, CustomID: "ticket_close_btn"},
					discordgo.Button{Label: lang.T("ticket.button.claim"), Style: discordgo.PrimaryButton, CustomID: "ticket_claim_btn"},
				},
			},
		},
	})
	return err
}

func (g *DiscordGateway) AnnounceClaim(ctx context.Context, t *storage.Ticket) error {
	_, err := g.session.ChannelMessageSendEmbed(t.ChannelID, &discordgo.MessageEmbed{
		Description: lang.T("ticket.claimed.body", "claimant", t.ClaimedBy),
		Color:       0x5865F2,
	})
	return err
}

func (g *DiscordGateway) AnnounceClosed(ctx context.Context, t *storage.Ticket) error {
	closer := fmt.Sprintf("<@%s>", t.ClosedBy)
	if t.ClosedBy == storage.AutoCloseActor {
		closer = lang.T("ticket.closed.by_system")
	}

	embed := &discordgo.MessageEmbed{
		Title:       lang.T("ticket.closed.title", "number", t.TicketID),
		Description: lang.T("ticket.closed.body", "closer", closer),
		Color:       0xED4245,
		Timestamp:   time.Now().Format(time.RFC3339),
	}

	_, err := g.session.ChannelMessageSendComplex(t.ChannelID, &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{embed},
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{
				Components: []discordgo.MessageComponent{
					discordgo.Button{Label: lang.T("ticket.button.reopen"), Style: discordgo.SuccessButton, CustomID: "ticket_reopen_btn"},
					discordgo.Button{Label: lang.T("ticket.button.delete"), Style: discordgo.DangerButton, CustomID: "ticket_delete_btn"},
				},
			},
		},
	})
	return err
}

func (g *DiscordGateway) AnnounceReopened(ctx context.Context, t *storage.Ticket) error {
	_, err := g.session.ChannelMessageSendEmbed(t.ChannelID, &discordgo.MessageEmbed{
		Description: lang.T("ticket.reopened.body", "user", t.CreatorID),
		Color:       0x57F287,
	})
	return err
}

func (g *DiscordGateway) DeliverTranscript(ctx context.Context, destChannelID string, t *storage.Ticket, transcript string) error {
	embed := &discordgo.MessageEmbed{
		Title: lang.T("ticket.transcript.title", "number", t.TicketID),
		Color: 0xED4245,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Opened By", Value: fmt.Sprintf("<@%s>", t.CreatorID), Inline: true},
			{Name: "Closed By", Value: t.ClosedBy, Inline: true},
			{Name: "Category", Value: orDash(t.Category), Inline: true},
			{Name: "Reason", Value: orDash(t.CloseReason), Inline: true},
			{Name: "Opened At", Value: t.CreatedAt.Format(time.RFC3339), Inline: true},
		},
		Timestamp: time.Now().Format(time.RFC3339),
	}

	_, err := g.session.ChannelMessageSendComplex(destChannelID, &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{embed},
		Files: []*discordgo.File{
			{
				Name:        fmt.Sprintf("ticket-%s-transcript.txt", t.TicketID),
				ContentType: "text/plain",
				Reader:      strings.NewReader(transcript),
			},
		},
	})
	return err
}

func (g *DiscordGateway) FetchRecentMessages(ctx context.Context, channelID string, limit int) ([]ticket.Message, error) {
	msgs, err := g.session.ChannelMessages(channelID, limit, "", "", "")
	if err != nil {
		return nil, err
	}

	out := make([]ticket.Message, 0, len(msgs))
	for _, m := range msgs {
		msg := ticket.Message{
			ID:         m.ID,
			AuthorID:   m.Author.ID,
			AuthorName: m.Author.Username,
			Bot:        m.Author.Bot,
			Content:    m.Content,
			Timestamp:  m.Timestamp,
		}
		for _, a := range m.Attachments {
			msg.Attachments = append(msg.Attachments, a.URL)
		}
		out = append(out, msg)
	}
	return out, nil
}

func (g *DiscordGateway) ChannelExists(ctx context.Context, channelID string) (bool, error) {
	_, err := g.session.Channel(channelID)
	if err == nil {
		return true, nil
	}
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound {
		return false, nil
	}
	return false, err
}

func (g *DiscordGateway) DeleteChannel(ctx context.Context, channelID string) error {
	_, err := g.session.ChannelDelete(channelID)
	return err
}

func (g *DiscordGateway) SendInactivityWarning(ctx context.Context, t *storage.Ticket, grace time.Duration) error {
	_, err := g.session.ChannelMessageSendComplex(t.ChannelID, &discordgo.MessageSend{
		Content: fmt.Sprintf("<@%s>", t.CreatorID),
		Embeds: []*discordgo.MessageEmbed{{
			Title:       lang.T("ticket.autoclose.warning.title"),
			Description: lang.T("ticket.autoclose.warning.body", "grace", formatDuration(grace)),
			Color:       0xFEE75C,
		}},
	})
	return err
}

func (g *DiscordGateway) NotifyUser(ctx context.Context, userID, content string) error {
	dm, err := g.session.UserChannelCreate(userID)
	if err != nil {
		return err
	}
	_, err = g.session.ChannelMessageSend(dm.ID, content)
	return err
}

func (g *DiscordGateway) UpdateStatus(text string) error {
	return g.session.UpdateCustomStatus(text)
}

func (g *DiscordGateway) GuildCount() (int, int) {
	guilds := g.session.State.Guilds
	users := 0
	for _, guild := range guilds {
		users += guild.MemberCount
	}
	return len(guilds), users
}

func orDash(s string) string {
	if s == "" {
		return "—"
	}
	return s
}

func formatDuration(d time.Duration) string {
	if d >= time.Hour {
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	return fmt.Sprintf("%dm", int(d.Minutes()))
}
