package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ticket-bot/lang"
	"ticket-bot/status"
	"ticket-bot/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

func adminCommands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:                     "ticket-setup",
			Description:              "Configure the ticket system for this server",
			DefaultMemberPermissions: &adminPerm,
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionChannel, Name: "category", Description: "Category for new ticket channels", Required: true},
				{Type: discordgo.ApplicationCommandOptionString, Name: "support-roles", Description: "Support role ID(s), comma-separated", Required: true},
				{Type: discordgo.ApplicationCommandOptionChannel, Name: "panel-channel", Description: "Channel for the ticket panel"},
				{Type: discordgo.ApplicationCommandOptionChannel, Name: "transcript-channel", Description: "Channel for closed-ticket transcripts"},
				{Type: discordgo.ApplicationCommandOptionInteger, Name: "max-open", Description: "Max open tickets per user"},
				{Type: discordgo.ApplicationCommandOptionBoolean, Name: "allow-reopen", Description: "Allow reopening closed tickets"},
			},
		},
		{
			Name:                     "ticket-settings",
			Description:              "Adjust ticket automation settings",
			DefaultMemberPermissions: &adminPerm,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Name: "autoclose", Description: "Configure inactivity auto-close",
					Type: discordgo.ApplicationCommandOptionSubCommand,
					Options: []*discordgo.ApplicationCommandOption{
						{Type: discordgo.ApplicationCommandOptionBoolean, Name: "enabled", Description: "Enable auto-close", Required: true},
						{Type: discordgo.ApplicationCommandOptionInteger, Name: "inactivity-hours", Description: "Hours of inactivity before warning"},
					},
				},
			},
		},
		{
			Name:                     "ticket-admin",
			Description:              "Administrative ticket operations",
			DefaultMemberPermissions: &adminPerm,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Name: "force-close", Description: "Close this ticket, bypassing the role gate",
					Type: discordgo.ApplicationCommandOptionSubCommand,
					Options: []*discordgo.ApplicationCommandOption{
						{Type: discordgo.ApplicationCommandOptionString, Name: "reason", Description: "Close reason"},
					},
				},
				{
					Name: "transfer", Description: "Transfer this ticket to a new owner",
					Type: discordgo.ApplicationCommandOptionSubCommand,
					Options: []*discordgo.ApplicationCommandOption{
						{Type: discordgo.ApplicationCommandOptionUser, Name: "user", Description: "New ticket owner", Required: true},
					},
				},
				{
					Name: "cleanup", Description: "Purge aged-out deleted ticket records",
					Type: discordgo.ApplicationCommandOptionSubCommand,
					Options: []*discordgo.ApplicationCommandOption{
						{Type: discordgo.ApplicationCommandOptionInteger, Name: "older-than-days", Description: "Minimum age in days"},
					},
				},
				{
					Name: "stats", Description: "Show ticket statistics and refresher health",
					Type: discordgo.ApplicationCommandOptionSubCommand,
				},
				{
					Name: "refresh", Description: "Force an immediate stats refresh",
					Type: discordgo.ApplicationCommandOptionSubCommand,
				},
			},
		},
	}
}

func handleTicketSetup(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !actorFrom(i).IsAdmin {
		respond(s, i, lang.T("ticket.err.forbidden"), true)
		return
	}

	om := optionMap(i)
	ctx := context.Background()

	gc, err := Store.GetGuildConfig(ctx, i.GuildID)
	if errors.Is(err, storage.ErrNotFound) {
		gc = &storage.GuildConfig{
			GuildID:        i.GuildID,
			MaxOpenTickets: Cfg.Tickets.MaxOpenPerUser,
			AllowReopen:    *Cfg.Tickets.AllowReopen,
			NamingTemplate: Cfg.Tickets.NamingTemplate,
			AutoClose: storage.AutoCloseSettings{
				InactivityHours: Cfg.AutoClose.DefaultInactivityHours,
			},
		}
	} else if err != nil {
		respond(s, i, lang.T("ticket.err.external"), true)
		return
	}

	gc.TicketCategory = om["category"].ChannelValue(s).ID
	gc.SupportRoles = splitRoleList(om["support-roles"].StringValue())
	if ch, ok := om["panel-channel"]; ok {
		gc.PanelChannel = ch.ChannelValue(s).ID
	}
	if ch, ok := om["transcript-channel"]; ok {
		gc.TranscriptChannel = ch.ChannelValue(s).ID
	}
	if n := optInt(om, "max-open", 0); n > 0 {
		gc.MaxOpenTickets = int(n)
	}
	if _, ok := om["allow-reopen"]; ok {
		gc.AllowReopen = optBool(om, "allow-reopen", gc.AllowReopen)
	}

	if err := Store.SaveGuildConfig(ctx, gc); err != nil {
		Log.Error("guild config save failed", zap.String("guild", i.GuildID), zap.Error(err))
		respond(s, i, lang.T("ticket.err.external"), true)
		return
	}
	respond(s, i, lang.T("ticket.setup.done"), true)
}

func handleTicketSettings(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !actorFrom(i).IsAdmin {
		respond(s, i, lang.T("ticket.err.forbidden"), true)
		return
	}

	sub := i.ApplicationCommandData().Options[0]
	if sub.Name != "autoclose" {
		return
	}
	om := subOptMap(sub.Options)
	ctx := context.Background()

	gc, err := Store.GetGuildConfig(ctx, i.GuildID)
	if err != nil {
		respond(s, i, lang.T("ticket.err.not_configured"), true)
		return
	}

	gc.AutoClose.Enabled = optBool(om, "enabled", gc.AutoClose.Enabled)
	if h := optInt(om, "inactivity-hours", 0); h > 0 {
		gc.AutoClose.InactivityHours = int(h)
	}

	if err := Store.SaveGuildConfig(ctx, gc); err != nil {
		Log.Error("guild config save failed", zap.String("guild", i.GuildID), zap.Error(err))
		respond(s, i, lang.T("ticket.err.external"), true)
		return
	}

	state := lang.T("ticket.settings.autoclose.disabled")
	if gc.AutoClose.Enabled {
		state = lang.T("ticket.settings.autoclose.enabled", "hours", fmt.Sprint(gc.AutoClose.InactivityHours))
	}
	respond(s, i, state, true)
}

func handleTicketAdmin(s *discordgo.Session, i *discordgo.InteractionCreate) {
	actor := actorFrom(i)
	if !actor.IsAdmin {
		respond(s, i, lang.T("ticket.err.forbidden"), true)
		return
	}

	sub := i.ApplicationCommandData().Options[0]
	ctx := context.Background()

	switch sub.Name {
	case "force-close":
		reason := optStr(subOptMap(sub.Options), "reason", "")
		if _, err := Engine.ForceClose(ctx, actor, i.ChannelID, reason); err != nil {
			respond(s, i, userMessage(err), true)
			return
		}
		respond(s, i, lang.T("ticket.close.done"), false)

	case "transfer":
		target := subOptMap(sub.Options)["user"].UserValue(s)
		if _, err := Engine.Transfer(ctx, actor, i.ChannelID, target.ID); err != nil {
			respond(s, i, userMessage(err), true)
			return
		}
		respond(s, i, lang.T("ticket.transfer.done", "user", target.ID), false)

	case "cleanup":
		days := optInt(subOptMap(sub.Options), "older-than-days", int64(Cfg.AutoClose.PurgeDeletedAfterDays))
		cutoff := time.Now().Add(-time.Duration(days) * 24 * time.Hour)
		n, err := Store.PurgeDeleted(ctx, cutoff)
		if err != nil {
			Log.Error("cleanup failed", zap.Error(err))
			respond(s, i, lang.T("ticket.err.external"), true)
			return
		}
		respond(s, i, lang.T("ticket.cleanup.done", "count", fmt.Sprint(n)), true)

	case "stats":
		handleAdminStats(s, i)

	case "refresh":
		Stats.ForceRefresh(ctx)
		respond(s, i, lang.T("ticket.stats.refreshed"), true)
	}
}

// handleAdminStats is the admin-only diagnostics surface; regular users
// never see these internals.
func handleAdminStats(s *discordgo.Session, i *discordgo.InteractionCreate) {
	snap := Stats.Snapshot()
	metrics := Stats.Metrics()
	health := status.Assess(metrics, Stats.CacheAge())

	updated := "never"
	if !snap.UpdatedAt.IsZero() {
		updated = snap.UpdatedAt.Format(time.RFC3339)
	}

	respondEmbed(s, i, &discordgo.MessageEmbed{
		Title: lang.T("ticket.stats.title"),
		Color: 0x5865F2,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Total Tickets", Value: fmt.Sprint(snap.TotalTickets), Inline: true},
			{Name: "Open", Value: fmt.Sprint(snap.OpenTickets), Inline: true},
			{Name: "Closed Today", Value: fmt.Sprint(snap.ClosedToday), Inline: true},
			{Name: "Servers", Value: fmt.Sprint(snap.Guilds), Inline: true},
			{Name: "Users", Value: fmt.Sprint(snap.Users), Inline: true},
			{Name: "Pending Auto-Closes", Value: fmt.Sprint(AutoCloser.PendingCount()), Inline: true},
			{Name: "Health", Value: string(health), Inline: true},
			{Name: "Refresh Errors", Value: fmt.Sprintf("%d/%d", metrics.Errors, metrics.Refreshes), Inline: true},
			{Name: "Cache Updated", Value: updated, Inline: true},
		},
	}, true)
}

func splitRoleList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
