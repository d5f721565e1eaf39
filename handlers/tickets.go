package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ticket-bot/lang"
	"ticket-bot/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

func ticketCommands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        "ticket",
			Description: "Support ticket commands",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Name: "open", Description: "Open a new support ticket",
					Type: discordgo.ApplicationCommandOptionSubCommand,
					Options: []*discordgo.ApplicationCommandOption{
						{Type: discordgo.ApplicationCommandOptionString, Name: "subject", Description: "What the ticket is about"},
						{Type: discordgo.ApplicationCommandOptionString, Name: "category", Description: "Ticket category"},
					},
				},
				{
					Name: "panel", Description: "Post the ticket panel in the configured channel",
					Type: discordgo.ApplicationCommandOptionSubCommand,
				},
				{
					Name: "list", Description: "List all open tickets",
					Type: discordgo.ApplicationCommandOptionSubCommand,
				},
				{
					Name: "info", Description: "Show details of the ticket in this channel",
					Type: discordgo.ApplicationCommandOptionSubCommand,
				},
			},
		},
		{
			Name: "close", Description: "Close the current ticket",
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionString, Name: "reason", Description: "Why the ticket is being closed"},
			},
		},
		{
			Name: "add", Description: "Add a user to the current ticket",
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionUser, Name: "user", Description: "User to add", Required: true},
			},
		},
		{
			Name: "remove", Description: "Remove a user from the current ticket",
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionUser, Name: "user", Description: "User to remove", Required: true},
			},
		},
	}
}

func handleTicketCommand(s *discordgo.Session, i *discordgo.InteractionCreate) {
	sub := i.ApplicationCommandData().Options[0]
	switch sub.Name {
	case "open":
		handleTicketOpen(s, i, sub.Options)
	case "panel":
		handleTicketPanel(s, i)
	case "list":
		handleTicketList(s, i)
	case "info":
		handleTicketInfo(s, i)
	}
}

func handleTicketOpen(s *discordgo.Session, i *discordgo.InteractionCreate, opts []*discordgo.ApplicationCommandInteractionDataOption) {
	om := subOptMap(opts)
	subject := optStr(om, "subject", "")
	category := optStr(om, "category", "general")

	t, err := Engine.Open(context.Background(), i.GuildID, actorFrom(i), subject, category)
	if err != nil {
		respond(s, i, userMessage(err), true)
		return
	}
	respond(s, i, lang.T("ticket.created", "channel", t.ChannelID), true)
}

func handleTicketPanel(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !actorFrom(i).IsAdmin {
		respond(s, i, lang.T("ticket.err.forbidden"), true)
		return
	}

	ctx := context.Background()
	gc, err := Store.GetGuildConfig(ctx, i.GuildID)
	if err != nil {
		respond(s, i, lang.T("ticket.err.not_configured"), true)
		return
	}
	if gc.PanelChannel == "" {
		respond(s, i, lang.T("ticket.panel.no_channel"), true)
		return
	}

	embed := &discordgo.MessageEmbed{
		Title:       lang.T("ticket.panel.title"),
		Description: lang.T("ticket.panel.body"),
		Color:       0x5865F2,
		Footer:      &discordgo.MessageEmbedFooter{Text: lang.T("ticket.panel.footer")},
	}

	msg, err := s.ChannelMessageSendComplex(gc.PanelChannel, &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{embed},
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{
				Components: []discordgo.MessageComponent{
					discordgo.Button{
						Label:    lang.T("ticket.button.create"),
						Style:    discordgo.PrimaryButton,
						CustomID: "ticket_create_btn",
						Emoji:    &discordgo.ComponentEmoji{Name: "🎫"},
					},
				},
			},
		},
	})
	if err != nil {
		respond(s, i, lang.T("ticket.panel.send_failed"), true)
		return
	}

	if gc.PanelMessageID != "" {
		_ = s.ChannelMessageDelete(gc.PanelChannel, gc.PanelMessageID)
	}
	gc.PanelMessageID = msg.ID
	if err := Store.SaveGuildConfig(ctx, gc); err != nil {
		Log.Warn("panel message id save failed", zap.String("guild", i.GuildID), zap.Error(err))
	}

	respond(s, i, lang.T("ticket.panel.posted"), true)
}

func handleTicketList(s *discordgo.Session, i *discordgo.InteractionCreate) {
	tickets, err := Store.OpenTickets(context.Background(), i.GuildID)
	if err != nil {
		respond(s, i, lang.T("ticket.err.external"), true)
		return
	}
	if len(tickets) == 0 {
		respond(s, i, lang.T("ticket.list.empty"), true)
		return
	}

	var sb strings.Builder
	sb.WriteString(lang.T("ticket.list.header", "count", fmt.Sprint(len(tickets))))
	sb.WriteString("\n")
	for _, t := range tickets {
		claimed := "—"
		if t.ClaimedBy != "" {
			claimed = fmt.Sprintf("<@%s>", t.ClaimedBy)
		}
		sb.WriteString(fmt.Sprintf("• <#%s> — #%s by <@%s>, claimed: %s\n", t.ChannelID, t.TicketID, t.CreatorID, claimed))
	}
	respond(s, i, sb.String(), true)
}

func handleTicketInfo(s *discordgo.Session, i *discordgo.InteractionCreate) {
	t, err := Engine.TicketByChannel(context.Background(), i.ChannelID)
	if err != nil {
		respond(s, i, userMessage(err), true)
		return
	}

	fields := []*discordgo.MessageEmbedField{
		{Name: "Status", Value: t.Status, Inline: true},
		{Name: "Creator", Value: fmt.Sprintf("<@%s>", t.CreatorID), Inline: true},
		{Name: "Category", Value: orDash(t.Category), Inline: true},
		{Name: "Created", Value: t.CreatedAt.Format(time.RFC3339), Inline: true},
		{Name: "Last Activity", Value: t.LastActivity.Format(time.RFC3339), Inline: true},
		{Name: "Participants", Value: fmt.Sprint(len(t.Participants)), Inline: true},
	}
	if t.ClaimedBy != "" {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Claimed By", Value: fmt.Sprintf("<@%s>", t.ClaimedBy), Inline: true})
	}
	if t.Status == storage.StatusClosed {
		fields = append(fields,
			&discordgo.MessageEmbedField{Name: "Closed By", Value: t.ClosedBy, Inline: true},
			&discordgo.MessageEmbedField{Name: "Close Reason", Value: orDash(t.CloseReason), Inline: true})
	}

	respondEmbed(s, i, &discordgo.MessageEmbed{
		Title:  lang.T("ticket.info.title", "number", t.TicketID),
		Color:  0x5865F2,
		Fields: fields,
	}, true)
}

func handleCreateButton(s *discordgo.Session, i *discordgo.InteractionCreate) {
	t, err := Engine.Open(context.Background(), i.GuildID, actorFrom(i), "", "general")
	if err != nil {
		respond(s, i, userMessage(err), true)
		return
	}
	respond(s, i, lang.T("ticket.created", "channel", t.ChannelID), true)
}

func handleCloseCommand(s *discordgo.Session, i *discordgo.InteractionCreate) {
	reason := optStr(optionMap(i), "reason", storage.CloseReasonUserRequest)

	_, err := Engine.ConfirmClose(context.Background(), actorFrom(i), i.ChannelID, reason)
	if err != nil {
		respond(s, i, userMessage(err), true)
		return
	}
	respond(s, i, lang.T("ticket.close.done"), false)
}

func handleCloseButton(s *discordgo.Session, i *discordgo.InteractionCreate) {
	// Two-step confirm: accidental clicks must be reversible.
	if _, err := Engine.RequestClose(context.Background(), actorFrom(i), i.ChannelID); err != nil {
		respond(s, i, userMessage(err), true)
		return
	}

	_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: lang.T("ticket.close.confirm_prompt"),
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{
					Components: []discordgo.MessageComponent{
						discordgo.Button{Label: lang.T("ticket.button.confirm_close"), Style: discordgo.DangerButton, CustomID: "ticket_close_confirm"},
						discordgo.Button{Label: lang.T("ticket.button.cancel"), Style: discordgo.SecondaryButton, CustomID: "ticket_close_cancel"},
					},
				},
			},
		},
	})
}

func handleCloseConfirm(s *discordgo.Session, i *discordgo.InteractionCreate) {
	_, err := Engine.ConfirmClose(context.Background(), actorFrom(i), i.ChannelID, storage.CloseReasonUserRequest)
	if err != nil {
		respond(s, i, userMessage(err), true)
		return
	}

	_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseUpdateMessage,
		Data: &discordgo.InteractionResponseData{
			Content:    lang.T("ticket.close.done"),
			Components: []discordgo.MessageComponent{},
		},
	})
}

func handleCloseCancel(s *discordgo.Session, i *discordgo.InteractionCreate) {
	_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseUpdateMessage,
		Data: &discordgo.InteractionResponseData{
			Content:    lang.T("ticket.close.cancelled"),
			Components: []discordgo.MessageComponent{},
		},
	})
}

func handleClaimButton(s *discordgo.Session, i *discordgo.InteractionCreate) {
	t, err := Engine.Claim(context.Background(), actorFrom(i), i.ChannelID)
	if err != nil {
		respond(s, i, userMessage(err), true)
		return
	}
	respond(s, i, lang.T("ticket.claim.done", "claimant", t.ClaimedBy), false)
}

func handleReopenButton(s *discordgo.Session, i *discordgo.InteractionCreate) {
	_, err := Engine.Reopen(context.Background(), actorFrom(i), i.ChannelID)
	if err != nil {
		respond(s, i, userMessage(err), true)
		return
	}
	respond(s, i, lang.T("ticket.reopen.done"), false)
}

func handleDeleteButton(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if _, err := Engine.RequestDelete(context.Background(), actorFrom(i), i.ChannelID); err != nil {
		respond(s, i, userMessage(err), true)
		return
	}

	_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: lang.T("ticket.delete.confirm_prompt"),
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{
					Components: []discordgo.MessageComponent{
						discordgo.Button{Label: lang.T("ticket.button.confirm_delete"), Style: discordgo.DangerButton, CustomID: "ticket_delete_confirm"},
						discordgo.Button{Label: lang.T("ticket.button.cancel"), Style: discordgo.SecondaryButton, CustomID: "ticket_delete_cancel"},
					},
				},
			},
		},
	})
}

func handleDeleteConfirm(s *discordgo.Session, i *discordgo.InteractionCreate) {
	_, err := Engine.ConfirmDelete(context.Background(), actorFrom(i), i.ChannelID)
	if err != nil {
		respond(s, i, userMessage(err), true)
		return
	}

	_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseUpdateMessage,
		Data: &discordgo.InteractionResponseData{
			Content:    lang.T("ticket.delete.pending"),
			Components: []discordgo.MessageComponent{},
		},
	})
}

func handleDeleteCancel(s *discordgo.Session, i *discordgo.InteractionCreate) {
	_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseUpdateMessage,
		Data: &discordgo.InteractionResponseData{
			Content:    lang.T("ticket.delete.cancelled"),
			Components: []discordgo.MessageComponent{},
		},
	})
}

func handleAddUser(s *discordgo.Session, i *discordgo.InteractionCreate) {
	t, err := Engine.TicketByChannel(context.Background(), i.ChannelID)
	if err != nil {
		respond(s, i, userMessage(err), true)
		return
	}
	if t.Status != storage.StatusOpen {
		respond(s, i, lang.T("ticket.err.not_open"), true)
		return
	}

	target := optionMap(i)["user"].UserValue(s)
	err = s.ChannelPermissionSet(i.ChannelID, target.ID, discordgo.PermissionOverwriteTypeMember, memberAllow, 0)
	if err != nil {
		respond(s, i, lang.T("ticket.err.external"), true)
		return
	}
	respond(s, i, lang.T("ticket.member.added", "user", target.ID), false)
}

func handleRemoveUser(s *discordgo.Session, i *discordgo.InteractionCreate) {
	t, err := Engine.TicketByChannel(context.Background(), i.ChannelID)
	if err != nil {
		respond(s, i, userMessage(err), true)
		return
	}
	target := optionMap(i)["user"].UserValue(s)
	if target.ID == t.CreatorID {
		respond(s, i, lang.T("ticket.member.cannot_remove_creator"), true)
		return
	}
	if err := s.ChannelPermissionDelete(i.ChannelID, target.ID); err != nil {
		respond(s, i, lang.T("ticket.err.external"), true)
		return
	}
	respond(s, i, lang.T("ticket.member.removed", "user", target.ID), false)
}
