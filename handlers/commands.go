package handlers

import (
	"ticket-bot/autoclose"
	"ticket-bot/config"
	"ticket-bot/lang"
	"ticket-bot/status"
	"ticket-bot/storage"
	"ticket-bot/ticket"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// Package-level collaborators, wired by main before Register is called.
var (
	Cfg        *config.Config
	Store      storage.Store
	Engine     *ticket.Engine
	AutoCloser *autoclose.Scheduler
	Stats      *status.Refresher
	Log        *zap.Logger
)

var adminPerm int64 = discordgo.PermissionAdministrator

func Commands() []*discordgo.ApplicationCommand {
	cmds := make([]*discordgo.ApplicationCommand, 0)
	cmds = append(cmds, ticketCommands()...)
	cmds = append(cmds, adminCommands()...)
	cmds = append(cmds, helpCommand())
	return cmds
}

func Register(s *discordgo.Session) {
	s.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		if i.GuildID == "" {
			return
		}

		switch i.Type {
		case discordgo.InteractionApplicationCommand:
			handleSlashCommand(s, i)
		case discordgo.InteractionMessageComponent:
			handleComponent(s, i)
		}
	})
	s.AddHandler(handleMessageCreate)
}

func handleSlashCommand(s *discordgo.Session, i *discordgo.InteractionCreate) {
	name := i.ApplicationCommandData().Name

	switch name {
	case "ticket":
		handleTicketCommand(s, i)
	case "close":
		handleCloseCommand(s, i)
	case "add":
		handleAddUser(s, i)
	case "remove":
		handleRemoveUser(s, i)

	case "ticket-setup":
		handleTicketSetup(s, i)
	case "ticket-settings":
		handleTicketSettings(s, i)
	case "ticket-admin":
		handleTicketAdmin(s, i)

	case "help":
		handleHelp(s, i)

	default:
		Log.Warn("unknown command", zap.String("name", name))
	}
}

func handleComponent(s *discordgo.Session, i *discordgo.InteractionCreate) {
	customID := i.MessageComponentData().CustomID

	switch customID {
	case "ticket_create_btn":
		handleCreateButton(s, i)
	case "ticket_close_btn":
		handleCloseButton(s, i)
	case "ticket_close_confirm":
		handleCloseConfirm(s, i)
	case "ticket_close_cancel":
		handleCloseCancel(s, i)
	case "ticket_claim_btn":
		handleClaimButton(s, i)
	case "ticket_reopen_btn":
		handleReopenButton(s, i)
	case "ticket_delete_btn":
		handleDeleteButton(s, i)
	case "ticket_delete_confirm":
		handleDeleteConfirm(s, i)
	case "ticket_delete_cancel":
		handleDeleteCancel(s, i)
	case "help_user", "help_staff", "help_admin":
		handleHelpPage(s, i, customID)
	default:
		Log.Warn("unknown component", zap.String("custom_id", customID))
	}
}

func respond(s *discordgo.Session, i *discordgo.InteractionCreate, content string, ephemeral bool) {
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   flags,
		},
	})
	if err != nil {
		Log.Warn("interaction respond failed", zap.Error(err))
	}
}

func respondEmbed(s *discordgo.Session, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed, ephemeral bool) {
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
			Flags:  flags,
		},
	})
}

func followup(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	_, _ = s.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{
		Content: content,
		Flags:   discordgo.MessageFlagsEphemeral,
	})
}

func optionMap(i *discordgo.InteractionCreate) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	m := make(map[string]*discordgo.ApplicationCommandInteractionDataOption)
	for _, opt := range i.ApplicationCommandData().Options {
		m[opt.Name] = opt
	}
	return m
}

func subOptMap(opts []*discordgo.ApplicationCommandInteractionDataOption) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	m := make(map[string]*discordgo.ApplicationCommandInteractionDataOption)
	for _, opt := range opts {
		m[opt.Name] = opt
	}
	return m
}

func optStr(m map[string]*discordgo.ApplicationCommandInteractionDataOption, key, def string) string {
	if o, ok := m[key]; ok {
		return o.StringValue()
	}
	return def
}

func optInt(m map[string]*discordgo.ApplicationCommandInteractionDataOption, key string, def int64) int64 {
	if o, ok := m[key]; ok {
		return o.IntValue()
	}
	return def
}

func optBool(m map[string]*discordgo.ApplicationCommandInteractionDataOption, key string, def bool) bool {
	if o, ok := m[key]; ok {
		return o.BoolValue()
	}
	return def
}

func hasConfigAdminRole(member *discordgo.Member) bool {
	for _, allowed := range Cfg.Permissions.AdminRoles {
		for _, r := range member.Roles {
			if r == allowed {
				return true
			}
		}
	}
	return false
}

func actorFrom(i *discordgo.InteractionCreate) ticket.Actor {
	m := i.Member
	return ticket.Actor{
		ID:        m.User.ID,
		Roles:     m.Roles,
		IsAdmin:   m.Permissions&discordgo.PermissionAdministrator != 0 || hasConfigAdminRole(m),
		CanManage: m.Permissions&discordgo.PermissionManageChannels != 0,
	}
}

// userMessage maps an engine failure to its localized user-facing text.
// Internal causes never reach the user; they are logged by the engine.
func userMessage(err error) string {
	switch ticket.KindOf(err) {
	case ticket.KindNotConfigured:
		return lang.T("ticket.err.not_configured")
	case ticket.KindForbidden:
		return lang.T("ticket.err.forbidden")
	case ticket.KindQuotaExceeded:
		return lang.T("ticket.err.quota_exceeded")
	case ticket.KindAlreadyOpen:
		return lang.T("ticket.err.already_open")
	case ticket.KindAlreadyClosed:
		return lang.T("ticket.err.already_closed")
	case ticket.KindNotOpen:
		return lang.T("ticket.err.not_open")
	case ticket.KindNotClosed:
		return lang.T("ticket.err.not_closed")
	case ticket.KindAlreadyClaimed:
		return lang.T("ticket.err.already_claimed", "claimant", ticket.ClaimantOf(err))
	case ticket.KindAlreadyDeleted:
		return lang.T("ticket.err.already_deleted")
	case ticket.KindReopenDisabled:
		return lang.T("ticket.err.reopen_disabled")
	case ticket.KindNotFound:
		return lang.T("ticket.err.not_found")
	default:
		return lang.T("ticket.err.external")
	}
}
