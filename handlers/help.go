package handlers

import (
	"ticket-bot/lang"

	"github.com/bwmarrin/discordgo"
)

func helpCommand() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        "help",
		Description: "Show how to use the ticket system",
	}
}

func helpButtons() []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{Label: lang.T("help.button.user"), Style: discordgo.PrimaryButton, CustomID: "help_user"},
				discordgo.Button{Label: lang.T("help.button.staff"), Style: discordgo.SecondaryButton, CustomID: "help_staff"},
				discordgo.Button{Label: lang.T("help.button.admin"), Style: discordgo.SecondaryButton, CustomID: "help_admin"},
			},
		},
	}
}

func helpEmbed(page string) *discordgo.MessageEmbed {
	var title, body string
	switch page {
	case "help_staff":
		title = lang.T("help.staff.title")
		body = lang.T("help.staff.body")
	case "help_admin":
		title = lang.T("help.admin.title")
		body = lang.T("help.admin.body")
	default:
		title = lang.T("help.user.title")
		body = lang.T("help.user.body")
	}
	return &discordgo.MessageEmbed{Title: title, Description: body, Color: 0x5865F2}
}

func handleHelp(s *discordgo.Session, i *discordgo.InteractionCreate) {
	_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds:     []*discordgo.MessageEmbed{helpEmbed("help_user")},
			Components: helpButtons(),
			Flags:      discordgo.MessageFlagsEphemeral,
		},
	})
}

func handleHelpPage(s *discordgo.Session, i *discordgo.InteractionCreate, page string) {
	_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseUpdateMessage,
		Data: &discordgo.InteractionResponseData{
			Embeds:     []*discordgo.MessageEmbed{helpEmbed(page)},
			Components: helpButtons(),
		},
	})
}
