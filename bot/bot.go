package bot

import (
	"ticket-bot/config"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

type Bot struct {
	Session *discordgo.Session
	Config  *config.Config
	logger  *zap.Logger
	ready   chan struct{}
}

func New(cfg *config.Config, logger *zap.Logger) (*Bot, error) {
	s, err := discordgo.New("Bot " + cfg.Discord.Token)
	if err != nil {
		return nil, err
	}
	s.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsMessageContent
	return &Bot{
		Session: s,
		Config:  cfg,
		logger:  logger,
		ready:   make(chan struct{}),
	}, nil
}

func (b *Bot) Start() error {
	b.Session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		b.logger.Info("bot online",
			zap.String("user", r.User.Username),
			zap.Int("guilds", len(r.Guilds)))
		select {
		case <-b.ready:
		default:
			close(b.ready)
		}
	})
	return b.Session.Open()
}

func (b *Bot) Stop() {
	_ = b.Session.Close()
}

// RegisterCommands bulk-overwrites the slash commands once the gateway
// reports ready.
func (b *Bot) RegisterCommands(cmds []*discordgo.ApplicationCommand) []*discordgo.ApplicationCommand {
	<-b.ready

	appID := b.Session.State.User.ID
	guildID := b.Config.Discord.GuildID

	registered, err := b.Session.ApplicationCommandBulkOverwrite(appID, guildID, cmds)
	if err != nil {
		b.logger.Error("command registration failed", zap.Error(err))
		return nil
	}

	b.logger.Info("slash commands registered", zap.Int("count", len(registered)))
	return registered
}

func (b *Bot) CleanupCommands() {
	<-b.ready
	appID := b.Session.State.User.ID
	guildID := b.Config.Discord.GuildID
	if _, err := b.Session.ApplicationCommandBulkOverwrite(appID, guildID, []*discordgo.ApplicationCommand{}); err != nil {
		b.logger.Error("command cleanup failed", zap.Error(err))
		return
	}
	b.logger.Info("slash commands removed")
}
