package handlers

import (
	"context"

	"ticket-bot/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// handleMessageCreate feeds activity tracking. A message in a warned
// channel also cancels the pending auto-close timer, so the grace
// re-check never fires into a void.
func handleMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.GuildID == "" || m.Author == nil || m.Author.Bot {
		return
	}

	err := Engine.TrackActivity(context.Background(), m.ChannelID, storage.TicketMessage{
		AuthorID:  m.Author.ID,
		Content:   m.Content,
		Timestamp: m.Timestamp,
	})
	if err != nil {
		Log.Warn("activity tracking failed", zap.String("channel", m.ChannelID), zap.Error(err))
		return
	}

	AutoCloser.CancelPending(m.ChannelID)
}
