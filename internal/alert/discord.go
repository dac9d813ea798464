package alert

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// discordSession abstracts the discordgo REST call we use, enabling test mocks.
type discordSession interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordTransport posts alerts to a Discord channel over the REST API. No
// gateway connection is opened.
type DiscordTransport struct {
	sess      discordSession
	channelID string
}

// NewDiscordTransport returns a transport posting to channelID as a bot.
func NewDiscordTransport(botToken, channelID string) (*DiscordTransport, error) {
	if botToken == "" {
		return nil, fmt.Errorf("alert: discord bot token is required")
	}
	if channelID == "" {
		return nil, fmt.Errorf("alert: discord channel is required")
	}
	sess, err := discordgo.New("Bot " + botToken)
	if err != nil {
		return nil, fmt.Errorf("alert: discord session: %w", err)
	}
	return &DiscordTransport{sess: sess, channelID: channelID}, nil
}

// Send implements Transport.
func (d *DiscordTransport) Send(ctx context.Context, phone, message string) error {
	_, err := d.sess.ChannelMessageSend(d.channelID, chatText(phone, message), discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord: send message: %w", err)
	}
	return nil
}
