package alert

import (
	"fmt"

	"github.com/zulandar/pneumaticqc/internal/config"
)

// NewTransport builds the configured primary transport. Chat services with
// credentials that are not the primary are attached as mirrors.
func NewTransport(cfg config.AlertsConfig) (Transport, error) {
	var primary Transport
	var mirrors []Transport

	slackOn := cfg.Slack.BotToken != "" && cfg.Slack.ChannelID != ""
	discordOn := cfg.Discord.BotToken != "" && cfg.Discord.ChannelID != ""

	switch cfg.Transport {
	case "command":
		primary = CommandTransport{Command: cfg.Command}
	case "log", "":
		primary = LogTransport{}
	case "slack":
		t, err := NewSlackTransport(cfg.Slack.BotToken, cfg.Slack.ChannelID)
		if err != nil {
			return nil, err
		}
		primary = t
		slackOn = false
	case "discord":
		t, err := NewDiscordTransport(cfg.Discord.BotToken, cfg.Discord.ChannelID)
		if err != nil {
			return nil, err
		}
		primary = t
		discordOn = false
	default:
		return nil, fmt.Errorf("alert: unknown transport %q", cfg.Transport)
	}

	if slackOn {
		t, err := NewSlackTransport(cfg.Slack.BotToken, cfg.Slack.ChannelID)
		if err != nil {
			return nil, err
		}
		mirrors = append(mirrors, t)
	}
	if discordOn {
		t, err := NewDiscordTransport(cfg.Discord.BotToken, cfg.Discord.ChannelID)
		if err != nil {
			return nil, err
		}
		mirrors = append(mirrors, t)
	}

	if len(mirrors) == 0 {
		return primary, nil
	}
	return Multi{Primary: primary, Mirrors: mirrors}, nil
}
