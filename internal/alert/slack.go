package alert

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	slackapi "github.com/slack-go/slack"
)

// slackRateLimitRetries is the max number of retries for rate-limited posts.
const slackRateLimitRetries = 3

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// SlackTransport posts alerts to a Slack channel.
type SlackTransport struct {
	client    slackClient
	channelID string
}

// NewSlackTransport returns a transport posting to channelID with a bot token.
func NewSlackTransport(botToken, channelID string) (*SlackTransport, error) {
	if botToken == "" {
		return nil, fmt.Errorf("alert: slack bot token is required")
	}
	if channelID == "" {
		return nil, fmt.Errorf("alert: slack channel is required")
	}
	return &SlackTransport{client: slackapi.New(botToken), channelID: channelID}, nil
}

// Send implements Transport.
func (s *SlackTransport) Send(ctx context.Context, phone, message string) error {
	err := retryOnRateLimit(ctx, func() error {
		_, _, postErr := s.client.PostMessageContext(ctx, s.channelID,
			slackapi.MsgOptionText(chatText(phone, message), false))
		return postErr
	})
	if err != nil {
		return fmt.Errorf("slack: post message: %w", err)
	}
	return nil
}

func retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) || attempt == slackRateLimitRetries {
			return err
		}

		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * time.Second
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
