package telegram

import (
	"context"
	"fmt"

	"herdwatch/internal/logger"
)

// Verify checks the bot token with getMe and that every chat is reachable.
// Unreachable chats are logged and returned; only a bad token is an error.
func (c *Client) Verify(ctx context.Context, chatIDs []string) (unreachable []string, err error) {
	log := logger.Tagged("telegram")

	me, err := c.GetMe(ctx)
	if err != nil {
		return nil, fmt.Errorf("bot token rejected: %w", err)
	}
	log.Infof("Connected to Telegram as @%s", me.Username)

	for _, id := range chatIDs {
		chat, err := c.GetChat(ctx, id)
		if err != nil {
			log.Warnf("Chat %s is not reachable: %v", id, err)
			unreachable = append(unreachable, id)
			continue
		}
		log.Debugf("Chat %s reachable (%s)", id, chat.Type)
	}
	return unreachable, nil
}
