package channels

import (
	"context"

	"github.com/bwmarrin/discordgo"
)

// DiscordNotifier sends plain-text messages through a discordgo.Session
// built from a bot token. Only the REST send call is used, so the
// notifier never opens the session's gateway websocket.
type DiscordNotifier struct {
	session *discordgo.Session
}

// NewDiscordNotifier constructs a notifier from a bot token. discordgo
// expects the "Bot " prefix; callers pass the raw token and this function
// adds it.
func NewDiscordNotifier(token string) (*DiscordNotifier, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	return &DiscordNotifier{session: session}, nil
}

// Send posts text to a Discord channel ID.
func (n *DiscordNotifier) Send(ctx context.Context, target, text string) error {
	_, err := n.session.ChannelMessageSendComplex(target, &discordgo.MessageSend{Content: text}, discordgo.WithContext(ctx))
	return err
}
