// Package discord is an example wire.Bus subscriber that forwards loop
// events to a Discord channel, demonstrating the §6 subscribe() contract
// without being part of the core. Grounded on the teacher's
// internal/gateway.DiscordAdapter session setup and internal/gateway.Bus
// channel-based decoupling.
package discord

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/leavesfly/jimi/internal/logging"
	"github.com/leavesfly/jimi/pkg/wire"
)

// Frontend posts a condensed line per StepEnd/ToolResult event to a
// configured Discord channel. It holds no back-reference into the Soul;
// it only calls wire.Bus.Subscribe.
type Frontend struct {
	session   *discordgo.Session
	channelID string
	log       *logging.Logger
	cancel    wire.Cancel
}

// New constructs a Frontend with a new Discord session that authenticates
// with the given bot token; the connection is opened by Attach.
func New(token, channelID string) (*Frontend, error) {
	sess, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	return &Frontend{
		session:   sess,
		channelID: channelID,
		log:       logging.NewComponentLogger("frontend.discord"),
	}, nil
}

// Attach opens the Discord connection and subscribes to bus, forwarding
// events until Close is called.
func (f *Frontend) Attach(bus *wire.Bus) error {
	if err := f.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}

	events, cancel := bus.Subscribe(256)
	f.cancel = cancel

	go func() {
		for e := range events {
			line := f.render(e)
			if line == "" {
				continue
			}
			if _, err := f.session.ChannelMessageSend(f.channelID, line); err != nil {
				f.log.WarnWithIntention(logging.IntentionStatus, "failed to post to discord", "error", err)
			}
		}
	}()

	return nil
}

func (f *Frontend) render(e wire.Event) string {
	switch e.Type {
	case wire.EventStepEnd:
		return "done thinking."
	case wire.EventToolResult:
		status := string(e.Result.ToolStatus)
		msg := e.Result.ToolMessage
		if msg == "" {
			msg = strings.TrimSpace(firstLine(e.Result.ToolOutput))
		}
		return fmt.Sprintf("[%s] %s", status, msg)
	case wire.EventStepInterrupted:
		return "interrupted."
	default:
		return ""
	}
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}

// Close unsubscribes and closes the Discord session.
func (f *Frontend) Close() error {
	if f.cancel != nil {
		f.cancel()
	}
	return f.session.Close()
}
