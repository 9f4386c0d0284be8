package telegram

import (
	"context"
	"strconv"

	"pkt.systems/adjutant/schema"
)

// Update is one long-poll result. Only message updates are requested.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message"`
}

// Message is the subset of an inbound Telegram message the controller
// reads.
type Message struct {
	MessageID int64  `json:"message_id"`
	Text      string `json:"text"`
	Chat      Chat   `json:"chat"`
	From      *User  `json:"from"`
}

// Chat identifies where a message came from.
type Chat struct {
	ID int64 `json:"id"`
}

// User identifies the sender of a message.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// ChatID returns the chat identifier in the transport-neutral form.
func (m *Message) ChatID() schema.ChatID {
	return schema.ChatID(strconv.FormatInt(m.Chat.ID, 10))
}

// GetUpdates long-polls the Bot API for message updates. offset is the
// next update ID to receive; timeout is the server-side hold in
// seconds. The call returns early with no updates when the poll times
// out quietly.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeoutSeconds int) ([]Update, error) {
	payload := map[string]any{
		"offset":          offset,
		"timeout":         timeoutSeconds,
		"allowed_updates": []string{"message"},
	}
	var updates []Update
	if err := c.call(ctx, "getUpdates", payload, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}
