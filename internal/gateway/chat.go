package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"yqhp/flowrunner/pkg/logger"
	"yqhp/flowrunner/pkg/types"
)

// chatBuffer accumulates the streamed output of one chat exchange. Delta
// events carry the cumulative text so far, so each delta overwrites
// latestText rather than appending to it. The final event performs the single
// finalize transition; a duplicate final is ignored.
type chatBuffer struct {
	latestText string
	complete   bool
	fullText   string
}

// SendChat sends a message on the given session key and waits for the
// exchange to complete. Any prior buffer for the key is discarded first, so a
// session key must not be used for two concurrent exchanges. The wait is
// bounded by the configured chat timeout (10 minutes by default).
func (c *Client) SendChat(ctx context.Context, sessionKey, message string) (string, error) {
	if !c.connected.Load() {
		return "", NewClosedError()
	}

	c.chatMu.Lock()
	delete(c.buffers, sessionKey)
	c.chatMu.Unlock()

	params := types.ChatSendParams{
		SessionKey:     sessionKey,
		Message:        message,
		IdempotencyKey: uuid.NewString(),
	}
	if _, err := c.Call(ctx, "chat.send", params); err != nil {
		return "", err
	}

	// Check for an already-complete buffer and subscribe under the same
	// lock, so a final event cannot slip between the two.
	ch := make(chan string, 1)
	c.chatMu.Lock()
	if buf := c.buffers[sessionKey]; buf != nil && buf.complete {
		full := buf.fullText
		c.chatMu.Unlock()
		return full, nil
	}
	c.waiters[sessionKey] = append(c.waiters[sessionKey], ch)
	c.chatMu.Unlock()

	timer := time.NewTimer(c.cfg.ChatTimeout)
	defer timer.Stop()

	select {
	case text := <-ch:
		return text, nil
	case <-timer.C:
		c.removeWaiter(sessionKey, ch)
		return "", NewChatTimeoutError(sessionKey, c.cfg.ChatTimeout)
	case <-ctx.Done():
		c.removeWaiter(sessionKey, ch)
		return "", ctx.Err()
	}
}

// handleChatEvent routes a chat event into its session buffer.
func (c *Client) handleChatEvent(payload json.RawMessage) {
	var ev types.ChatEventPayload
	if err := json.Unmarshal(payload, &ev); err != nil || ev.SessionKey == "" {
		logger.Debug("gateway: dropping malformed chat event")
		return
	}
	text := ev.Text()

	c.chatMu.Lock()
	buf := c.buffers[ev.SessionKey]
	if buf == nil {
		buf = &chatBuffer{}
		c.buffers[ev.SessionKey] = buf
	}

	switch ev.State {
	case types.ChatStateDelta:
		buf.latestText = text
		c.chatMu.Unlock()

	case types.ChatStateFinal:
		if buf.complete {
			c.chatMu.Unlock()
			return
		}
		buf.complete = true
		if text != "" {
			buf.fullText = text
		} else {
			buf.fullText = buf.latestText
		}
		full := buf.fullText
		waiters := c.waiters[ev.SessionKey]
		delete(c.waiters, ev.SessionKey)
		c.chatMu.Unlock()

		for _, w := range waiters {
			w <- full
		}

	default:
		c.chatMu.Unlock()
	}
}

func (c *Client) removeWaiter(sessionKey string, ch chan string) {
	c.chatMu.Lock()
	defer c.chatMu.Unlock()
	list := c.waiters[sessionKey]
	for i, w := range list {
		if w == ch {
			c.waiters[sessionKey] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(c.waiters[sessionKey]) == 0 {
		delete(c.waiters, sessionKey)
	}
}
