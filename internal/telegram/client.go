package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// NotifyError wraps delivery failures. They are logged by callers and
// never abort a reconciler tick.
type NotifyError struct {
	ChatID int64
	Err    error
}

func (e *NotifyError) Error() string { return fmt.Sprintf("notify chat %d: %v", e.ChatID, e.Err) }
func (e *NotifyError) Unwrap() error { return e.Err }

// Client is a minimal Bot API client: the only surface the core needs
// is sendMessage with an optional keyboard.
type Client struct {
	base  string // https://api.telegram.org
	token string
	http  *http.Client
}

func New(base, token string) *Client {
	return &Client{
		base:  base,
		token: token,
		http:  &http.Client{Timeout: 10 * time.Second},
	}
}

type SendOpts struct {
	Inline *InlineKeyboard
	Reply  *ReplyKeyboard
}

func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, opts *SendOpts) error {
	body := map[string]any{
		"chat_id": chatID,
		"text":    text,
	}
	if opts != nil {
		switch {
		case opts.Inline != nil:
			body["reply_markup"] = opts.Inline
		case opts.Reply != nil:
			body["reply_markup"] = opts.Reply
		}
	}
	b, _ := json.Marshal(body)

	u := fmt.Sprintf("%s/bot%s/sendMessage", c.base, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(b))
	if err != nil {
		return &NotifyError{ChatID: chatID, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &NotifyError{ChatID: chatID, Err: err}
	}
	defer resp.Body.Close()

	var out struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return &NotifyError{ChatID: chatID, Err: err}
	}
	if !out.OK {
		return &NotifyError{ChatID: chatID, Err: fmt.Errorf("api: %s", out.Description)}
	}
	return nil
}
