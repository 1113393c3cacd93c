package telegram

// Update is the webhook payload subset the bot cares about: plain text
// messages and button callbacks.
type Update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *Message       `json:"message,omitempty"`
	CallbackQuery *CallbackQuery `json:"callback_query,omitempty"`
}

type Message struct {
	MessageID int64  `json:"message_id"`
	From      *User  `json:"from,omitempty"`
	Chat      Chat   `json:"chat"`
	Text      string `json:"text,omitempty"`
}

type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username,omitempty"`
}

type Chat struct {
	ID int64 `json:"id"`
}

type CallbackQuery struct {
	ID      string   `json:"id"`
	From    User     `json:"from"`
	Message *Message `json:"message,omitempty"`
	Data    string   `json:"data,omitempty"`
}

// ---- keyboards ----

type InlineKeyboard struct {
	Rows [][]InlineButton `json:"inline_keyboard"`
}

type InlineButton struct {
	Text string `json:"text"`
	Data string `json:"callback_data,omitempty"`
	URL  string `json:"url,omitempty"`
}

type KeyButton struct {
	Text string `json:"text"`
}

type ReplyKeyboard struct {
	Buttons [][]KeyButton `json:"keyboard"`
	Resize  bool          `json:"resize_keyboard"`
	OneTime bool          `json:"one_time_keyboard"`
}

func NewReplyKeyboard(rows ...[]string) *ReplyKeyboard {
	kb := &ReplyKeyboard{Resize: true, OneTime: true}
	for _, row := range rows {
		r := make([]KeyButton, 0, len(row))
		for _, label := range row {
			r = append(r, KeyButton{Text: label})
		}
		kb.Buttons = append(kb.Buttons, r)
	}
	return kb
}
