package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendMessage(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bottok123/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "tok123")
	err := c.SendMessage(context.Background(), 42, "привет", nil)
	require.NoError(t, err)
	assert.Equal(t, float64(42), got["chat_id"])
	assert.Equal(t, "привет", got["text"])
	assert.NotContains(t, got, "reply_markup")
}

func TestSendMessageInlineKeyboard(t *testing.T) {
	t.Parallel()

	var got map[string]json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	kb := &InlineKeyboard{Rows: [][]InlineButton{
		{{Text: "Оплатить", URL: "https://t.me/CryptoBot?start=IV777"}},
		{{Text: "Проверить", Data: "check_payment"}},
	}}
	c := New(srv.URL, "tok")
	require.NoError(t, c.SendMessage(context.Background(), 42, "x", &SendOpts{Inline: kb}))

	var decoded InlineKeyboard
	require.NoError(t, json.Unmarshal(got["reply_markup"], &decoded))
	require.Len(t, decoded.Rows, 2)
	assert.Equal(t, "https://t.me/CryptoBot?start=IV777", decoded.Rows[0][0].URL)
	assert.Equal(t, "check_payment", decoded.Rows[1][0].Data)
}

func TestSendMessageAPIFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":false,"description":"Forbidden: bot was blocked by the user"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	err := c.SendMessage(context.Background(), 42, "x", nil)
	require.Error(t, err)

	var ne *NotifyError
	require.ErrorAs(t, err, &ne)
	assert.Equal(t, int64(42), ne.ChatID)
	assert.Contains(t, ne.Error(), "blocked")
}

func TestNewReplyKeyboard(t *testing.T) {
	t.Parallel()

	kb := NewReplyKeyboard([]string{"1", "2", "3"}, []string{"4", "5", "6"})
	require.Len(t, kb.Buttons, 2)
	assert.Equal(t, "1", kb.Buttons[0][0].Text)
	assert.Equal(t, "6", kb.Buttons[1][2].Text)
	assert.True(t, kb.Resize)
	assert.True(t, kb.OneTime)
}
