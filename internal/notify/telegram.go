package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultTelegramBaseURL = "https://api.telegram.org"

// Telegram sends notifications through the Telegram Bot API.
type Telegram struct {
	baseURL string
	token   string
	chatID  int64
	http    *http.Client
}

// NewTelegram creates a Telegram notifier for the given bot token and chat.
func NewTelegram(token string, chatID int64) *Telegram {
	return &Telegram{
		baseURL: defaultTelegramBaseURL,
		token:   token,
		chatID:  chatID,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (t *Telegram) Notify(ctx context.Context, title, message string) error {
	text := message
	if title != "" {
		text = "*" + title + "*\n" + message
	}

	payload, _ := json.Marshal(map[string]any{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "Markdown",
	})

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.http.Do(req)
	if err != nil {
		return fmt.Errorf("telegram sendMessage: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var parsed telegramResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return fmt.Errorf("telegram sendMessage: %s: unreadable response", resp.Status)
	}
	if !parsed.OK {
		return fmt.Errorf("telegram sendMessage: %s", parsed.Description)
	}
	return nil
}
