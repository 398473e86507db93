package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"farewatch/internal/anomaly"
)

// Notification wraps an alert with the context a delivery channel needs.
type Notification struct {
	Origin        string
	Destination   string
	RouteName     string
	Alert         anomaly.Alert
	Confidence    *decimal.Decimal
	Channels      []string
	AdditionalMsg string
}

// Notifier delivers alert notifications.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier pushes messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram delivery channel.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify sends the rendered alert text via the sendMessage API.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram responded with status %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().
		Int64("route_id", note.Alert.RouteID).
		Str("alert_type", string(note.Alert.Type)).
		Str("channels", strings.Join(note.Channels, ",")).
		Msg("alert dispatched via telegram")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString("[Farewatch Alert]\n")
	builder.WriteString(note.Alert.Message)
	builder.WriteString("\n")
	if note.Origin != "" && note.Destination != "" {
		route := note.Origin + "-" + note.Destination
		if note.RouteName != "" {
			route += " (" + note.RouteName + ")"
		}
		builder.WriteString(fmt.Sprintf("Route: %s\n", route))
	}
	builder.WriteString(fmt.Sprintf("Type: %s\n", note.Alert.Type))
	builder.WriteString(fmt.Sprintf("Price: $%s NZD\n", note.Alert.PriceNZD.StringFixed(2)))
	if note.Alert.ZScore != nil {
		builder.WriteString(fmt.Sprintf("Z-score: %s\n", note.Alert.ZScore.StringFixed(2)))
	}
	if note.Confidence != nil {
		builder.WriteString(fmt.Sprintf("Confidence: %s\n", note.Confidence.StringFixed(4)))
	}
	builder.WriteString(fmt.Sprintf("Observed: %s UTC\n", note.Alert.TriggeredAt.UTC().Format(time.RFC3339)))
	if len(note.Channels) > 0 {
		builder.WriteString(fmt.Sprintf("Channels: %s\n", strings.Join(note.Channels, ",")))
	}
	if note.Alert.AIAnalysis != nil {
		builder.WriteString(*note.Alert.AIAnalysis)
	}
	if note.AdditionalMsg != "" {
		builder.WriteString(note.AdditionalMsg)
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
