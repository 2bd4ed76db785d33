// Package notification implements C9 NotificationSink: a best-effort fan-out
// of execution outcomes to a Telegram-shaped bot/chat channel.
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/vaultkeep-io/vaultkeep/internal/db"
	"github.com/vaultkeep-io/vaultkeep/internal/vault"
)

const (
	sendTimeout = 5 * time.Second
	apiBase     = "https://api.telegram.org/bot"
)

// Service POSTs a short text message to the organization's configured
// Telegram bot/chat on every terminal execution. A missing or incomplete
// configuration is treated as "not subscribed": Notify is a silent no-op.
type Service struct {
	client *http.Client
	logger *zap.Logger
}

// New constructs a Service.
func New(logger *zap.Logger) *Service {
	return &Service{
		client: &http.Client{Timeout: sendTimeout},
		logger: logger.Named("notification"),
	}
}

// Notify formats and sends a message describing log's outcome. Per
// spec.md §4.9, every failure — missing config, network error, non-2xx
// response — is logged and swallowed; Notify never propagates an error to
// its caller, which is why it has no return value at all.
func (s *Service) Notify(ctx context.Context, log db.BackupLog, schedule *db.BackupSchedule, org *db.Organization) {
	if org == nil || org.TelegramBotToken == "" || org.TelegramChatID == "" {
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	message := formatMessage(log, schedule, org)
	body, err := json.Marshal(map[string]any{
		"chat_id": org.TelegramChatID,
		"text":    message,
	})
	if err != nil {
		s.logger.Warn("failed to marshal telegram payload", zap.Error(err))
		return
	}

	url := apiBase + string(org.TelegramBotToken) + "/sendMessage"
	req, err := http.NewRequestWithContext(sendCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		s.logger.Warn("failed to build telegram request", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	// Sign the outbound body with the bot token so a receiving relay (rather
	// than Telegram itself) can verify it actually originated from this
	// engine — mirrors the X-Signature convention the vault's HMACSign
	// helper exists for.
	sig := vault.HMACSign([]byte(org.TelegramBotToken), body)
	req.Header.Set("X-Vaultkeep-Signature", "sha256="+sig)

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("telegram notification failed", zap.Error(err), zap.String("log_id", log.ID.String()))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.logger.Warn("telegram notification returned non-2xx status",
			zap.Int("status", resp.StatusCode), zap.String("log_id", log.ID.String()))
	}
}

func formatMessage(log db.BackupLog, schedule *db.BackupSchedule, org *db.Organization) string {
	status := "✅ success"
	if log.Status != "success" {
		status = "❌ " + log.Status
	}

	scheduleLabel := "ad-hoc"
	if schedule != nil {
		scheduleLabel = schedule.DatabaseName
	}

	duration := "n/a"
	if log.DurationMs != nil {
		duration = time.Duration(*log.DurationMs * int64(time.Millisecond)).String()
	}

	msg := fmt.Sprintf(
		"Backup %s\nOrganization: %s\nConnection: %s\nDatabase: %s\nSchedule: %s\nDuration: %s\nSize: %d bytes",
		status, org.Name, log.ConnectionName, log.DatabaseName, scheduleLabel, duration, log.FileSizeBytes,
	)
	if log.FileLink != "" {
		msg += "\nLink: " + log.FileLink
	}
	if log.Error != "" {
		msg += "\nError: " + log.Error
	}
	return msg
}
