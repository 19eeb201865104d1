package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mailgun/mailgun-go/v4"

	"github.com/username/tradelog/backend/src/config"
	"github.com/username/tradelog/backend/src/database"
	"github.com/username/tradelog/backend/src/logger"
	"github.com/username/tradelog/backend/src/models"
)

// EmailNotifier emails the user when a remote import completes.
// Notification failures are logged, never surfaced to the import.
type EmailNotifier struct {
	mg          mailgun.Mailgun
	senderEmail string
	senderName  string
}

// NewEmailNotifierFromConfig returns nil when no email provider is
// configured; the bridge treats a nil notifier as "don't notify".
func NewEmailNotifierFromConfig() *EmailNotifier {
	if config.Cfg.EmailServiceProvider != "mailgun" {
		logger.L.Info("Email notifications disabled", "provider", config.Cfg.EmailServiceProvider)
		return nil
	}
	return &EmailNotifier{
		mg:          mailgun.NewMailgun(config.Cfg.MailgunDomain, config.Cfg.MailgunPrivateAPIKey),
		senderEmail: config.Cfg.SenderEmail,
		senderName:  config.Cfg.SenderName,
	}
}

func (n *EmailNotifier) ImportCompleted(userID int64, login string, summary models.ImportSummary) {
	var email string
	err := database.DB.QueryRow(`SELECT email FROM users WHERE id = ?`, userID).Scan(&email)
	if err != nil {
		if err != sql.ErrNoRows {
			logger.L.Warn("Could not resolve user email for import notification", "userID", userID, "error", err)
		}
		return
	}

	from := fmt.Sprintf("%s <%s>", n.senderName, n.senderEmail)
	subject := fmt.Sprintf("Import finished for account %s", login)
	body := fmt.Sprintf(
		"Your broker history import for account %s has finished.\n\nFills fetched: %d\nNew trades: %d\nRefreshed trades: %d\n",
		login, summary.TotalFetched, summary.Imported, summary.Upserted)

	message := n.mg.NewMessage(from, subject, body, email)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, id, err := n.mg.Send(ctx, message)
	if err != nil {
		logger.L.Error("Failed to send import notification via Mailgun", "error", err, "to", email, "mailgunResp", resp, "mailgunId", id)
		return
	}
	logger.L.Info("Import notification sent", "to", email, "id", id)
}
