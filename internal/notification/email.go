package notification

import (
	"context"
	"fmt"
	"html"
	"regexp"
	"strings"

	brevo "github.com/getbrevo/brevo-go/lib"

	ierr "vpn-billing/internal/errors"
)

const defaultSubject = "Уведомление о подписке"

type BrevoSender struct {
	client    *brevo.APIClient
	fromEmail string
	fromName  string
}

func NewBrevoSender(apiKey, fromEmail, fromName string) *BrevoSender {
	cfg := brevo.NewConfiguration()
	cfg.AddDefaultHeader("api-key", apiKey)
	return &BrevoSender{
		client:    brevo.NewAPIClient(cfg),
		fromEmail: fromEmail,
		fromName:  fromName,
	}
}

func (s *BrevoSender) SendEmail(ctx context.Context, to, subject, htmlBody, textBody string) error {
	_, _, err := s.client.TransactionalEmailsApi.SendTransacEmail(ctx, brevo.SendSmtpEmail{
		Sender: &brevo.SendSmtpEmailSender{
			Name:  s.fromName,
			Email: s.fromEmail,
		},
		To: []brevo.SendSmtpEmailTo{
			{Email: to},
		},
		Subject:     subject,
		HtmlContent: htmlBody,
		TextContent: textBody,
	})
	if err != nil {
		return ierr.Wrap(err, "brevo send failed")
	}
	return nil
}

var tagPattern = regexp.MustCompile(`<[^>]+>`)

func plainText(telegramHTML string) string {
	return html.UnescapeString(tagPattern.ReplaceAllString(telegramHTML, ""))
}

func emailHTML(telegramHTML string) string {
	body := strings.ReplaceAll(telegramHTML, "\n", "<br>")
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
%s
</body>
</html>`, body)
}
