package email

import (
	"bytes"
	"fmt"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/nhle/filterctl/internal/source"
)

// sendMail delivers one message, using implicit TLS or STARTTLS depending
// on cfg.TLS.
func sendMail(cfg SMTPConfig, from string, to []string, msg []byte) error {
	addr := cfg.Host + ":" + cfg.Port

	var client *smtp.Client
	var err error
	if cfg.TLS {
		client, err = smtp.DialTLS(addr, nil)
	} else {
		client, err = smtp.DialStartTLS(addr, nil)
	}
	if err != nil {
		return fmt.Errorf("connecting to SMTP %s: %w", addr, err)
	}
	defer client.Close()

	auth := sasl.NewPlainClient("", cfg.Username, cfg.Password)
	if err := client.Auth(auth); err != nil {
		return &source.AuthError{
			SourceType: source.SourceTypeSMTP,
			Message: fmt.Sprintf(
				"authentication failed for %s: %v",
				cfg.Username, err,
			),
		}
	}

	if err := client.SendMail(from, to, bytes.NewReader(msg)); err != nil {
		return fmt.Errorf("sending mail: %w", err)
	}

	return client.Quit()
}
