package email

import (
	"bytes"
	"fmt"
	"io"
	"net/textproto"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"

	"github.com/nhle/filterctl/internal/mailrpc"
)

// composeMessage renders an outbound command as an RFC 5322 message with a
// single text/plain part holding the JSON body.
func composeMessage(msg mailrpc.OutboundMessage, now time.Time) ([]byte, error) {
	from, err := mail.ParseAddress(msg.From)
	if err != nil {
		return nil, fmt.Errorf("parsing sender %q: %w", msg.From, err)
	}
	to, err := mail.ParseAddress(msg.To)
	if err != nil {
		return nil, fmt.Errorf("parsing recipient %q: %w", msg.To, err)
	}

	var h mail.Header
	h.SetDate(now)
	h.SetAddressList("From", []*mail.Address{from})
	h.SetAddressList("To", []*mail.Address{to})
	h.SetSubject(msg.Subject)
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	for key, values := range msg.Header {
		for _, v := range values {
			h.Add(key, v)
		}
	}
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("generating message id: %w", err)
	}

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("creating message writer: %w", err)
	}
	if _, err := w.Write(msg.Body); err != nil {
		return nil, fmt.Errorf("writing message body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("closing message writer: %w", err)
	}
	return buf.Bytes(), nil
}

// parseMessage parses a raw RFC 5322 message using go-message and
// extracts its headers and first text/plain body. The transport fields
// of the result are left for the caller.
func parseMessage(raw []byte) (mailrpc.InboundMessage, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return mailrpc.InboundMessage{}, fmt.Errorf("reading message: %w", err)
	}
	defer mr.Close()

	in := mailrpc.InboundMessage{Header: make(textproto.MIMEHeader)}
	fields := mr.Header.Fields()
	for fields.Next() {
		in.Header.Add(fields.Key(), fields.Value())
	}
	if subject, err := mr.Header.Subject(); err == nil {
		in.Subject = subject
	} else {
		in.Subject = mr.Header.Get("Subject")
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return in, fmt.Errorf("reading message part: %w", err)
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := h.ContentType()
		if contentType != "" && !strings.HasPrefix(contentType, "text/plain") {
			continue
		}
		body, err := io.ReadAll(part.Body)
		if err != nil {
			return in, fmt.Errorf("reading message body: %w", err)
		}
		in.Body = body
		break
	}

	return in, nil
}
