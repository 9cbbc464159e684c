package mailrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/textproto"
	"strings"
	"time"
)

const (
	// ReplySubject is the subject the filter service puts on every reply.
	ReplySubject = "filterctl response"

	// RequestIDHeader carries the correlation id on outbound requests and,
	// when the service echoes it, on replies.
	RequestIDHeader = "X-Filterctl-Request-Id"

	// ServiceMailbox is the local part of the default service address.
	ServiceMailbox = "filterctl"
)

// correlationFields are the body fields accepted as the request id, in
// order of preference.
var correlationFields = []string{"Request", "request_id"}

// Account identifies the mailbox a request is sent from.
type Account struct {
	ID    string
	Email string

	// ServiceAddress overrides the default filterctl@<domain> recipient.
	ServiceAddress string
}

// ServiceAddr returns the address requests for this account are sent to.
func (a Account) ServiceAddr() string {
	if a.ServiceAddress != "" {
		return a.ServiceAddress
	}
	at := strings.LastIndex(a.Email, "@")
	if at < 0 {
		return ""
	}
	return ServiceMailbox + "@" + a.Email[at+1:]
}

// OutboundMessage is a command email handed to the transport.
type OutboundMessage struct {
	AccountID string
	From      string
	To        string
	Subject   string
	Header    textproto.MIMEHeader
	Body      []byte
}

// InboundMessage is a message delivered by the transport's new-mail event.
type InboundMessage struct {
	AccountID string

	// TransportID is the transport's immutable identifier for the physical
	// message. Redelivery of the same message carries the same id.
	TransportID string

	// UID locates the message in its mailbox for deletion.
	UID uint32

	Subject string
	Header  textproto.MIMEHeader
	Body    []byte
}

// IsReply reports whether the message follows the reply subject convention.
func (m InboundMessage) IsReply() bool {
	return strings.EqualFold(strings.TrimSpace(m.Subject), ReplySubject)
}

// Response is a parsed reply body correlated to a request id.
type Response struct {
	RequestID   string
	AccountID   string
	TransportID string
	Received    time.Time

	// Raw is the JSON body as received.
	Raw    []byte
	Fields map[string]json.RawMessage
}

// Decode unmarshals the whole reply body into v.
func (r *Response) Decode(v any) error {
	return json.Unmarshal(r.Raw, v)
}

// Field unmarshals one top-level field into v and reports whether it was
// present.
func (r *Response) Field(name string, v any) (bool, error) {
	raw, ok := r.Fields[name]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, fmt.Errorf("reply field %s: %w", name, err)
	}
	return true, nil
}

// parseReply extracts the correlation id and JSON body from a reply message.
func parseReply(msg InboundMessage, now time.Time) (*Response, error) {
	body := bytes.TrimSpace(msg.Body)

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: body is not an object", ErrMalformedReply)
	}

	id := strings.TrimSpace(msg.Header.Get(RequestIDHeader))
	if id == "" {
		for _, name := range correlationFields {
			raw, ok := fields[name]
			if !ok {
				continue
			}
			var s string
			if err := json.Unmarshal(raw, &s); err == nil && s != "" {
				id = s
				break
			}
		}
	}
	if id == "" {
		return nil, fmt.Errorf("%w: no request id", ErrMalformedReply)
	}

	return &Response{
		RequestID:   id,
		AccountID:   msg.AccountID,
		TransportID: msg.TransportID,
		Received:    now,
		Raw:         body,
		Fields:      fields,
	}, nil
}

// encodeBody renders a request payload. nil becomes an empty object.
func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return []byte("{}"), nil
	case json.RawMessage:
		return b, nil
	case []byte:
		return b, nil
	default:
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		return data, nil
	}
}
