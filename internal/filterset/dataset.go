// Package filterset models the two kinds of spam-filter configuration the
// filter service manages per mailbox: score classes and address books.
//
// Datasets are self-validating values. Construction never fails outright:
// malformed input yields an instance whose Valid reports false and whose Err
// explains why, and the parse constructors additionally return that error.
package filterset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
)

// Kind identifies one of the managed dataset kinds.
type Kind string

const (
	KindClasses Kind = "classes"
	KindBooks   Kind = "books"
)

// Kinds lists every dataset kind.
var Kinds = []Kind{KindClasses, KindBooks}

// ParseKind maps a user-supplied string to a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindClasses, KindBooks:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("unknown dataset kind %q", s)
	}
}

// Field is the top-level reply field carrying datasets of kind k.
func (k Kind) Field() string {
	switch k {
	case KindClasses:
		return "Classes"
	case KindBooks:
		return "Books"
	default:
		return ""
	}
}

// namePattern constrains level names and book names.
var namePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

// UpdateRequest is the outbound command and payload that pushes a dataset
// to the filter service.
type UpdateRequest struct {
	Command string
	Body    any
}

// Dataset is the behaviour shared by Classes and Books.
type Dataset interface {
	Kind() Kind
	AccountID() string
	EmailAddress() string

	// Validate re-checks every invariant and records the outcome.
	Validate() bool
	Valid() bool
	Err() error

	// Diff reports whether d and other differ. When compareIdentity is
	// false only the content is compared, not the account or address.
	Diff(other Dataset, compareIdentity bool) bool
	Clone() Dataset

	// Render returns the canonical wire form.
	Render() any
	RenderUpdateRequest() (UpdateRequest, error)

	content() []byte
}

// Parse decodes payload as a dataset of the given kind.
func Parse(kind Kind, accountID, email string, payload []byte) (Dataset, error) {
	switch kind {
	case KindClasses:
		return ParseClasses(accountID, email, payload)
	case KindBooks:
		return ParseBooks(accountID, email, payload)
	default:
		return nil, fmt.Errorf("unknown dataset kind %q", kind)
	}
}

// Default returns the built-in default dataset of the given kind.
func Default(kind Kind, accountID, email string) (Dataset, error) {
	switch kind {
	case KindClasses:
		return DefaultClasses(accountID, email), nil
	case KindBooks:
		return NewBooks(accountID, email, nil), nil
	default:
		return nil, fmt.Errorf("unknown dataset kind %q", kind)
	}
}

// Equal reports whether two datasets hold byte-identical content.
func Equal(a, b Dataset) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Kind() == b.Kind() && bytes.Equal(a.content(), b.content())
}

func diff(a, b Dataset, compareIdentity bool) bool {
	if b == nil || a.Kind() != b.Kind() {
		return true
	}
	if compareIdentity {
		if a.AccountID() != b.AccountID() || a.EmailAddress() != b.EmailAddress() {
			return true
		}
	}
	return !bytes.Equal(a.content(), b.content())
}

// decodeObject splits payload into its top-level fields, rejecting anything
// that is not a JSON object.
func decodeObject(payload []byte) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("payload is not a JSON object: %w", err)
	}
	if fields == nil {
		return nil, fmt.Errorf("payload is not a JSON object")
	}
	return fields, nil
}

// userField returns the User field of a reply, or fallback when absent.
func userField(fields map[string]json.RawMessage, fallback string) (string, error) {
	raw, ok := fields["User"]
	if !ok || string(raw) == "null" {
		return fallback, nil
	}
	var user string
	if err := json.Unmarshal(raw, &user); err != nil {
		return "", fmt.Errorf("User: expected string: %w", err)
	}
	if user == "" {
		return fallback, nil
	}
	return user, nil
}
