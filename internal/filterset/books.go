package filterset

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// BooksReply is the wire form of a books dataset.
type BooksReply struct {
	User  string              `json:"User"`
	Books map[string][]string `json:"Books"`
}

// restoreDump is the payload of a restore command: a dump document holding
// only this mailbox's books.
type restoreDump struct {
	Users map[string]restoreUser `json:"Users"`
}

type restoreUser struct {
	Books map[string][]string `json:"Books"`
}

// Books maps address book names to ordered lists of sender addresses.
type Books struct {
	accountID string
	email     string
	books     map[string][]string
	valid     bool
	err       error
}

// NewBooks builds and validates a books dataset. books may be nil.
func NewBooks(accountID, email string, books map[string][]string) *Books {
	b := &Books{
		accountID: accountID,
		email:     email,
		books:     copyBooks(books),
	}
	b.Validate()
	return b
}

// ParseBooks decodes a reply carrying a Books field. The returned dataset
// is never nil; when err is non-nil it is marked invalid with the same error.
func ParseBooks(accountID, email string, payload []byte) (*Books, error) {
	b := &Books{accountID: accountID, email: email, books: map[string][]string{}}

	fields, err := decodeObject(payload)
	if err != nil {
		return b.fail(err)
	}
	user, err := userField(fields, email)
	if err != nil {
		return b.fail(err)
	}
	b.email = user

	raw, ok := fields["Books"]
	if !ok {
		return b.fail(fmt.Errorf("missing Books field"))
	}
	var books map[string][]string
	if err := json.Unmarshal(raw, &books); err != nil {
		return b.fail(fmt.Errorf("Books: expected an object of address lists: %w", err))
	}
	b.books = copyBooks(books)

	if !b.Validate() {
		return b, b.err
	}
	return b, nil
}

func (b *Books) fail(err error) (*Books, error) {
	b.valid = false
	b.err = err
	return b, err
}

func (b *Books) Kind() Kind           { return KindBooks }
func (b *Books) AccountID() string    { return b.accountID }
func (b *Books) EmailAddress() string { return b.email }
func (b *Books) Valid() bool          { return b.valid }
func (b *Books) Err() error           { return b.err }

// Names returns the book names in sorted order.
func (b *Books) Names() []string {
	names := make([]string, 0, len(b.books))
	for name := range b.books {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Addresses returns a copy of the addresses in the named book.
func (b *Books) Addresses(name string) ([]string, bool) {
	addrs, ok := b.books[name]
	if !ok {
		return nil, false
	}
	return append([]string{}, addrs...), true
}

// SetBook replaces (or creates) a book and re-validates.
func (b *Books) SetBook(name string, addresses []string) bool {
	b.books[name] = append([]string{}, addresses...)
	return b.Validate()
}

// AddAddress appends an address to a book, creating the book if needed.
func (b *Books) AddAddress(name, address string) bool {
	b.books[name] = append(b.books[name], address)
	return b.Validate()
}

// RemoveAddress deletes an address from a book.
func (b *Books) RemoveAddress(name, address string) bool {
	addrs := b.books[name]
	for i, a := range addrs {
		if strings.EqualFold(a, address) {
			b.books[name] = append(addrs[:i:i], addrs[i+1:]...)
			break
		}
	}
	return b.Validate()
}

// DeleteBook removes a book entirely.
func (b *Books) DeleteBook(name string) bool {
	delete(b.books, name)
	return b.Validate()
}

// Validate checks every book name against the name pattern and every
// address for syntax and case-insensitive uniqueness within its book.
func (b *Books) Validate() bool {
	b.err = b.check()
	b.valid = b.err == nil
	return b.valid
}

func (b *Books) check() error {
	for _, name := range b.Names() {
		if !namePattern.MatchString(name) {
			return fmt.Errorf("invalid book name %q", name)
		}
		seen := make(map[string]bool, len(b.books[name]))
		for _, addr := range b.books[name] {
			if err := validate.Var(addr, "required,email"); err != nil {
				return fmt.Errorf("book %s: invalid address %q", name, addr)
			}
			key := strings.ToLower(addr)
			if seen[key] {
				return fmt.Errorf("book %s: duplicate address %q", name, addr)
			}
			seen[key] = true
		}
	}
	return nil
}

func (b *Books) Diff(other Dataset, compareIdentity bool) bool {
	return diff(b, other, compareIdentity)
}

func (b *Books) Clone() Dataset {
	return &Books{
		accountID: b.accountID,
		email:     b.email,
		books:     copyBooks(b.books),
		valid:     b.valid,
		err:       b.err,
	}
}

func (b *Books) Render() any {
	return BooksReply{User: b.email, Books: copyBooks(b.books)}
}

// RenderUpdateRequest produces a restore command whose body is a dump
// document containing this mailbox's books.
func (b *Books) RenderUpdateRequest() (UpdateRequest, error) {
	if !b.Validate() {
		return UpdateRequest{}, b.err
	}
	if b.email == "" {
		return UpdateRequest{}, fmt.Errorf("books have no user address")
	}
	return UpdateRequest{
		Command: "restore",
		Body: restoreDump{
			Users: map[string]restoreUser{
				b.email: {Books: copyBooks(b.books)},
			},
		},
	}, nil
}

func (b *Books) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.Render())
}

func (b *Books) content() []byte {
	data, _ := json.Marshal(b.books)
	return data
}

func copyBooks(books map[string][]string) map[string][]string {
	out := make(map[string][]string, len(books))
	for name, addrs := range books {
		out[name] = append([]string{}, addrs...)
	}
	return out
}
