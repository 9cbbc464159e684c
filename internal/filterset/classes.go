package filterset

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ClassesReply is the wire form of a classes dataset.
type ClassesReply struct {
	User    string  `json:"User"`
	Classes []Level `json:"Classes"`
}

// Classes is an ordered list of score thresholds for one mailbox.
type Classes struct {
	accountID string
	email     string
	levels    []Level
	valid     bool
	err       error
}

// NewClasses builds and validates a classes dataset.
func NewClasses(accountID, email string, levels []Level) *Classes {
	c := &Classes{
		accountID: accountID,
		email:     email,
		levels:    append([]Level(nil), levels...),
	}
	c.Validate()
	return c
}

// DefaultClasses returns the built-in ham/probable/spam thresholds.
func DefaultClasses(accountID, email string) *Classes {
	return NewClasses(accountID, email, []Level{
		{Name: "ham", Score: 0},
		{Name: "probable", Score: 5},
		{Name: SpamLevel, Score: SpamScore},
	})
}

// ParseClasses decodes a reply carrying a Classes field. The returned
// dataset is never nil; when err is non-nil it is marked invalid with the
// same error.
func ParseClasses(accountID, email string, payload []byte) (*Classes, error) {
	c := &Classes{accountID: accountID, email: email}

	fields, err := decodeObject(payload)
	if err != nil {
		return c.fail(err)
	}
	user, err := userField(fields, email)
	if err != nil {
		return c.fail(err)
	}
	c.email = user

	raw, ok := fields["Classes"]
	if !ok {
		return c.fail(fmt.Errorf("missing Classes field"))
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return c.fail(fmt.Errorf("Classes: expected a list: %w", err))
	}
	levels := make([]Level, 0, len(items))
	for i, item := range items {
		var l Level
		if err := json.Unmarshal(item, &l); err != nil {
			return c.fail(fmt.Errorf("Classes[%d]: %w", i, err))
		}
		levels = append(levels, l)
	}
	c.levels = levels

	if !c.Validate() {
		return c, c.err
	}
	return c, nil
}

func (c *Classes) fail(err error) (*Classes, error) {
	c.valid = false
	c.err = err
	return c, err
}

func (c *Classes) Kind() Kind           { return KindClasses }
func (c *Classes) AccountID() string    { return c.accountID }
func (c *Classes) EmailAddress() string { return c.email }
func (c *Classes) Valid() bool          { return c.valid }
func (c *Classes) Err() error           { return c.err }

// Levels returns a copy of the thresholds in order.
func (c *Classes) Levels() []Level {
	return append([]Level(nil), c.levels...)
}

// SetLevels replaces the thresholds and re-validates.
func (c *Classes) SetLevels(levels []Level) bool {
	c.levels = append([]Level(nil), levels...)
	return c.Validate()
}

// Score returns the score of the named level.
func (c *Classes) Score(name string) (float64, bool) {
	for _, l := range c.levels {
		if l.Name == name {
			return l.Score, true
		}
	}
	return 0, false
}

// Validate enforces: at least two levels, unique names, strictly ascending
// scores, exactly one spam level scored 999, all other scores within
// [MinScore, MaxScore].
func (c *Classes) Validate() bool {
	c.err = c.check()
	c.valid = c.err == nil
	return c.valid
}

func (c *Classes) check() error {
	if len(c.levels) < 2 {
		return fmt.Errorf("at least 2 classes are required, got %d", len(c.levels))
	}

	names := make(map[string]bool, len(c.levels))
	for i, l := range c.levels {
		if err := l.Validate(); err != nil {
			return err
		}
		if names[l.Name] {
			return fmt.Errorf("duplicate class name %q", l.Name)
		}
		names[l.Name] = true

		if i == 0 {
			continue
		}
		prev := c.levels[i-1]
		if l.Score == prev.Score {
			return fmt.Errorf(
				"duplicate score %s in classes %s and %s",
				l.FormatScore(), prev.Name, l.Name,
			)
		}
		if l.Score < prev.Score {
			return fmt.Errorf(
				"class %s score %s is lower than %s score %s",
				l.Name, l.FormatScore(), prev.Name, prev.FormatScore(),
			)
		}
	}

	if !names[SpamLevel] {
		return fmt.Errorf("missing %q class", SpamLevel)
	}
	for _, l := range c.levels {
		if l.Name == SpamLevel {
			if l.Score != SpamScore {
				return fmt.Errorf("class spam must have score %d, got %s", SpamScore, l.FormatScore())
			}
			continue
		}
		if l.Score < MinScore || l.Score > MaxScore {
			return fmt.Errorf(
				"class %s score %s is outside [%d, %d]",
				l.Name, l.FormatScore(), MinScore, MaxScore,
			)
		}
	}
	return nil
}

func (c *Classes) Diff(other Dataset, compareIdentity bool) bool {
	return diff(c, other, compareIdentity)
}

func (c *Classes) Clone() Dataset {
	return &Classes{
		accountID: c.accountID,
		email:     c.email,
		levels:    append([]Level(nil), c.levels...),
		valid:     c.valid,
		err:       c.err,
	}
}

func (c *Classes) Render() any {
	return ClassesReply{User: c.email, Classes: append([]Level{}, c.levels...)}
}

// RenderUpdateRequest produces "reset name=score ..." with an empty body.
func (c *Classes) RenderUpdateRequest() (UpdateRequest, error) {
	if !c.Validate() {
		return UpdateRequest{}, c.err
	}
	parts := make([]string, 0, len(c.levels)+1)
	parts = append(parts, "reset")
	for _, l := range c.levels {
		parts = append(parts, l.String())
	}
	return UpdateRequest{
		Command: strings.Join(parts, " "),
		Body:    struct{}{},
	}, nil
}

func (c *Classes) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Render())
}

func (c *Classes) content() []byte {
	levels := c.levels
	if levels == nil {
		levels = []Level{}
	}
	b, _ := json.Marshal(levels)
	return b
}
