package filterset

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
)

func TestClasses_Validate(t *testing.T) {
	tests := []struct {
		name    string
		levels  []Level
		valid   bool
		errPart string
	}{
		{
			name:   "minimal",
			levels: []Level{{"ham", 0}, {"spam", 999}},
			valid:  true,
		},
		{
			name:   "defaults",
			levels: []Level{{"ham", 0}, {"probable", 5}, {"spam", 999}},
			valid:  true,
		},
		{
			name:   "negative and fractional scores",
			levels: []Level{{"good", -100}, {"ham", 0.25}, {"maybe", 100}, {"spam", 999}},
			valid:  true,
		},
		{
			name:    "duplicate score",
			levels:  []Level{{"ham", 999}, {"spam", 999}},
			errPart: "duplicate score",
		},
		{
			name:    "missing spam",
			levels:  []Level{{"ham", 0}, {"probable", 5}},
			errPart: "missing",
		},
		{
			name:    "spam score not 999",
			levels:  []Level{{"ham", 0}, {"spam", 50}},
			errPart: "must have score",
		},
		{
			name:    "too few",
			levels:  []Level{{"spam", 999}},
			errPart: "at least 2",
		},
		{
			name:    "descending",
			levels:  []Level{{"probable", 5}, {"ham", 0}, {"spam", 999}},
			errPart: "lower than",
		},
		{
			name:    "duplicate name",
			levels:  []Level{{"ham", 0}, {"ham", 5}, {"spam", 999}},
			errPart: "duplicate class name",
		},
		{
			name:    "out of range",
			levels:  []Level{{"ham", 0}, {"probable", 101}, {"spam", 999}},
			errPart: "outside",
		},
		{
			name:    "bad name",
			levels:  []Level{{"1ham", 0}, {"spam", 999}},
			errPart: "invalid class name",
		},
		{
			name:    "not finite",
			levels:  []Level{{"ham", math.NaN()}, {"spam", 999}},
			errPart: "finite",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClasses("acct", "user@example.com", tt.levels)
			if c.Valid() != tt.valid {
				t.Fatalf("Valid() = %v, want %v (err: %v)", c.Valid(), tt.valid, c.Err())
			}
			if tt.valid {
				if c.Err() != nil {
					t.Errorf("unexpected error: %v", c.Err())
				}
				return
			}
			if c.Err() == nil || !strings.Contains(c.Err().Error(), tt.errPart) {
				t.Errorf("expected error containing %q, got %v", tt.errPart, c.Err())
			}
		})
	}
}

func TestParseClasses(t *testing.T) {
	payload := []byte(`{"User":"other@example.com","Classes":[{"name":"ham","score":0},{"name":"probable","score":5},{"name":"spam","score":999}]}`)

	c, err := ParseClasses("acct", "user@example.com", payload)
	if err != nil {
		t.Fatalf("ParseClasses: %v", err)
	}
	if c.EmailAddress() != "other@example.com" {
		t.Errorf("expected User from payload, got %q", c.EmailAddress())
	}
	if score, ok := c.Score("probable"); !ok || score != 5 {
		t.Errorf("Score(probable) = %v, %v", score, ok)
	}

	// User falls back to the account address.
	c, err = ParseClasses("acct", "user@example.com", []byte(`{"Classes":[{"name":"ham","score":0},{"name":"spam","score":999}]}`))
	if err != nil {
		t.Fatalf("ParseClasses without User: %v", err)
	}
	if c.EmailAddress() != "user@example.com" {
		t.Errorf("expected fallback address, got %q", c.EmailAddress())
	}
}

func TestParseClasses_Malformed(t *testing.T) {
	tests := map[string]string{
		"not json":      `nope`,
		"array":         `[1,2]`,
		"null":          `null`,
		"missing field": `{"User":"u@example.com"}`,
		"wrong type":    `{"Classes":{"ham":0}}`,
		"score string":  `{"Classes":[{"name":"ham","score":"0"},{"name":"spam","score":999}]}`,
		"missing score": `{"Classes":[{"name":"ham"},{"name":"spam","score":999}]}`,
		"user number":   `{"User":5,"Classes":[]}`,
	}

	for name, payload := range tests {
		t.Run(name, func(t *testing.T) {
			c, err := ParseClasses("acct", "user@example.com", []byte(payload))
			if err == nil {
				t.Fatal("expected error")
			}
			if c == nil {
				t.Fatal("expected an invalid instance, got nil")
			}
			if c.Valid() {
				t.Error("instance should be invalid")
			}
			if c.Err() == nil {
				t.Error("instance should carry the error")
			}
		})
	}
}

func TestClasses_RoundTrip(t *testing.T) {
	orig := NewClasses("acct", "user@example.com", []Level{
		{"good", -12.5}, {"ham", 0}, {"probable", 5.125}, {"spam", 999},
	})
	first, err := json.Marshal(orig.Render())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	parsed, err := ParseClasses("acct", "", first)
	if err != nil {
		t.Fatalf("ParseClasses: %v", err)
	}
	second, err := json.Marshal(parsed.Render())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(first) != string(second) {
		t.Errorf("round trip mismatch:\n%s\n%s", first, second)
	}
	if parsed.Diff(orig, true) {
		t.Error("parsed dataset should not differ from original")
	}
}

func TestClasses_RenderEmpty(t *testing.T) {
	for _, levels := range [][]Level{nil, {}} {
		encoded, err := json.Marshal(NewClasses("a", "x@example.com", levels).Render())
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if !strings.Contains(string(encoded), `"Classes":[]`) {
			t.Errorf("levels %#v rendered as %s", levels, encoded)
		}
	}
}

func TestClasses_DiffAndClone(t *testing.T) {
	a := DefaultClasses("acct1", "a@example.com")
	b := DefaultClasses("acct2", "b@example.com")

	if !a.Diff(b, true) {
		t.Error("identity differs, expected Diff true")
	}
	if a.Diff(b, false) {
		t.Error("content equal, expected Diff false without identity")
	}

	clone := a.Clone().(*Classes)
	if clone.Valid() != a.Valid() {
		t.Error("clone must validate like its source")
	}
	clone.SetLevels([]Level{{"ham", 1}, {"spam", 999}})
	if !a.Diff(clone, false) {
		t.Error("modified clone should differ")
	}
	if levels := a.Levels(); len(levels) != 3 {
		t.Errorf("source mutated through clone: %v", levels)
	}

	if !a.Diff(NewBooks("acct1", "a@example.com", nil), false) {
		t.Error("different kinds always differ")
	}
	if !a.Diff(nil, false) {
		t.Error("nil always differs")
	}
}

func TestClasses_RenderUpdateRequest(t *testing.T) {
	c := NewClasses("acct", "user@example.com", []Level{{"ham", -0.5}, {"probable", 5}, {"spam", 999}})

	req, err := c.RenderUpdateRequest()
	if err != nil {
		t.Fatalf("RenderUpdateRequest: %v", err)
	}
	if req.Command != "reset ham=-0.5 probable=5 spam=999" {
		t.Errorf("unexpected command %q", req.Command)
	}
	body, _ := json.Marshal(req.Body)
	if string(body) != "{}" {
		t.Errorf("expected empty object body, got %s", body)
	}

	bad := NewClasses("acct", "user@example.com", []Level{{"ham", 0}})
	if _, err := bad.RenderUpdateRequest(); err == nil {
		t.Error("expected error for invalid dataset")
	}
}
