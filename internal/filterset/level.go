package filterset

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// SpamLevel is the name of the mandatory top level.
const SpamLevel = "spam"

// SpamScore is the fixed score of the spam level.
const SpamScore = 999

// Score bounds for every level other than spam.
const (
	MinScore = -100
	MaxScore = 100
)

// Level is a named score threshold.
type Level struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// Validate checks the name pattern and that the score round-trips through
// JSON unchanged.
func (l Level) Validate() error {
	if !namePattern.MatchString(l.Name) {
		return fmt.Errorf("invalid class name %q", l.Name)
	}
	if math.IsNaN(l.Score) || math.IsInf(l.Score, 0) {
		return fmt.Errorf("class %s: score is not a finite number", l.Name)
	}
	return nil
}

// FormatScore renders the score with the shortest exact representation.
func (l Level) FormatScore() string {
	return strconv.FormatFloat(l.Score, 'f', -1, 64)
}

// String renders the level as name=score, the form used in reset commands.
func (l Level) String() string {
	return l.Name + "=" + l.FormatScore()
}

// UnmarshalJSON rejects levels with missing or mistyped fields.
func (l *Level) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name  *string  `json:"name"`
		Score *float64 `json:"score"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Name == nil {
		return fmt.Errorf("missing name")
	}
	if raw.Score == nil {
		return fmt.Errorf("class %s: missing score", *raw.Name)
	}
	l.Name = *raw.Name
	l.Score = *raw.Score
	return nil
}
