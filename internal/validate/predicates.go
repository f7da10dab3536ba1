package validate

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Email format regex: local part, @, domain with at least one dot
var emailFormatRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// Timestamp layouts accepted by ISO8601, tried in order
var iso8601Layouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// Predicate checks one parameter value. A nil error means the value passed.
type Predicate func(v any) error

// Email accepts strings shaped like an email address.
func Email(v any) error {
	s, ok := v.(string)
	if !ok {
		return fmt.Errorf("must be a string")
	}
	if !emailFormatRegex.MatchString(s) {
		return fmt.Errorf("must be a valid email address")
	}
	return nil
}

// ISO8601 accepts strings parseable as an ISO-8601 timestamp or date.
func ISO8601(v any) error {
	s, ok := v.(string)
	if !ok {
		return fmt.Errorf("must be a string")
	}
	for _, layout := range iso8601Layouts {
		if _, err := time.Parse(layout, s); err == nil {
			return nil
		}
	}
	return fmt.Errorf("must be a valid ISO-8601 timestamp")
}

// URL accepts absolute http or https URLs.
func URL(v any) error {
	s, ok := v.(string)
	if !ok {
		return fmt.Errorf("must be a string")
	}
	u, err := url.Parse(s)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("must be a valid http(s) URL")
	}
	return nil
}

// NonEmpty accepts strings with at least one non-whitespace character.
func NonEmpty(v any) error {
	s, ok := v.(string)
	if !ok {
		return fmt.Errorf("must be a string")
	}
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("must not be empty")
	}
	return nil
}

// MaxLength returns a predicate accepting strings of at most n characters.
func MaxLength(n int) Predicate {
	return func(v any) error {
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("must be a string")
		}
		if len(s) > n {
			return fmt.Errorf("too long: %d chars (max %d)", len(s), n)
		}
		return nil
	}
}

// PositiveInt accepts integer values greater than zero. Numbers arriving
// through JSON decode as float64, so integral floats pass too.
func PositiveInt(v any) error {
	switch n := v.(type) {
	case int:
		if n > 0 {
			return nil
		}
	case int64:
		if n > 0 {
			return nil
		}
	case float64:
		if n > 0 && n == float64(int64(n)) {
			return nil
		}
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(n)); err == nil && i > 0 {
			return nil
		}
	}
	return fmt.Errorf("must be a positive integer")
}
