package validate

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"entitycore/internal/schema"
	"entitycore/pkg/domain"
)

// checkField applies the declared type and field rules to one supplied value.
func checkField(name string, def schema.PropertyDefinition, value any) []domain.FieldViolation {
	var violations []domain.FieldViolation
	invalid := func(format string, args ...any) {
		violations = append(violations, domain.FieldViolation{
			Property: name,
			Kind:     domain.ViolationInvalid,
			Message:  fmt.Sprintf(format, args...),
		})
	}

	switch def.Type {
	case "string":
		s, ok := value.(string)
		if !ok {
			invalid("expected string, got %T", value)
			return violations
		}
		if rules := def.Rules; rules != nil {
			if rules.MinLength != nil && len(s) < *rules.MinLength {
				invalid("shorter than minimum length %d", *rules.MinLength)
			}
			if rules.MaxLength != nil && len(s) > *rules.MaxLength {
				invalid("longer than maximum length %d", *rules.MaxLength)
			}
			if len(rules.Enum) > 0 && !inEnum(s, rules.Enum) {
				invalid("value %q not in allowed set %v", s, rules.Enum)
			}
			switch rules.Format {
			case "url":
				if !validURL(s) {
					invalid("value %q is not a valid http(s) URL", s)
				}
			case "timestamp":
				if !validTimestampString(s) {
					invalid("value %q is not a valid RFC 3339 timestamp", s)
				}
			}
		}
	case "int":
		if !isIntLike(value) {
			invalid("expected integer, got %T", value)
		}
	case "bool":
		if _, ok := value.(bool); !ok {
			invalid("expected boolean, got %T", value)
		}
	case "list":
		switch value.(type) {
		case []any, []string:
		default:
			invalid("expected list, got %T", value)
		}
	}
	return violations
}

func inEnum(s string, enum []string) bool {
	for _, allowed := range enum {
		if strings.EqualFold(s, allowed) {
			return true
		}
	}
	return false
}

func validURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func validTimestampString(s string) bool {
	_, err := time.Parse(time.RFC3339, s)
	return err == nil
}

// isIntLike accepts native ints and the float64/whole-number form JSON
// decoding produces.
func isIntLike(value any) bool {
	switch v := value.(type) {
	case int, int32, int64:
		return true
	case float64:
		return v == float64(int64(v))
	}
	return false
}
