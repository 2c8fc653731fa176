package eval

import (
	"regexp"
	"strings"

	"github.com/kvsql/kvsql/internal/errs"
	"github.com/kvsql/kvsql/internal/value"
)

// evalPatternMatch implements LIKE, ILIKE, and SIMILAR TO by translating
// the SQL pattern into a Go (RE2) regular expression; Go's regexp package
// has no backtracking engine so the translation must stay anchored and
// linear rather than shelling out to a PCRE-style matcher.
func evalPatternMatch(op string, l, r value.Value) (value.Value, error) {
	if l.IsNull() || r.IsNull() {
		return value.Null(value.TypeBool), nil
	}
	var pattern string
	var err error
	switch op {
	case "LIKE":
		pattern = likeToRegexp(r.Str)
	case "ILIKE":
		pattern = "(?i)" + likeToRegexp(r.Str)
	case "SIMILAR TO":
		pattern, err = similarToRegexp(r.Str)
		if err != nil {
			return value.Value{}, err
		}
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return value.Value{}, errs.Wrap(errs.InvalidCast, err, "invalid pattern %q", r.Str)
	}
	return value.Bool(re.MatchString(asText(l))), nil
}

// likeToRegexp translates a LIKE pattern ('%' any run, '_' any one char,
// backslash escapes the next character) into an anchored RE2 pattern.
func likeToRegexp(pat string) string {
	var b strings.Builder
	b.WriteString("^")
	runes := []rune(pat)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch {
		case c == '\\' && i+1 < len(runes):
			i++
			b.WriteString(regexp.QuoteMeta(string(runes[i])))
		case c == '%':
			b.WriteString(".*")
		case c == '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteString("$")
	return b.String()
}

// similarToRegexp translates a SQL SIMILAR TO pattern into RE2 syntax: it
// is mostly already regex-like (supports |, *, +, (), []) but '_' and '%'
// retain their LIKE meaning and must be rewritten first.
func similarToRegexp(pat string) (string, error) {
	var b strings.Builder
	b.WriteString("^")
	runes := []rune(pat)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch {
		case c == '\\' && i+1 < len(runes):
			i++
			b.WriteRune(runes[i])
		case c == '%':
			b.WriteString(".*")
		case c == '_':
			b.WriteString(".")
		default:
			b.WriteRune(c)
		}
	}
	b.WriteString("$")
	return b.String(), nil
}

func compilePosix(pat string, caseInsensitive bool) (*regexp.Regexp, error) {
	if caseInsensitive {
		pat = "(?i)" + pat
	}
	re, err := regexp.Compile(pat)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidCast, err, "invalid regular expression %q", pat)
	}
	return re, nil
}
