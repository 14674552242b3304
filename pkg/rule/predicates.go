package rule

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Compiler builds a predicate from a rule definition.
type Compiler func(r Rule) (Predicate, error)

// builtinCompilers maps rule kinds to their compilers.
var builtinCompilers = map[Kind]Compiler{
	KindPresence:  compilePresence,
	KindAbsence:   compileAbsence,
	KindScoped:    compileScoped,
	KindThreshold: compileThreshold,
}

// RegisterKind adds a custom rule kind. It must be called before any
// registry that uses the kind is built.
func RegisterKind(kind Kind, c Compiler) {
	builtinCompilers[kind] = c
}

// GetCompiler returns the compiler for a kind, or nil if unknown.
func GetCompiler(kind Kind) Compiler {
	return builtinCompilers[kind]
}

// maxWindow is the largest bounded repetition RE2 accepts.
const maxWindow = 1000

// matcher returns a function reporting the first match of marker or pattern.
func matcher(r Rule) (func(string) (string, bool), error) {
	switch {
	case r.Pattern != "":
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", r.Pattern, err)
		}
		return func(text string) (string, bool) {
			loc := re.FindStringIndex(text)
			if loc == nil {
				return "", false
			}
			return text[loc[0]:loc[1]], true
		}, nil
	case r.Marker != "":
		marker := r.Marker
		return func(text string) (string, bool) {
			return marker, strings.Contains(text, marker)
		}, nil
	default:
		return nil, fmt.Errorf("%s rule needs a marker or a pattern", r.Kind)
	}
}

func compilePresence(r Rule) (Predicate, error) {
	match, err := matcher(r)
	if err != nil {
		return nil, err
	}
	return func(text string) (bool, string) {
		_, ok := match(text)
		return ok, ""
	}, nil
}

func compileAbsence(r Rule) (Predicate, error) {
	match, err := matcher(r)
	if err != nil {
		return nil, err
	}
	return func(text string) (bool, string) {
		found, ok := match(text)
		if ok {
			return false, fmt.Sprintf("found %q", truncate(found, 80))
		}
		return true, ""
	}, nil
}

// compileScoped builds one pattern spanning every marker in declaration
// order. Without a window the markers must share a tag: no '>' may occur
// between them.
func compileScoped(r Rule) (Predicate, error) {
	pattern := r.Pattern
	if pattern == "" {
		if len(r.Markers) < 2 {
			return nil, fmt.Errorf("scoped rule needs at least two markers or a pattern")
		}
		if r.Window < 0 || r.Window > maxWindow {
			return nil, fmt.Errorf("scoped rule window %d out of range [0, %d]", r.Window, maxWindow)
		}
		sep := `[^>]*?`
		if r.Window > 0 {
			sep = fmt.Sprintf(`(?s:.{0,%d}?)`, r.Window)
		}
		quoted := make([]string, len(r.Markers))
		for i, m := range r.Markers {
			if m == "" {
				return nil, fmt.Errorf("scoped rule marker %d is empty", i)
			}
			quoted[i] = regexp.QuoteMeta(m)
		}
		pattern = strings.Join(quoted, sep)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid scoped pattern %q: %w", pattern, err)
	}
	return func(text string) (bool, string) {
		return re.MatchString(text), ""
	}, nil
}

// colorPattern captures the argument list of an rgb()/rgba()/hsl()/hsla()
// value bound to a custom property or declaration.
const colorPattern = `\s*:\s*(?:rgba?|hsla?)\(([^()]*)\)`

// alphaOf returns the alpha channel of a color argument list. Three-channel
// colors are opaque. ok is false when the list has no recognisable shape.
func alphaOf(args string) (raw string, ok bool) {
	args = strings.TrimSpace(args)
	if i := strings.LastIndex(args, "/"); i >= 0 {
		raw = strings.TrimSpace(args[i+1:])
		return raw, raw != "" && len(strings.Fields(args[:i])) == 3
	}
	if strings.Contains(args, ",") {
		parts := strings.Split(args, ",")
		switch len(parts) {
		case 3:
			return "1", true
		case 4:
			raw = strings.TrimSpace(parts[3])
			return raw, raw != ""
		}
		return "", false
	}
	if len(strings.Fields(args)) == 3 {
		return "1", true
	}
	return "", false
}

func compileThreshold(r Rule) (Predicate, error) {
	if r.Marker == "" {
		return nil, fmt.Errorf("threshold rule needs a marker")
	}
	if r.Min == nil {
		return nil, fmt.Errorf("threshold rule for %q needs min", r.Marker)
	}
	pattern, extract := r.Pattern, func(m string) (string, bool) { return m, true }
	if pattern == "" {
		pattern, extract = regexp.QuoteMeta(r.Marker)+colorPattern, alphaOf
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid threshold pattern %q: %w", pattern, err)
	}
	if re.NumSubexp() < 1 {
		return nil, fmt.Errorf("threshold pattern %q must capture the value", pattern)
	}

	marker, floor := r.Marker, *r.Min
	return func(text string) (bool, string) {
		if !strings.Contains(text, marker) {
			return false, fmt.Sprintf("marker %q not found", marker)
		}
		matches := re.FindAllStringSubmatch(text, -1)
		if len(matches) == 0 {
			return false, fmt.Sprintf("no numeric value bound to %q", marker)
		}
		for _, m := range matches {
			raw, ok := extract(m[1])
			if !ok {
				return false, fmt.Sprintf("unreadable value %q for %q", strings.TrimSpace(m[1]), marker)
			}
			v, err := parseNumber(raw)
			if err != nil {
				return false, fmt.Sprintf("unreadable value %q for %q", raw, marker)
			}
			if v < floor {
				return false, fmt.Sprintf("found %s, minimum %s", raw, formatFloat(floor))
			}
		}
		return true, ""
	}, nil
}

// parseNumber accepts plain decimals and percentages ("50%" is 0.5).
func parseNumber(s string) (float64, error) {
	if strings.HasSuffix(s, "%") {
		v, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
		return v / 100, err
	}
	return strconv.ParseFloat(s, 64)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// truncate limits a string to maxLen bytes.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
