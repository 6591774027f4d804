package proctor

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/net/html"
)

// normalizeKeys lowercases keys and drops underscores, so "Course_Id",
// "courseId" and "courseid" all address the same field.
func normalizeKeys(raw map[string]any) map[string]any {
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		out[strings.ToLower(strings.ReplaceAll(k, "_", ""))] = v
	}
	return out
}

func cleanInt(v any) (int64, bool) {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n, true
		}
		if f, err := t.Float64(); err == nil {
			return floatToInt(f)
		}
	case float64:
		return floatToInt(t)
	case int:
		return int64(t), true
	case int64:
		return t, true
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}

func floatToInt(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	return int64(f), true
}

// cleanID accepts positive integer identifiers only.
func cleanID(v any) (int, bool) {
	n, ok := cleanInt(v)
	if !ok || n <= 0 || n > math.MaxInt32 {
		return 0, false
	}
	return int(n), true
}

func cleanCount(v any) (int, bool) {
	n, ok := cleanInt(v)
	if !ok || n < 0 || n > math.MaxInt32 {
		return 0, false
	}
	return int(n), true
}

// cleanTimestamp accepts unix seconds or RFC 3339. Zero and negative values
// mean "not set".
func cleanTimestamp(v any) (int64, bool) {
	if n, ok := cleanInt(v); ok {
		return n, n > 0
	}
	s, ok := v.(string)
	if !ok {
		return 0, false
	}
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(s))
	if err != nil {
		return 0, false
	}
	return t.Unix(), t.Unix() > 0
}

func cleanText(v any) (string, bool) {
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case json.Number:
		s = t.String()
	default:
		return "", false
	}
	s = strings.TrimSpace(stripTags(s))
	return s, s != ""
}

func cleanEmail(v any) (string, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	if s == "" || validate.Var(s, "email") != nil {
		return "", false
	}
	return s, true
}

func cleanURL(v any) (string, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	if s == "" || validate.Var(s, "http_url") != nil {
		return "", false
	}
	return s, true
}

// cleanPhoto keeps an http(s) URL or a base64 data URI and drops anything else
// to the empty string.
func cleanPhoto(v any) string {
	if u, ok := cleanURL(v); ok {
		return u
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	s = strings.TrimSpace(s)
	if s != "" && validate.Var(s, "datauri") == nil {
		return s
	}
	return ""
}

func cleanGUID(v any) (string, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	s = strings.ToLower(strings.TrimSpace(s))
	return s, isGUID(s)
}

// cleanStatus parses a vendor status string. Non-strings and unknown strings
// are both ErrUnknownStatus.
func cleanStatus(v any) (Status, error) {
	s, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("%w: %v", ErrUnknownStatus, v)
	}
	return ParseStatus(s)
}

// stripTags keeps only the text content of s, dropping script and style
// bodies.
func stripTags(s string) string {
	for i := 0; i < 3 && strings.ContainsAny(s, "<&"); i++ {
		next := stripOnce(s)
		if next == s {
			break
		}
		s = next
	}
	return s
}

func stripOnce(s string) string {
	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return b.String()
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		case html.StartTagToken:
			if name, _ := z.TagName(); isRawTextTag(name) {
				skip++
			}
		case html.EndTagToken:
			if name, _ := z.TagName(); isRawTextTag(name) && skip > 0 {
				skip--
			}
		}
	}
}

func isRawTextTag(name []byte) bool {
	switch string(name) {
	case "script", "style":
		return true
	}
	return false
}
