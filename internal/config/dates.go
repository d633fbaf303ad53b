package config

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

// FilenameTimeFormat formats {start}, {end} and {datetime}
const FilenameTimeFormat = "20060102_150405"

const (
	dateFormat        = "2006-01-02"
	displayTimeFormat = "2006-01-02 15:04:05"
)

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	dateFormat,
}

// ParseDateTime resolves a date expression. Accepted values are "today" and
// "yesterday" (local midnight), "now", and ISO 8601 / YYYY-MM-DD[ HH:MM:SS]
// literals, which are read in now's location unless they carry an offset.
func ParseDateTime(value string, now time.Time) (time.Time, error) {
	v := strings.TrimSpace(value)
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	switch strings.ToLower(v) {
	case "today":
		return midnight, nil
	case "yesterday":
		return midnight.AddDate(0, 0, -1), nil
	case "now":
		return now, nil
	case "":
		return time.Time{}, fmt.Errorf("empty date expression")
	}

	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, v, now.Location()); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse datetime %q (use today, yesterday, now, YYYY-MM-DD or YYYY-MM-DDTHH:MM:SS)", value)
}

var (
	placeholderPattern   = regexp.MustCompile(`\{([^{}]*)\}`)
	filenamePlaceholders = []string{"table", "start", "end", "datetime", "date"}
	prefixPlaceholders   = []string{"table", "date", "datetime"}
)

func checkPlaceholders(pattern string, allowed []string) error {
	if strings.TrimSpace(pattern) == "" {
		return fmt.Errorf("pattern is empty")
	}
	var unknown []string
	for _, m := range placeholderPattern.FindAllStringSubmatch(pattern, -1) {
		if !contains(allowed, m[1]) {
			unknown = append(unknown, "{"+m[1]+"}")
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("unknown placeholder(s) %s (allowed: {%s})",
			strings.Join(unknown, ", "), strings.Join(allowed, "}, {"))
	}
	return nil
}

func expand(pattern string, values map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(pattern, func(m string) string {
		if v, ok := values[m[1:len(m)-1]]; ok {
			return v
		}
		return m
	})
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// FormatFilename expands the export filename pattern (without extension).
// now is the run timestamp and feeds {datetime} and {date}.
func FormatFilename(pattern, table string, start, end, now time.Time) (string, error) {
	if err := checkPlaceholders(pattern, filenamePlaceholders); err != nil {
		return "", err
	}
	return expand(pattern, map[string]string{
		"table":    table,
		"start":    start.Format(FilenameTimeFormat),
		"end":      end.Format(FilenameTimeFormat),
		"datetime": now.Format(FilenameTimeFormat),
		"date":     now.Format(dateFormat),
	}), nil
}

// FormatKeyPrefix expands the object key prefix pattern
func FormatKeyPrefix(pattern, table string, now time.Time) (string, error) {
	if strings.TrimSpace(pattern) == "" {
		return "", nil
	}
	if err := checkPlaceholders(pattern, prefixPlaceholders); err != nil {
		return "", err
	}
	return expand(pattern, map[string]string{
		"table":    table,
		"date":     now.Format(dateFormat),
		"datetime": now.Format(FilenameTimeFormat),
	}), nil
}

// ObjectKey joins a prefix and a file name with exactly one slash
func ObjectKey(prefix, filename string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return filename
	}
	return prefix + "/" + filename
}
