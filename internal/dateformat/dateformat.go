// Package dateformat renders dates with CLDR-like patterns (dd MMMM yyyy)
// in a small set of locales.
package dateformat

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
	"golang.org/x/text/language"
)

const (
	DefaultPattern = "dd MMMM yyyy"
	ISODate        = "2006-01-02"
)

var ErrEmptyDate = errors.New("empty date")

type names struct {
	months   [12]string
	weekdays [7]string
}

func (n names) shortMonth(m time.Month) string {
	full := []rune(n.months[m-1])
	if len(full) <= 3 {
		return string(full)
	}
	return string(full[:3])
}

func (n names) shortWeekday(d time.Weekday) string {
	full := []rune(n.weekdays[d])
	return string(full[:3])
}

var tables = map[language.Tag]names{
	language.English: {
		months:   [12]string{"January", "February", "March", "April", "May", "June", "July", "August", "September", "October", "November", "December"},
		weekdays: [7]string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"},
	},
	language.Indonesian: {
		months:   [12]string{"Januari", "Februari", "Maret", "April", "Mei", "Juni", "Juli", "Agustus", "September", "Oktober", "November", "Desember"},
		weekdays: [7]string{"Minggu", "Senin", "Selasa", "Rabu", "Kamis", "Jumat", "Sabtu"},
	},
}

// supported 的第一个元素是匹配失败时的回退语言。
var supported = []language.Tag{language.English, language.Indonesian}

var matcher = language.NewMatcher(supported)

// Formatter 的零值可直接使用；调用时 pattern/locale 为空则取 Formatter 上的默认值。
type Formatter struct {
	Pattern string
	Locale  string
}

// Format parses value and renders it with pattern and locale.
func (f Formatter) Format(value, pattern, locale string) (string, error) {
	if pattern == "" {
		pattern = f.Pattern
	}
	if locale == "" {
		locale = f.Locale
	}
	return FormatString(value, pattern, locale)
}

// FormatString 解析 value 并按 pattern 与 locale 输出。
func FormatString(value, pattern, locale string) (string, error) {
	t, err := Parse(value)
	if err != nil {
		return "", err
	}
	return FormatTime(t, pattern, locale), nil
}

// Parse 接受 ISO 日期、RFC3339 以及 cast 能识别的常见格式。
func Parse(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, ErrEmptyDate
	}
	if t, err := time.Parse(ISODate, value); err == nil {
		return t, nil
	}
	for _, l := range []string{"02/01/2006", "02-01-2006", "2006/01/02"} {
		if t, err := time.Parse(l, value); err == nil {
			return t, nil
		}
	}
	t, err := cast.ToTimeE(value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", value, err)
	}
	return t, nil
}

// FormatTime 支持 yyyy yy MMMM MMM MM M dd d EEEE EEE；其他字符原样输出，
// 单引号内的文本视为字面量。
func FormatTime(t time.Time, pattern, locale string) string {
	if pattern == "" {
		pattern = DefaultPattern
	}
	n := tables[match(locale)]

	var b strings.Builder
	runes := []rune(pattern)
	for i := 0; i < len(runes); {
		c := runes[i]
		if c == '\'' {
			j := i + 1
			for j < len(runes) && runes[j] != '\'' {
				b.WriteRune(runes[j])
				j++
			}
			i = j + 1
			continue
		}
		j := i
		for j < len(runes) && runes[j] == c {
			j++
		}
		count := j - i
		switch c {
		case 'y':
			if count == 2 {
				fmt.Fprintf(&b, "%02d", t.Year()%100)
			} else {
				b.WriteString(strconv.Itoa(t.Year()))
			}
		case 'M':
			switch {
			case count >= 4:
				b.WriteString(n.months[t.Month()-1])
			case count == 3:
				b.WriteString(n.shortMonth(t.Month()))
			case count == 2:
				fmt.Fprintf(&b, "%02d", int(t.Month()))
			default:
				b.WriteString(strconv.Itoa(int(t.Month())))
			}
		case 'd':
			if count >= 2 {
				fmt.Fprintf(&b, "%02d", t.Day())
			} else {
				b.WriteString(strconv.Itoa(t.Day()))
			}
		case 'E':
			if count >= 4 {
				b.WriteString(n.weekdays[t.Weekday()])
			} else {
				b.WriteString(n.shortWeekday(t.Weekday()))
			}
		default:
			b.WriteString(string(runes[i:j]))
		}
		i = j
	}
	return b.String()
}

func match(locale string) language.Tag {
	if strings.TrimSpace(locale) == "" {
		return supported[0]
	}
	_, idx, _ := matcher.Match(language.Make(locale))
	return supported[idx]
}
