// Package render substitutes {{name}} placeholders in template text and
// formats the values herald puts into messages.
package render

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)

// Vars is the render context for one message.
type Vars map[string]any

// Render replaces every {{name}} in text with the stringified value of
// vars[name]. Names missing from vars are left exactly as written. Values are
// never evaluated, so rendering the output again changes nothing unless a
// value itself contains a placeholder.
func Render(text string, vars Vars) string {
	if len(vars) == 0 || !strings.Contains(text, "{{") {
		return text
	}

	return placeholder.ReplaceAllStringFunc(text, func(m string) string {
		name := placeholder.FindStringSubmatch(m)[1]
		v, ok := vars[name]
		if !ok {
			return m
		}
		return Stringify(v)
	})
}

// Stringify renders a context value. nil is empty, floats use the shortest
// decimal form, times use the message date format.
func Stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case *string:
		if x == nil {
			return ""
		}
		return *x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case time.Time:
		return Date(x)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// Date formats a calendar date as "10 Jan 2025".
func Date(t time.Time) string {
	return t.Format("02 Jan 2006")
}

// Rupees formats an amount in Indian digit grouping with no decimals,
// e.g. 1020 -> "₹1,020" and 125000 -> "₹1,25,000".
func Rupees(amount float64) string {
	n := int64(math.Round(amount))
	sign := ""
	if n < 0 {
		sign = "-"
		n = -n
	}
	return sign + "₹" + groupIndian(strconv.FormatInt(n, 10))
}

// groupIndian puts a comma after the last three digits and then every two.
func groupIndian(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	head, tail := digits[:len(digits)-3], digits[len(digits)-3:]

	var parts []string
	for len(head) > 2 {
		parts = append([]string{head[len(head)-2:]}, parts...)
		head = head[:len(head)-2]
	}
	if head != "" {
		parts = append([]string{head}, parts...)
	}
	return strings.Join(parts, ",") + "," + tail
}

// Percent formats a percentage with at most one decimal, e.g. 62.5 -> "62.5".
func Percent(p float64) string {
	return strconv.FormatFloat(math.Round(p*10)/10, 'f', -1, 64)
}

// Round2 rounds to two decimal places (paise).
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
