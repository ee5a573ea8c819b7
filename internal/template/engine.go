package template

import "regexp"

// placeholder pattern for variable substitution: {column_name}.
// Single non-nested brace pair, non-greedy.
var varPattern = regexp.MustCompile(`\{([^}]+)\}`)

// Substitute replaces every {name} occurrence in s with the mapped
// value. Placeholders whose name is absent from vars, or maps to an
// empty value (a blank spreadsheet cell), are left verbatim, braces
// included, so unmapped variables stay visible instead of silently
// disappearing.
func Substitute(s string, vars map[string]string) string {
	if s == "" {
		return s
	}

	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := match[1 : len(match)-1]
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		return match
	})
}

// RenderEmail substitutes one row's values into the email template.
func RenderEmail(e Email, vars map[string]string) Email {
	return Email{
		Subject: Substitute(e.Subject, vars),
		Body:    Substitute(e.Body, vars),
	}
}

// Placeholders lists the distinct placeholder names referenced by s, in
// first-occurrence order.
func Placeholders(s string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, m := range varPattern.FindAllStringSubmatch(s, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}
