package observability

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/m-mizutani/masq"
)

// RedactedValue replaces sensitive values in log output.
const RedactedValue = "[REDACTED]"

var sensitiveKeys = []string{"password", "secret", "token", "apikey", "api_key", "credential", "authorization"}

// sensitiveQuery matches key=value pairs in URLs whose key is sensitive.
var sensitiveQuery = regexp.MustCompile(`(?i)\b(password|secret|token|apikey|api_key|credential)=([^&\s"]*)`)

// userinfo matches credentials embedded in a URL authority.
var userinfo = regexp.MustCompile(`(://[^/:@\s]+):([^@/\s]+)@`)

func isSensitiveKey(key string) bool {
	k := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if k == s {
			return true
		}
	}
	return false
}

// newRedactor returns a slog ReplaceAttr function. Attribute keys are matched
// directly; struct values are walked by masq so nested Password fields are
// hidden too; string values have URL credentials and query secrets masked.
func newRedactor() func(groups []string, a slog.Attr) slog.Attr {
	m := masq.New(
		masq.WithFieldName("Password"),
		masq.WithFieldName("Secret"),
		masq.WithFieldName("Token"),
		masq.WithFieldName("APIKey"),
	)

	return func(groups []string, a slog.Attr) slog.Attr {
		if isSensitiveKey(a.Key) {
			return slog.String(a.Key, RedactedValue)
		}
		if a.Value.Kind() == slog.KindString {
			s := a.Value.String()
			if strings.Contains(s, "=") || strings.Contains(s, "@") {
				s = sensitiveQuery.ReplaceAllString(s, "${1}="+RedactedValue)
				s = userinfo.ReplaceAllString(s, "${1}:"+RedactedValue+"@")
				return slog.String(a.Key, s)
			}
			return a
		}
		if a.Value.Kind() == slog.KindAny {
			return m(groups, a)
		}
		return a
	}
}
