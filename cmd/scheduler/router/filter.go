package router

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"path"
	"regexp"
	"strings"
)

// VerifySignature checks an HMAC-SHA256 hex signature over body.
// The header value may carry the conventional "sha256=" prefix.
func VerifySignature(secret string, body []byte, header string) bool {
	if header == "" {
		return false
	}
	got := strings.TrimPrefix(header, "sha256=")

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(want), []byte(got))
}

// matchPattern applies an optional regex filter from the trigger config.
// A missing pattern passes; an invalid pattern fails closed.
func matchPattern(config map[string]any, field, value string) bool {
	pattern, _ := config[field].(string)
	if pattern == "" {
		return true
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(value)
}

// anyGlob reports whether value matches at least one glob pattern
func anyGlob(globs []string, value string) bool {
	for _, g := range globs {
		if globMatch(g, value) {
			return true
		}
	}
	return false
}

// globMatch matches slash-separated values segment by segment. "*"
// matches within one segment, "**" spans any number of segments
// ("src/**/*.go" matches "src/a/b/c.go").
func globMatch(pattern, value string) bool {
	return segMatch(strings.Split(pattern, "/"), strings.Split(value, "/"))
}

func segMatch(pattern, value []string) bool {
	if len(pattern) == 0 {
		return len(value) == 0
	}
	if pattern[0] == "**" {
		// Swallow zero or more value segments
		for i := 0; i <= len(value); i++ {
			if segMatch(pattern[1:], value[i:]) {
				return true
			}
		}
		return false
	}
	if len(value) == 0 {
		return false
	}
	ok, err := path.Match(pattern[0], value[0])
	if err != nil || !ok {
		return false
	}
	return segMatch(pattern[1:], value[1:])
}

// stringList coerces a JSON-decoded array config value to []string
func stringList(value any) []string {
	switch v := value.(type) {
	case []string:
		return v
	case []any:
		var out []string
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}

func containsFold(list []string, value string) bool {
	for _, item := range list {
		if strings.EqualFold(item, value) {
			return true
		}
	}
	return false
}

func intersects(a, b []string) bool {
	for _, item := range a {
		if contains(b, item) {
			return true
		}
	}
	return false
}

func boolConfig(config map[string]any, field string, fallback bool) bool {
	if v, ok := config[field].(bool); ok {
		return v
	}
	return fallback
}
