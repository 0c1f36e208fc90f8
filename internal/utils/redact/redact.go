package redact

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"regexp"
	"strings"
)

// Level defines how much of a secret value survives in logs
type Level string

const (
	// LevelNone replaces secrets entirely
	LevelNone Level = "none"
	// LevelHashed replaces secrets with a short salted fingerprint
	LevelHashed Level = "hashed"
	// LevelFull performs no redaction
	LevelFull Level = "full"
)

var defaultSensitiveHeaders = []string{
	"Authorization",
	"Cookie",
	"CF-Access-Client-Secret",
	"CF-Access-Client-Id",
	"X-API-Key",
}

// Sanitizer masks credentials in header values and free text before they are logged
type Sanitizer struct {
	level     Level
	salt      string
	sensitive map[string]struct{}

	bearerPattern *regexp.Regexp
}

// NewSanitizer creates a sanitizer. Extra header names are treated as sensitive too.
func NewSanitizer(level Level, salt string, extraHeaders ...string) *Sanitizer {
	sensitive := make(map[string]struct{}, len(defaultSensitiveHeaders)+len(extraHeaders))
	for _, name := range append(defaultSensitiveHeaders, extraHeaders...) {
		sensitive[http.CanonicalHeaderKey(name)] = struct{}{}
	}
	return &Sanitizer{
		level:         level,
		salt:          salt,
		sensitive:     sensitive,
		bearerPattern: regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9\-._~+/]+=*)`),
	}
}

// IsSensitive reports whether the header must be masked
func (s *Sanitizer) IsSensitive(name string) bool {
	_, ok := s.sensitive[http.CanonicalHeaderKey(name)]
	return ok
}

// Value masks a single secret value
func (s *Sanitizer) Value(value string) string {
	if value == "" {
		return ""
	}
	switch s.level {
	case LevelFull:
		return value
	case LevelNone:
		return "[REDACTED]"
	default:
		return "[SECRET:" + s.hash(value) + "]"
	}
}

// Headers returns a flat copy of h with sensitive values masked
func (s *Sanitizer) Headers(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		joined := strings.Join(values, ",")
		if s.IsSensitive(name) {
			joined = s.Value(joined)
		}
		out[name] = joined
	}
	return out
}

// Text masks bearer tokens embedded in free text such as error messages
func (s *Sanitizer) Text(input string) string {
	if s.level == LevelFull {
		return input
	}
	return s.bearerPattern.ReplaceAllStringFunc(input, func(match string) string {
		parts := s.bearerPattern.FindStringSubmatch(match)
		return parts[1] + s.Value(parts[2])
	})
}

func (s *Sanitizer) hash(data string) string {
	h := sha256.New()
	h.Write([]byte(data + s.salt))
	// First 8 chars are enough to tell two tokens apart
	return hex.EncodeToString(h.Sum(nil))[:8]
}
