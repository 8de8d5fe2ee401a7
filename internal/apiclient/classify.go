package apiclient

import (
	"net/http"
	"strings"
)

// Structured invalidation codes carried in the envelope "code" field.
var sessionCodes = map[string]struct{}{
	"SESSION_EXPIRED": {},
	"TOKEN_EXPIRED":   {},
	"UNAUTHORIZED":    {},
	"INVALID_TOKEN":   {},
}

// Message fragments the API used before it sent structured codes. Matching
// free text is an approximation: a business message containing one of these
// words would be misread as a session failure.
var legacySessionPhrases = []string{
	"sesi anda telah habis",
	"token expired",
	"unauthorized",
	"invalid token",
	"jwt expired",
}

// classifyInvalidation returns a non-nil error when the response signals that
// the session is gone. requireSuccess marks endpoints whose envelope must carry
// a success field (the session check).
func classifyInvalidation(status int, env *envelope, requireSuccess bool) *InvalidSessionError {
	if env != nil && env.Code != "" {
		if _, ok := sessionCodes[strings.ToUpper(env.Code)]; ok {
			return &InvalidSessionError{Status: status, Reason: env.Code}
		}
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		reason := http.StatusText(status)
		if env != nil && env.Message != "" {
			reason = env.Message
		}
		return &InvalidSessionError{Status: status, Reason: reason}
	}
	// a failing server says nothing about the session
	if status >= http.StatusInternalServerError || env == nil {
		return nil
	}
	if requireSuccess && env.Success == nil {
		return &InvalidSessionError{Status: status, Reason: "response without success field"}
	}
	if env.Success != nil && !*env.Success && matchesLegacyPhrase(env.Message) {
		return &InvalidSessionError{Status: status, Reason: env.Message, Legacy: true}
	}
	return nil
}

func matchesLegacyPhrase(message string) bool {
	lower := strings.ToLower(message)
	for _, phrase := range legacySessionPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
