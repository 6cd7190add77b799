package blacklist

import "strings"

// Watcher vocabulary: the inspected message must be the keyword itself or
// start with it, so ordinary conversation containing "sair" somewhere in the
// middle is not treated as an opt-out.
var optOutKeywords = []string{"sair", "pare", "stop", "cancelar", "não quero"}

// Webhook vocabulary: real-time intake is more permissive and matches the
// keyword anywhere in the message.
var optOutSubstrings = []string{"sair", "parar", "cancelar", "descadastrar", "remover"}

// IsOptOutMessage reports whether a chat message is an opt-out request under
// the strict (exact-or-prefix) rule used by the periodic watcher.
func IsOptOutMessage(text string) bool {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return false
	}
	for _, keyword := range optOutKeywords {
		if strings.HasPrefix(normalized, keyword) {
			return true
		}
	}
	return false
}

// ContainsOptOut reports whether a message carries an opt-out keyword
// anywhere, the rule applied to inbound webhook messages.
func ContainsOptOut(text string) bool {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return false
	}
	for _, keyword := range optOutSubstrings {
		if strings.Contains(normalized, keyword) {
			return true
		}
	}
	return false
}
