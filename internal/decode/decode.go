// Package decode turns raw provider message payloads into structured
// header fields, normalized addresses and plain-text bodies. Everything
// here is pure and deterministic; repeated ingestion of the same input
// must produce identical output for upserts to stay idempotent.
package decode

import (
	"encoding/base64"
	"regexp"
	"strings"

	"github.com/nhle/mailsync/internal/provider"
)

// DefaultSubject replaces an absent or empty Subject header.
const DefaultSubject = "No Subject"

// addressPattern accepts the standard local@domain.tld shape. Tokens
// that do not match are dropped silently.
var addressPattern = regexp.MustCompile(
	`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`,
)

// scanPattern finds address-like substrings inside free text.
var scanPattern = regexp.MustCompile(
	`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`,
)

// HeaderSet holds the structured header fields of one message.
type HeaderSet struct {
	From    string
	To      []string
	Cc      []string
	Bcc     []string
	Subject string
}

// Headers extracts the from/to/cc/bcc/subject fields from a payload's
// header list. Missing headers yield zero values; a missing subject
// yields DefaultSubject.
func Headers(p *provider.RawPart) HeaderSet {
	hs := HeaderSet{Subject: DefaultSubject}
	if p == nil {
		return hs
	}

	for _, h := range p.Headers {
		switch strings.ToLower(h.Name) {
		case "from":
			if addrs := Addresses(h.Value); len(addrs) > 0 {
				hs.From = addrs[0]
			}
		case "to":
			hs.To = Addresses(h.Value)
		case "cc":
			hs.Cc = Addresses(h.Value)
		case "bcc":
			hs.Bcc = Addresses(h.Value)
		case "subject":
			if v := strings.TrimSpace(h.Value); v != "" {
				hs.Subject = v
			}
		}
	}

	return hs
}

// Addresses extracts every valid address from a (possibly
// multi-recipient) header value. The value is split on commas; each
// token may be either `Display Name <addr@domain>` or a bare
// `addr@domain`. Results are lower-cased, trimmed and deduplicated in
// first-seen order. Invalid tokens are dropped, not errors.
func Addresses(headerValue string) []string {
	var out []string
	seen := make(map[string]struct{})

	for _, token := range strings.Split(headerValue, ",") {
		addr, ok := Address(token)
		if !ok {
			continue
		}
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}

	return out
}

// Address extracts and validates a single address token, returning the
// normalized form and whether the token was acceptable.
func Address(token string) (string, bool) {
	candidate := strings.TrimSpace(token)

	// "Display Name <addr@domain>" form: take the angle-bracket part.
	if open := strings.LastIndex(candidate, "<"); open >= 0 {
		close := strings.Index(candidate[open:], ">")
		if close < 0 {
			return "", false
		}
		candidate = candidate[open+1 : open+close]
	}

	candidate = strings.ToLower(strings.TrimSpace(candidate))
	if !addressPattern.MatchString(candidate) {
		return "", false
	}
	return candidate, true
}

// Scan finds all valid addresses inside free text (e.g. a thread
// snippet), in order of appearance, normalized and deduplicated.
func Scan(text string) []string {
	var out []string
	seen := make(map[string]struct{})

	for _, m := range scanPattern.FindAllString(text, -1) {
		addr := strings.ToLower(m)
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}

	return out
}

// Body recursively concatenates the decoded content of all text/plain
// and text/html leaf parts of a payload tree. Attachment parts (any
// part carrying a filename) and non-text types are skipped. Content is
// base64url-encoded on the wire.
func Body(p *provider.RawPart) string {
	if p == nil {
		return ""
	}

	var chunks []string
	collectBody(p, &chunks)
	return strings.Join(chunks, "\n")
}

func collectBody(p *provider.RawPart, chunks *[]string) {
	if p.Filename != "" {
		return
	}

	if p.Body.Data != "" && isTextPart(p.MimeType) {
		if text := decodeBase64URL(p.Body.Data); text != "" {
			*chunks = append(*chunks, text)
		}
	}

	for i := range p.Parts {
		collectBody(&p.Parts[i], chunks)
	}
}

func isTextPart(mimeType string) bool {
	return strings.HasPrefix(mimeType, "text/plain") ||
		strings.HasPrefix(mimeType, "text/html")
}

// decodeBase64URL decodes base64url content, tolerating both padded
// and unpadded encodings. Undecodable content yields an empty string
// rather than an error; malformed parts are best-effort.
func decodeBase64URL(data string) string {
	if b, err := base64.URLEncoding.DecodeString(data); err == nil {
		return string(b)
	}
	if b, err := base64.RawURLEncoding.DecodeString(data); err == nil {
		return string(b)
	}
	return ""
}

// Participants builds the deduplicated union of all addresses across
// the given header sets, preserving first-seen order. The set is built
// once per thread from every header role; callers never mutate it.
func Participants(sets ...HeaderSet) []string {
	var out []string
	seen := make(map[string]struct{})

	add := func(addr string) {
		if addr == "" {
			return
		}
		if _, dup := seen[addr]; dup {
			return
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}

	for _, hs := range sets {
		add(hs.From)
		for _, a := range hs.To {
			add(a)
		}
		for _, a := range hs.Cc {
			add(a)
		}
		for _, a := range hs.Bcc {
			add(a)
		}
	}

	return out
}
