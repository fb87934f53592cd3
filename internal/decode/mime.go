package decode

import (
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message/mail"
)

// RawRFC822 parses a base64url-encoded RFC 2822 message blob, used for
// provider messages that carry no structured payload. It returns the
// header set and the concatenated text body. Parse failures inside the
// MIME tree degrade to best-effort partial results; only an undecodable
// blob is an error.
func RawRFC822(raw string) (HeaderSet, string, error) {
	decoded, err := base64.URLEncoding.DecodeString(raw)
	if err != nil {
		decoded, err = base64.RawURLEncoding.DecodeString(raw)
	}
	if err != nil {
		return HeaderSet{}, "", fmt.Errorf("decoding raw message: %w", err)
	}

	mr, err := mail.CreateReader(strings.NewReader(string(decoded)))
	if err != nil {
		// Not parseable as MIME; treat the whole blob as plain text.
		return HeaderSet{Subject: DefaultSubject}, string(decoded), nil
	}
	defer mr.Close()

	hs := HeaderSet{Subject: DefaultSubject}
	if subject, err := mr.Header.Subject(); err == nil {
		if s := strings.TrimSpace(subject); s != "" {
			hs.Subject = s
		}
	}
	if from := headerAddresses(mr.Header, "From"); len(from) > 0 {
		hs.From = from[0]
	}
	hs.To = headerAddresses(mr.Header, "To")
	hs.Cc = headerAddresses(mr.Header, "Cc")
	hs.Bcc = headerAddresses(mr.Header, "Bcc")

	var chunks []string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			// Attachment part; skip.
			continue
		}

		contentType, _, _ := h.ContentType()
		if !isTextPart(contentType) {
			continue
		}

		body, readErr := io.ReadAll(part.Body)
		if readErr != nil {
			continue
		}
		chunks = append(chunks, string(body))
	}

	return hs, strings.Join(chunks, "\n"), nil
}

// headerAddresses reads one recipient header through go-message's
// parsed address list, falling back to raw token extraction when the
// header does not parse.
func headerAddresses(h mail.Header, key string) []string {
	parsed, err := h.AddressList(key)
	if err != nil || len(parsed) == 0 {
		return Addresses(h.Get(key))
	}

	var out []string
	seen := make(map[string]struct{})
	for _, a := range parsed {
		addr, ok := Address(a.Address)
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
