package decode

import (
	"encoding/base64"
	"reflect"
	"testing"

	"github.com/nhle/mailsync/internal/provider"
)

func TestAddresses_MixedFormats(t *testing.T) {
	got := Addresses(`Jane Doe <Jane@Example.com>, john@example.org`)
	want := []string{"jane@example.com", "john@example.org"}

	if !reflect.DeepEqual(got, want) {
		t.Errorf("Addresses() = %v, want %v", got, want)
	}
}

func TestAddresses_DropsInvalidTokens(t *testing.T) {
	got := Addresses(`not-an-address, Bob <bob@acme.dk>, @broken, x@y, carol@corp.example.com`)
	want := []string{"bob@acme.dk", "carol@corp.example.com"}

	if !reflect.DeepEqual(got, want) {
		t.Errorf("Addresses() = %v, want %v", got, want)
	}
}

func TestAddresses_Deduplicates(t *testing.T) {
	got := Addresses(`a@b.com, A@B.com, a@b.com`)
	if len(got) != 1 || got[0] != "a@b.com" {
		t.Errorf("Addresses() = %v, want single a@b.com", got)
	}
}

func TestAddress_AngleBracketsWithoutClose(t *testing.T) {
	if _, ok := Address("Broken <addr@example.com"); ok {
		t.Error("expected unclosed angle bracket to be rejected")
	}
}

func TestHeaders_DefaultsAndRoles(t *testing.T) {
	payload := &provider.RawPart{
		Headers: []provider.RawHeader{
			{Name: "From", Value: "Jane Doe <jane@example.com>"},
			{Name: "To", Value: "buyer@acme.dk, second@acme.dk"},
			{Name: "Cc", Value: "cc@corp.example.com"},
		},
	}

	hs := Headers(payload)

	if hs.From != "jane@example.com" {
		t.Errorf("From = %q", hs.From)
	}
	if !reflect.DeepEqual(hs.To, []string{"buyer@acme.dk", "second@acme.dk"}) {
		t.Errorf("To = %v", hs.To)
	}
	if !reflect.DeepEqual(hs.Cc, []string{"cc@corp.example.com"}) {
		t.Errorf("Cc = %v", hs.Cc)
	}
	if hs.Subject != DefaultSubject {
		t.Errorf("Subject = %q, want %q", hs.Subject, DefaultSubject)
	}
}

func TestHeaders_NilPayload(t *testing.T) {
	hs := Headers(nil)
	if hs.Subject != DefaultSubject {
		t.Errorf("Subject = %q, want default", hs.Subject)
	}
	if hs.From != "" || len(hs.To) != 0 {
		t.Errorf("expected empty header set, got %+v", hs)
	}
}

func TestBody_RecursiveMultipart(t *testing.T) {
	enc := func(s string) string {
		return base64.URLEncoding.EncodeToString([]byte(s))
	}

	payload := &provider.RawPart{
		MimeType: "multipart/mixed",
		Parts: []provider.RawPart{
			{
				MimeType: "multipart/alternative",
				Parts: []provider.RawPart{
					{MimeType: "text/plain", Body: provider.RawBody{Data: enc("hello")}},
					{MimeType: "text/html", Body: provider.RawBody{Data: enc("<p>hello</p>")}},
				},
			},
			{
				MimeType: "application/pdf",
				Filename: "invoice.pdf",
				Body:     provider.RawBody{Data: enc("binary")},
			},
			{MimeType: "text/plain", Body: provider.RawBody{Data: enc("bye")}},
		},
	}

	got := Body(payload)
	want := "hello\n<p>hello</p>\nbye"
	if got != want {
		t.Errorf("Body() = %q, want %q", got, want)
	}
}

func TestBody_UndecodablePartSkipped(t *testing.T) {
	payload := &provider.RawPart{
		MimeType: "text/plain",
		Body:     provider.RawBody{Data: "!!not base64!!"},
	}
	if got := Body(payload); got != "" {
		t.Errorf("Body() = %q, want empty", got)
	}
}

func TestScan_OrderAndDedup(t *testing.T) {
	got := Scan("Contact us at buyer@acme.dk or sales@acme.dk, again buyer@acme.dk")
	want := []string{"buyer@acme.dk", "sales@acme.dk"}

	if !reflect.DeepEqual(got, want) {
		t.Errorf("Scan() = %v, want %v", got, want)
	}
}

func TestParticipants_UnionAcrossRoles(t *testing.T) {
	sets := []HeaderSet{
		{From: "a@x.com", To: []string{"b@y.com"}},
		{From: "b@y.com", To: []string{"a@x.com"}, Cc: []string{"c@z.com"}},
		{Bcc: []string{"d@w.com"}},
	}

	got := Participants(sets...)
	want := []string{"a@x.com", "b@y.com", "c@z.com", "d@w.com"}

	if !reflect.DeepEqual(got, want) {
		t.Errorf("Participants() = %v, want %v", got, want)
	}
}

func TestRawRFC822_ParsesHeadersAndBody(t *testing.T) {
	raw := "From: Jane Doe <jane@example.com>\r\n" +
		"To: john@example.org\r\n" +
		"Subject: Quarterly numbers\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"See attached.\r\n"
	encoded := base64.URLEncoding.EncodeToString([]byte(raw))

	hs, body, err := RawRFC822(encoded)
	if err != nil {
		t.Fatalf("RawRFC822: %v", err)
	}

	if hs.From != "jane@example.com" {
		t.Errorf("From = %q", hs.From)
	}
	if !reflect.DeepEqual(hs.To, []string{"john@example.org"}) {
		t.Errorf("To = %v", hs.To)
	}
	if hs.Subject != "Quarterly numbers" {
		t.Errorf("Subject = %q", hs.Subject)
	}
	if body != "See attached.\r\n" {
		t.Errorf("body = %q", body)
	}
}

func TestRawRFC822_UndecodableBlob(t *testing.T) {
	if _, _, err := RawRFC822("%%%not-base64%%%"); err == nil {
		t.Error("expected error for undecodable raw blob")
	}
}

func TestDecode_Deterministic(t *testing.T) {
	payload := &provider.RawPart{
		Headers: []provider.RawHeader{
			{Name: "From", Value: "a@x.com"},
			{Name: "To", Value: "b@y.com, c@z.com"},
		},
	}

	first := Headers(payload)
	second := Headers(payload)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("decoding is not deterministic: %+v vs %+v", first, second)
	}
}
