package provider

// Wire types for the mail provider's REST API. The provider returns
// loosely-shaped nested JSON; every field here is optional-tolerant and
// decoding treats absent fields as zero values rather than failing.

// RawHeader is a single name/value header pair on a message part.
type RawHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// RawBody carries base64url-encoded part content.
type RawBody struct {
	Size int    `json:"size"`
	Data string `json:"data"`
}

// RawPart is one node of a message's MIME tree. Leaf text parts carry
// Body data; multipart containers carry child Parts.
type RawPart struct {
	PartID   string      `json:"partId"`
	MimeType string      `json:"mimeType"`
	Filename string      `json:"filename"`
	Headers  []RawHeader `json:"headers"`
	Body     RawBody     `json:"body"`
	Parts    []RawPart   `json:"parts"`
}

// RawMessage is one message as returned by the thread detail call.
// Payload holds the structured MIME tree; some messages instead carry
// only Raw, a base64url-encoded RFC 2822 blob.
type RawMessage struct {
	ID           string   `json:"id"`
	ThreadID     string   `json:"threadId"`
	Snippet      string   `json:"snippet"`
	InternalDate int64    `json:"internalDate,string"`
	Payload      *RawPart `json:"payload"`
	Raw          string   `json:"raw"`
}

// RawThread is one conversation. The list call returns threads without
// Messages (the basic representation); the detail call fills them in.
type RawThread struct {
	ID        string       `json:"id"`
	Snippet   string       `json:"snippet"`
	HistoryID string       `json:"historyId"`
	Messages  []RawMessage `json:"messages"`
}

// ThreadPage is one page of the paginated thread listing.
type ThreadPage struct {
	Threads            []RawThread `json:"threads"`
	NextPageToken      string      `json:"nextPageToken"`
	ResultSizeEstimate int         `json:"resultSizeEstimate"`
}

// FetchResult holds the outcome of a full cursor walk: every thread the
// provider listed, plus one warning per thread that degraded to its
// basic representation after detail fetches were exhausted.
type FetchResult struct {
	Threads  []RawThread
	Warnings []string
}
