package signaldb

// Contact is one row of the conversations catalog. Loaded once, read-only
// afterwards; the display name here is a label, never a storage key.
type Contact struct {
	ID          string
	Name        string // display name, falling back to profile name; may be empty
	ProfileName string
	Number      string // e164 phone number or other identifier
	IsGroup     bool
	Members     []string // resolved member display names, groups only
}

// DisplayName returns the best human-readable label for the contact:
// name, then profile name, then phone number.
func (c *Contact) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	if c.ProfileName != "" {
		return c.ProfileName
	}
	return c.Number
}

// Message is the JSON blob Signal stores per message row. Pointer fields
// distinguish absent keys from present-but-empty values.
type Message struct {
	Timestamp      *int64       `json:"timestamp,omitempty"`
	SentAt         *int64       `json:"sent_at,omitempty"`
	Body           *string      `json:"body,omitempty"`
	Type           string       `json:"type,omitempty"`
	Source         string       `json:"source,omitempty"`
	ConversationID string       `json:"conversationId,omitempty"`
	Attachments    []Attachment `json:"attachments,omitempty"`
}

// SentMillis returns the message's send time in epoch milliseconds,
// preferring timestamp over sent_at. ok is false when neither is present.
func (m *Message) SentMillis() (ms int64, ok bool) {
	if m.Timestamp != nil {
		return *m.Timestamp, true
	}
	if m.SentAt != nil {
		return *m.SentAt, true
	}
	return 0, false
}

// Outgoing reports whether the message was sent by the local user.
func (m *Message) Outgoing() bool {
	return m.Type == "outgoing"
}

// Attachment is a media sub-record of a message. FileName is nil for broken
// records; the copy stage rewrites it in place to the collision-resistant
// export name, and everything downstream uses only the rewritten value.
type Attachment struct {
	Path     string  `json:"path,omitempty"`
	FileName *string `json:"fileName,omitempty"`
}
