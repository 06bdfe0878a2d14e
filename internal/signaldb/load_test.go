package signaldb

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testDB builds a plaintext fixture with Signal's schema subset.
func testDB(t *testing.T) *DB {
	t.Helper()

	raw, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "db.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })

	for _, stmt := range []string{
		`CREATE TABLE conversations (type TEXT, id TEXT, e164 TEXT, name TEXT, profileName TEXT, members TEXT)`,
		`CREATE TABLE messages (json TEXT, conversationId TEXT, sent_at INTEGER)`,
	} {
		_, err := raw.Exec(stmt)
		require.NoError(t, err)
	}
	return &DB{sql: raw}
}

func addContact(t *testing.T, d *DB, typ, id, e164, name, profileName, members any) {
	t.Helper()
	_, err := d.sql.Exec(
		`INSERT INTO conversations (type, id, e164, name, profileName, members) VALUES (?, ?, ?, ?, ?, ?)`,
		typ, id, e164, name, profileName, members,
	)
	require.NoError(t, err)
}

func addMessage(t *testing.T, d *DB, blob, cid string, sentAt int64) {
	t.Helper()
	_, err := d.sql.Exec(`INSERT INTO messages (json, conversationId, sent_at) VALUES (?, ?, ?)`, blob, cid, sentAt)
	require.NoError(t, err)
}

func TestLoadConversations(t *testing.T) {
	d := testDB(t)
	addContact(t, d, "private", "c1", "+4411111", "Alice", "alice.p", nil)
	addContact(t, d, "private", "c2", "+4422222", nil, "Bob Profile", nil)
	addMessage(t, d, `{"timestamp": 1704103200000, "body": "hi", "type": "incoming"}`, "c1", 1704103200000)
	addMessage(t, d, `{"timestamp": 1704189600000, "body": "later", "type": "outgoing"}`, "c1", 1704189600000)

	contacts, convos, err := d.LoadConversations(context.Background(), nil, discard())
	require.NoError(t, err)

	require.Len(t, contacts, 2)
	assert.Equal(t, "Alice", contacts["c1"].Name)
	assert.Equal(t, "+4411111", contacts["c1"].Number)
	assert.False(t, contacts["c1"].IsGroup)

	// NULL name falls back to the profile name.
	assert.Equal(t, "Bob Profile", contacts["c2"].Name)

	require.Len(t, convos["c1"], 2)
	assert.Equal(t, "hi", *convos["c1"][0].Body)
	assert.True(t, convos["c1"][1].Outgoing())
	assert.Empty(t, convos["c1"][1].Attachments)
}

func TestLoadConversations_MessagesOrderedBySendTime(t *testing.T) {
	d := testDB(t)
	addContact(t, d, "private", "c1", "+44123", "Alice", nil, nil)
	// Insert out of order; sent_at decides.
	addMessage(t, d, `{"timestamp": 3000, "body": "third"}`, "c1", 3000)
	addMessage(t, d, `{"timestamp": 1000, "body": "first"}`, "c1", 1000)
	addMessage(t, d, `{"timestamp": 2000, "body": "second"}`, "c1", 2000)

	_, convos, err := d.LoadConversations(context.Background(), nil, discard())
	require.NoError(t, err)

	require.Len(t, convos["c1"], 3)
	assert.Equal(t, "first", *convos["c1"][0].Body)
	assert.Equal(t, "second", *convos["c1"][1].Body)
	assert.Equal(t, "third", *convos["c1"][2].Body)
}

func TestLoadConversations_ChatFilter(t *testing.T) {
	d := testDB(t)
	addContact(t, d, "private", "c1", "+441", "Alice", nil, nil)
	addContact(t, d, "private", "c2", "+442", nil, "Bob", nil)
	addContact(t, d, "private", "c3", "+443", "Carol", nil, nil)

	contacts, _, err := d.LoadConversations(context.Background(), []string{"Alice", "Bob"}, discard())
	require.NoError(t, err)

	assert.Len(t, contacts, 2)
	assert.Contains(t, contacts, "c1") // matched by name
	assert.Contains(t, contacts, "c2") // matched by profile name
	assert.NotContains(t, contacts, "c3")
}

func TestLoadConversations_FilterIsBoundNotSpliced(t *testing.T) {
	d := testDB(t)
	addContact(t, d, "private", "c1", "+441", `Al"ice`, nil, nil)

	// A name containing quote characters is just a value, not SQL.
	contacts, _, err := d.LoadConversations(context.Background(), []string{`Al"ice`}, discard())
	require.NoError(t, err)
	assert.Len(t, contacts, 1)

	contacts, _, err = d.LoadConversations(context.Background(), []string{`") OR 1=1 --`}, discard())
	require.NoError(t, err)
	assert.Empty(t, contacts)
}

func TestLoadConversations_GroupMembers(t *testing.T) {
	d := testDB(t)
	addContact(t, d, "private", "m1", "+441", "Alice", nil, nil)
	addContact(t, d, "private", "m2", "+442", nil, "Bob Profile", nil)
	addContact(t, d, "group", "g1", nil, "Book Club", nil, "m1 m2 m-unknown")

	contacts, _, err := d.LoadConversations(context.Background(), nil, discard())
	require.NoError(t, err)

	g := contacts["g1"]
	require.NotNil(t, g)
	assert.True(t, g.IsGroup)
	// Known ids resolve to names, unknown ids stay raw.
	assert.Equal(t, []string{"Alice", "Bob Profile", "m-unknown"}, g.Members)
}

func TestLoadConversations_OrphanMessagesDropped(t *testing.T) {
	d := testDB(t)
	addContact(t, d, "private", "c1", "+441", "Alice", nil, nil)
	addMessage(t, d, `{"timestamp": 1000, "body": "kept"}`, "c1", 1000)
	addMessage(t, d, `{"timestamp": 2000, "body": "orphan"}`, "deleted-contact", 2000)

	_, convos, err := d.LoadConversations(context.Background(), nil, discard())
	require.NoError(t, err)

	require.Len(t, convos, 1)
	require.Len(t, convos["c1"], 1)
}

func TestLoadConversations_AttachmentBlob(t *testing.T) {
	d := testDB(t)
	addContact(t, d, "private", "c1", "+441", "Alice", nil, nil)
	addMessage(t, d, `{"sent_at": 1000, "attachments": [{"path": "ab\\cd", "fileName": "pic.jpg"}, {"path": "ef/gh"}]}`, "c1", 1000)

	_, convos, err := d.LoadConversations(context.Background(), nil, discard())
	require.NoError(t, err)

	msgs := convos["c1"]
	require.Len(t, msgs, 1)

	ms, ok := msgs[0].SentMillis()
	require.True(t, ok)
	assert.Equal(t, int64(1000), ms) // sent_at honored when timestamp absent

	require.Len(t, msgs[0].Attachments, 2)
	require.NotNil(t, msgs[0].Attachments[0].FileName)
	assert.Equal(t, "pic.jpg", *msgs[0].Attachments[0].FileName)
	assert.Nil(t, msgs[0].Attachments[1].FileName) // broken record, no fileName key
}
