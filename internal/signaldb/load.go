package signaldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// LoadConversations queries the catalog and all messages, returning the
// contact map and the per-conversation message streams in send-time order.
//
// When chats is non-empty only conversations whose name or profile name
// exactly matches one of the entries are loaded. The filter is bound with
// query placeholders, never spliced into the SQL.
func (d *DB) LoadConversations(ctx context.Context, chats []string, logger *slog.Logger) (map[string]*Contact, map[string][]Message, error) {
	contacts := make(map[string]*Contact)
	convos := make(map[string][]Message)

	query := "SELECT type, id, e164, name, profileName, members FROM conversations"
	var args []any
	if len(chats) > 0 {
		ph := placeholders(len(chats))
		query += fmt.Sprintf(" WHERE name IN (%s) OR profileName IN (%s)", ph, ph)
		for i := 0; i < 2; i++ {
			for _, c := range chats {
				args = append(args, c)
			}
		}
	}

	rows, err := d.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("query conversations (this usually means decryption failed): %w", err)
	}
	defer rows.Close()

	type groupRow struct {
		id      string
		members string
	}
	var groups []groupRow

	for rows.Next() {
		var typ, id, e164, name, profileName, members sql.NullString
		if err := rows.Scan(&typ, &id, &e164, &name, &profileName, &members); err != nil {
			return nil, nil, fmt.Errorf("scan conversation row: %w", err)
		}
		if !id.Valid {
			continue
		}

		c := &Contact{
			ID:          id.String,
			Name:        name.String,
			ProfileName: profileName.String,
			Number:      e164.String,
			IsGroup:     typ.String == "group",
		}
		if c.Name == "" {
			c.Name = c.ProfileName
		}
		logger.Info("loaded conversation", "name", c.DisplayName(), "group", c.IsGroup)

		contacts[c.ID] = c
		convos[c.ID] = nil

		if c.IsGroup {
			if members.String == "" {
				logger.Info("empty group", "id", c.ID)
			} else {
				groups = append(groups, groupRow{id: c.ID, members: members.String})
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate conversations: %w", err)
	}

	// Resolve group member ids to display names after the catalog cursor is
	// drained; unknown ids keep their raw form.
	for _, g := range groups {
		resolved, err := d.resolveMembers(ctx, strings.Fields(g.members))
		if err != nil {
			return nil, nil, err
		}
		contacts[g.id].Members = resolved
	}

	if err := d.loadMessages(ctx, convos); err != nil {
		return nil, nil, err
	}

	return contacts, convos, nil
}

func (d *DB) resolveMembers(ctx context.Context, ids []string) ([]string, error) {
	members := make([]string, 0, len(ids))
	for _, id := range ids {
		var name, profileName sql.NullString
		err := d.sql.QueryRowContext(ctx, "SELECT name, profileName FROM conversations WHERE id = ?", id).Scan(&name, &profileName)
		switch {
		case err == sql.ErrNoRows:
			members = append(members, id)
		case err != nil:
			return nil, fmt.Errorf("resolve group member %s: %w", id, err)
		case name.Valid && name.String != "":
			members = append(members, name.String)
		case profileName.Valid && profileName.String != "":
			members = append(members, profileName.String)
		default:
			members = append(members, id)
		}
	}
	return members, nil
}

// loadMessages reads every message row in send-time order and buckets it
// into its conversation. Rows whose conversation has no catalog entry are
// dropped: a conversation referencing a deleted contact is not exportable.
func (d *DB) loadMessages(ctx context.Context, convos map[string][]Message) error {
	rows, err := d.sql.QueryContext(ctx, "SELECT json, conversationId FROM messages ORDER BY sent_at")
	if err != nil {
		return fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var blob, cid sql.NullString
		if err := rows.Scan(&blob, &cid); err != nil {
			return fmt.Errorf("scan message row: %w", err)
		}
		if !blob.Valid || !cid.Valid {
			continue
		}
		if _, ok := convos[cid.String]; !ok {
			continue
		}

		var msg Message
		if err := json.Unmarshal([]byte(blob.String), &msg); err != nil {
			continue // skip malformed blobs
		}
		convos[cid.String] = append(convos[cid.String], msg)
	}
	return rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
