package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps timestamps as RFC3339 UTC strings so lexicographic
// comparison in SQL matches chronological order.
type SQLiteStore struct {
	path   string
	logger *zap.Logger
	db     *sql.DB
}

func NewSQLiteStore(path string, logger *zap.Logger) *SQLiteStore {
	return &SQLiteStore{path: path, logger: logger}
}

func (s *SQLiteStore) Init() error {
	_ = os.MkdirAll(filepath.Dir(s.path), 0755)

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return fmt.Errorf("sqlite open: %w", err)
	}
	s.db = db

	schema := `
	CREATE TABLE IF NOT EXISTS tickets (
		channel_id    TEXT PRIMARY KEY,
		ticket_id     TEXT NOT NULL,
		number        INTEGER NOT NULL,
		guild_id      TEXT NOT NULL,
		creator_id    TEXT NOT NULL,
		status        TEXT NOT NULL,
		subject       TEXT NOT NULL DEFAULT '',
		category      TEXT NOT NULL DEFAULT '',
		priority      TEXT NOT NULL DEFAULT '',
		claimed_by    TEXT NOT NULL DEFAULT '',
		closed_by     TEXT NOT NULL DEFAULT '',
		close_reason  TEXT NOT NULL DEFAULT '',
		transcript    TEXT NOT NULL DEFAULT '',
		participants  TEXT NOT NULL DEFAULT '[]',
		messages      TEXT NOT NULL DEFAULT '[]',
		reopen_count  INTEGER NOT NULL DEFAULT 0,
		created_at    TEXT NOT NULL,
		last_activity TEXT NOT NULL,
		claimed_at    TEXT,
		closed_at     TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_tickets_guild_status ON tickets(guild_id, status, last_activity);
	CREATE INDEX IF NOT EXISTS idx_tickets_guild_creator ON tickets(guild_id, creator_id, status);

	CREATE TABLE IF NOT EXISTS guild_configs (
		guild_id                   TEXT PRIMARY KEY,
		ticket_category            TEXT NOT NULL DEFAULT '',
		panel_channel              TEXT NOT NULL DEFAULT '',
		panel_message_id           TEXT NOT NULL DEFAULT '',
		transcript_channel         TEXT NOT NULL DEFAULT '',
		support_roles              TEXT NOT NULL DEFAULT '[]',
		ticket_counter             INTEGER NOT NULL DEFAULT 0,
		max_open_tickets           INTEGER NOT NULL DEFAULT 1,
		allow_reopen               INTEGER NOT NULL DEFAULT 1,
		naming_template            TEXT NOT NULL DEFAULT 'ticket-%04d',
		autoclose_enabled          INTEGER NOT NULL DEFAULT 0,
		autoclose_inactivity_hours INTEGER NOT NULL DEFAULT 72,
		updated_at                 TEXT NOT NULL DEFAULT ''
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("sqlite schema: %w", err)
	}
	s.logger.Info("sqlite store initialised", zap.String("path", s.path))
	return nil
}

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func fmtTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: fmtTime(*t), Valid: true}
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

const ticketCols = `channel_id, ticket_id, number, guild_id, creator_id, status, subject,
	category, priority, claimed_by, closed_by, close_reason, transcript, participants,
	messages, reopen_count, created_at, last_activity, claimed_at, closed_at`

func scanTicket(row interface{ Scan(...any) error }) (*Ticket, error) {
	var (
		t                   Ticket
		participants, msgs  string
		created, activity   string
		claimedAt, closedAt sql.NullString
	)
	err := row.Scan(&t.ChannelID, &t.TicketID, &t.Number, &t.GuildID, &t.CreatorID,
		&t.Status, &t.Subject, &t.Category, &t.Priority, &t.ClaimedBy, &t.ClosedBy,
		&t.CloseReason, &t.Transcript, &participants, &msgs, &t.ReopenCount,
		&created, &activity, &claimedAt, &closedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(participants), &t.Participants)
	_ = json.Unmarshal([]byte(msgs), &t.Messages)
	t.CreatedAt = parseTime(created)
	t.LastActivity = parseTime(activity)
	t.ClaimedAt = parseTimePtr(claimedAt)
	t.ClosedAt = parseTimePtr(closedAt)
	return &t, nil
}

func (s *SQLiteStore) InsertTicket(ctx context.Context, t *Ticket) error {
	participants, _ := json.Marshal(t.Participants)
	msgs, _ := json.Marshal(t.Messages)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tickets (`+ticketCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ChannelID, t.TicketID, t.Number, t.GuildID, t.CreatorID, t.Status, t.Subject,
		t.Category, t.Priority, t.ClaimedBy, t.ClosedBy, t.CloseReason, t.Transcript,
		string(participants), string(msgs), t.ReopenCount,
		fmtTime(t.CreatedAt), fmtTime(t.LastActivity), fmtTimePtr(t.ClaimedAt), fmtTimePtr(t.ClosedAt))
	return err
}

func (s *SQLiteStore) TicketByChannel(ctx context.Context, channelID string) (*Ticket, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+ticketCols+` FROM tickets WHERE channel_id = ?`, channelID)
	return scanTicket(row)
}

func (s *SQLiteStore) queryTickets(ctx context.Context, query string, args ...any) ([]Ticket, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) OpenTicketsByCreator(ctx context.Context, guildID, creatorID string) ([]Ticket, error) {
	return s.queryTickets(ctx,
		`SELECT `+ticketCols+` FROM tickets WHERE guild_id = ? AND creator_id = ? AND status = ?`,
		guildID, creatorID, StatusOpen)
}

func (s *SQLiteStore) OpenTickets(ctx context.Context, guildID string) ([]Ticket, error) {
	return s.queryTickets(ctx,
		`SELECT `+ticketCols+` FROM tickets WHERE guild_id = ? AND status = ? ORDER BY number`,
		guildID, StatusOpen)
}

func (s *SQLiteStore) StaleOpenTickets(ctx context.Context, guildID string, cutoff time.Time) ([]Ticket, error) {
	return s.queryTickets(ctx,
		`SELECT `+ticketCols+` FROM tickets WHERE guild_id = ? AND status = ? AND last_activity < ?`,
		guildID, StatusOpen, fmtTime(cutoff))
}

// guardedUpdate executes a conditional UPDATE and follows the same
// conflict protocol as the mongo store: zero rows affected means either
// ErrNotFound or the current record plus ErrConflict.
func (s *SQLiteStore) guardedUpdate(ctx context.Context, channelID, query string, args ...any) (*Ticket, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		current, ferr := s.TicketByChannel(ctx, channelID)
		if ferr != nil {
			return nil, ferr
		}
		return current, ErrConflict
	}
	return s.TicketByChannel(ctx, channelID)
}

func (s *SQLiteStore) ClaimTicket(ctx context.Context, channelID, actorID string, at time.Time) (*Ticket, error) {
	return s.guardedUpdate(ctx, channelID,
		`UPDATE tickets SET claimed_by = ?, claimed_at = ?
		 WHERE channel_id = ? AND status = ? AND claimed_by = ''`,
		actorID, fmtTime(at), channelID, StatusOpen)
}

func (s *SQLiteStore) CloseTicket(ctx context.Context, channelID, closedBy, reason, transcript string, at time.Time) (*Ticket, error) {
	return s.guardedUpdate(ctx, channelID,
		`UPDATE tickets SET status = ?, closed_by = ?, close_reason = ?, transcript = ?, closed_at = ?
		 WHERE channel_id = ? AND status = ?`,
		StatusClosed, closedBy, reason, transcript, fmtTime(at), channelID, StatusOpen)
}

func (s *SQLiteStore) ReopenTicket(ctx context.Context, channelID string, at time.Time) (*Ticket, error) {
	return s.guardedUpdate(ctx, channelID,
		`UPDATE tickets SET status = ?, closed_by = '', close_reason = '', closed_at = NULL,
		 claimed_by = '', claimed_at = NULL, last_activity = ?, reopen_count = reopen_count + 1
		 WHERE channel_id = ? AND status = ?`,
		StatusOpen, fmtTime(at), channelID, StatusClosed)
}

func (s *SQLiteStore) MarkDeleted(ctx context.Context, channelID string) (*Ticket, error) {
	return s.guardedUpdate(ctx, channelID,
		`UPDATE tickets SET status = ? WHERE channel_id = ? AND status != ?`,
		StatusDeleted, channelID, StatusDeleted)
}

func (s *SQLiteStore) TransferTicket(ctx context.Context, channelID, newCreatorID string) (*Ticket, error) {
	return s.guardedUpdate(ctx, channelID,
		`UPDATE tickets SET creator_id = ? WHERE channel_id = ? AND status != ?`,
		newCreatorID, channelID, StatusDeleted)
}

func (s *SQLiteStore) TouchActivity(ctx context.Context, channelID string, msg TicketMessage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT participants, messages FROM tickets WHERE channel_id = ? AND status = ?`,
		channelID, StatusOpen)

	var participantsJSON, msgsJSON string
	if err := row.Scan(&participantsJSON, &msgsJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	}

	var participants []string
	var msgs []TicketMessage
	_ = json.Unmarshal([]byte(participantsJSON), &participants)
	_ = json.Unmarshal([]byte(msgsJSON), &msgs)

	seen := false
	for _, p := range participants {
		if p == msg.AuthorID {
			seen = true
			break
		}
	}
	if !seen {
		participants = append(participants, msg.AuthorID)
	}
	msgs = append(msgs, msg)
	if len(msgs) > MessageHistoryCap {
		msgs = msgs[len(msgs)-MessageHistoryCap:]
	}

	pOut, _ := json.Marshal(participants)
	mOut, _ := json.Marshal(msgs)
	ts := fmtTime(msg.Timestamp)
	_, err = tx.ExecContext(ctx,
		`UPDATE tickets SET participants = ?, messages = ?,
		 last_activity = CASE WHEN last_activity < ? THEN ? ELSE last_activity END
		 WHERE channel_id = ? AND status = ?`,
		string(pOut), string(mOut), ts, ts, channelID, StatusOpen)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) CountTickets(ctx context.Context, since time.Time) (TicketCounts, error) {
	var counts TicketCounts
	row := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(CASE WHEN status != ? THEN 1 END),
			COUNT(CASE WHEN status = ? THEN 1 END),
			COUNT(CASE WHEN status = ? AND closed_at >= ? THEN 1 END)
		FROM tickets`,
		StatusDeleted, StatusOpen, StatusClosed, fmtTime(since))
	err := row.Scan(&counts.Total, &counts.Open, &counts.ClosedSince)
	return counts, err
}

func (s *SQLiteStore) PurgeDeleted(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM tickets WHERE status = ? AND last_activity < ?`,
		StatusDeleted, fmtTime(olderThan))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) GetGuildConfig(ctx context.Context, guildID string) (*GuildConfig, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT guild_id, ticket_category, panel_channel, panel_message_id, transcript_channel,
		       support_roles, ticket_counter, max_open_tickets, allow_reopen, naming_template,
		       autoclose_enabled, autoclose_inactivity_hours, updated_at
		FROM guild_configs WHERE guild_id = ?`, guildID)

	var gc GuildConfig
	var roles, updated string
	var allowReopen, acEnabled int
	err := row.Scan(&gc.GuildID, &gc.TicketCategory, &gc.PanelChannel, &gc.PanelMessageID,
		&gc.TranscriptChannel, &roles, &gc.TicketCounter, &gc.MaxOpenTickets, &allowReopen,
		&gc.NamingTemplate, &acEnabled, &gc.AutoClose.InactivityHours, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(roles), &gc.SupportRoles)
	gc.AllowReopen = allowReopen != 0
	gc.AutoClose.Enabled = acEnabled != 0
	gc.UpdatedAt = parseTime(updated)
	return &gc, nil
}

func (s *SQLiteStore) SaveGuildConfig(ctx context.Context, gc *GuildConfig) error {
	roles, _ := json.Marshal(gc.SupportRoles)
	gc.UpdatedAt = time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO guild_configs (guild_id, ticket_category, panel_channel, panel_message_id,
			transcript_channel, support_roles, ticket_counter, max_open_tickets, allow_reopen,
			naming_template, autoclose_enabled, autoclose_inactivity_hours, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(guild_id) DO UPDATE SET
			ticket_category = excluded.ticket_category,
			panel_channel = excluded.panel_channel,
			panel_message_id = excluded.panel_message_id,
			transcript_channel = excluded.transcript_channel,
			support_roles = excluded.support_roles,
			max_open_tickets = excluded.max_open_tickets,
			allow_reopen = excluded.allow_reopen,
			naming_template = excluded.naming_template,
			autoclose_enabled = excluded.autoclose_enabled,
			autoclose_inactivity_hours = excluded.autoclose_inactivity_hours,
			updated_at = excluded.updated_at`,
		gc.GuildID, gc.TicketCategory, gc.PanelChannel, gc.PanelMessageID, gc.TranscriptChannel,
		string(roles), gc.TicketCounter, gc.MaxOpenTickets, boolToInt(gc.AllowReopen),
		gc.NamingTemplate, boolToInt(gc.AutoClose.Enabled), gc.AutoClose.InactivityHours,
		fmtTime(gc.UpdatedAt))
	return err
}

func (s *SQLiteStore) NextTicketNumber(ctx context.Context, guildID string) (int, error) {
	row := s.db.QueryRowContext(ctx,
		`UPDATE guild_configs SET ticket_counter = ticket_counter + 1
		 WHERE guild_id = ? RETURNING ticket_counter`, guildID)
	var n int
	err := row.Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return n, err
}

func (s *SQLiteStore) AutoCloseGuilds(ctx context.Context) ([]GuildConfig, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT guild_id FROM guild_configs WHERE autoclose_enabled = 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]GuildConfig, 0, len(ids))
	for _, id := range ids {
		gc, err := s.GetGuildConfig(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *gc)
	}
	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
