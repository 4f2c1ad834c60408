// Package sqlstore implements storage.Store over database/sql. The same queries
// run on SQLite and PostgreSQL; placeholders are written as ? and rebound per dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/edufund/supportchat/backend/internal/apperr"
	"github.com/edufund/supportchat/backend/internal/storage"
)

type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

// Rebind rewrites ? placeholders into $n for PostgreSQL.
func (d Dialect) Rebind(query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type Store struct {
	db      *sql.DB
	dialect Dialect
}

func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

var _ storage.Store = (*Store)(nil)

func (s *Store) Conversations() storage.ConversationRepo { return conversationRepo{s} }
func (s *Store) Messages() storage.MessageRepo           { return messageRepo{s} }
func (s *Store) Users() storage.UserRepo                 { return userRepo{s} }

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return apperr.Unavailable("ping", err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) exec(ctx context.Context, q querier, query string, args ...any) (sql.Result, error) {
	return q.ExecContext(ctx, s.dialect.Rebind(query), args...)
}

func (s *Store) query(ctx context.Context, q querier, query string, args ...any) (*sql.Rows, error) {
	return q.QueryContext(ctx, s.dialect.Rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, q querier, query string, args ...any) *sql.Row {
	return q.QueryRowContext(ctx, s.dialect.Rebind(query), args...)
}

// fail maps a driver error onto the taxonomy.
func fail(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, apperr.ErrNotFound)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return apperr.Unavailable(op, err)
}

func millis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullableTime(ms sql.NullInt64) *time.Time {
	if !ms.Valid {
		return nil
	}
	t := fromMillis(ms.Int64)
	return &t
}

const conversationColumns = `id, participant_low, participant_high, created_at, last_message_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (storage.Conversation, error) {
	var (
		c       storage.Conversation
		created int64
		last    sql.NullInt64
	)
	if err := row.Scan(&c.ID, &c.ParticipantA, &c.ParticipantB, &created, &last); err != nil {
		return storage.Conversation{}, err
	}
	c.CreatedAt = fromMillis(created)
	c.LastMessageAt = nullableTime(last)
	return c, nil
}

type conversationRepo struct{ s *Store }

func (r conversationRepo) GetOrCreate(ctx context.Context, id, low, high string, now time.Time) (storage.Conversation, error) {
	_, err := r.s.exec(ctx, r.s.db, `
		INSERT INTO conversations (id, participant_low, participant_high, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (participant_low, participant_high) DO NOTHING`,
		id, low, high, millis(now))
	if err != nil {
		return storage.Conversation{}, fail("insert conversation", err)
	}

	row := r.s.queryRow(ctx, r.s.db, `SELECT `+conversationColumns+`
		FROM conversations WHERE participant_low = ? AND participant_high = ?`, low, high)
	c, err := scanConversation(row)
	if err != nil {
		return storage.Conversation{}, fail("fetch conversation by pair", err)
	}
	return c, nil
}

func (r conversationRepo) Get(ctx context.Context, id string) (storage.Conversation, error) {
	row := r.s.queryRow(ctx, r.s.db, `SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	c, err := scanConversation(row)
	if err != nil {
		return storage.Conversation{}, fail("conversation "+id, err)
	}
	return c, nil
}

const conversationOrder = ` ORDER BY CASE WHEN last_message_at IS NULL THEN 1 ELSE 0 END, last_message_at DESC, created_at DESC`

func (r conversationRepo) ListByParticipant(ctx context.Context, userID string) ([]storage.Conversation, error) {
	return r.list(ctx, `SELECT `+conversationColumns+` FROM conversations
		WHERE participant_low = ? OR participant_high = ?`+conversationOrder, userID, userID)
}

func (r conversationRepo) ListAll(ctx context.Context) ([]storage.Conversation, error) {
	return r.list(ctx, `SELECT `+conversationColumns+` FROM conversations`+conversationOrder)
}

func (r conversationRepo) list(ctx context.Context, query string, args ...any) ([]storage.Conversation, error) {
	rows, err := r.s.query(ctx, r.s.db, query, args...)
	if err != nil {
		return nil, fail("list conversations", err)
	}
	defer rows.Close()

	var list []storage.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fail("scan conversation", err)
		}
		list = append(list, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fail("list conversations", err)
	}
	return list, nil
}

func (r conversationRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.s.queryRow(ctx, r.s.db, `SELECT COUNT(1) FROM conversations`).Scan(&n); err != nil {
		return 0, fail("count conversations", err)
	}
	return n, nil
}

const messageColumns = `seq, id, conversation_id, sender_id, receiver_id, body, status, created_at, deleted_at`

func scanMessage(row rowScanner) (storage.Message, error) {
	var (
		m       storage.Message
		status  string
		created int64
		deleted sql.NullInt64
	)
	if err := row.Scan(&m.Seq, &m.ID, &m.ConversationID, &m.SenderID, &m.ReceiverID, &m.Text, &status, &created, &deleted); err != nil {
		return storage.Message{}, err
	}
	m.Status = storage.Status(status)
	m.CreatedAt = fromMillis(created)
	m.DeletedAt = nullableTime(deleted)
	return m, nil
}

func scanMessages(rows *sql.Rows) ([]storage.Message, error) {
	defer rows.Close()
	var list []storage.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	return list, rows.Err()
}

type messageRepo struct{ s *Store }

func (r messageRepo) Insert(ctx context.Context, m storage.Message) (storage.Message, error) {
	tx, err := r.s.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.Message{}, fail("begin insert message", err)
	}
	defer tx.Rollback() // no-op after commit

	var exists int
	if err := r.s.queryRow(ctx, tx, `SELECT 1 FROM conversations WHERE id = ?`, m.ConversationID).Scan(&exists); err != nil {
		return storage.Message{}, fail("conversation "+m.ConversationID, err)
	}

	row := r.s.queryRow(ctx, tx, `
		INSERT INTO messages (id, conversation_id, sender_id, receiver_id, body, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING seq`,
		m.ID, m.ConversationID, m.SenderID, m.ReceiverID, m.Text, string(m.Status), millis(m.CreatedAt))
	if err := row.Scan(&m.Seq); err != nil {
		return storage.Message{}, fail("insert message", err)
	}

	// monotonic: an older timestamp never rewinds last_message_at
	if _, err := r.s.exec(ctx, tx, `
		UPDATE conversations SET last_message_at = ?
		WHERE id = ? AND (last_message_at IS NULL OR last_message_at < ?)`,
		millis(m.CreatedAt), m.ConversationID, millis(m.CreatedAt)); err != nil {
		return storage.Message{}, fail("touch conversation", err)
	}

	if err := tx.Commit(); err != nil {
		return storage.Message{}, fail("commit message", err)
	}
	return m, nil
}

func (r messageRepo) Get(ctx context.Context, id string) (storage.Message, error) {
	row := r.s.queryRow(ctx, r.s.db, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	m, err := scanMessage(row)
	if err != nil {
		return storage.Message{}, fail("message "+id, err)
	}
	return m, nil
}

func (r messageRepo) List(ctx context.Context, conversationID string) ([]storage.Message, error) {
	rows, err := r.s.query(ctx, r.s.db, `SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = ? AND deleted_at IS NULL
		ORDER BY created_at ASC, seq ASC`, conversationID)
	if err != nil {
		return nil, fail("list messages", err)
	}
	list, err := scanMessages(rows)
	if err != nil {
		return nil, fail("scan messages", err)
	}
	return list, nil
}

func (r messageRepo) MarkDelivered(ctx context.Context, conversationID, receiverID string) ([]storage.Message, error) {
	rows, err := r.s.query(ctx, r.s.db, `
		UPDATE messages SET status = ?
		WHERE conversation_id = ? AND receiver_id = ? AND status = ? AND deleted_at IS NULL
		RETURNING `+messageColumns,
		string(storage.StatusDelivered), conversationID, receiverID, string(storage.StatusSent))
	if err != nil {
		return nil, fail("mark delivered", err)
	}
	list, err := scanMessages(rows)
	if err != nil {
		return nil, fail("scan delivered", err)
	}
	// RETURNING order is unspecified
	sort.Slice(list, func(i, j int) bool { return list[i].Seq < list[j].Seq })
	return list, nil
}

func (r messageRepo) Advance(ctx context.Context, id, receiverID string, to storage.Status) (storage.Message, bool, error) {
	from := to.Before()
	if len(from) == 0 {
		return r.unchanged(ctx, id, receiverID)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(from)), ", ")
	args := []any{string(to), id, receiverID}
	for _, st := range from {
		args = append(args, string(st))
	}

	row := r.s.queryRow(ctx, r.s.db, `
		UPDATE messages SET status = ?
		WHERE id = ? AND receiver_id = ? AND deleted_at IS NULL AND status IN (`+placeholders+`)
		RETURNING `+messageColumns, args...)
	m, err := scanMessage(row)
	if err == nil {
		return m, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return storage.Message{}, false, fail("advance message", err)
	}

	return r.unchanged(ctx, id, receiverID)
}

// unchanged resolves a no-op status update: the message is either already at
// or past the target, or not addressable by receiverID.
func (r messageRepo) unchanged(ctx context.Context, id, receiverID string) (storage.Message, bool, error) {
	current, err := r.Get(ctx, id)
	if err != nil {
		return storage.Message{}, false, err
	}
	if current.ReceiverID != receiverID || current.Deleted() {
		return storage.Message{}, false, fmt.Errorf("message %s: %w", id, apperr.ErrNotFound)
	}
	return current, false, nil
}

func (r messageRepo) SoftDelete(ctx context.Context, id, senderID string, at time.Time) (storage.Message, bool, error) {
	row := r.s.queryRow(ctx, r.s.db, `
		UPDATE messages SET deleted_at = ?
		WHERE id = ? AND sender_id = ? AND deleted_at IS NULL
		RETURNING `+messageColumns, millis(at), id, senderID)
	m, err := scanMessage(row)
	if err == nil {
		return m, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return storage.Message{}, false, fail("delete message", err)
	}

	current, err := r.Get(ctx, id)
	if err != nil {
		return storage.Message{}, false, err
	}
	if current.SenderID != senderID {
		return storage.Message{}, false, fmt.Errorf("message %s: %w", id, apperr.ErrNotFound)
	}
	return current, false, nil
}

// digestBatch bounds the IN list of one digest query.
const digestBatch = 500

func (r messageRepo) Digests(ctx context.Context, viewerID string, conversationIDs []string) (map[string]storage.Digest, error) {
	out := make(map[string]storage.Digest, len(conversationIDs))
	for len(conversationIDs) > 0 {
		n := min(len(conversationIDs), digestBatch)
		if err := r.digests(ctx, viewerID, conversationIDs[:n], out); err != nil {
			return nil, err
		}
		conversationIDs = conversationIDs[n:]
	}
	return out, nil
}

func (r messageRepo) digests(ctx context.Context, viewerID string, ids []string, out map[string]storage.Digest) error {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	args := make([]any, 0, len(ids)+2)
	args = append(args, viewerID, string(storage.StatusRead))
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := r.s.query(ctx, r.s.db, `SELECT `+messageColumns+`, unread FROM (
			SELECT `+messageColumns+`,
				ROW_NUMBER() OVER (PARTITION BY conversation_id ORDER BY created_at DESC, seq DESC) AS rn,
				SUM(CASE WHEN receiver_id = ? AND status <> ? THEN 1 ELSE 0 END)
					OVER (PARTITION BY conversation_id) AS unread
			FROM messages
			WHERE deleted_at IS NULL AND conversation_id IN (`+placeholders+`)
		) latest WHERE rn = 1`, args...)
	if err != nil {
		return fail("conversation digests", err)
	}
	defer rows.Close()

	for rows.Next() {
		var unread int64
		m, err := scanMessage(extraColumns{rows, []any{&unread}})
		if err != nil {
			return fail("scan digest", err)
		}
		out[m.ConversationID] = storage.Digest{Unread: int(unread), Last: m}
	}
	if err := rows.Err(); err != nil {
		return fail("conversation digests", err)
	}
	return nil
}

// extraColumns scans trailing columns after the ones a scan helper knows.
type extraColumns struct {
	row   rowScanner
	extra []any
}

func (e extraColumns) Scan(dest ...any) error {
	return e.row.Scan(append(dest, e.extra...)...)
}

func (r messageRepo) Count(ctx context.Context) (int, int, error) {
	var total, unread int
	err := r.s.queryRow(ctx, r.s.db, `SELECT
			COUNT(1),
			COALESCE(SUM(CASE WHEN status <> ? THEN 1 ELSE 0 END), 0)
		FROM messages WHERE deleted_at IS NULL`, string(storage.StatusRead)).Scan(&total, &unread)
	if err != nil {
		return 0, 0, fail("count messages", err)
	}
	return total, unread, nil
}

const userColumns = `id, email, created_at, last_seen_at`

func scanUser(row rowScanner) (storage.User, error) {
	var (
		u             storage.User
		created, seen int64
	)
	if err := row.Scan(&u.ID, &u.Email, &created, &seen); err != nil {
		return storage.User{}, err
	}
	u.CreatedAt = fromMillis(created)
	u.LastSeenAt = fromMillis(seen)
	return u, nil
}

type userRepo struct{ s *Store }

func (r userRepo) Upsert(ctx context.Context, u storage.User) (storage.User, error) {
	row := r.s.queryRow(ctx, r.s.db, `
		INSERT INTO users (id, email, created_at, last_seen_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET email = excluded.email, last_seen_at = excluded.last_seen_at
		RETURNING `+userColumns,
		u.ID, u.Email, millis(u.CreatedAt), millis(u.LastSeenAt))
	stored, err := scanUser(row)
	if err != nil {
		return storage.User{}, fail("upsert user", err)
	}
	return stored, nil
}

func (r userRepo) Get(ctx context.Context, id string) (storage.User, error) {
	u, err := scanUser(r.s.queryRow(ctx, r.s.db, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err != nil {
		return storage.User{}, fail("user "+id, err)
	}
	return u, nil
}

func (r userRepo) FindByEmail(ctx context.Context, email string) (storage.User, error) {
	row := r.s.queryRow(ctx, r.s.db, `SELECT `+userColumns+` FROM users
		WHERE LOWER(email) = LOWER(?) ORDER BY created_at LIMIT 1`, email)
	u, err := scanUser(row)
	if err != nil {
		return storage.User{}, fail("user "+email, err)
	}
	return u, nil
}

func (r userRepo) List(ctx context.Context) ([]storage.User, error) {
	rows, err := r.s.query(ctx, r.s.db, `SELECT `+userColumns+` FROM users ORDER BY created_at DESC`)
	if err != nil {
		return nil, fail("list users", err)
	}
	defer rows.Close()

	var list []storage.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fail("scan user", err)
		}
		list = append(list, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fail("list users", err)
	}
	return list, nil
}
