package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"

	"github.com/ericfisherdev/gradewatch/internal/domain/model"
	"github.com/ericfisherdev/gradewatch/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.SubjectStore = (*SubjectRepo)(nil)

// errCorruptRow marks a row that was read but could not be decoded.
var errCorruptRow = errors.New("corrupt subject row")

// SubjectRepo is the SQLite implementation of the SubjectStore port interface.
// Secrets and tokens are encrypted with AES-256-GCM before write and decrypted
// after read. Snapshots are stored as a JSON array column.
type SubjectRepo struct {
	db     *DB
	sealer *sealer
	now    func() time.Time
}

// NewSubjectRepo creates a new SubjectRepo. key must be 32 bytes for AES-256-GCM,
// or nil, in which case every operation touching a credential returns
// driven.ErrEncryptionKeyNotSet.
func NewSubjectRepo(db *DB, key []byte) (*SubjectRepo, error) {
	s, err := newSealer(key)
	if err != nil {
		return nil, err
	}
	return &SubjectRepo{db: db, sealer: s, now: func() time.Time { return time.Now().UTC() }}, nil
}

// snapshotRecord is the persisted JSON shape of a model.Record.
type snapshotRecord struct {
	Name       string `json:"name"`
	Code       string `json:"code"`
	ECTS       string `json:"ects,omitempty"`
	Coursework string `json:"coursework,omitempty"`
	FinalExam  string `json:"final_exam,omitempty"`
	Total      string `json:"total,omitempty"`
}

const subjectColumns = `id, username, secret, token, portal_user_id, full_name, first_name, last_name,
	email, snapshot, stale, registered_at, snapshot_at, updated_at`

// Get returns the subject with the given id, or (nil, nil) if none exists.
// An undecodable row is logged and reported as absent so the subject can
// register again, which overwrites it.
func (r *SubjectRepo) Get(ctx context.Context, id int64) (*model.Subject, error) {
	const query = `SELECT ` + subjectColumns + ` FROM subjects WHERE id = ?`

	subject, err := r.scanSubject(r.db.Reader.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if errors.Is(err, errCorruptRow) {
		slog.Error("undecodable subject row treated as absent", "subject_id", id, "error", err)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get subject %d: %w", id, err)
	}
	return subject, nil
}

// ListAll returns every stored subject ordered by id. Rows that cannot be
// decoded are logged and skipped.
func (r *SubjectRepo) ListAll(ctx context.Context) ([]model.Subject, error) {
	const query = `SELECT ` + subjectColumns + ` FROM subjects ORDER BY id`

	rows, err := r.db.Reader.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list subjects: %w", err)
	}
	defer rows.Close()

	var subjects []model.Subject
	for rows.Next() {
		subject, err := r.scanSubject(rows)
		if errors.Is(err, errCorruptRow) {
			slog.Error("skipping undecodable subject row", "subject_id", subject.ID, "error", err)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("scan subject: %w", err)
		}
		subjects = append(subjects, *subject)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subjects: %w", err)
	}

	return subjects, nil
}

// Save inserts or replaces the subject's credentials, token and profile. On
// replace the registration timestamp is kept and the snapshot is cleared.
func (r *SubjectRepo) Save(ctx context.Context, subject model.Subject) error {
	secret, err := r.sealer.seal(subject.Secret)
	if err != nil {
		return fmt.Errorf("seal secret for subject %d: %w", subject.ID, err)
	}
	token, err := r.sealer.seal(subject.Token)
	if err != nil {
		return fmt.Errorf("seal token for subject %d: %w", subject.ID, err)
	}

	now := r.now()
	registeredAt := subject.RegisteredAt
	if registeredAt.IsZero() {
		registeredAt = now
	}

	const query = `INSERT INTO subjects (
			id, username, secret, token, portal_user_id, full_name, first_name, last_name, email,
			snapshot, stale, registered_at, snapshot_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, '[]', 0, ?, NULL, ?)
		ON CONFLICT(id) DO UPDATE SET
			username = excluded.username,
			secret = excluded.secret,
			token = excluded.token,
			portal_user_id = excluded.portal_user_id,
			full_name = excluded.full_name,
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			email = excluded.email,
			snapshot = '[]',
			stale = 0,
			snapshot_at = NULL,
			updated_at = excluded.updated_at`

	_, err = r.db.Writer.ExecContext(ctx, query,
		subject.ID, subject.Username, secret, token,
		subject.Profile.PortalUserID, subject.Profile.FullName, subject.Profile.FirstName,
		subject.Profile.LastName, subject.Profile.Email,
		registeredAt, now,
	)
	if err != nil {
		return fmt.Errorf("save subject %d: %w", subject.ID, err)
	}
	return nil
}

// UpdateToken replaces the subject's session token.
func (r *SubjectRepo) UpdateToken(ctx context.Context, id int64, token string) error {
	sealed, err := r.sealer.seal(token)
	if err != nil {
		return fmt.Errorf("seal token for subject %d: %w", id, err)
	}

	const query = `UPDATE subjects SET token = ?, updated_at = ? WHERE id = ?`
	if _, err := r.db.Writer.ExecContext(ctx, query, sealed, r.now(), id); err != nil {
		return fmt.Errorf("update token for subject %d: %w", id, err)
	}
	return nil
}

// SaveSnapshot replaces the subject's stored records and stamps snapshot_at.
func (r *SubjectRepo) SaveSnapshot(ctx context.Context, id int64, records []model.Record) error {
	data, err := encodeSnapshot(records)
	if err != nil {
		return fmt.Errorf("encode snapshot for subject %d: %w", id, err)
	}

	now := r.now()
	const query = `UPDATE subjects SET snapshot = ?, snapshot_at = ?, updated_at = ? WHERE id = ?`
	if _, err := r.db.Writer.ExecContext(ctx, query, data, now, now, id); err != nil {
		return fmt.Errorf("save snapshot for subject %d: %w", id, err)
	}
	return nil
}

// MarkStale flags the subject so polling skips it until it registers again.
func (r *SubjectRepo) MarkStale(ctx context.Context, id int64) error {
	const query = `UPDATE subjects SET stale = 1, token = '', updated_at = ? WHERE id = ?`
	if _, err := r.db.Writer.ExecContext(ctx, query, r.now(), id); err != nil {
		return fmt.Errorf("mark subject %d stale: %w", id, err)
	}
	return nil
}

// Ping verifies both database connections.
func (r *SubjectRepo) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanSubject reads one row. On errCorruptRow the returned subject carries
// the scanned id and nothing else should be trusted.
func (r *SubjectRepo) scanSubject(row rowScanner) (*model.Subject, error) {
	var (
		s            model.Subject
		secret       string
		token        string
		snapshot     string
		stale        int
		registeredAt string
		snapshotAt   sql.NullString
		updatedAt    string
	)

	err := row.Scan(
		&s.ID, &s.Username, &secret, &token,
		&s.Profile.PortalUserID, &s.Profile.FullName, &s.Profile.FirstName, &s.Profile.LastName, &s.Profile.Email,
		&snapshot, &stale, &registeredAt, &snapshotAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := r.decodeRow(&s, secret, token, snapshot, registeredAt, snapshotAt, updatedAt); err != nil {
		if errors.Is(err, driven.ErrEncryptionKeyNotSet) {
			return nil, err
		}
		return &s, fmt.Errorf("%w: %w", errCorruptRow, err)
	}
	s.Stale = stale != 0

	return &s, nil
}

func (r *SubjectRepo) decodeRow(
	s *model.Subject,
	secret, token, snapshot, registeredAt string,
	snapshotAt sql.NullString,
	updatedAt string,
) error {
	var err error
	if s.Secret, err = r.sealer.open(secret); err != nil {
		return fmt.Errorf("open secret for subject %d: %w", s.ID, err)
	}
	if s.Token, err = r.sealer.open(token); err != nil {
		return fmt.Errorf("open token for subject %d: %w", s.ID, err)
	}
	if s.Snapshot, err = decodeSnapshot(snapshot); err != nil {
		return fmt.Errorf("decode snapshot for subject %d: %w", s.ID, err)
	}
	if s.RegisteredAt, err = parseTime(registeredAt); err != nil {
		return fmt.Errorf("parse registered_at for subject %d: %w", s.ID, err)
	}
	if s.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return fmt.Errorf("parse updated_at for subject %d: %w", s.ID, err)
	}
	if snapshotAt.Valid && snapshotAt.String != "" {
		if s.SnapshotAt, err = parseTime(snapshotAt.String); err != nil {
			return fmt.Errorf("parse snapshot_at for subject %d: %w", s.ID, err)
		}
	}
	return nil
}

func encodeSnapshot(records []model.Record) (string, error) {
	rows := make([]snapshotRecord, 0, len(records))
	for _, rec := range records {
		rows = append(rows, snapshotRecord(rec))
	}
	data, err := json.Marshal(rows)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeSnapshot(data string) ([]model.Record, error) {
	if data == "" {
		return nil, nil
	}
	var rows []snapshotRecord
	if err := json.Unmarshal([]byte(data), &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	records := make([]model.Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, model.Record(row))
	}
	return records, nil
}

// parseTime accepts the layouts SQLite and the driver produce for DATETIME columns.
func parseTime(s string) (time.Time, error) {
	formats := []string{
		"2006-01-02T15:04:05Z",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05.000",
		"2006-01-02 15:04:05.999999999-07:00",
		time.RFC3339,
		time.RFC3339Nano,
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized time format: %s", s)
}
