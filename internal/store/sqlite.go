package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joescharf/callsage/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// pragmas run on every new database handle. WAL lets readers proceed while
// the single writer holds the connection.
var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA foreign_keys=ON",
}

// SQLiteStore keeps profiles, reviews and chat history in one SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens dbPath, creating the file and its directory as needed.
// Migrate must be called before use.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection serialises writers; batch generation and the API write concurrently.
	db.SetMaxOpenConns(1)

	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

func newID() string {
	return ulid.Make().String()
}

// Migrate applies embedded migrations not yet recorded in schema_migrations,
// each inside its own transaction.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename   TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	files, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	for _, file := range files {
		if err := s.applyMigration(ctx, file); err != nil {
			return fmt.Errorf("migration %s: %w", path.Base(file), err)
		}
	}
	return nil
}

func (s *SQLiteStore) applyMigration(ctx context.Context, file string) error {
	name := path.Base(file)
	var applied bool
	if err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE filename = ?)", name,
	).Scan(&applied); err != nil {
		return err
	}
	if applied {
		return nil
	}

	ddl, err := migrationsFS.ReadFile(file)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, string(ddl)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
		return err
	}
	return tx.Commit()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Profiles ---

func (s *SQLiteStore) CreateProfile(ctx context.Context, p *models.Profile) error {
	if p.ID == "" {
		p.ID = newID()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	matrix, err := encodeJSON(p.Matrix)
	if err != nil {
		return fmt.Errorf("create profile: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO profiles (id, name, matrix, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.Name, matrix, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create profile: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetProfile(ctx context.Context, name string) (*models.Profile, error) {
	p := &models.Profile{}
	var matrix string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, matrix, created_at, updated_at FROM profiles WHERE name = ?`, name,
	).Scan(&p.ID, &p.Name, &matrix, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("profile not found: %s", name)
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	if err := json.Unmarshal([]byte(matrix), &p.Matrix); err != nil {
		return nil, fmt.Errorf("decode profile matrix: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) ListProfiles(ctx context.Context) ([]*models.Profile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, matrix, created_at, updated_at FROM profiles ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var profiles []*models.Profile
	for rows.Next() {
		p := &models.Profile{}
		var matrix string
		if err := rows.Scan(&p.ID, &p.Name, &matrix, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		if err := json.Unmarshal([]byte(matrix), &p.Matrix); err != nil {
			return nil, fmt.Errorf("decode profile matrix: %w", err)
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

func (s *SQLiteStore) UpdateProfile(ctx context.Context, p *models.Profile) error {
	p.UpdatedAt = time.Now().UTC()
	matrix, err := encodeJSON(p.Matrix)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE profiles SET matrix=?, updated_at=? WHERE name=?`,
		matrix, p.UpdatedAt, p.Name,
	)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("profile not found: %s", p.Name)
	}
	return nil
}

func (s *SQLiteStore) DeleteProfile(ctx context.Context, name string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM profiles WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("delete profile: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("profile not found: %s", name)
	}
	return nil
}

// --- Reviews ---

const reviewColumns = `id, agent_name, conversation_id, profile_name, conversation_duration, call_transcript, from_audio, overall_score, matrix, review, created_at, updated_at`

func (s *SQLiteStore) CreateReview(ctx context.Context, r *models.SavedReview) error {
	if r.ID == "" {
		r.ID = newID()
	}
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now

	matrix, body, err := encodeReview(r)
	if err != nil {
		return fmt.Errorf("create review: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO reviews (`+reviewColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.AgentName, r.ConversationID, r.ProfileName, r.ConversationDuration, r.CallTranscript,
		r.FromAudio, r.OverallScore, matrix, body, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create review: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetReview(ctx context.Context, id string) (*models.SavedReview, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+reviewColumns+` FROM reviews WHERE id = ?`, id)
	r, err := scanReview(row)
	if errors.Is(err, sql.ErrNoRows) {
		// Allow short id prefixes, as printed by the CLI.
		r, err = s.getReviewByPrefix(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (s *SQLiteStore) getReviewByPrefix(ctx context.Context, prefix string) (*models.SavedReview, error) {
	if len(prefix) < 4 {
		return nil, fmt.Errorf("review not found: %s", prefix)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+reviewColumns+` FROM reviews WHERE id LIKE ? LIMIT 2`, prefix+"%")
	if err != nil {
		return nil, fmt.Errorf("get review: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var found []*models.SavedReview
	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		found = append(found, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get review: %w", err)
	}
	switch len(found) {
	case 0:
		return nil, fmt.Errorf("review not found: %s", prefix)
	case 1:
		return found[0], nil
	default:
		return nil, fmt.Errorf("ambiguous review id prefix: %s", prefix)
	}
}

func (s *SQLiteStore) ListReviews(ctx context.Context, filter ReviewListFilter) ([]*models.SavedReview, error) {
	query := `SELECT ` + reviewColumns + ` FROM reviews WHERE 1=1`
	var args []any
	if filter.AgentName != "" {
		query += " AND agent_name = ?"
		args = append(args, filter.AgentName)
	}
	if filter.ProfileName != "" {
		query += " AND profile_name = ?"
		args = append(args, filter.ProfileName)
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var reviews []*models.SavedReview
	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		reviews = append(reviews, r)
	}
	return reviews, rows.Err()
}

func (s *SQLiteStore) UpdateReview(ctx context.Context, r *models.SavedReview) error {
	r.UpdatedAt = time.Now().UTC()
	matrix, body, err := encodeReview(r)
	if err != nil {
		return fmt.Errorf("update review: %w", err)
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE reviews SET agent_name=?, conversation_id=?, profile_name=?, conversation_duration=?, call_transcript=?, from_audio=?, overall_score=?, matrix=?, review=?, updated_at=?
		WHERE id=?`,
		r.AgentName, r.ConversationID, r.ProfileName, r.ConversationDuration, r.CallTranscript,
		r.FromAudio, r.OverallScore, matrix, body, r.UpdatedAt, r.ID,
	)
	if err != nil {
		return fmt.Errorf("update review: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("review not found: %s", r.ID)
	}
	return nil
}

func (s *SQLiteStore) DeleteReview(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM reviews WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete review: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("review not found: %s", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReview(row rowScanner) (*models.SavedReview, error) {
	r := &models.SavedReview{}
	var matrix, body string
	var agent, convID string
	var overall float64
	err := row.Scan(&r.ID, &agent, &convID, &r.ProfileName, &r.ConversationDuration, &r.CallTranscript,
		&r.FromAudio, &overall, &matrix, &body, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan review: %w", err)
	}
	id := r.ID
	if err := json.Unmarshal([]byte(body), &r.Review); err != nil {
		return nil, fmt.Errorf("decode review: %w", err)
	}
	if err := json.Unmarshal([]byte(matrix), &r.ScoringMatrix); err != nil {
		return nil, fmt.Errorf("decode review matrix: %w", err)
	}
	r.ID = id
	r.AgentName = agent
	r.ConversationID = convID
	r.OverallScore = overall
	return r, nil
}

func encodeReview(r *models.SavedReview) (matrix string, body string, err error) {
	matrix, err = encodeJSON(r.ScoringMatrix)
	if err != nil {
		return "", "", err
	}
	rev := r.Review
	rev.ID = r.ID
	body, err = encodeJSON(rev)
	return matrix, body, err
}

func encodeJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode json: %w", err)
	}
	return string(data), nil
}

// --- Chat ---

func (s *SQLiteStore) AppendChatMessages(ctx context.Context, reviewID string, msgs ...models.ChatMessage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append chat messages: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	for _, m := range msgs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chat_messages (review_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
			reviewID, string(m.Role), m.Content, now,
		); err != nil {
			return fmt.Errorf("append chat message: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append chat messages: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListChatMessages(ctx context.Context, reviewID string) ([]models.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content FROM chat_messages WHERE review_id = ? ORDER BY id`, reviewID)
	if err != nil {
		return nil, fmt.Errorf("list chat messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var msgs []models.ChatMessage
	for rows.Next() {
		var m models.ChatMessage
		var role string
		if err := rows.Scan(&role, &m.Content); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		m.Role = models.ChatRole(role)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *SQLiteStore) ClearChat(ctx context.Context, reviewID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM chat_messages WHERE review_id = ?", reviewID); err != nil {
		return fmt.Errorf("clear chat: %w", err)
	}
	return nil
}
