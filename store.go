package examauditor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// StoreFilter scopes a catalog fetch.
type StoreFilter struct {
	Category string
	ExamType string
	Limit    int
}

// QuestionStore is the persistence boundary of the pipeline. It is treated as
// strongly consistent for the duration of one run; no cross-call transactions.
type QuestionStore interface {
	FetchAll(ctx context.Context, filter StoreFilter) ([]Question, error)
	Update(ctx context.Context, id string, fields map[string]interface{}) error
	Insert(ctx context.Context, q Question) (string, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// SQLiteStore implements QuestionStore on a local sqlite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens the database and ensures the questions table exists.
func OpenSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) createTables() error {
	query := `CREATE TABLE IF NOT EXISTS questions (
		id TEXT PRIMARY KEY,
		text TEXT NOT NULL,
		options TEXT NOT NULL,
		correct_index INTEGER NOT NULL,
		explanation TEXT,
		category TEXT NOT NULL,
		exam_type TEXT NOT NULL,
		test_type TEXT NOT NULL,
		sub_category TEXT,
		difficulty TEXT NOT NULL,
		created_at DATETIME NOT NULL
	)`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create questions table: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const questionColumns = "id, text, options, correct_index, explanation, category, exam_type, test_type, sub_category, difficulty, created_at"

// FetchAll returns questions matching the filter, oldest first so audit order
// is stable across runs.
func (s *SQLiteStore) FetchAll(ctx context.Context, filter StoreFilter) ([]Question, error) {
	query := "SELECT " + questionColumns + " FROM questions"
	var conds []string
	var args []interface{}
	if filter.Category != "" {
		conds = append(conds, "category = ?")
		args = append(args, filter.Category)
	}
	if filter.ExamType != "" {
		conds = append(conds, "exam_type = ?")
		args = append(args, filter.ExamType)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at, id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch questions: %w", err)
	}
	defer rows.Close()

	var questions []Question
	for rows.Next() {
		var q Question
		var optionsJSON string
		err := rows.Scan(&q.ID, &q.Text, &optionsJSON, &q.CorrectIndex, &q.Explanation,
			&q.Category, &q.ExamType, &q.TestType, &q.SubCategory, &q.Difficulty, &q.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan question: %w", err)
		}
		if q.Options, err = optionsFromJSON(optionsJSON); err != nil {
			return nil, fmt.Errorf("question %s: %w", q.ID, err)
		}
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating questions: %w", err)
	}
	return questions, nil
}

// updatableColumns whitelists the fields Update may touch.
var updatableColumns = map[string]struct{}{
	"text": {}, "options": {}, "correct_index": {}, "explanation": {},
	"category": {}, "sub_category": {}, "difficulty": {},
}

// Update applies the given field values to one question.
func (s *SQLiteStore) Update(ctx context.Context, id string, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	var sets []string
	var args []interface{}
	for col, val := range fields {
		if _, ok := updatableColumns[col]; !ok {
			return fmt.Errorf("column %q is not updatable", col)
		}
		if col == "options" {
			opts, ok := val.([]string)
			if !ok {
				return fmt.Errorf("options update requires []string, got %T", val)
			}
			encoded, err := optionsToJSON(opts)
			if err != nil {
				return err
			}
			val = encoded
		}
		sets = append(sets, col+" = ?")
		args = append(args, val)
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, "UPDATE questions SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("failed to update question %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update question %s: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("question not found: %s", id)
	}
	return nil
}

// Insert stores a new question and returns its id.
func (s *SQLiteStore) Insert(ctx context.Context, q Question) (string, error) {
	optionsJSON, err := optionsToJSON(q.Options)
	if err != nil {
		return "", err
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO questions ("+questionColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		q.ID, q.Text, optionsJSON, q.CorrectIndex, q.Explanation,
		q.Category, q.ExamType, q.TestType, q.SubCategory, q.Difficulty, q.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("failed to insert question: %w", err)
	}
	return q.ID, nil
}

// Delete removes a question.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM questions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete question %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete question %s: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("question not found: %s", id)
	}
	return nil
}

func optionsToJSON(options []string) (string, error) {
	data, err := json.Marshal(options)
	if err != nil {
		return "", fmt.Errorf("failed to marshal options: %w", err)
	}
	return string(data), nil
}

func optionsFromJSON(optionsJSON string) ([]string, error) {
	var options []string
	if err := json.Unmarshal([]byte(optionsJSON), &options); err != nil {
		return nil, fmt.Errorf("failed to unmarshal options: %w", err)
	}
	return options, nil
}
