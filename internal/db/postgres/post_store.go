package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"Courier/internal/atproto/utils"
	"Courier/internal/core/posts"
)

const postColumns = `
	local_id, server_id, pending_id, channel_id, author_id,
	message, parent_id, root_id, status, files,
	created_at, updated_at, deleted_remotely`

type postgresPostStore struct {
	db *sql.DB
}

// NewPostStore creates a PostgreSQL-backed post store
func NewPostStore(db *sql.DB) posts.Store {
	return &postgresPostStore{db: db}
}

// Save inserts the post or replaces the stored record with the same local ID
func (s *postgresPostStore) Save(ctx context.Context, post *posts.Post) error {
	if post == nil || post.LocalID == "" {
		return fmt.Errorf("post must have a local ID")
	}

	filesJSON, err := marshalFiles(post.Files)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO posts (` + postColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (local_id) DO UPDATE SET
			server_id = EXCLUDED.server_id,
			pending_id = EXCLUDED.pending_id,
			channel_id = EXCLUDED.channel_id,
			author_id = EXCLUDED.author_id,
			message = EXCLUDED.message,
			parent_id = EXCLUDED.parent_id,
			root_id = EXCLUDED.root_id,
			status = EXCLUDED.status,
			files = EXCLUDED.files,
			created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at,
			deleted_remotely = EXCLUDED.deleted_remotely
	`

	_, err = s.db.ExecContext(ctx, query,
		post.LocalID, utils.NullString(post.ServerID), post.PendingID, post.ChannelID, post.AuthorID,
		post.Message, post.ParentID, post.RootID, string(post.Status), filesJSON,
		post.CreatedAt, post.UpdatedAt, post.DeletedRemotely,
	)
	if err != nil {
		return fmt.Errorf("failed to save post %s: %w", post.LocalID, err)
	}
	return nil
}

// Mutate locks the row, applies fn and writes the result in one transaction
func (s *postgresPostStore) Mutate(ctx context.Context, localID string, fn func(*posts.Post) error) (*posts.Post, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		// Rollback is a no-op after a successful commit
		_ = tx.Rollback()
	}()

	row := tx.QueryRowContext(ctx, `SELECT `+postColumns+` FROM posts WHERE local_id = $1 FOR UPDATE`, localID)
	post, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, posts.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load post %s: %w", localID, err)
	}

	if err := fn(post); err != nil {
		return nil, err
	}
	// The identity of a record never changes
	post.LocalID = localID

	filesJSON, err := marshalFiles(post.Files)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE posts SET
			server_id = $2, pending_id = $3, channel_id = $4, author_id = $5,
			message = $6, parent_id = $7, root_id = $8, status = $9, files = $10,
			created_at = $11, updated_at = $12, deleted_remotely = $13
		WHERE local_id = $1`,
		post.LocalID, utils.NullString(post.ServerID), post.PendingID, post.ChannelID, post.AuthorID,
		post.Message, post.ParentID, post.RootID, string(post.Status), filesJSON,
		post.CreatedAt, post.UpdatedAt, post.DeletedRemotely,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update post %s: %w", localID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit post %s: %w", localID, err)
	}
	return post, nil
}

func (s *postgresPostStore) Delete(ctx context.Context, localID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM posts WHERE local_id = $1`, localID)
	if err != nil {
		return fmt.Errorf("failed to delete post %s: %w", localID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if rowsAffected == 0 {
		return posts.ErrNotFound
	}
	return nil
}

func (s *postgresPostStore) Get(ctx context.Context, localID string) (*posts.Post, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+postColumns+` FROM posts WHERE local_id = $1`, localID)
	post, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, posts.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get post %s: %w", localID, err)
	}
	return post, nil
}

// Query returns matching posts oldest first, ties broken by local ID
func (s *postgresPostStore) Query(ctx context.Context, filter posts.Filter) ([]*posts.Post, error) {
	var (
		conditions []string
		args       []interface{}
	)
	add := func(clause string, value interface{}) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(clause, len(args)))
	}

	if filter.ChannelID != "" {
		add("channel_id = $%d", filter.ChannelID)
	}
	if filter.PendingID != "" {
		add("pending_id = $%d", filter.PendingID)
	}
	if filter.ServerID != "" {
		add("server_id = $%d", filter.ServerID)
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	if len(filter.ParentIDs) > 0 {
		conditions = append(conditions, "parent_id <> ''")
		add("parent_id = ANY($%d)", pq.Array(filter.ParentIDs))
	}

	query := `SELECT ` + postColumns + ` FROM posts`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	query += ` ORDER BY created_at ASC, local_id ASC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query posts: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	result := make([]*posts.Post, 0)
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan post: %w", err)
		}
		result = append(result, post)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating posts: %w", err)
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPost(row rowScanner) (*posts.Post, error) {
	var (
		post      posts.Post
		serverID  sql.NullString
		status    string
		filesJSON []byte
		updatedAt sql.NullTime
	)

	err := row.Scan(
		&post.LocalID, &serverID, &post.PendingID, &post.ChannelID, &post.AuthorID,
		&post.Message, &post.ParentID, &post.RootID, &status, &filesJSON,
		&post.CreatedAt, &updatedAt, &post.DeletedRemotely,
	)
	if err != nil {
		return nil, err
	}

	post.ServerID = utils.StringFromNull(serverID)
	post.Status = posts.Status(status)
	post.CreatedAt = post.CreatedAt.UTC()
	if updatedAt.Valid {
		t := updatedAt.Time.UTC()
		post.UpdatedAt = &t
	}
	if len(filesJSON) > 0 {
		if err := json.Unmarshal(filesJSON, &post.Files); err != nil {
			return nil, fmt.Errorf("failed to decode files of post %s: %w", post.LocalID, err)
		}
		if len(post.Files) == 0 {
			post.Files = nil
		}
	}
	return &post, nil
}

// marshalFiles returns the JSONB text for files. lib/pq would send a []byte as bytea.
func marshalFiles(files []posts.FileRecord) (string, error) {
	if len(files) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(files)
	if err != nil {
		return "", fmt.Errorf("failed to encode files: %w", err)
	}
	return string(data), nil
}
