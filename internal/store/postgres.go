package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"brightnest/api/internal/realtime"
)

type PostgresStore struct {
	db  *sql.DB
	bus realtime.Bus
}

// NewPostgresStore wraps db. bus may be nil; change notifications are then
// skipped entirely (used by tests that only exercise reads).
func NewPostgresStore(db *sql.DB, bus realtime.Bus) *PostgresStore {
	return &PostgresStore{db: db, bus: bus}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// notify publishes a change event. Best effort: a failed publish degrades
// liveness, not correctness, so it is logged and swallowed.
func (s *PostgresStore) notify(ctx context.Context, topic, ref string) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, topic, ref); err != nil {
		log.Printf("store: notify %s: %v", topic, err)
	}
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, display_name, password_hash)
		VALUES ($1, $2, $3, $4)
	`, user.ID, user.Email, user.DisplayName, user.PasswordHash)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, display_name, password_hash, created_at FROM users WHERE email=$1
	`, email).Scan(&user.ID, &user.Email, &user.DisplayName, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, display_name, password_hash, created_at FROM users WHERE id=$1
	`, userID).Scan(&user.ID, &user.Email, &user.DisplayName, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) CreateProfile(ctx context.Context, profile Profile) error {
	professionals, err := encodeStringList(profile.ProfessionalIDs)
	if err != nil {
		return err
	}
	childIDs, err := encodeStringList(profile.ChildIDs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO profiles (id, membership, storage_used_bytes, storage_limit_bytes, professional_ids, child_ids)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`, profile.ID, profile.Membership, profile.StorageUsedBytes, profile.StorageLimitBytes, professionals, childIDs)
	if err != nil {
		return fmt.Errorf("insert profile: %w", err)
	}
	s.notify(ctx, realtime.ProfileTopic(profile.ID), profile.ID)
	return nil
}

func (s *PostgresStore) GetProfile(ctx context.Context, userID string) (Profile, error) {
	var (
		profile          Profile
		professionalsRaw []byte
		childIDsRaw      []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT p.id, u.email, u.display_name, p.membership,
			p.storage_used_bytes, p.storage_limit_bytes,
			p.professional_ids, p.child_ids, p.created_at
		FROM profiles p
		JOIN users u ON u.id = p.id
		WHERE p.id=$1
	`, userID).Scan(
		&profile.ID, &profile.Email, &profile.DisplayName, &profile.Membership,
		&profile.StorageUsedBytes, &profile.StorageLimitBytes,
		&professionalsRaw, &childIDsRaw, &profile.CreatedAt,
	)
	if err != nil {
		return Profile{}, err
	}
	_ = json.Unmarshal(professionalsRaw, &profile.ProfessionalIDs)
	_ = json.Unmarshal(childIDsRaw, &profile.ChildIDs)
	return profile, nil
}

func (s *PostgresStore) AddStorageUsed(ctx context.Context, userID string, deltaBytes int64) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE profiles SET storage_used_bytes = GREATEST(storage_used_bytes + $2, 0) WHERE id=$1
	`, userID, deltaBytes)
	if err != nil {
		return fmt.Errorf("update storage used: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	s.notify(ctx, realtime.ProfileTopic(userID), userID)
	return nil
}

func (s *PostgresStore) CreateChild(ctx context.Context, child Child) error {
	professionals, err := encodeStringList(child.ProfessionalIDs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO children (id, name, parent_id, professional_ids)
		VALUES ($1, $2, $3, $4)
	`, child.ID, child.Name, child.ParentID, professionals)
	if err != nil {
		return fmt.Errorf("insert child: %w", err)
	}

	// Keep the profile's linked-child set in lockstep with the child table.
	if _, err := s.db.ExecContext(ctx, `
		UPDATE profiles SET child_ids = child_ids || to_jsonb($2::text)
		WHERE id=$1 AND NOT child_ids ? $2
	`, child.ParentID, child.ID); err != nil {
		return fmt.Errorf("link child to profile: %w", err)
	}

	s.notify(ctx, realtime.ChildrenTopic(child.ParentID), child.ID)
	s.notify(ctx, realtime.ProfileTopic(child.ParentID), child.ParentID)
	return nil
}

func (s *PostgresStore) GetChild(ctx context.Context, childID string) (Child, error) {
	var (
		child            Child
		professionalsRaw []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, parent_id, professional_ids, created_at FROM children WHERE id=$1
	`, childID).Scan(&child.ID, &child.Name, &child.ParentID, &professionalsRaw, &child.CreatedAt)
	if err != nil {
		return Child{}, err
	}
	_ = json.Unmarshal(professionalsRaw, &child.ProfessionalIDs)
	return child, nil
}

// ListChildren returns a parent's children ordered by name ascending, the
// display order every consumer relies on.
func (s *PostgresStore) ListChildren(ctx context.Context, parentID string) ([]Child, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, parent_id, professional_ids, created_at
		FROM children
		WHERE parent_id=$1
		ORDER BY name ASC, id ASC
	`, parentID)
	if err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}
	defer rows.Close()

	var children []Child
	for rows.Next() {
		var (
			child            Child
			professionalsRaw []byte
		)
		if err := rows.Scan(&child.ID, &child.Name, &child.ParentID, &professionalsRaw, &child.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan child: %w", err)
		}
		_ = json.Unmarshal(professionalsRaw, &child.ProfessionalIDs)
		children = append(children, child)
	}
	return children, rows.Err()
}

func (s *PostgresStore) InsertBehaviorEntry(ctx context.Context, entry BehaviorEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO behavior_entries (id, child_id, parent_id, entry_date, emotion, trigger, resolution)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, entry.ID, entry.ChildID, entry.ParentID, entry.Date, entry.Emotion, entry.Trigger, entry.Resolution)
	if err != nil {
		return fmt.Errorf("insert behavior entry: %w", err)
	}
	s.notify(ctx, realtime.EntriesTopic(entry.ChildID), entry.ID)
	return nil
}

func (s *PostgresStore) GetBehaviorEntry(ctx context.Context, entryID string) (BehaviorEntry, error) {
	var entry BehaviorEntry
	err := s.db.QueryRowContext(ctx, `
		SELECT id, child_id, parent_id, entry_date, emotion, trigger, resolution, created_at
		FROM behavior_entries WHERE id=$1
	`, entryID).Scan(
		&entry.ID, &entry.ChildID, &entry.ParentID, &entry.Date,
		&entry.Emotion, &entry.Trigger, &entry.Resolution, &entry.CreatedAt,
	)
	if err != nil {
		return BehaviorEntry{}, err
	}
	return entry, nil
}

func (s *PostgresStore) ListBehaviorEntries(ctx context.Context, childID string, limit int) ([]BehaviorEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, child_id, parent_id, entry_date, emotion, trigger, resolution, created_at
		FROM behavior_entries
		WHERE child_id=$1
		ORDER BY entry_date DESC, created_at DESC
		LIMIT $2
	`, childID, limit)
	if err != nil {
		return nil, fmt.Errorf("list behavior entries: %w", err)
	}
	defer rows.Close()

	var entries []BehaviorEntry
	for rows.Next() {
		var entry BehaviorEntry
		if err := rows.Scan(
			&entry.ID, &entry.ChildID, &entry.ParentID, &entry.Date,
			&entry.Emotion, &entry.Trigger, &entry.Resolution, &entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan behavior entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) InsertDocumentMeta(ctx context.Context, doc DocumentMeta) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, child_id, owner_id, doc_name, storage_path, content_type, size_bytes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, doc.ID, doc.ChildID, doc.OwnerID, doc.Name, doc.StoragePath, doc.ContentType, doc.SizeBytes)
	if err != nil {
		return fmt.Errorf("insert document meta: %w", err)
	}
	s.notify(ctx, realtime.DocumentsTopic(doc.ChildID), doc.ID)
	return nil
}

func (s *PostgresStore) GetDocumentMeta(ctx context.Context, docID string) (DocumentMeta, error) {
	var doc DocumentMeta
	err := s.db.QueryRowContext(ctx, `
		SELECT id, child_id, owner_id, doc_name, storage_path, content_type, size_bytes, uploaded_at
		FROM documents
		WHERE id=$1
	`, docID).Scan(
		&doc.ID, &doc.ChildID, &doc.OwnerID, &doc.Name,
		&doc.StoragePath, &doc.ContentType, &doc.SizeBytes, &doc.UploadedAt,
	)
	if err != nil {
		return DocumentMeta{}, err
	}
	return doc, nil
}

func (s *PostgresStore) ListDocumentsByChild(ctx context.Context, childID string) ([]DocumentMeta, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, child_id, owner_id, doc_name, storage_path, content_type, size_bytes, uploaded_at
		FROM documents
		WHERE child_id=$1
		ORDER BY uploaded_at DESC
	`, childID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []DocumentMeta
	for rows.Next() {
		var doc DocumentMeta
		if err := rows.Scan(
			&doc.ID, &doc.ChildID, &doc.OwnerID, &doc.Name,
			&doc.StoragePath, &doc.ContentType, &doc.SizeBytes, &doc.UploadedAt,
		); err != nil {
			return nil, fmt.Errorf("scan document meta: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, expiresAt)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var found string
	err := s.db.QueryRowContext(ctx, `
		SELECT jti FROM revoked_tokens WHERE jti=$1 AND expires_at > NOW()
	`, jti).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func encodeStringList(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	encoded, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("marshal string list: %w", err)
	}
	return string(encoded), nil
}
