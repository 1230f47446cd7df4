package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"brightnest/api/internal/auth"
	"brightnest/api/internal/config"
	"brightnest/api/internal/search"
	"brightnest/api/internal/store"
	"brightnest/api/internal/suggest"
	"brightnest/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	Email        string
	DisplayName  string
	JTI          string
	ExpiresAt    time.Time
}

type LogBehaviorInput struct {
	Date       string `json:"date"`
	Emotion    string `json:"emotion"`
	Trigger    string `json:"trigger"`
	Resolution string `json:"resolution"`
}

type dataStore interface {
	CreateUser(context.Context, store.User) error
	GetUserByEmail(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	CreateProfile(context.Context, store.Profile) error
	GetProfile(context.Context, string) (store.Profile, error)
	AddStorageUsed(context.Context, string, int64) error
	CreateChild(context.Context, store.Child) error
	GetChild(context.Context, string) (store.Child, error)
	ListChildren(context.Context, string) ([]store.Child, error)
	InsertBehaviorEntry(context.Context, store.BehaviorEntry) error
	GetBehaviorEntry(context.Context, string) (store.BehaviorEntry, error)
	ListBehaviorEntries(context.Context, string, int) ([]store.BehaviorEntry, error)
	InsertDocumentMeta(context.Context, store.DocumentMeta) error
	GetDocumentMeta(context.Context, string) (store.DocumentMeta, error)
	ListDocumentsByChild(context.Context, string) ([]store.DocumentMeta, error)
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
	SubscribeProfile(context.Context, string) (<-chan store.ProfileUpdate, func(), error)
	SubscribeChildren(context.Context, string) (<-chan store.ChildSetUpdate, func(), error)
	Ping(ctx context.Context) error
}

type refreshStore interface {
	SaveRefreshSession(context.Context, string, store.User, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
}

type blobStore interface {
	Put(ctx context.Context, path string, r io.Reader, size int64, contentType string) (int64, error)
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	Remove(ctx context.Context, path string) error
}

type suggester interface {
	Request(ctx context.Context, behaviorLog string) (suggest.Result, error)
}

type entrySearch interface {
	Search(q search.Query) search.Response
	IndexEntry(e search.EntryRecord)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions refreshStore
	creds    *auth.Credentials
	blob     blobStore
	suggest  suggester
	search   entrySearch
}

func New(cfg config.Config, dataStore *store.PostgresStore, sessions refreshStore, blob blobStore, sugg *suggest.Service, searchSvc entrySearch) *Service {
	svc := &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		creds:    auth.NewCredentials(dataStore),
		blob:     blob,
		search:   searchSvc,
	}
	// A typed nil must not end up in the interface: the nil check in
	// Suggestions relies on it.
	if sugg != nil {
		svc.suggest = sugg
	}
	return svc
}

const bytesPerMB = 1 << 20

func (s *Service) SignUp(ctx context.Context, email, password, displayName string) (Session, error) {
	user, err := s.creds.SignUp(ctx, auth.SignUpRequest{
		Email:       email,
		Password:    password,
		DisplayName: displayName,
	})
	if err != nil {
		if err.Error() == "email already registered" {
			return Session{}, domainError(http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil)
		}
		return Session{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	}

	// The profile row is created separately from the user. A consumer that
	// reads between the two writes sees "no profile yet", which is a valid
	// state everywhere downstream.
	profile := store.Profile{
		ID:                user.ID,
		Membership:        "free",
		StorageLimitBytes: int64(s.cfg.FreeStorageLimitMB) * bytesPerMB,
	}
	if err := s.store.CreateProfile(ctx, profile); err != nil {
		return Session{}, fmt.Errorf("create profile: %w", err)
	}

	return s.issueSession(ctx, user)
}

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	user, err := s.creds.SignIn(ctx, email, password)
	if err != nil {
		return Session{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:   user.ID,
		Email: user.Email,
		Name:  user.DisplayName,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		Email:        user.Email,
		DisplayName:  user.DisplayName,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	// A token can outlive its account. Re-verify the user so a deleted
	// account cannot keep an authenticated session alive until expiry.
	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:       token,
		UserID:      user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		JTI:         claims.JTI,
		ExpiresAt:   time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// Profile returns the caller's profile, or nil when the row does not exist
// yet. The missing row is not an error: profile creation can lag sign-up.
func (s *Service) Profile(ctx context.Context, session Session) (*store.Profile, error) {
	profile, err := s.store.GetProfile(ctx, session.UserID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func (s *Service) CreateChild(ctx context.Context, session Session, name string) (store.Child, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 50 {
		return store.Child{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Child name must be between 1 and 50 characters", nil)
	}

	child := store.Child{
		ID:       util.NewID("chd"),
		Name:     name,
		ParentID: session.UserID,
	}
	if err := s.store.CreateChild(ctx, child); err != nil {
		return store.Child{}, err
	}
	return child, nil
}

func (s *Service) ListChildren(ctx context.Context, session Session) ([]store.Child, error) {
	return s.store.ListChildren(ctx, session.UserID)
}

// ownChild loads a child and verifies the caller is its parent. A child owned
// by someone else reports not-found, never forbidden, so child IDs cannot be
// probed.
func (s *Service) ownChild(ctx context.Context, session Session, childID string) (store.Child, error) {
	child, err := s.store.GetChild(ctx, childID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Child{}, domainError(http.StatusNotFound, "NOT_FOUND", "Child not found", nil)
	}
	if err != nil {
		return store.Child{}, err
	}
	if child.ParentID != session.UserID {
		return store.Child{}, domainError(http.StatusNotFound, "NOT_FOUND", "Child not found", nil)
	}
	return child, nil
}

func (s *Service) LogBehavior(ctx context.Context, session Session, childID string, input LogBehaviorInput) (store.BehaviorEntry, error) {
	child, err := s.ownChild(ctx, session, childID)
	if err != nil {
		return store.BehaviorEntry{}, err
	}

	if !store.ValidEmotion(input.Emotion) {
		return store.BehaviorEntry{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
			fmt.Sprintf("Emotion must be one of: %s", strings.Join(store.Emotions, ", ")), nil)
	}
	trigger := strings.TrimSpace(input.Trigger)
	resolution := strings.TrimSpace(input.Resolution)
	if trigger == "" || len(trigger) > 500 {
		return store.BehaviorEntry{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Trigger must be between 1 and 500 characters", nil)
	}
	if resolution == "" || len(resolution) > 500 {
		return store.BehaviorEntry{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Resolution must be between 1 and 500 characters", nil)
	}

	entryDate := time.Now()
	if input.Date != "" {
		parsed, err := time.Parse("2006-01-02", input.Date)
		if err != nil {
			return store.BehaviorEntry{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Date must be YYYY-MM-DD", nil)
		}
		entryDate = parsed
	}

	entry := store.BehaviorEntry{
		ID:         util.NewID("ent"),
		ChildID:    child.ID,
		ParentID:   session.UserID,
		Date:       entryDate,
		Emotion:    input.Emotion,
		Trigger:    trigger,
		Resolution: resolution,
	}
	if err := s.store.InsertBehaviorEntry(ctx, entry); err != nil {
		return store.BehaviorEntry{}, err
	}

	if s.search != nil {
		s.search.IndexEntry(search.EntryRecord{
			ID:         entry.ID,
			ChildID:    entry.ChildID,
			ParentID:   entry.ParentID,
			Emotion:    entry.Emotion,
			Trigger:    entry.Trigger,
			Resolution: entry.Resolution,
			Date:       entry.Date.Format("2006-01-02"),
		})
	}

	return entry, nil
}

func (s *Service) RecentEntries(ctx context.Context, session Session, childID string, limit int) ([]store.BehaviorEntry, error) {
	if _, err := s.ownChild(ctx, session, childID); err != nil {
		return nil, err
	}
	return s.store.ListBehaviorEntries(ctx, childID, limit)
}

func (s *Service) GetEntry(ctx context.Context, session Session, entryID string) (store.BehaviorEntry, error) {
	entry, err := s.store.GetBehaviorEntry(ctx, entryID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.BehaviorEntry{}, domainError(http.StatusNotFound, "NOT_FOUND", "Entry not found", nil)
	}
	if err != nil {
		return store.BehaviorEntry{}, err
	}
	if entry.ParentID != session.UserID {
		return store.BehaviorEntry{}, domainError(http.StatusNotFound, "NOT_FOUND", "Entry not found", nil)
	}
	return entry, nil
}

// Suggestions fans the entry out to the story and activity prompts. A result
// with one half missing is still a success.
func (s *Service) Suggestions(ctx context.Context, session Session, entryID string) (suggest.Result, error) {
	if s.suggest == nil {
		return suggest.Result{}, domainError(http.StatusServiceUnavailable, "SUGGESTIONS_UNAVAILABLE", "Suggestions are not configured", nil)
	}

	entry, err := s.GetEntry(ctx, session, entryID)
	if err != nil {
		return suggest.Result{}, err
	}

	behaviorLog := fmt.Sprintf("Child felt %s. Trigger: %s. Resolution: %s.", entry.Emotion, entry.Trigger, entry.Resolution)
	result, err := s.suggest.Request(ctx, behaviorLog)
	if errors.Is(err, suggest.ErrUnavailable) {
		return suggest.Result{}, domainError(http.StatusServiceUnavailable, "SUGGESTIONS_UNAVAILABLE", "Suggestions are temporarily unavailable", nil)
	}
	if err != nil {
		return suggest.Result{}, err
	}
	return result, nil
}

// UploadDocument stores one document for a child. The quota check runs before
// any byte is written, and a quota failure reads differently from an upload
// failure so the caller knows an upgrade would help.
func (s *Service) UploadDocument(ctx context.Context, session Session, childID, name, contentType string, size int64, r io.Reader) (store.DocumentMeta, error) {
	child, err := s.ownChild(ctx, session, childID)
	if err != nil {
		return store.DocumentMeta{}, err
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return store.DocumentMeta{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Document name is required", nil)
	}
	if strings.ContainsAny(name, "/\\") {
		return store.DocumentMeta{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Document name must not contain path separators", nil)
	}
	if size <= 0 {
		return store.DocumentMeta{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Document is empty", nil)
	}

	limit := int64(s.cfg.FreeStorageLimitMB) * bytesPerMB
	used := int64(0)
	profile, err := s.store.GetProfile(ctx, session.UserID)
	if err == nil {
		used = profile.StorageUsedBytes
		if profile.Membership == "pro" {
			limit = int64(s.cfg.ProStorageLimitMB) * bytesPerMB
		}
		// An explicit per-profile grant can raise the tier limit, never
		// lower it.
		if profile.StorageLimitBytes > limit {
			limit = profile.StorageLimitBytes
		}
	} else if !errors.Is(err, sql.ErrNoRows) {
		return store.DocumentMeta{}, err
	}

	if used+size > limit {
		return store.DocumentMeta{}, domainError(http.StatusForbidden, "STORAGE_QUOTA_EXCEEDED",
			"Storage limit reached. Upgrade your membership to upload more documents.", map[string]any{
				"usedBytes":  used,
				"limitBytes": limit,
			})
	}

	path := fmt.Sprintf("documents/%s/%s/%s", session.UserID, child.ID, name)
	written, err := s.blob.Put(ctx, path, r, size, contentType)
	if err != nil {
		return store.DocumentMeta{}, domainError(http.StatusBadGateway, "UPLOAD_FAILED", "Document upload failed", nil)
	}

	doc := store.DocumentMeta{
		ID:          util.NewID("doc"),
		ChildID:     child.ID,
		OwnerID:     session.UserID,
		Name:        name,
		StoragePath: path,
		ContentType: contentType,
		SizeBytes:   written,
	}
	if err := s.store.InsertDocumentMeta(ctx, doc); err != nil {
		s.removeOrphan(ctx, path)
		return store.DocumentMeta{}, err
	}
	if err := s.store.AddStorageUsed(ctx, session.UserID, written); err != nil {
		s.removeOrphan(ctx, path)
		return store.DocumentMeta{}, err
	}

	return doc, nil
}

// removeOrphan cleans up an object whose metadata write failed, so storage
// and the quota counter cannot drift apart. Best effort: a failed cleanup is
// logged, not surfaced.
func (s *Service) removeOrphan(ctx context.Context, path string) {
	if err := s.blob.Remove(ctx, path); err != nil {
		log.Printf("app: remove orphaned object %s: %v", path, err)
	}
}

// DownloadDocument opens a stored document for reading. A document owned by
// someone else reports not-found, matching the child lookup rules.
func (s *Service) DownloadDocument(ctx context.Context, session Session, docID string) (store.DocumentMeta, io.ReadCloser, error) {
	doc, err := s.store.GetDocumentMeta(ctx, docID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.DocumentMeta{}, nil, domainError(http.StatusNotFound, "NOT_FOUND", "Document not found", nil)
	}
	if err != nil {
		return store.DocumentMeta{}, nil, err
	}
	if doc.OwnerID != session.UserID {
		return store.DocumentMeta{}, nil, domainError(http.StatusNotFound, "NOT_FOUND", "Document not found", nil)
	}

	body, err := s.blob.Get(ctx, doc.StoragePath)
	if err != nil {
		return store.DocumentMeta{}, nil, domainError(http.StatusBadGateway, "DOWNLOAD_FAILED", "Document download failed", nil)
	}
	return doc, body, nil
}

func (s *Service) ListChildDocuments(ctx context.Context, session Session, childID string) ([]store.DocumentMeta, error) {
	if _, err := s.ownChild(ctx, session, childID); err != nil {
		return nil, err
	}
	return s.store.ListDocumentsByChild(ctx, childID)
}

func (s *Service) SearchEntries(ctx context.Context, session Session, q search.Query) search.Response {
	q.ParentID = session.UserID
	return s.search.Search(q)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
