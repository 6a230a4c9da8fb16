package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"corkboard/api/internal/archive"
	"corkboard/api/internal/auth"
	"corkboard/api/internal/authpw"
	"corkboard/api/internal/blob"
	"corkboard/api/internal/config"
	"corkboard/api/internal/email"
	"corkboard/api/internal/fixture"
	"corkboard/api/internal/rbac"
	"corkboard/api/internal/search"
	"corkboard/api/internal/store"
	"corkboard/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

type ScrapInput struct {
	Code         string  `json:"code"`
	Content      string  `json:"content"`
	X            int     `json:"x"`
	Y            int     `json:"y"`
	Visible      *bool   `json:"visible"`
	NestedWithin *string `json:"nestedWithin"`
}

type dataStore interface {
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	ListUsers(ctx context.Context) ([]store.User, error)
	UpsertUser(ctx context.Context, user store.User) error
	SetUserRole(ctx context.Context, userID, role string) error
	FindScrapByID(ctx context.Context, scrapID string) (store.Scrap, error)
	InsertScrap(ctx context.Context, sc store.Scrap) error
	UpdateScrapFields(ctx context.Context, scrapID string, m store.ScrapMutation) error
	DeleteScrap(ctx context.Context, scrapID string) error
	DeleteAllScraps(ctx context.Context) error
	ListScraps(ctx context.Context, filter store.ScrapFilter) ([]store.Scrap, error)
	CountNestedScraps(ctx context.Context, scrapID string) (int, error)
	Ping(ctx context.Context) error
}

// sessionStore is satisfied by both the Redis store and the Postgres
// fallback.
type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
}

type archiveStore interface {
	Snapshot(userID, kind string, payload []byte, authorName string) (archive.SnapshotInfo, error)
	History(userID string, limit int) ([]archive.SnapshotInfo, error)
	GetSnapshot(userID, hash string) ([]byte, archive.SnapshotInfo, error)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	archive  archiveStore
	authpw   *authpw.Service
	email    *email.Service
	search   *search.Service
	blob     *blob.Service
}

// New wires the service with Postgres as the session backend. Optional
// backends are attached with the Use* methods.
func New(cfg config.Config, dataStore *store.PostgresStore, archiveSvc *archive.Service) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: dataStore,
		archive:  archiveSvc,
	}
}

func (s *Service) UseSessionStore(sessions sessionStore)  { s.sessions = sessions }
func (s *Service) UseAuthPassword(svc *authpw.Service)    { s.authpw = svc }
func (s *Service) UseEmail(svc *email.Service)            { s.email = svc }
func (s *Service) UseSearch(svc *search.Service)          { s.search = svc }
func (s *Service) UseBlob(svc *blob.Service)              { s.blob = svc }
func (s *Service) AuthPasswordService() *authpw.Service   { return s.authpw }

// Bootstrap runs startup work that needs the full stack: today that is
// repopulating the search index from Postgres.
func (s *Service) Bootstrap(ctx context.Context) error {
	if s.search != nil {
		s.search.ReindexAllFromPG(ctx)
	}
	return nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) SMTPConfigured() bool {
	return s.email != nil && s.email.IsConfigured()
}

// SendVerificationEmail mails the signup verification link, fire-and-forget.
func (s *Service) SendVerificationEmail(to, userName, token string) {
	if !s.SMTPConfigured() {
		return
	}
	url := fmt.Sprintf("%s/verify-email?token=%s", strings.TrimRight(s.cfg.PublicURL, "/"), token)
	go func() {
		if err := s.email.SendVerificationEmail(to, userName, url); err != nil {
			log.Printf("email: send verification to %s: %v", to, err)
		}
	}()
}

// SendPasswordResetEmail mails the reset link, fire-and-forget.
func (s *Service) SendPasswordResetEmail(to, userName, token string) {
	if !s.SMTPConfigured() {
		return
	}
	url := fmt.Sprintf("%s/reset-password?token=%s", strings.TrimRight(s.cfg.PublicURL, "/"), token)
	go func() {
		if err := s.email.SendPasswordResetEmail(to, userName, url); err != nil {
			log.Printf("email: send password reset to %s: %v", to, err)
		}
	}()
}

// ---- sessions ----

func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
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
		Sub:  user.ID,
		Name: user.DisplayName,
		Role: user.Role,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
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
		UserName:     user.DisplayName,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.sessions.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// ---- scraps ----

func (s *Service) ListScraps(ctx context.Context, viewerID string, filter store.ScrapFilter) ([]map[string]any, error) {
	scraps, err := s.store.ListScraps(ctx, filter)
	if err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, len(scraps))
	for _, sc := range scraps {
		items = append(items, scrapPayload(sc, viewerID))
	}
	return items, nil
}

func (s *Service) GetScrap(ctx context.Context, viewerID, scrapID string) (map[string]any, error) {
	sc, err := s.store.FindScrapByID(ctx, scrapID)
	if err != nil {
		return nil, err
	}
	nested, err := s.store.CountNestedScraps(ctx, scrapID)
	if err != nil {
		return nil, err
	}

	payload := scrapPayload(sc, viewerID)
	payload["nestedCount"] = nested
	return payload, nil
}

func (s *Service) CreateScrap(ctx context.Context, session Session, input ScrapInput) (map[string]any, error) {
	if strings.TrimSpace(input.Code) == "" {
		return nil, errValidation("code is required", nil)
	}
	if input.NestedWithin != nil {
		if _, err := s.store.FindScrapByID(ctx, *input.NestedWithin); err != nil {
			if store.IsNotFound(err) {
				return nil, errValidation("parent scrap does not exist", map[string]any{"nestedWithin": *input.NestedWithin})
			}
			return nil, err
		}
	}

	visible := true
	if input.Visible != nil {
		visible = *input.Visible
	}
	now := time.Now().UTC()
	sc := store.Scrap{
		ID:           util.NewID("scrap"),
		Code:         strings.TrimSpace(input.Code),
		Content:      input.Content,
		X:            input.X,
		Y:            input.Y,
		Visible:      visible,
		UserID:       session.UserID,
		NestedWithin: input.NestedWithin,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.InsertScrap(ctx, sc); err != nil {
		return nil, err
	}
	s.indexScrap(sc)

	return scrapPayload(sc, session.UserID), nil
}

func (s *Service) UpdateScrap(ctx context.Context, session Session, scrapID string, input ScrapInput) (map[string]any, error) {
	existing, err := s.store.FindScrapByID(ctx, scrapID)
	if err != nil {
		return nil, err
	}
	if existing.UserID != session.UserID && !s.Can(session.Role, rbac.ActionModerate) {
		return nil, errForbidden("only the owner can modify this scrap")
	}
	if strings.TrimSpace(input.Code) == "" {
		return nil, errValidation("code is required", nil)
	}
	if input.NestedWithin != nil {
		if *input.NestedWithin == scrapID {
			return nil, errValidation("a scrap cannot be nested within itself", nil)
		}
		if _, err := s.store.FindScrapByID(ctx, *input.NestedWithin); err != nil {
			if store.IsNotFound(err) {
				return nil, errValidation("parent scrap does not exist", map[string]any{"nestedWithin": *input.NestedWithin})
			}
			return nil, err
		}
	}

	visible := existing.Visible
	if input.Visible != nil {
		visible = *input.Visible
	}
	mutation := store.ScrapMutation{
		Code:         strings.TrimSpace(input.Code),
		Content:      input.Content,
		X:            input.X,
		Y:            input.Y,
		Visible:      visible,
		NestedWithin: input.NestedWithin,
		UpdatedAt:    time.Now().UTC(),
	}
	if err := s.store.UpdateScrapFields(ctx, scrapID, mutation); err != nil {
		return nil, err
	}

	updated := existing
	updated.Code = mutation.Code
	updated.Content = mutation.Content
	updated.X = mutation.X
	updated.Y = mutation.Y
	updated.Visible = mutation.Visible
	updated.NestedWithin = mutation.NestedWithin
	updated.UpdatedAt = mutation.UpdatedAt
	s.indexScrap(updated)

	return scrapPayload(updated, session.UserID), nil
}

func (s *Service) DeleteScrap(ctx context.Context, session Session, scrapID string) error {
	existing, err := s.store.FindScrapByID(ctx, scrapID)
	if err != nil {
		return err
	}
	if existing.UserID != session.UserID && !s.Can(session.Role, rbac.ActionModerate) {
		return errForbidden("only the owner can delete this scrap")
	}
	nested, err := s.store.CountNestedScraps(ctx, scrapID)
	if err != nil {
		return err
	}
	if nested > 0 {
		return errConflict("scrap still has nested scraps", map[string]any{"nestedCount": nested})
	}

	if err := s.store.DeleteScrap(ctx, scrapID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteScrap(scrapID)
	}
	return nil
}

// ---- fixtures ----

// ExportMirror builds the requester's full-board mirror fixture, archives
// it, and optionally uploads it to object storage.
func (s *Service) ExportMirror(ctx context.Context, session Session) ([]byte, map[string]string, error) {
	fx, err := fixture.GenerateMirror(ctx, s.store, session.UserID)
	if err != nil {
		return nil, nil, err
	}
	data, err := fixture.EncodeMirror(fx)
	if err != nil {
		return nil, nil, err
	}

	meta, err := s.archiveAndUpload(ctx, session, archive.KindMirror, data)
	if err != nil {
		return nil, nil, err
	}
	return data, meta, nil
}

// ImportMirror destructively replaces the board from a mirror fixture.
func (s *Service) ImportMirror(ctx context.Context, data []byte) (map[string]any, error) {
	fx, err := fixture.DecodeMirror(data)
	if err != nil {
		return nil, err
	}
	if err := fixture.ImportMirror(ctx, s.store, fx); err != nil {
		return nil, err
	}

	if s.search != nil {
		records := make([]search.ScrapRecord, 0, len(fx.Scraps))
		for _, sc := range fx.Scraps {
			records = append(records, search.ScrapRecord{
				ID: sc.ID, Code: sc.Code, Content: sc.Content,
				UserID: sc.UserID, Visible: sc.Visible,
			})
		}
		s.search.ResetIndex(records)
	}

	return map[string]any{
		"importedUsers":  len(fx.Users),
		"importedScraps": len(fx.Scraps),
	}, nil
}

// ExportUpdate builds the requester's incremental update fixture.
func (s *Service) ExportUpdate(ctx context.Context, session Session, since *time.Time) ([]byte, map[string]string, error) {
	fx, err := fixture.GenerateUpdate(ctx, s.store, session.UserID, since)
	if err != nil {
		return nil, nil, err
	}
	data, err := fixture.EncodeUpdate(fx)
	if err != nil {
		return nil, nil, err
	}

	meta, err := s.archiveAndUpload(ctx, session, archive.KindUpdate, data)
	if err != nil {
		return nil, nil, err
	}
	return data, meta, nil
}

// MergeUpdate replays an update fixture against the board on behalf of the
// session user.
func (s *Service) MergeUpdate(ctx context.Context, session Session, data []byte) (*fixture.UpdateResult, error) {
	fx, err := fixture.DecodeUpdate(data)
	if err != nil {
		return nil, err
	}
	result, err := fixture.MergeUpdate(ctx, s.store, fx, session.UserID)
	if err != nil {
		return nil, err
	}

	for _, sc := range result.Updated {
		s.indexWireScrap(sc)
	}
	for _, sc := range result.Created {
		s.indexWireScrap(sc)
	}
	return result, nil
}

func (s *Service) FixtureHistory(ctx context.Context, session Session, limit int) ([]archive.SnapshotInfo, error) {
	return s.archive.History(session.UserID, limit)
}

func (s *Service) FixtureSnapshot(ctx context.Context, session Session, hash string) ([]byte, archive.SnapshotInfo, error) {
	return s.archive.GetSnapshot(session.UserID, hash)
}

func (s *Service) archiveAndUpload(ctx context.Context, session Session, kind string, data []byte) (map[string]string, error) {
	meta := map[string]string{}
	snap, err := s.archive.Snapshot(session.UserID, kind, data, session.UserName)
	if err != nil {
		return nil, fmt.Errorf("archive %s fixture: %w", kind, err)
	}
	meta["archiveHash"] = snap.Hash

	if s.blob != nil {
		objectName, err := s.blob.PutFixture(ctx, session.UserID, kind, data)
		if err != nil {
			// Object storage is best-effort; the export itself succeeded.
			log.Printf("blob: upload %s fixture for %s: %v", kind, session.UserID, err)
			return meta, nil
		}
		if url, err := s.blob.PresignedURL(ctx, objectName, 15*time.Minute); err == nil {
			meta["downloadUrl"] = url
		}
	}
	return meta, nil
}

// ---- search ----

func (s *Service) Search(ctx context.Context, viewerID, text string, ownedOnly bool, limit, offset int) (search.Response, error) {
	if s.search == nil {
		return search.Response{}, domainError(http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", "Search is not configured", nil)
	}
	return s.search.Search(search.Query{
		Text:      text,
		ViewerID:  viewerID,
		OwnedOnly: ownedOnly,
		Limit:     limit,
		Offset:    offset,
	}), nil
}

func (s *Service) indexScrap(sc store.Scrap) {
	if s.search == nil {
		return
	}
	s.search.IndexScrap(search.ScrapRecord{
		ID: sc.ID, Code: sc.Code, Content: sc.Content,
		UserID: sc.UserID, Visible: sc.Visible,
	})
}

func (s *Service) indexWireScrap(sc fixture.Scrap) {
	if s.search == nil {
		return
	}
	s.search.IndexScrap(search.ScrapRecord{
		ID: sc.ID, Code: sc.Code, Content: sc.Content,
		UserID: sc.UserID, Visible: sc.Visible,
	})
}

// ---- users ----

func (s *Service) ListUsers(ctx context.Context) ([]map[string]any, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, len(users))
	for _, u := range users {
		items = append(items, map[string]any{
			"id":          u.ID,
			"displayName": u.DisplayName,
			"email":       u.Email,
			"role":        rbac.Normalize(u.Role),
			"verified":    u.IsEmailVerified,
			"createdAt":   u.CreatedAt,
		})
	}
	return items, nil
}

func (s *Service) SetUserRole(ctx context.Context, userID, role string) (map[string]any, error) {
	switch rbac.Role(role) {
	case rbac.RoleViewer, rbac.RoleMember, rbac.RoleModerator, rbac.RoleAdmin:
	default:
		return nil, errValidation("unknown role", map[string]any{"role": role})
	}

	if err := s.store.SetUserRole(ctx, userID, role); err != nil {
		return nil, err
	}
	return map[string]any{"id": userID, "role": role}, nil
}

// ---- payload helpers ----

// scrapPayload builds the API shape of a scrap for one viewer. Redacted
// scraps keep their position and code so the board still renders, but the
// content, author, and timestamps are withheld.
func scrapPayload(sc store.Scrap, viewerID string) map[string]any {
	payload := map[string]any{
		"id":           sc.ID,
		"code":         sc.Code,
		"content":      sc.Content,
		"x":            sc.X,
		"y":            sc.Y,
		"visible":      sc.Visible,
		"userId":       sc.UserID,
		"nestedWithin": sc.NestedWithin,
		"createdAt":    sc.CreatedAt,
		"updatedAt":    sc.UpdatedAt,
		"redacted":     false,
	}
	if fixture.ShouldRedact(viewerID, sc) {
		payload["content"] = ""
		payload["userId"] = nil
		payload["createdAt"] = nil
		payload["updatedAt"] = nil
		payload["redacted"] = true
	}
	return payload
}
