package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"muni-portal/internal/auth"
	"muni-portal/internal/config"
	"muni-portal/internal/logger"
	"muni-portal/internal/models"

	"github.com/go-ldap/ldap/v3"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Roles carried in JWT claims. Citizens self-register; staff come from the
// municipal directory.
const (
	RoleCitizen = "citizen"
	RoleStaff   = "staff"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailTaken         = errors.New("email already registered")
)

// maxActiveSessions caps stored refresh tokens per user. The oldest session
// is evicted when the cap is reached.
const maxActiveSessions = 2

type AuthService struct {
	db   *bun.DB
	jwt  *auth.JWTManager
	cfg  *config.Config
	logr *logger.Logger
}

func NewAuthService(db *bun.DB, jwt *auth.JWTManager, cfg *config.Config, logr *logger.Logger) *AuthService {
	return &AuthService{db: db, jwt: jwt, cfg: cfg, logr: logr}
}

// HashPassword uses bcrypt
func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(b), err
}

func ComparePassword(hash, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

type UserInfo struct {
	ID       string   `json:"id"`
	Email    string   `json:"email"`
	Name     string   `json:"name"`
	Provider string   `json:"provider"`
	Roles    []string `json:"roles"`
}

// RegisterInput is the citizen self-registration body.
type RegisterInput struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (in *RegisterInput) Validate() error {
	fields := map[string][]string{}
	require := func(name, value string) {
		if value == "" {
			fields[name] = append(fields[name], requiredMessage)
		}
	}
	require("name", in.Name)
	require("email", in.Email)
	require("password", in.Password)
	if in.Password != "" && len(in.Password) < 8 {
		fields["password"] = append(fields["password"], "Password must be at least 8 characters.")
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// Register creates a citizen account with a local password.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*UserInfo, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	exists, err := s.db.NewSelect().
		Model((*models.User)(nil)).
		Where("email = ?", in.Email).
		Exists(ctx)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrEmailTaken
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	u := models.User{
		Email:        in.Email,
		Name:         in.Name,
		PasswordHash: hash,
		Provider:     "local",
		Roles:        []string{RoleCitizen},
	}
	if _, err := s.db.NewInsert().Model(&u).Exec(ctx); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.logr.Info("citizen registered", zap.String("user_id", u.ID.String()))
	return &UserInfo{
		ID:       u.ID.String(),
		Email:    u.Email,
		Name:     u.Name,
		Provider: "local",
		Roles:    u.Roles,
	}, nil
}

// LoginLocal authenticates a citizen against the stored bcrypt hash.
func (s *AuthService) LoginLocal(ctx context.Context, email, password, deviceInfo string) (*auth.TokenPair, *UserInfo, error) {
	var u models.User
	err := s.db.NewSelect().Model(&u).Where("email = ?", email).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, err
	}
	if u.PasswordHash == "" {
		return nil, nil, ErrInvalidCredentials
	}
	if err := ComparePassword(u.PasswordHash, password); err != nil {
		return nil, nil, ErrInvalidCredentials
	}

	return s.issueTokens(ctx, &u, "local", deviceInfo)
}

// LoginLDAP authenticates municipal staff against the directory using
// search-then-bind, provisioning a local staff row on first login.
func (s *AuthService) LoginLDAP(ctx context.Context, username, password, deviceInfo string) (*auth.TokenPair, *UserInfo, error) {
	entry, err := s.ldapLookup(username, password)
	if err != nil {
		return nil, nil, err
	}

	mail := entry.GetAttributeValue("mail")
	if mail == "" {
		s.logr.Warn("ldap entry missing mail attribute", zap.String("username", username))
		return nil, nil, ErrInvalidCredentials
	}
	name := entry.GetAttributeValue("displayName")
	if name == "" {
		name = entry.GetAttributeValue("cn")
	}
	if name == "" {
		name = username
	}

	var u models.User
	err = s.db.NewSelect().Model(&u).Where("email = ?", mail).Scan(ctx)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		u = models.User{
			Email:    mail,
			Name:     name,
			Provider: "ldap",
			Roles:    []string{RoleStaff},
		}
		if _, err := s.db.NewInsert().Model(&u).Exec(ctx); err != nil {
			return nil, nil, fmt.Errorf("provision staff user: %w", err)
		}
		s.logr.Info("provisioned staff user", zap.String("email", mail))
	case err != nil:
		return nil, nil, err
	default:
		if u.Provider != "ldap" {
			_, _ = s.db.NewUpdate().Model(&u).
				Set("provider = ?", "ldap").
				Where("id = ?", u.ID).
				Exec(ctx)
		}
	}

	return s.issueTokens(ctx, &u, "ldap", deviceInfo)
}

// ldapLookup binds with the service account, finds the user entry and
// verifies the supplied password by binding as that entry.
func (s *AuthService) ldapLookup(username, password string) (*ldap.Entry, error) {
	conn, err := ldap.DialURL(s.cfg.LDAPServer)
	if err != nil {
		s.logr.Error("ldap dial failed", zap.Error(err), zap.String("server", s.cfg.LDAPServer))
		return nil, fmt.Errorf("directory unavailable")
	}
	defer conn.Close()
	conn.SetTimeout(10 * time.Second)

	if s.cfg.LDAPBindDN != "" {
		if err := conn.Bind(s.cfg.LDAPBindDN, s.cfg.LDAPBindPass); err != nil {
			s.logr.Error("ldap service bind failed", zap.Error(err))
			return nil, fmt.Errorf("directory unavailable")
		}
	}

	req := ldap.NewSearchRequest(
		s.cfg.LDAPBaseDN,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		1, 0, false,
		fmt.Sprintf("(|(sAMAccountName=%s)(uid=%s))",
			ldap.EscapeFilter(username), ldap.EscapeFilter(username)),
		[]string{"dn", "cn", "displayName", "mail"},
		nil,
	)
	res, err := conn.Search(req)
	if err != nil {
		s.logr.Error("ldap search failed", zap.Error(err), zap.String("username", username))
		return nil, fmt.Errorf("directory unavailable")
	}
	if len(res.Entries) == 0 {
		return nil, ErrInvalidCredentials
	}

	entry := res.Entries[0]
	if err := conn.Bind(entry.DN, password); err != nil {
		s.logr.Warn("ldap user bind failed", zap.String("username", username))
		return nil, ErrInvalidCredentials
	}
	return entry, nil
}

func (s *AuthService) issueTokens(ctx context.Context, u *models.User, method, deviceInfo string) (*auth.TokenPair, *UserInfo, error) {
	now := time.Now().UTC()
	_, _ = s.db.NewUpdate().
		Model((*models.User)(nil)).
		Set("last_login_at = ?", now).
		Where("id = ?", u.ID).
		Exec(ctx)

	pair, err := s.jwt.GenerateTokenPair(u.ID.String(), s.cfg.AccessTokenTTL, s.cfg.RefreshTokenTTL, u.TokenVersion, method, u.Roles)
	if err != nil {
		return nil, nil, err
	}
	if err := s.storeRefreshToken(ctx, u.ID, pair.RefreshToken, pair.RefreshExp, pair.RefreshJTI, deviceInfo); err != nil {
		return nil, nil, err
	}

	return pair, &UserInfo{
		ID:       u.ID.String(),
		Email:    u.Email,
		Name:     u.Name,
		Provider: method,
		Roles:    u.Roles,
	}, nil
}

// storeRefreshToken stores the refresh token hashed and evicts the oldest
// session once the per-user cap is hit.
func (s *AuthService) storeRefreshToken(ctx context.Context, userID uuid.UUID, refreshToken string, expiresAt time.Time, jti string, deviceInfo string) error {
	_, _ = s.db.NewDelete().
		Model((*models.RefreshToken)(nil)).
		Where("user_id = ? AND expires_at < now()", userID).
		Exec(ctx)

	var count int
	err := s.db.NewSelect().
		ColumnExpr("count(*)").
		Table("refresh_tokens").
		Where("user_id = ? AND revoked = false AND expires_at > now()", userID).
		Scan(ctx, &count)
	if err == nil && count >= maxActiveSessions {
		toRemove := count - maxActiveSessions + 1
		_, _ = s.db.NewDelete().Model((*models.RefreshToken)(nil)).
			Where("id IN (SELECT id FROM refresh_tokens WHERE user_id = ? AND revoked = false AND expires_at > now() ORDER BY created_at ASC LIMIT ?)", userID, toRemove).
			Exec(ctx)
	}

	rt := models.RefreshToken{
		UserID:     userID,
		JTI:        jti,
		TokenHash:  auth.HashToken(refreshToken),
		DeviceInfo: &deviceInfo,
		Revoked:    false,
		CreatedAt:  time.Now().UTC(),
		ExpiresAt:  expiresAt,
	}
	_, err = s.db.NewInsert().Model(&rt).Exec(ctx)
	return err
}

// Refresh verifies the refresh JWT, matches the stored session by JTI and
// hash, and rotates both tokens.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string, deviceInfo string) (*auth.TokenPair, error) {
	claims, err := s.jwt.VerifyToken(refreshToken)
	if err != nil {
		return nil, fmt.Errorf("invalid refresh token: %w", err)
	}
	if claims["typ"] != string(auth.RefreshToken) {
		return nil, fmt.Errorf("not a refresh token")
	}
	jti, ok := claims["jti"].(string)
	if !ok {
		return nil, fmt.Errorf("invalid token jti")
	}

	hashed := auth.HashToken(refreshToken)
	var rt models.RefreshToken
	err = s.db.NewSelect().Model(&rt).
		Where("jti = ? AND token_hash = ? AND revoked = false AND expires_at > now()", jti, hashed).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("refresh token not found or revoked")
	}

	var u models.User
	err = s.db.NewSelect().Model(&u).Where("id = ?", rt.UserID).Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("user not found")
	}

	_, _ = s.db.NewUpdate().
		Model((*models.RefreshToken)(nil)).
		Set("revoked = true").
		Where("id = ?", rt.ID).
		Exec(ctx)

	pair, err := s.jwt.GenerateTokenPair(u.ID.String(), s.cfg.AccessTokenTTL, s.cfg.RefreshTokenTTL, u.TokenVersion, "refresh", u.Roles)
	if err != nil {
		return nil, err
	}
	if err := s.storeRefreshToken(ctx, u.ID, pair.RefreshToken, pair.RefreshExp, pair.RefreshJTI, deviceInfo); err != nil {
		return nil, err
	}
	return pair, nil
}

// Logout revokes the session behind a refresh token.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	claims, err := s.jwt.VerifyToken(refreshToken)
	if err != nil {
		return err
	}
	jti, ok := claims["jti"].(string)
	if !ok {
		return fmt.Errorf("invalid jti")
	}
	_, err = s.db.NewUpdate().
		Model((*models.RefreshToken)(nil)).
		Set("revoked = true").
		Where("jti = ?", jti).
		Exec(ctx)
	return err
}

// CheckTokenVersion compares a token's version claim against the user row.
// Bumping the column revokes every outstanding token at once.
func (s *AuthService) CheckTokenVersion(ctx context.Context, userID string, tokenVersion int) (bool, error) {
	var u models.User
	err := s.db.NewSelect().Model(&u).Where("id = ?", userID).Scan(ctx)
	if err != nil {
		return false, err
	}
	return u.TokenVersion == tokenVersion, nil
}
