package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/carelink-health/carelink/internal/audit"
	"github.com/carelink-health/carelink/internal/config"
	"github.com/carelink-health/carelink/internal/models"
	"github.com/carelink-health/carelink/internal/repository"
)

const (
	userinfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

	// stateTTL bounds how long a login redirect stays redeemable.
	stateTTL       = 10 * time.Minute
	stateKeyPrefix = "oauth:state:"
)

// googleUser is the subset of the userinfo response we keep.
type googleUser struct {
	Subject string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// OAuthService runs the Google authorization-code flow and maps provider
// identities onto user rows. State nonces live in redis so the callback can
// land on any instance.
type OAuthService struct {
	oauth       *oauth2.Config
	users       repository.UserRepository
	recorder    *audit.Recorder
	rdb         *redis.Client
	adminEmails map[string]struct{}
	jwtSecret   string
	logger      *zap.Logger
}

func NewOAuthService(cfg *config.Config, users repository.UserRepository, recorder *audit.Recorder, rdb *redis.Client, logger *zap.Logger) *OAuthService {
	admins := make(map[string]struct{}, len(cfg.AdminEmails))
	for _, email := range cfg.AdminEmails {
		admins[strings.ToLower(email)] = struct{}{}
	}

	return &OAuthService{
		oauth: &oauth2.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.OAuthRedirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     google.Endpoint,
		},
		users:       users,
		recorder:    recorder,
		rdb:         rdb,
		adminEmails: admins,
		jwtSecret:   cfg.JWTSecret,
		logger:      logger,
	}
}

// LoginURL mints a state nonce and returns the provider redirect.
func (s *OAuthService) LoginURL(ctx context.Context) (string, error) {
	state := uuid.NewString()
	if err := s.rdb.Set(ctx, stateKeyPrefix+state, "1", stateTTL).Err(); err != nil {
		return "", fmt.Errorf("store oauth state: %w", err)
	}
	return s.oauth.AuthCodeURL(state), nil
}

// HandleCallback redeems the authorization code, upserts the user and
// returns them with a signed session token.
func (s *OAuthService) HandleCallback(ctx context.Context, state, code string) (*models.User, string, error) {
	// GetDel makes every nonce single-use.
	if err := s.rdb.GetDel(ctx, stateKeyPrefix+state).Err(); err != nil {
		return nil, "", fmt.Errorf("unknown or expired oauth state")
	}

	token, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, "", fmt.Errorf("exchange code: %w", err)
	}

	info, err := s.fetchUserinfo(ctx, token)
	if err != nil {
		return nil, "", err
	}
	if info.Subject == "" || info.Email == "" {
		return nil, "", fmt.Errorf("userinfo response missing subject or email")
	}

	user, err := s.upsertUser(ctx, info)
	if err != nil {
		return nil, "", err
	}

	signed, err := GenerateToken(user, s.jwtSecret, SessionTTL)
	if err != nil {
		return nil, "", err
	}
	return user, signed, nil
}

func (s *OAuthService) fetchUserinfo(ctx context.Context, token *oauth2.Token) (*googleUser, error) {
	resp, err := s.oauth.Client(ctx, token).Get(userinfoURL)
	if err != nil {
		return nil, fmt.Errorf("fetch userinfo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch userinfo: status %d", resp.StatusCode)
	}

	var info googleUser
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode userinfo: %w", err)
	}
	return &info, nil
}

// upsertUser maps a provider identity to a user row. Lookup order matters:
// subject first (returning user), then email, so a row an admin
// pre-provisioned before the person's first login gets adopted instead of
// colliding on the email unique index.
func (s *OAuthService) upsertUser(ctx context.Context, info *googleUser) (*models.User, error) {
	if user, err := s.users.GetBySubject(ctx, info.Subject); err != nil {
		return nil, err
	} else if user != nil {
		return s.refreshProfile(ctx, user, info)
	}

	if user, err := s.users.GetByEmail(ctx, info.Email); err != nil {
		return nil, err
	} else if user != nil {
		// Pre-provisioned row: bind the subject and mark verified.
		verified := true
		return s.users.Update(ctx, user.ID, repository.UserUpdate{
			Subject:  &info.Subject,
			Avatar:   &info.Picture,
			Verified: &verified,
		})
	}

	role := models.RolePatient
	if _, ok := s.adminEmails[strings.ToLower(info.Email)]; ok {
		role = models.RoleAdmin
	}

	user, err := s.users.Create(ctx, repository.CreateUserParams{
		Email:    info.Email,
		Name:     info.Name,
		Role:     role,
		Subject:  info.Subject,
		Avatar:   info.Picture,
		Verified: true,
	})
	if err != nil {
		return nil, err
	}

	s.recorder.Try(ctx, user.ID, audit.ActionUserCreated, map[string]any{
		"userId": user.ID,
		"email":  user.Email,
		"role":   user.Role,
		"via":    "oauth",
	})
	s.logger.Info("registered user via oauth",
		zap.String("user_id", user.ID.String()),
		zap.String("role", string(user.Role)),
	)
	return user, nil
}

// refreshProfile carries provider-side name and avatar changes onto the
// row on each login.
func (s *OAuthService) refreshProfile(ctx context.Context, user *models.User, info *googleUser) (*models.User, error) {
	if user.Name == info.Name && user.Avatar == info.Picture {
		return user, nil
	}
	return s.users.Update(ctx, user.ID, repository.UserUpdate{
		Name:   &info.Name,
		Avatar: &info.Picture,
	})
}
