package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dinehub/pos-billing-service/internal/config"
	"github.com/dinehub/pos-billing-service/internal/models/errs"
	"github.com/dinehub/pos-billing-service/internal/models/user"
	"github.com/dinehub/pos-billing-service/internal/session"
	"github.com/dinehub/pos-billing-service/pkg/logger"
	"golang.org/x/crypto/bcrypt"
)

type Service struct {
	repo     Repository
	sessions *session.Store
	logger   logger.Logger
	config   *config.Config
}

func NewService(repo Repository, sessions *session.Store, logger logger.Logger, config *config.Config) (*Service, error) {
	if config == nil {
		return nil, errors.New("nil dependency: config")
	}
	if sessions == nil {
		return nil, errors.New("nil dependency: session store")
	}
	return &Service{repo: repo, sessions: sessions, logger: logger, config: config}, nil
}

var _ ServerInterface = (*Service)(nil)

// LoginResponse carries the issued bearer token.
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// defaultRole is assigned when a registration does not name one.
const defaultRole = "cashier"

// Staff registration (POST /api/billing/register).
func (s *Service) Register(w http.ResponseWriter, r *http.Request, params RegisterParams) {
	hashPassword, err := bcrypt.GenerateFromPassword([]byte(params.Password), s.config.PasswordHashCost)
	if err != nil {
		ErrorHandlerFunc(w, r, fmt.Errorf("hash password: %w", err))
		return
	}

	role := params.Role
	if role == "" {
		role = defaultRole
	}

	id, err := s.repo.CreateUser(r.Context(), params.Login, string(hashPassword), role)
	if err != nil {
		if errors.Is(err, errs.ErrDataConflict) {
			ErrorHandlerFunc(w, r, fmt.Errorf("%w: login %q already exists", err, params.Login))
			return
		}
		ErrorHandlerFunc(w, r, fmt.Errorf("create staff: %w", err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err = json.NewEncoder(w).Encode(map[string]int{"id": id}); err != nil {
		s.logger.Errorf("encode register response: %s", err)
	}
}

// Staff authentication (POST /api/billing/login).
func (s *Service) Login(w http.ResponseWriter, r *http.Request, params LoginParams) {
	// Retrieve staff member with the provided login.
	u, err := s.repo.GetUserByLogin(r.Context(), params.Login)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			ErrorHandlerFunc(w, r, fmt.Errorf("%w: staff with login %q not found",
				errs.ErrInvalidCredentials, params.Login))
			return
		}
		ErrorHandlerFunc(w, r, fmt.Errorf("get staff %q: %w", params.Login, err))
		return
	}

	// Compare stored and provided passwords.
	err = bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(params.Password))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			ErrorHandlerFunc(w, r, fmt.Errorf("%w: password", errs.ErrInvalidCredentials))
			return
		}
		ErrorHandlerFunc(w, r, fmt.Errorf("compare passwords: %w", err))
		return
	}

	// Issue a session.
	sess, err := s.sessions.Issue(u.ID)
	if err != nil {
		ErrorHandlerFunc(w, r, fmt.Errorf("issue session: %w", err))
		return
	}

	token, err := sess.Token()
	if err != nil {
		ErrorHandlerFunc(w, r, fmt.Errorf("session token: %w", err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err = json.NewEncoder(w).Encode(LoginResponse{
		Token:     token,
		ExpiresAt: time.Now().Add(s.config.Session.Expiration),
	}); err != nil {
		s.logger.Errorf("encode login response: %s", err)
	}
}

// Middleware authorizes billing routes with the Authorization bearer
// header and puts the staff member into the request context.
func (s *Service) Middleware(next http.Handler) http.Handler {
	f := func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			ErrorHandlerFunc(w, r, fmt.Errorf("authorization header: %w", errs.ErrNotFound))
			return
		}

		userID, err := s.sessions.Verify(header)
		if err != nil {
			ErrorHandlerFunc(w, r, fmt.Errorf("%w: %s", errs.ErrSessionExpired, err))
			return
		}

		u, err := s.repo.GetUserByID(r.Context(), userID)
		if err != nil {
			ErrorHandlerFunc(w, r, fmt.Errorf("get staff %d: %w", userID, err))
			return
		}

		r = r.WithContext(user.NewContext(r.Context(), u))

		next.ServeHTTP(w, r)
	}

	return http.HandlerFunc(f)
}

// ErrorHandlerFunc handles sending of an error in the JSON format,
// writing appropriate status code and handling the failure to marshal that.
func ErrorHandlerFunc(w http.ResponseWriter, _ *http.Request, err error) {
	errJSON := errs.JSON{Error: err.Error()}
	code := http.StatusInternalServerError

	switch {
	// Status Bad Request.
	case errors.Is(err, errs.ErrRequiredBodyParam) ||
		errors.Is(err, errs.ErrInvalidPayload) ||
		errors.Is(err, io.EOF):
		code = http.StatusBadRequest

	// Status Unauthorized.
	case errors.Is(err, errs.ErrNotFound) ||
		errors.Is(err, errs.ErrInvalidCredentials) ||
		errors.Is(err, errs.ErrSessionExpired):
		code = http.StatusUnauthorized

	// Status Conflict.
	case errors.Is(err, errs.ErrDataConflict):
		code = http.StatusConflict
	}

	w.WriteHeader(code)

	if err = json.NewEncoder(w).Encode(errJSON); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
