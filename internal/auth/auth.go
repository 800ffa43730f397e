// Package auth checks that an admin token may act on a quiz.
package auth

import (
	"context"
	stderrors "errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
)

var ErrEmptySecret = stderrors.New("auth: secret is empty")

const (
	defaultIssuer = "livequiz"
	defaultTTL    = time.Hour
)

type QuizGetter interface {
	GetQuiz(ctx context.Context, quizID int64) (domain.Quiz, error)
}

type Config struct {
	Secret  string
	Issuer  string
	TTL     time.Duration
	Quizzes QuizGetter
	Now     func() time.Time
}

type Service struct {
	secret  []byte
	issuer  string
	ttl     time.Duration
	quizzes QuizGetter
	now     func() time.Time
}

// NewService returns ErrEmptySecret when no secret is configured.
func NewService(c Config) (*Service, error) {
	if c.Secret == "" {
		return nil, ErrEmptySecret
	}

	s := &Service{
		secret:  []byte(c.Secret),
		issuer:  c.Issuer,
		ttl:     c.TTL,
		quizzes: c.Quizzes,
		now:     c.Now,
	}
	if s.issuer == "" {
		s.issuer = defaultIssuer
	}
	if s.ttl <= 0 {
		s.ttl = defaultTTL
	}
	if s.now == nil {
		s.now = time.Now
	}

	return s, nil
}

// IssueToken signs an admin session token for the user.
func (s *Service) IssueToken(userID int64) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(userID, 10),
		Issuer:    s.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return token, nil
}

// ValidAdminSessionFor returns nil when token belongs to a logged in admin owning quizID.
// A missing or malformed token is Unauthenticated, any other rejection is PermissionDenied.
func (s *Service) ValidAdminSessionFor(ctx context.Context, token string, quizID int64) error {
	userID, err := s.userID(token)
	if err != nil {
		return err
	}

	q, err := s.quizzes.GetQuiz(ctx, quizID)
	if errors.CodeOf(err) == errors.CodeNotFound {
		return errors.New(errors.CodePermissionDenied, errors.WithMessagef("quiz %d is not owned by the user", quizID))
	}
	if err != nil {
		return fmt.Errorf("get quiz: %w", err)
	}

	if q.OwnerID != userID {
		return errors.New(errors.CodePermissionDenied, errors.WithMessagef("quiz %d is not owned by the user", quizID))
	}

	return nil
}

func (s *Service) userID(token string) (int64, error) {
	if token == "" {
		return 0, errors.New(errors.CodeUnauthenticated, errors.WithMessagef("token is empty"))
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if stderrors.Is(err, jwt.ErrTokenMalformed) {
		return 0, errors.New(errors.CodeUnauthenticated, errors.WithMessagef("token is malformed"), errors.WithCause(err))
	}
	if err != nil {
		return 0, errors.New(errors.CodePermissionDenied, errors.WithMessagef("token does not refer to a logged in session"), errors.WithCause(err))
	}

	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return 0, errors.New(errors.CodeUnauthenticated, errors.WithMessagef("token subject is malformed"), errors.WithCause(err))
	}

	return id, nil
}
