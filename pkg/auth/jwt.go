package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type Role string

const (
	RoleDoctor Role = "doctor"
	RoleStaff  Role = "staff"
	RoleAdmin  Role = "admin"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims carries the caller's identity. DoctorID is set for doctors,
// HospitalIDs for staff and admins.
type Claims struct {
	jwt.RegisteredClaims
	UserID      string   `json:"user_id"`
	Role        Role     `json:"role"`
	DoctorID    string   `json:"doctor_id,omitempty"`
	HospitalIDs []string `json:"hospital_ids,omitempty"`
}

// CanManage reports whether the caller may act on a queue entry belonging to
// the given hospital and doctor.
func (c *Claims) CanManage(hospitalID, doctorID uuid.UUID) bool {
	switch c.Role {
	case RoleDoctor:
		return c.DoctorID != "" && c.DoctorID == doctorID.String()
	case RoleStaff, RoleAdmin:
		for _, h := range c.HospitalIDs {
			if h == hospitalID.String() {
				return true
			}
		}
	}
	return false
}

type JWTService interface {
	GenerateAccessToken(claims *Claims) (string, error)
	ValidateToken(token string) (*Claims, error)
}

type jwtService struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewJWTService(secret, issuer string, ttl time.Duration) JWTService {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &jwtService{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}
}

func (s *jwtService) GenerateAccessToken(claims *Claims) (string, error) {
	c := *claims
	now := s.now()
	c.Issuer = s.issuer
	c.Subject = c.UserID
	c.IssuedAt = jwt.NewNumericDate(now)
	c.ExpiresAt = jwt.NewNumericDate(now.Add(s.ttl))

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func (s *jwtService) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	switch claims.Role {
	case RoleDoctor, RoleStaff, RoleAdmin:
	default:
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, claims.Role)
	}
	return claims, nil
}
