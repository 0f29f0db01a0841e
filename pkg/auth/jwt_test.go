package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTService_RoundTrip(t *testing.T) {
	svc := NewJWTService("s3cret", "opd-queue", time.Hour)
	doctorID := uuid.New()

	token, err := svc.GenerateAccessToken(&Claims{
		UserID:   "u-1",
		Role:     RoleDoctor,
		DoctorID: doctorID.String(),
	})
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.UserID)
	assert.Equal(t, RoleDoctor, claims.Role)
	assert.Equal(t, "opd-queue", claims.Issuer)
	assert.True(t, claims.CanManage(uuid.New(), doctorID))
}

func TestJWTService_Rejects(t *testing.T) {
	svc := NewJWTService("s3cret", "opd-queue", time.Hour)
	valid := &Claims{UserID: "u-1", Role: RoleStaff}

	t.Run("wrong secret", func(t *testing.T) {
		token, err := NewJWTService("other", "opd-queue", time.Hour).GenerateAccessToken(valid)
		require.NoError(t, err)
		_, err = svc.ValidateToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		token, err := NewJWTService("s3cret", "someone-else", time.Hour).GenerateAccessToken(valid)
		require.NoError(t, err)
		_, err = svc.ValidateToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		old := NewJWTService("s3cret", "opd-queue", time.Minute).(*jwtService)
		old.now = func() time.Time { return time.Now().Add(-time.Hour) }
		token, err := old.GenerateAccessToken(valid)
		require.NoError(t, err)
		_, err = svc.ValidateToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("unknown role", func(t *testing.T) {
		token, err := svc.GenerateAccessToken(&Claims{UserID: "u-2", Role: "patient"})
		require.NoError(t, err)
		_, err = svc.ValidateToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("none algorithm", func(t *testing.T) {
		c := *valid
		c.Issuer = "opd-queue"
		c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(time.Hour))
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, &c).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = svc.ValidateToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := svc.ValidateToken("not-a-token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestClaims_CanManage(t *testing.T) {
	hospital := uuid.New()
	doctor := uuid.New()

	tests := []struct {
		name   string
		claims Claims
		want   bool
	}{
		{"owning doctor", Claims{Role: RoleDoctor, DoctorID: doctor.String()}, true},
		{"other doctor", Claims{Role: RoleDoctor, DoctorID: uuid.NewString()}, false},
		{"doctor without id", Claims{Role: RoleDoctor}, false},
		{"staff at hospital", Claims{Role: RoleStaff, HospitalIDs: []string{uuid.NewString(), hospital.String()}}, true},
		{"staff elsewhere", Claims{Role: RoleStaff, HospitalIDs: []string{uuid.NewString()}}, false},
		{"admin at hospital", Claims{Role: RoleAdmin, HospitalIDs: []string{hospital.String()}}, true},
		{"unknown role", Claims{Role: "patient", DoctorID: doctor.String()}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.claims.CanManage(hospital, doctor))
		})
	}
}
