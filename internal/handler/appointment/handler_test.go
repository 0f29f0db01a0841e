package appointment

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/opd-queue/internal/middleware"
	"github.com/jwalitptl/opd-queue/internal/model"
	"github.com/jwalitptl/opd-queue/pkg/auth"
	apperrors "github.com/jwalitptl/opd-queue/pkg/errors"
	"github.com/jwalitptl/opd-queue/pkg/httputil"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) Book(ctx context.Context, req *model.BookAppointmentRequest) (*model.Appointment, error) {
	args := m.Called(ctx, req)
	a, _ := args.Get(0).(*model.Appointment)
	return a, args.Error(1)
}

func (m *MockService) GetAppointment(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	args := m.Called(ctx, id)
	a, _ := args.Get(0).(*model.Appointment)
	return a, args.Error(1)
}

func (m *MockService) CheckIn(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	args := m.Called(ctx, id)
	a, _ := args.Get(0).(*model.Appointment)
	return a, args.Error(1)
}

func (m *MockService) Cancel(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	args := m.Called(ctx, id)
	a, _ := args.Get(0).(*model.Appointment)
	return a, args.Error(1)
}

var hospitalID = uuid.New()

func init() {
	gin.SetMode(gin.TestMode)
	if err := middleware.RegisterValidators(); err != nil {
		panic(err)
	}
}

func setup(claims *auth.Claims) (*gin.Engine, *MockService) {
	svc := new(MockService)
	r := gin.New()
	api := r.Group("/api/v1")
	api.Use(func(c *gin.Context) {
		c.Set(middleware.ContextClaims, claims)
		c.Next()
	})
	NewHandler(svc).RegisterRoutes(api)
	return r, svc
}

func staff() *auth.Claims {
	return &auth.Claims{UserID: "desk", Role: auth.RoleStaff, HospitalIDs: []string{hospitalID.String()}}
}

func do(r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) httputil.Response {
	t.Helper()
	var resp httputil.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func booked() *model.Appointment {
	return &model.Appointment{
		Base:          model.Base{ID: uuid.New()},
		PatientID:     uuid.New(),
		HospitalID:    hospitalID,
		DoctorID:      uuid.New(),
		ScheduledTime: time.Now().Add(time.Hour).UTC(),
		Status:        model.AppointmentStatusBooked,
		Type:          model.AppointmentTypeRegular,
	}
}

func TestCreateAppointment(t *testing.T) {
	r, svc := setup(staff())
	a := booked()

	svc.On("Book", mock.Anything, mock.MatchedBy(func(req *model.BookAppointmentRequest) bool {
		return req.DoctorID == a.DoctorID.String() && req.Type == model.AppointmentTypeFollowUp
	})).Return(a, nil)

	w := do(r, http.MethodPost, "/api/v1/appointments", gin.H{
		"patient_id":     a.PatientID.String(),
		"doctor_id":      a.DoctorID.String(),
		"hospital_id":    hospitalID.String(),
		"scheduled_time": a.ScheduledTime.Format(time.RFC3339),
		"type":           "FOLLOW_UP",
	})
	assert.Equal(t, http.StatusCreated, w.Code)
	data := decode(t, w).Data.(map[string]interface{})
	assert.Equal(t, "BOOKED", data["status"])
	assert.NotContains(t, data, "token_number")
	svc.AssertExpectations(t)
}

func TestCreateAppointment_Rejects(t *testing.T) {
	r, svc := setup(staff())

	w := do(r, http.MethodPost, "/api/v1/appointments", gin.H{
		"patient_id":     uuid.NewString(),
		"doctor_id":      uuid.NewString(),
		"hospital_id":    hospitalID.String(),
		"scheduled_time": time.Now().Format(time.RFC3339),
		"type":           "WALK_IN",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/api/v1/appointments", gin.H{
		"patient_id":     uuid.NewString(),
		"doctor_id":      uuid.NewString(),
		"hospital_id":    uuid.NewString(),
		"scheduled_time": time.Now().Format(time.RFC3339),
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
	svc.AssertNotCalled(t, "Book", mock.Anything, mock.Anything)
}

func TestCheckIn(t *testing.T) {
	r, svc := setup(staff())
	a := booked()
	checkedIn := *a
	token := 3
	checkedIn.Status = model.AppointmentStatusCheckedIn
	checkedIn.TokenNumber = &token

	svc.On("GetAppointment", mock.Anything, a.ID).Return(a, nil)
	svc.On("CheckIn", mock.Anything, a.ID).Return(&checkedIn, nil)

	w := do(r, http.MethodPost, "/api/v1/appointments/"+a.ID.String()+"/check-in", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(3), decode(t, w).Data.(map[string]interface{})["token_number"])
}

func TestCheckIn_IllegalTransition(t *testing.T) {
	r, svc := setup(staff())
	a := booked()
	a.Status = model.AppointmentStatusCompleted

	svc.On("GetAppointment", mock.Anything, a.ID).Return(a, nil)
	svc.On("CheckIn", mock.Anything, a.ID).Return(nil,
		apperrors.Conflict(apperrors.ReasonIllegalTransition, "cannot CHECK_IN").
			WithDetail("current_status", "COMPLETED"))

	w := do(r, http.MethodPost, "/api/v1/appointments/"+a.ID.String()+"/check-in", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "COMPLETED", decode(t, w).Error.Details["current_status"])
}

func TestCancel(t *testing.T) {
	r, svc := setup(staff())
	a := booked()
	cancelled := *a
	cancelled.Status = model.AppointmentStatusCancelled

	svc.On("GetAppointment", mock.Anything, a.ID).Return(a, nil)
	svc.On("Cancel", mock.Anything, a.ID).Return(&cancelled, nil)

	w := do(r, http.MethodPost, "/api/v1/appointments/"+a.ID.String()+"/cancel", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "CANCELLED", decode(t, w).Data.(map[string]interface{})["status"])
}

func TestGetAppointment(t *testing.T) {
	r, svc := setup(staff())
	a := booked()
	missing := uuid.New()

	svc.On("GetAppointment", mock.Anything, a.ID).Return(a, nil)
	svc.On("GetAppointment", mock.Anything, missing).Return(nil, apperrors.NotFound("appointment", nil))

	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/api/v1/appointments/"+a.ID.String(), nil).Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/api/v1/appointments/"+missing.String(), nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/api/v1/appointments/not-a-uuid", nil).Code)
}

func TestGetAppointment_OtherHospitalLooksMissing(t *testing.T) {
	r, svc := setup(&auth.Claims{Role: auth.RoleStaff, HospitalIDs: []string{uuid.NewString()}})
	a := booked()
	missing := uuid.New()
	svc.On("GetAppointment", mock.Anything, a.ID).Return(a, nil)
	svc.On("GetAppointment", mock.Anything, missing).Return(nil, apperrors.NotFound("appointment", nil))

	hidden := do(r, http.MethodGet, "/api/v1/appointments/"+a.ID.String(), nil)
	absent := do(r, http.MethodGet, "/api/v1/appointments/"+missing.String(), nil)
	assert.Equal(t, http.StatusNotFound, hidden.Code)
	assert.JSONEq(t, absent.Body.String(), hidden.Body.String())

	w := do(r, http.MethodPost, "/api/v1/appointments/"+a.ID.String()+"/cancel", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	svc.AssertNotCalled(t, "Cancel", mock.Anything, mock.Anything)
}
