package queue

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/opd-queue/internal/handler"
	"github.com/jwalitptl/opd-queue/internal/model"
	queuesvc "github.com/jwalitptl/opd-queue/internal/service/queue"
	apperrors "github.com/jwalitptl/opd-queue/pkg/errors"
	"github.com/jwalitptl/opd-queue/pkg/httputil"
)

type Service interface {
	GetAppointment(ctx context.Context, id uuid.UUID) (*model.Appointment, error)
	Start(ctx context.Context, id uuid.UUID) (*model.Appointment, error)
	Complete(ctx context.Context, id uuid.UUID, notes *string) (*model.Appointment, error)
	Skip(ctx context.Context, id uuid.UUID) (*model.Appointment, error)
	Recall(ctx context.Context, id uuid.UUID) (*model.Appointment, error)
	SetStatus(ctx context.Context, cmd model.SetStatusCommand) (*model.QueueStatus, error)
	RegisterWalkIn(ctx context.Context, req *model.WalkInRequest) (*model.Appointment, error)
	ListToday(ctx context.Context, key model.QueueKey) ([]*model.Appointment, error)
}

type StatusReader interface {
	GetQueueStatus(ctx context.Context, key model.QueueKey, appointmentID *uuid.UUID) (*model.QueueStatusView, error)
}

type Handler struct {
	service Service
	reader  StatusReader
}

func NewHandler(service Service, reader StatusReader) *Handler {
	return &Handler{service: service, reader: reader}
}

// RegisterPublicRoutes mounts the unauthenticated patient-facing read.
func (h *Handler) RegisterPublicRoutes(r *gin.RouterGroup) {
	r.GET("/queue/status", h.GetStatus)
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	queue := r.Group("/queue")
	{
		queue.POST("/actions", h.Action)
		queue.POST("/walk-ins", h.RegisterWalkIn)
		queue.GET("/today", h.ListToday)
	}
}

// Action dispatches one staff or doctor queue action.
func (h *Handler) Action(c *gin.Context) {
	var req model.QueueActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, httputil.BindError(err))
		return
	}

	if req.Action == model.QueueActionSetStatus {
		h.setStatus(c, &req)
		return
	}

	if req.AppointmentID == "" {
		httputil.RespondWithError(c, apperrors.BadRequest("appointment_id is required for "+string(req.Action), nil))
		return
	}
	id, err := handler.ParseID(req.AppointmentID, "appointment_id")
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	current, err := h.service.GetAppointment(ctx, id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	if err := handler.AuthorizeAppointment(c, current); err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	var updated *model.Appointment
	switch req.Action {
	case model.QueueActionStart:
		updated, err = h.service.Start(ctx, id)
	case model.QueueActionComplete:
		updated, err = h.service.Complete(ctx, id, req.Notes)
	case model.QueueActionSkip:
		updated, err = h.service.Skip(ctx, id)
	case model.QueueActionRecall:
		updated, err = h.service.Recall(ctx, id)
	default:
		err = apperrors.InvalidAction(string(req.Action))
	}
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, updated.Summary())
}

func (h *Handler) setStatus(c *gin.Context, req *model.QueueActionRequest) {
	if req.StatusType == "" || req.HospitalID == "" || req.DoctorID == "" {
		httputil.RespondWithError(c, apperrors.BadRequest("status_type, hospital_id and doctor_id are required for SET_STATUS", nil))
		return
	}
	key, err := queuesvc.ParseKey(req.HospitalID, req.DoctorID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	if err := handler.Authorize(c, key.HospitalID, key.DoctorID); err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	status, err := h.service.SetStatus(c.Request.Context(), model.SetStatusCommand{
		Key:           key,
		Status:        model.AvailabilityStatus(req.StatusType),
		StatusMessage: req.StatusMessage,
		IsLive:        req.IsLive,
	})
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, status)
}

// GetStatus serves the now-serving board, optionally with the caller's wait.
func (h *Handler) GetStatus(c *gin.Context) {
	key, err := queuesvc.ParseKey(c.Query("hospital_id"), c.Query("doctor_id"))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	var appointmentID *uuid.UUID
	if raw := c.Query("appointment_id"); raw != "" {
		id, err := handler.ParseID(raw, "appointment_id")
		if err != nil {
			httputil.RespondWithError(c, err)
			return
		}
		appointmentID = &id
	}

	view, err := h.reader.GetQueueStatus(c.Request.Context(), key, appointmentID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, view)
}

func (h *Handler) RegisterWalkIn(c *gin.Context) {
	var req model.WalkInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, httputil.BindError(err))
		return
	}
	key, err := queuesvc.ParseKey(req.HospitalID, req.DoctorID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	if err := handler.Authorize(c, key.HospitalID, key.DoctorID); err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	a, err := h.service.RegisterWalkIn(c.Request.Context(), &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithCreated(c, a)
}

// ListToday returns the doctor's queue for today ordered by token.
func (h *Handler) ListToday(c *gin.Context) {
	key, err := queuesvc.ParseKey(c.Query("hospital_id"), c.Query("doctor_id"))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	if err := handler.Authorize(c, key.HospitalID, key.DoctorID); err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	appointments, err := h.service.ListToday(c.Request.Context(), key)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	if appointments == nil {
		appointments = []*model.Appointment{}
	}
	httputil.RespondWithSuccess(c, appointments)
}
