package appointment

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/opd-queue/internal/handler"
	"github.com/jwalitptl/opd-queue/internal/model"
	queuesvc "github.com/jwalitptl/opd-queue/internal/service/queue"
	"github.com/jwalitptl/opd-queue/pkg/httputil"
)

type Service interface {
	Book(ctx context.Context, req *model.BookAppointmentRequest) (*model.Appointment, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*model.Appointment, error)
	CheckIn(ctx context.Context, id uuid.UUID) (*model.Appointment, error)
	Cancel(ctx context.Context, id uuid.UUID) (*model.Appointment, error)
}

// Handler serves the reception flows that feed the queue.
type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	appointments := r.Group("/appointments")
	{
		appointments.POST("", h.CreateAppointment)
		appointments.GET("/:id", h.GetAppointment)
		appointments.POST("/:id/check-in", h.CheckIn)
		appointments.POST("/:id/cancel", h.Cancel)
	}
}

func (h *Handler) CreateAppointment(c *gin.Context) {
	var req model.BookAppointmentRequest
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

	appointment, err := h.service.Book(c.Request.Context(), &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithCreated(c, appointment)
}

func (h *Handler) GetAppointment(c *gin.Context) {
	appointment, ok := h.load(c)
	if !ok {
		return
	}
	httputil.RespondWithSuccess(c, appointment)
}

// CheckIn hands out the next token for today's queue.
func (h *Handler) CheckIn(c *gin.Context) {
	h.transition(c, h.service.CheckIn)
}

func (h *Handler) Cancel(c *gin.Context) {
	h.transition(c, h.service.Cancel)
}

func (h *Handler) transition(c *gin.Context, fn func(context.Context, uuid.UUID) (*model.Appointment, error)) {
	current, ok := h.load(c)
	if !ok {
		return
	}

	updated, err := fn(c.Request.Context(), current.ID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, updated)
}

// load fetches the path appointment and checks the caller may see it.
func (h *Handler) load(c *gin.Context) (*model.Appointment, bool) {
	id, err := handler.ParseID(c.Param("id"), "appointment ID")
	if err != nil {
		httputil.RespondWithError(c, err)
		return nil, false
	}

	appointment, err := h.service.GetAppointment(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return nil, false
	}
	if err := handler.AuthorizeAppointment(c, appointment); err != nil {
		httputil.RespondWithError(c, err)
		return nil, false
	}
	return appointment, true
}
