// Package handler holds helpers shared by the HTTP handlers.
package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/opd-queue/internal/middleware"
	"github.com/jwalitptl/opd-queue/internal/model"
	apperrors "github.com/jwalitptl/opd-queue/pkg/errors"
)

// Authorize checks that the authenticated caller may act on the given
// doctor's queue at the given hospital.
func Authorize(c *gin.Context, hospitalID, doctorID uuid.UUID) error {
	claims, ok := middleware.ClaimsFromContext(c)
	if !ok {
		return apperrors.Unauthorized(nil)
	}
	if !claims.CanManage(hospitalID, doctorID) {
		return apperrors.Forbidden("not allowed to manage this doctor's queue").
			WithDetail("role", string(claims.Role))
	}
	return nil
}

// AuthorizeAppointment is Authorize for a stored appointment. A caller who may
// not manage it gets the same 404 as for a missing one.
func AuthorizeAppointment(c *gin.Context, a *model.Appointment) error {
	claims, ok := middleware.ClaimsFromContext(c)
	if !ok {
		return apperrors.Unauthorized(nil)
	}
	if !claims.CanManage(a.HospitalID, a.DoctorID) {
		return apperrors.NotFound("appointment", nil)
	}
	return nil
}

// ParseID parses a UUID path or body parameter.
func ParseID(raw, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperrors.BadRequest("invalid "+name, err)
	}
	return id, nil
}
