package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/edubatch/admission-api/internal/models"
	"github.com/edubatch/admission-api/internal/service"
	appErrors "github.com/edubatch/admission-api/pkg/errors"
	"github.com/edubatch/admission-api/pkg/response"
)

type registrationAdmitter interface {
	CreateRegistration(ctx context.Context, req service.RegisterStudentRequest) (*models.RegistrationDetail, error)
	ConfirmPayment(ctx context.Context, registrationID string, req service.ConfirmPaymentRequest) (*models.RegistrationDetail, error)
	CancelRegistration(ctx context.Context, registrationID string) (*models.RegistrationDetail, error)
}

// RegistrationHandler exposes the admission endpoints.
type RegistrationHandler struct {
	registrations registrationAdmitter
}

// NewRegistrationHandler constructs handler.
func NewRegistrationHandler(registrations registrationAdmitter) *RegistrationHandler {
	return &RegistrationHandler{registrations: registrations}
}

// Create godoc
// @Summary Register a student into a batch
// @Tags Registrations
// @Accept json
// @Produce json
// @Param payload body service.RegisterStudentRequest true "Registration payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /registrations [post]
func (h *RegistrationHandler) Create(c *gin.Context) {
	var req service.RegisterStudentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	detail, err := h.registrations.CreateRegistration(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, detail)
}

// ConfirmPayment godoc
// @Summary Confirm payment for a reserved registration
// @Tags Registrations
// @Accept json
// @Produce json
// @Param id path string true "Registration ID"
// @Param payload body service.ConfirmPaymentRequest true "Payment payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /registrations/{id}/confirm [post]
func (h *RegistrationHandler) ConfirmPayment(c *gin.Context) {
	var req service.ConfirmPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	detail, err := h.registrations.ConfirmPayment(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// Cancel godoc
// @Summary Cancel a registration
// @Tags Registrations
// @Produce json
// @Param id path string true "Registration ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /registrations/{id}/cancel [post]
func (h *RegistrationHandler) Cancel(c *gin.Context) {
	detail, err := h.registrations.CancelRegistration(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}
