package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/edubatch/admission-api/internal/models"
	"github.com/edubatch/admission-api/internal/service"
	"github.com/edubatch/admission-api/pkg/response"
)

// CatalogHandler exposes the read-side endpoints.
type CatalogHandler struct {
	catalog *service.CatalogService
}

// NewCatalogHandler constructs handler.
func NewCatalogHandler(catalog *service.CatalogService) *CatalogHandler {
	return &CatalogHandler{catalog: catalog}
}

// ListBatches godoc
// @Summary List batches with remaining seats
// @Tags Catalog
// @Produce json
// @Param courseId query string false "Filter by course"
// @Param open query bool false "Only batches with an open enrollment window"
// @Param page query int false "Page number"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /batches [get]
func (h *CatalogHandler) ListBatches(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("pageSize", "20"))
	filter := models.BatchFilter{
		CourseID: c.Query("courseId"),
		OpenOnly: c.Query("open") == "true",
		Page:     page,
		PageSize: pageSize,
	}
	batches, total, err := h.catalog.ListBatches(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	pagination := &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}
	response.JSON(c, http.StatusOK, batches, pagination)
}

// GetRegistration godoc
// @Summary Get a registration with student, batch and course
// @Tags Catalog
// @Produce json
// @Param id path string true "Registration ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /registrations/{id} [get]
func (h *CatalogHandler) GetRegistration(c *gin.Context) {
	detail, err := h.catalog.GetRegistration(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// ListStudentRegistrations godoc
// @Summary List a student's registrations by email
// @Tags Catalog
// @Produce json
// @Param email query string true "Student email"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /students/registrations [get]
func (h *CatalogHandler) ListStudentRegistrations(c *gin.Context) {
	registrations, err := h.catalog.ListStudentRegistrations(c.Request.Context(), c.Query("email"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, registrations, nil)
}
