package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"kbring/internal/app"
	"kbring/internal/transport/http/response"
)

type JobHandler struct {
	docService *app.DocumentService
}

func NewJobHandler(docService *app.DocumentService) *JobHandler {
	return &JobHandler{docService: docService}
}

// Get returns one job's status so callers can poll for indexing completion.
func (h *JobHandler) Get(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	jobID, err := parseUintParam(c, "id")
	if err != nil || jobID == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid job id")
		return
	}

	job, err := h.docService.GetJob(userID, jobID)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrJobNotFound):
			response.Error(c, http.StatusNotFound, response.CodeJobNotFound, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "get job failed")
		}
		return
	}

	response.OK(c, job)
}

func (h *JobHandler) List(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if parsed, parseErr := strconv.Atoi(raw); parseErr == nil {
			limit = parsed
		}
	}

	jobs, err := h.docService.ListJobs(userID, limit)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "list jobs failed")
		return
	}

	response.OK(c, jobs)
}
