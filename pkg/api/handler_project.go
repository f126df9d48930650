package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/harrowgate/conductor/pkg/store"
)

// Projects group related Goals together but carry no
// behavior of their own; these handlers are a thin pass-through to the
// store.

func (s *Server) createProject(c *gin.Context) {
	var req struct {
		Name        string `json:"name" binding:"required"`
		Description string `json:"description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	project, err := s.store.CreateProject(c.Request.Context(), store.CreateProjectParams{
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, project)
}

func (s *Server) listProjects(c *gin.Context) {
	projects, err := s.store.ListProjects(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, projects)
}

func (s *Server) assignGoalProject(c *gin.Context) {
	var req struct {
		ProjectID string `json:"project_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	if err := s.store.AssignGoalToProject(c.Request.Context(), c.Param("goalID"), req.ProjectID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
