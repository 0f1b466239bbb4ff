package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	designdomain "github.com/smallbiznis/stitchery/internal/design/domain"
)

func (s *Server) ListDesigns(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	page, ok := parsePagination(c)
	if !ok {
		return
	}

	resp, err := s.designSvc.List(c.Request.Context(), userID, designdomain.ListRequest{
		Status:     strings.TrimSpace(c.Query("status")),
		Pagination: page,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) CreateDesign(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req designdomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.designSvc.Create(c.Request.Context(), userID, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

// GenerateDesign debits the generation cost and renders the image.
func (s *Server) GenerateDesign(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req designdomain.GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.designSvc.Generate(c.Request.Context(), userID, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) GetDesign(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	resp, err := s.designSvc.Get(c.Request.Context(), userID, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) UpdateDesign(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req designdomain.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.designSvc.Update(c.Request.Context(), userID, id, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DeleteDesign(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := s.designSvc.Delete(c.Request.Context(), userID, id); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) GetDesignImage(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	variant := designdomain.ImageVariant(strings.TrimSpace(c.DefaultQuery("variant", string(designdomain.ImageNormal))))
	body, obj, err := s.designSvc.OpenImage(c.Request.Context(), userID, id, variant)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	defer body.Close()

	c.Header("Cache-Control", "private, max-age=300")
	c.DataFromReader(http.StatusOK, obj.Size, obj.ContentType, body, nil)
}
