package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	featuredomain "github.com/smallbiznis/stitchery/internal/feature/domain"
)

type attachFeatureRequest struct {
	FeatureID snowflake.ID `json:"feature_id"`
}

func (s *Server) ListActiveFeatures(c *gin.Context) {
	resp, err := s.featureSvc.List(c.Request.Context(), featuredomain.ListRequest{
		ActiveOnly: true,
		Category:   featuredomain.Category(strings.TrimSpace(c.Query("category"))),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListAllFeatures(c *gin.Context) {
	active, err := parseOptionalBool(c.Query("active"))
	if err != nil {
		AbortWithError(c, newValidationError("active", "invalid_active", "invalid active"))
		return
	}

	resp, err := s.featureSvc.List(c.Request.Context(), featuredomain.ListRequest{
		ActiveOnly: active != nil && *active,
		Category:   featuredomain.Category(strings.TrimSpace(c.Query("category"))),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) CreateFeature(c *gin.Context) {
	var req featuredomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.featureSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) GetFeature(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	resp, err := s.featureSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) UpdateFeature(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req featuredomain.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.featureSvc.Update(c.Request.Context(), id, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DeactivateFeature(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	resp, err := s.featureSvc.Deactivate(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) FeatureStats(c *gin.Context) {
	resp, err := s.featureSvc.Stats(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListDesignFeatures(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	designID, ok := pathID(c, "id")
	if !ok {
		return
	}

	resp, err := s.featureSvc.ListApplied(c.Request.Context(), userID, designID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) AttachDesignFeature(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	designID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req attachFeatureRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.FeatureID <= 0 {
		AbortWithError(c, newValidationError("feature_id", "invalid_feature_id", "invalid feature_id"))
		return
	}

	resp, err := s.featureSvc.Attach(c.Request.Context(), userID, designID, req.FeatureID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DetachDesignFeature(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	designID, ok := pathID(c, "id")
	if !ok {
		return
	}
	featureID, ok := pathID(c, "feature_id")
	if !ok {
		return
	}

	resp, err := s.featureSvc.Detach(c.Request.Context(), userID, designID, featureID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
