package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	customerdomain "github.com/smallbiznis/stitchery/internal/customer/domain"
)

// ActivateCustomer registers a user on first login and grants the signup bonus once.
func (s *Server) ActivateCustomer(c *gin.Context) {
	var req customerdomain.ActivateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.customerSvc.Activate(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListCustomers(c *gin.Context) {
	page, ok := parsePagination(c)
	if !ok {
		return
	}

	resp, err := s.customerSvc.List(c.Request.Context(), customerdomain.ListRequest{
		Email:      strings.TrimSpace(c.Query("email")),
		Pagination: page,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
