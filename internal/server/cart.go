package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	cartdomain "github.com/smallbiznis/stitchery/internal/cart/domain"
)

func (s *Server) GetCart(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	resp, err := s.cartSvc.List(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) AddCartItem(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req cartdomain.AddRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.cartSvc.Add(c.Request.Context(), userID, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) RemoveCartItem(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	itemID, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := s.cartSvc.Remove(c.Request.Context(), userID, itemID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) RemoveCartDesign(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	designID, ok := pathID(c, "design_id")
	if !ok {
		return
	}

	if err := s.cartSvc.RemoveDesign(c.Request.Context(), userID, designID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) ClearCart(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	if err := s.cartSvc.Clear(c.Request.Context(), userID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// CheckoutCart turns the cart into orders. An empty body selects the default formats.
func (s *Server) CheckoutCart(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req cartdomain.CheckoutRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	resp, err := s.cartSvc.Checkout(c.Request.Context(), userID, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}
