package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	orderdomain "github.com/smallbiznis/stitchery/internal/order/domain"
)

const maxUploadMemory = 8 << 20

func (s *Server) ListOrders(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	page, ok := parsePagination(c)
	if !ok {
		return
	}

	resp, err := s.orderSvc.List(c.Request.Context(), userID, orderdomain.ListRequest{
		Status:     strings.TrimSpace(c.Query("status")),
		Pagination: page,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// StreamOrderEvents upgrades to a websocket carrying the caller's order status changes.
func (s *Server) StreamOrderEvents(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	if s.streamer == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	s.streamer.Serve(c.Writer, c.Request, userID)
}

func (s *Server) GetOrder(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	resp, err := s.orderSvc.Get(c.Request.Context(), userID, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) RetryOrder(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	resp, err := s.orderSvc.Retry(c.Request.Context(), userID, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DownloadDeliverable(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	body, deliverable, err := s.orderSvc.OpenDeliverable(c.Request.Context(), userID, id, strings.TrimSpace(c.Param("format")))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	defer body.Close()

	c.DataFromReader(http.StatusOK, deliverable.SizeBytes, contentTypeOrDefault(deliverable.ContentType), body, attachment(deliverable.FileName))
}

func (s *Server) DownloadReceipt(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	body, order, err := s.orderSvc.Receipt(c.Request.Context(), userID, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.DataFromReader(http.StatusOK, -1, "application/pdf", body, attachment("receipt-"+order.Number+".pdf"))
}

func (s *Server) AdminListOrders(c *gin.Context) {
	page, ok := parsePagination(c)
	if !ok {
		return
	}

	resp, err := s.orderSvc.AdminList(c.Request.Context(), orderdomain.ListRequest{
		Status:     strings.TrimSpace(c.Query("status")),
		Pagination: page,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) AdminGetOrder(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	resp, err := s.orderSvc.AdminGet(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) UpdateOrderStatus(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req orderdomain.UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.orderSvc.UpdateStatus(c.Request.Context(), id, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) UploadDeliverable(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	req, closeFn, ok := s.uploadFromForm(c, id)
	if !ok {
		return
	}
	defer closeFn()
	req.Format = strings.TrimSpace(c.Param("format"))

	resp, err := s.orderSvc.UploadDeliverable(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListOrderResources(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	resp, err := s.orderSvc.ListResources(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) AddOrderResource(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	req, closeFn, ok := s.uploadFromForm(c, id)
	if !ok {
		return
	}
	defer closeFn()
	req.Description = strings.TrimSpace(c.PostForm("description"))

	resp, err := s.orderSvc.AddResource(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) DownloadOrderResource(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	resourceID, ok := pathID(c, "resource_id")
	if !ok {
		return
	}

	body, resource, err := s.orderSvc.OpenResource(c.Request.Context(), id, resourceID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	defer body.Close()

	c.DataFromReader(http.StatusOK, resource.SizeBytes, contentTypeOrDefault(resource.ContentType), body, attachment(resource.FileName))
}

func (s *Server) DeleteOrderResource(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	resourceID, ok := pathID(c, "resource_id")
	if !ok {
		return
	}

	if err := s.orderSvc.DeleteResource(c.Request.Context(), id, resourceID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// uploadFromForm reads the multipart "file" field into an upload request.
func (s *Server) uploadFromForm(c *gin.Context, orderID snowflake.ID) (orderdomain.UploadRequest, func(), bool) {
	if err := c.Request.ParseMultipartForm(maxUploadMemory); err != nil {
		AbortWithError(c, newValidationError("file", "invalid_file", "multipart form required"))
		return orderdomain.UploadRequest{}, nil, false
	}
	header, err := c.FormFile("file")
	if err != nil {
		AbortWithError(c, newValidationError("file", "invalid_file", "file is required"))
		return orderdomain.UploadRequest{}, nil, false
	}
	file, err := header.Open()
	if err != nil {
		AbortWithError(c, err)
		return orderdomain.UploadRequest{}, nil, false
	}

	uploadedBy, _ := userIDFromContext(c)
	req := orderdomain.UploadRequest{
		OrderID:     orderID,
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
		UploadedBy:  uploadedBy,
	}
	return req, func() { _ = file.Close() }, true
}

func attachment(name string) map[string]string {
	return map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", name),
	}
}

func contentTypeOrDefault(value string) string {
	if strings.TrimSpace(value) == "" {
		return "application/octet-stream"
	}
	return value
}
