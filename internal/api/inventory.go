package api

import (
	"net/http"

	"fulfillment-service/internal/models"

	"github.com/gin-gonic/gin"
)

type createInventoryRequest struct {
	ProductID         string `json:"product_id" binding:"required"`
	Quantity          int    `json:"quantity"`
	WarehouseLocation string `json:"warehouse_location"`
}

type updateInventoryRequest struct {
	Quantity *int `json:"quantity" binding:"required"`
}

// stockRequest is the body of verify, reserve, release and confirm
type stockRequest struct {
	OrderID string             `json:"order_id"`
	Items   []models.StockItem `json:"items"`
}

func (h *Handler) createInventory(c *gin.Context) {
	var req createInventoryRequest
	if !bindJSON(c, &req) {
		return
	}

	rec, err := h.inventory.Create(c.Request.Context(), req.ProductID, req.Quantity, req.WarehouseLocation)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, rec)
}

func (h *Handler) listInventory(c *gin.Context) {
	records, err := h.inventory.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	if records == nil {
		records = []models.InventoryRecord{}
	}

	c.JSON(http.StatusOK, gin.H{"inventory": records})
}

func (h *Handler) getInventory(c *gin.Context) {
	rec, err := h.inventory.Get(c.Request.Context(), c.Param("productId"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, rec)
}

func (h *Handler) updateInventory(c *gin.Context) {
	var req updateInventoryRequest
	if !bindJSON(c, &req) {
		return
	}

	rec, err := h.inventory.UpdateQuantity(c.Request.Context(), c.Param("productId"), *req.Quantity)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, rec)
}

func (h *Handler) verifyStock(c *gin.Context) {
	var req stockRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.inventory.Verify(c.Request.Context(), req.Items)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *Handler) reserveStock(c *gin.Context) {
	var req stockRequest
	if !bindJSON(c, &req) {
		return
	}

	if err := h.inventory.Reserve(c.Request.Context(), req.OrderID, req.Items); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) releaseStock(c *gin.Context) {
	var req stockRequest
	if !bindJSON(c, &req) {
		return
	}

	if err := h.inventory.Release(c.Request.Context(), req.OrderID, req.Items); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) confirmStock(c *gin.Context) {
	var req stockRequest
	if !bindJSON(c, &req) {
		return
	}

	if err := h.inventory.ConfirmUsage(c.Request.Context(), req.OrderID, req.Items); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}
