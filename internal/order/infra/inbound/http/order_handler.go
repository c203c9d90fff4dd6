package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/davicafu/orderlog/internal/order/application"
	orderDomain "github.com/davicafu/orderlog/internal/order/domain"
	sharedDomain "github.com/davicafu/orderlog/internal/shared/domain"
	sharedQuery "github.com/davicafu/orderlog/internal/shared/infra/platform/query"
	"github.com/davicafu/orderlog/pkg/utils"
)

// OrderHandler encapsula los endpoints HTTP relacionados con Order.
type OrderHandler struct {
	service *application.OrderService
}

// NewOrderHandler crea un nuevo OrderHandler.
func NewOrderHandler(service *application.OrderService) *OrderHandler {
	return &OrderHandler{service: service}
}

type itemRequest struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	Price     int64  `json:"price"`
}

func (r itemRequest) toDomain() orderDomain.OrderItem {
	return orderDomain.OrderItem{ProductID: r.ProductID, Name: r.Name, Quantity: r.Quantity, Price: r.Price}
}

// --- Comandos ---

// CreateOrder endpoint POST /orders
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	var req struct {
		CustomerID string        `json:"customerId"`
		Items      []itemRequest `json:"items"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendBadRequest(c, err.Error())
		return
	}

	items := make([]orderDomain.OrderItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, it.toDomain())
	}

	order, err := h.service.CreateOrder(c.Request.Context(), req.CustomerID, items)
	if err != nil {
		writeError(c, err)
		return
	}
	utils.SendSuccess(c, http.StatusCreated, order)
}

// ChangeStatus endpoint PUT /orders/:id/status
func (h *OrderHandler) ChangeStatus(c *gin.Context) {
	var req struct {
		Status          string `json:"status"`
		ExpectedVersion *int   `json:"expectedVersion,omitempty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendBadRequest(c, err.Error())
		return
	}
	status, ok := orderDomain.ParseOrderStatus(req.Status)
	if !ok {
		utils.SendBadRequest(c, "unknown status: "+req.Status)
		return
	}

	order, err := h.service.ChangeStatus(c.Request.Context(), c.Param("id"), status, req.ExpectedVersion)
	if err != nil {
		writeError(c, err)
		return
	}
	utils.SendSuccess(c, http.StatusOK, order)
}

// AddItem endpoint POST /orders/:id/items
func (h *OrderHandler) AddItem(c *gin.Context) {
	var req struct {
		itemRequest
		ExpectedVersion *int `json:"expectedVersion,omitempty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendBadRequest(c, err.Error())
		return
	}

	order, err := h.service.AddItem(c.Request.Context(), c.Param("id"), req.toDomain(), req.ExpectedVersion)
	if err != nil {
		writeError(c, err)
		return
	}
	utils.SendSuccess(c, http.StatusOK, order)
}

// RemoveItem endpoint DELETE /orders/:id/items/:productId?expectedVersion=N
func (h *OrderHandler) RemoveItem(c *gin.Context) {
	expected, err := optionalInt(c, "expectedVersion")
	if err != nil {
		utils.SendBadRequest(c, err.Error())
		return
	}

	order, err := h.service.RemoveItem(c.Request.Context(), c.Param("id"), c.Param("productId"), expected)
	if err != nil {
		writeError(c, err)
		return
	}
	utils.SendSuccess(c, http.StatusOK, order)
}

// Rollback endpoint POST /orders/:id/rollback
func (h *OrderHandler) Rollback(c *gin.Context) {
	var req struct {
		orderDomain.RollbackRequest
		ExpectedVersion *int `json:"expectedVersion,omitempty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendBadRequest(c, err.Error())
		return
	}

	res, err := h.service.Rollback(c.Request.Context(), c.Param("id"), req.RollbackRequest, req.ExpectedVersion)
	if err != nil {
		writeError(c, err)
		return
	}
	utils.SendSuccess(c, http.StatusOK, res)
}

// --- Consultas ---

// GetOrder endpoint GET /orders/:id, con ?version=N o ?at=<RFC3339> para estados pasados.
func (h *OrderHandler) GetOrder(c *gin.Context) {
	id := c.Param("id")
	rawVersion, rawAt := c.Query("version"), c.Query("at")

	var (
		order *orderDomain.Order
		err   error
	)
	switch {
	case rawVersion != "" && rawAt != "":
		utils.SendBadRequest(c, "version and at are mutually exclusive")
		return
	case rawVersion != "":
		v, convErr := strconv.Atoi(rawVersion)
		if convErr != nil {
			utils.SendBadRequest(c, "invalid version: "+rawVersion)
			return
		}
		order, err = h.service.GetOrderAtVersion(c.Request.Context(), id, v)
	case rawAt != "":
		at, parseErr := time.Parse(time.RFC3339Nano, rawAt)
		if parseErr != nil {
			utils.SendBadRequest(c, "invalid at: "+rawAt)
			return
		}
		order, err = h.service.GetOrderAtTime(c.Request.Context(), id, at)
	default:
		order, err = h.service.GetOrder(c.Request.Context(), id)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	utils.SendSuccess(c, http.StatusOK, order)
}

// GetHistory endpoint GET /orders/:id/events
func (h *OrderHandler) GetHistory(c *gin.Context) {
	history, err := h.service.GetHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	utils.SendSuccess(c, http.StatusOK, history)
}

// ListOrders endpoint GET /orders con filtros, paginación y ordenamiento
func (h *OrderHandler) ListOrders(c *gin.Context) {
	var criterias []sharedDomain.Criteria

	// --- Filtros desde query params ---
	if raw := c.Query("status"); raw != "" {
		status, ok := orderDomain.ParseOrderStatus(raw)
		if !ok {
			utils.SendBadRequest(c, "unknown status: "+raw)
			return
		}
		criterias = append(criterias, orderDomain.StatusCriteria{Status: status})
	}
	if customerID := c.Query("customerId"); customerID != "" {
		criterias = append(criterias, orderDomain.CustomerIDCriteria{CustomerID: customerID})
	}
	minTotal, err := optionalInt64(c, "minTotal")
	if err != nil {
		utils.SendBadRequest(c, err.Error())
		return
	}
	maxTotal, err := optionalInt64(c, "maxTotal")
	if err != nil {
		utils.SendBadRequest(c, err.Error())
		return
	}
	if minTotal != nil || maxTotal != nil {
		criterias = append(criterias, orderDomain.TotalAmountRangeCriteria{Min: minTotal, Max: maxTotal})
	}

	criteria := sharedDomain.And(criterias...)

	// --- Sort ---
	sortParam := sharedQuery.Sort{Field: "id"}
	if sortField := c.Query("sort_field"); sortField != "" {
		sortParam.Field = sortField
		sortParam.Desc = c.Query("sort_desc") == "true"
	}

	// --- Paginación ---
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(sharedQuery.DefaultLimit)))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	pagination := sharedQuery.OffsetPagination{Limit: limit, Offset: offset}

	page, err := h.service.ListOrders(c.Request.Context(), criteria, pagination, sortParam)
	if err != nil {
		writeError(c, err)
		return
	}
	utils.SendSuccess(c, http.StatusOK, page)
}

// Stats endpoint GET /orders/stats
func (h *OrderHandler) Stats(c *gin.Context) {
	stats, err := h.service.Stats(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	utils.SendSuccess(c, http.StatusOK, stats)
}

// DailyTrend endpoint GET /orders/analytics/trend?from=&to= (por defecto, los últimos 7 días)
func (h *OrderHandler) DailyTrend(c *gin.Context) {
	end := time.Now().UTC()
	start := end.AddDate(0, 0, -7)

	if raw := c.Query("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			utils.SendBadRequest(c, "invalid from: "+raw)
			return
		}
		start = t
	}
	if raw := c.Query("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			utils.SendBadRequest(c, "invalid to: "+raw)
			return
		}
		end = t
	}
	if end.Before(start) {
		utils.SendBadRequest(c, "to must not be before from")
		return
	}

	trend, err := h.service.DailyTrend(c.Request.Context(), start, end)
	if err != nil {
		writeError(c, err)
		return
	}
	utils.SendSuccess(c, http.StatusOK, trend)
}

// --- Helpers ---

// writeError traduce las categorías de error del dominio a códigos HTTP.
func writeError(c *gin.Context, err error) {
	var conflict *orderDomain.ConcurrencyConflictError
	switch {
	case errors.As(err, &conflict):
		utils.SendErrorWithDetails(c, http.StatusConflict, "CONCURRENCY_CONFLICT", err.Error(),
			gin.H{"expected": conflict.Expected, "actual": conflict.Actual})
	case errors.Is(err, orderDomain.ErrAggregateNotFound):
		utils.SendNotFound(c, err.Error())
	case errors.Is(err, orderDomain.ErrInvalidRollbackTarget):
		utils.SendErrorWithDetails(c, http.StatusBadRequest, "INVALID_ROLLBACK_TARGET", err.Error(), nil)
	case errors.Is(err, orderDomain.ErrDataIntegrity):
		utils.SendErrorWithDetails(c, http.StatusInternalServerError, "DATA_INTEGRITY", err.Error(), nil)
	case orderDomain.IsBusinessRule(err):
		utils.SendErrorWithDetails(c, http.StatusUnprocessableEntity, "BUSINESS_RULE", err.Error(), nil)
	case errors.Is(err, application.ErrStatsUnavailable), errors.Is(err, application.ErrAnalyticsUnavailable):
		utils.SendError(c, http.StatusNotImplemented, err.Error())
	default:
		utils.SendInternalServerError(c, err.Error())
	}
}

func optionalInt(c *gin.Context, key string) (*int, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, errors.New("invalid " + key + ": " + raw)
	}
	return &v, nil
}

func optionalInt64(c *gin.Context, key string) (*int64, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, errors.New("invalid " + key + ": " + raw)
	}
	return &v, nil
}
