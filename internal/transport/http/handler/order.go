package handler

import (
	"errors"
	"time"

	"github.com/Juan-Andres-Motta/proyecto-2-backend/internal/auth"
	"github.com/Juan-Andres-Motta/proyecto-2-backend/internal/domain"
	"github.com/Juan-Andres-Motta/proyecto-2-backend/internal/metrics"
	"github.com/Juan-Andres-Motta/proyecto-2-backend/internal/service"
	"github.com/Juan-Andres-Motta/proyecto-2-backend/pkg/mylogger"
	"github.com/Juan-Andres-Motta/proyecto-2-backend/pkg/utils"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

type createOrderItemRequest struct {
	ProductID string `json:"product_id" validate:"required,uuid"`
	Quantity  int32  `json:"quantity" validate:"required,gt=0"`
}

type createOrderRequest struct {
	CustomerID string                   `json:"customer_id" validate:"required,uuid"`
	Channel    string                   `json:"channel" validate:"required,oneof=seller_visit seller_app customer_app"`
	SellerID   *string                  `json:"seller_id" validate:"omitempty,uuid"`
	VisitID    *string                  `json:"visit_id" validate:"omitempty,uuid"`
	Items      []createOrderItemRequest `json:"items" validate:"required,min=1,dive"`
}

type allocationResponse struct {
	BatchID  uuid.UUID `json:"batch_id"`
	Quantity int32     `json:"quantity"`
}

type orderItemResponse struct {
	ProductID   uuid.UUID            `json:"product_id"`
	Quantity    int32                `json:"quantity"`
	UnitPrice   int64                `json:"unit_price"`
	LineTotal   int64                `json:"line_total"`
	Allocations []allocationResponse `json:"allocations"`
}

type orderResponse struct {
	ID          uuid.UUID           `json:"id"`
	CustomerID  uuid.UUID           `json:"customer_id"`
	Channel     string              `json:"channel"`
	SellerID    *uuid.UUID          `json:"seller_id,omitempty"`
	VisitID     *uuid.UUID          `json:"visit_id,omitempty"`
	Status      string              `json:"status"`
	TotalAmount int64               `json:"total_amount"`
	PlacedAt    time.Time           `json:"placed_at"`
	Items       []orderItemResponse `json:"items"`
}

type OrderHandler struct {
	svc      service.OrderService
	logger   *zap.Logger
	validate *validator.Validate
	metrics  *metrics.Metrics
}

func NewOrderHandler(svc service.OrderService, logger *zap.Logger, m *metrics.Metrics) *OrderHandler {
	return &OrderHandler{
		svc:      svc,
		logger:   logger,
		validate: validator.New(),
		metrics:  m,
	}
}

func (h *OrderHandler) Create(c *fiber.Ctx) error {
	input := new(createOrderRequest)

	if err := c.BodyParser(input); err != nil {
		h.logger.Warn(
			"failed to parse body in create order",
			zap.Error(err),
		)

		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "error parsing body",
		})
	}

	if err := h.validate.Struct(input); err != nil {
		h.metrics.OrdersRejected.WithLabelValues("validation").Inc()

		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"errors": utils.FormatValidationError(err),
		})
	}

	role, ok := c.Locals("role").(auth.Role)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized: missed role"})
	}

	action := auth.ActionCreateCustomerOrder
	if input.Channel != string(domain.ChannelCustomerApp) {
		action = auth.ActionCreateSellerOrder
	}

	if !auth.Can(role, action) {
		h.metrics.OrdersRejected.WithLabelValues("forbidden").Inc()

		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}

	svcInput, err := h.toServiceInput(input)
	if err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": err.Error()})
	}

	start := time.Now()

	order, err := h.svc.CreateOrder(c.UserContext(), svcInput)
	if err != nil {
		return h.mapError(c, err)
	}

	h.metrics.OrdersCreated.Inc()
	h.metrics.OrderCreateDuration.Observe(time.Since(start).Seconds())

	mylogger.Info(
		c.UserContext(),
		h.logger,
		"Order created",
		zap.String("order_id", order.ID.String()),
		zap.Int64("total_amount", order.TotalAmount),
	)

	return c.Status(fiber.StatusCreated).JSON(toOrderResponse(order))
}

func (h *OrderHandler) GetByID(c *fiber.Ctx) error {
	orderID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid order id"})
	}

	order, err := h.svc.GetOrder(c.UserContext(), orderID)
	if err != nil {
		return h.mapError(c, err)
	}

	return c.JSON(toOrderResponse(order))
}

func (h *OrderHandler) ListByCustomer(c *fiber.Ctx) error {
	customerID, err := uuid.Parse(c.Query("customer_id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "customer_id query param required"})
	}

	limit := c.QueryInt("limit", 50)
	offset := c.QueryInt("offset", 0)

	orders, err := h.svc.ListCustomerOrders(c.UserContext(), customerID, limit, offset)
	if err != nil {
		return h.mapError(c, err)
	}

	response := make([]orderResponse, 0, len(orders))
	for i := range orders {
		response = append(response, toOrderResponse(&orders[i]))
	}

	return c.JSON(fiber.Map{"orders": response})
}

func (h *OrderHandler) toServiceInput(input *createOrderRequest) (service.CreateOrderInput, error) {
	customerID, err := uuid.Parse(input.CustomerID)
	if err != nil {
		return service.CreateOrderInput{}, err
	}

	var sellerID, visitID *uuid.UUID
	if input.SellerID != nil {
		id, err := uuid.Parse(*input.SellerID)
		if err != nil {
			return service.CreateOrderInput{}, err
		}
		sellerID = &id
	}
	if input.VisitID != nil {
		id, err := uuid.Parse(*input.VisitID)
		if err != nil {
			return service.CreateOrderInput{}, err
		}
		visitID = &id
	}

	items := make([]service.CreateOrderItemInput, 0, len(input.Items))
	for _, item := range input.Items {
		productID, err := uuid.Parse(item.ProductID)
		if err != nil {
			return service.CreateOrderInput{}, err
		}

		items = append(items, service.CreateOrderItemInput{
			ProductID: productID,
			Quantity:  item.Quantity,
		})
	}

	return service.CreateOrderInput{
		CustomerID: customerID,
		Channel:    domain.CreationChannel(input.Channel),
		SellerID:   sellerID,
		VisitID:    visitID,
		Items:      items,
	}, nil
}

func (h *OrderHandler) mapError(c *fiber.Ctx, err error) error {
	var validationErr *domain.ValidationError
	var notFoundErr *domain.NotFoundError
	var outOfStockErr *domain.OutOfStockError
	var conflictErr *domain.ConcurrencyConflictError

	switch {
	case errors.As(err, &validationErr):
		h.metrics.OrdersRejected.WithLabelValues("validation").Inc()

		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": validationErr.Error(),
			"field": validationErr.Field,
		})

	case errors.As(err, &notFoundErr):
		h.metrics.OrdersRejected.WithLabelValues("not_found").Inc()

		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": notFoundErr.Error(),
		})

	case errors.As(err, &outOfStockErr):
		h.metrics.OrdersRejected.WithLabelValues("out_of_stock").Inc()

		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":      outOfStockErr.Error(),
			"product_id": outOfStockErr.ProductID,
			"requested":  outOfStockErr.Requested,
			"available":  outOfStockErr.Available,
		})

	case errors.As(err, &conflictErr):
		h.metrics.OrdersRejected.WithLabelValues("conflict").Inc()

		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": conflictErr.Error(),
		})

	case errors.Is(err, gobreaker.ErrOpenState):
		h.logger.Warn("Circuit breaker open")

		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "service temporarily unavailable",
		})
	}

	mylogger.Error(c.UserContext(), h.logger, "Order request failed", zap.Error(err))

	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "internal error",
	})
}

func toOrderResponse(order *domain.Order) orderResponse {
	items := make([]orderItemResponse, 0, len(order.Items))
	for _, item := range order.Items {
		allocations := make([]allocationResponse, 0, len(item.Allocations))
		for _, alloc := range item.Allocations {
			allocations = append(allocations, allocationResponse{
				BatchID:  alloc.BatchID,
				Quantity: alloc.Quantity,
			})
		}

		items = append(items, orderItemResponse{
			ProductID:   item.ProductID,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			LineTotal:   item.LineTotal,
			Allocations: allocations,
		})
	}

	return orderResponse{
		ID:          order.ID,
		CustomerID:  order.CustomerID,
		Channel:     string(order.Channel),
		SellerID:    order.SellerID,
		VisitID:     order.VisitID,
		Status:      string(order.Status),
		TotalAmount: order.TotalAmount,
		PlacedAt:    order.PlacedAt,
		Items:       items,
	}
}
