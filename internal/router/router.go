package router

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	rd "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pharmacy_checkout/internal/config"
	"pharmacy_checkout/internal/gateway"
	"pharmacy_checkout/internal/middleware"
	"pharmacy_checkout/internal/model"
	"pharmacy_checkout/internal/service"
)

// Services bundles what the handlers call into.
type Services struct {
	Carts     *service.CartService
	Orders    *service.OrderService
	Checkout  *service.CheckoutService
	Payments  *service.PaymentService
	Catalog   *service.CatalogService
	Addresses *service.AddressService
}

// Setup registers every HTTP route. rdb may be nil, which disables rate limiting.
func Setup(r *gin.Engine, svc Services, rdb *rd.Client, cfg config.AppConfig, logger *zap.Logger) {
	r.Use(middleware.RequestLogger(logger))
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Authorization", "Content-Type", middleware.AdminTokenHeader, middleware.RequestIDHeader},
		ExposeHeaders:   []string{middleware.RequestIDHeader},
	}))

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"msg": "pong"})
	})

	api := r.Group("/api")

	// Public
	api.GET("/medicines", listMedicines(svc.Catalog))
	api.GET("/medicines/:id", getMedicine(svc.Catalog))
	api.POST("/webhooks/gateway", gatewayWebhook(svc.Payments))

	// Operator
	admin := api.Group("", middleware.AdminToken(cfg.AdminToken))
	admin.POST("/medicines", createMedicine(svc.Catalog))
	admin.DELETE("/medicines/:id", deleteMedicine(svc.Catalog))
	admin.POST("/medicines/:id/archive", archiveMedicine(svc.Catalog))
	admin.PATCH("/orders/:number/status", updateOrderStatus(svc.Orders))
	admin.GET("/orders/:number/logs", orderLogs(svc.Orders))

	// Authenticated user
	user := api.Group("", middleware.BearerAuth(cfg.JWTSecret))
	if rdb != nil {
		user.Use(middleware.RedisRateLimit(rdb, cfg.RateLimit, cfg.RateWindow, logger))
	}
	user.GET("/cart", getCart(svc.Carts))
	user.GET("/cart/count", cartCount(svc.Carts))
	user.POST("/cart/add", addCartItem(svc.Carts))
	user.PATCH("/cart/update-item", updateCartItem(svc.Carts))
	user.POST("/cart/remove-item", removeCartItem(svc.Carts))
	user.POST("/cart/clear", clearCart(svc.Carts))
	user.PUT("/cart/address", setCartAddress(svc.Carts))

	user.POST("/orders/checkout", checkout(svc.Checkout))
	user.POST("/orders/confirm-payment", confirmPayment(svc.Payments))
	user.GET("/orders", listOrders(svc.Orders))
	user.GET("/orders/:number", getOrder(svc.Orders))
	user.GET("/orders/:number/payment-status", paymentStatus(svc.Orders))

	user.GET("/addresses", listAddresses(svc.Addresses))
	user.POST("/addresses", createAddress(svc.Addresses))
}

func ok(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{"code": 0, "data": data})
}

func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"code": status, "msg": msg})
}

// statusOf maps the service error taxonomy onto HTTP statuses.
func statusOf(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidArgument),
		errors.Is(err, service.ErrEmptyCart),
		errors.Is(err, service.ErrInvalidSignature),
		errors.Is(err, model.ErrQuantityTooLow):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, service.ErrGateway):
		return http.StatusBadGateway
	case errors.Is(err, service.ErrNotConfigured):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	status := statusOf(err)
	_ = c.Error(err)
	if status == http.StatusInternalServerError {
		fail(c, status, "internal error")
		return
	}
	fail(c, status, err.Error())
}

func currentUser(c *gin.Context) (uint, bool) {
	id, ok := middleware.UserID(c)
	if !ok {
		fail(c, http.StatusUnauthorized, "unauthenticated")
	}
	return id, ok
}

func parseID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || id == 0 {
		fail(c, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return uint(id), true
}

// bindOptionalJSON binds the body when one is present.
func bindOptionalJSON(c *gin.Context, obj any) error {
	err := c.ShouldBindJSON(obj)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// ---- catalog ----

// listMedicines lists active catalog medicines.
func listMedicines(svc *service.CatalogService) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := svc.List(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, http.StatusOK, list)
	}
}

// getMedicine returns one medicine by id.
func getMedicine(svc *service.CatalogService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := parseID(c, "id")
		if !valid {
			return
		}
		med, err := svc.Get(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, http.StatusOK, med)
	}
}

// createMedicine adds a medicine to the catalog.
func createMedicine(svc *service.CatalogService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Name                 string          `json:"name" binding:"required"`
			Manufacturer         string          `json:"manufacturer"`
			ImageURL             string          `json:"image_url"`
			Price                decimal.Decimal `json:"price"`
			MRP                  decimal.Decimal `json:"mrp"`
			Stock                *int64          `json:"stock"`
			PrescriptionRequired bool            `json:"prescription_required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, err.Error())
			return
		}
		med := &model.Medicine{
			Name:                 req.Name,
			Manufacturer:         req.Manufacturer,
			ImageURL:             req.ImageURL,
			Price:                req.Price,
			MRP:                  req.MRP,
			Stock:                req.Stock,
			PrescriptionRequired: req.PrescriptionRequired,
		}
		if err := svc.Create(c.Request.Context(), med); err != nil {
			writeError(c, err)
			return
		}
		ok(c, http.StatusCreated, med)
	}
}

// deleteMedicine hard-deletes a medicine no order references.
func deleteMedicine(svc *service.CatalogService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := parseID(c, "id")
		if !valid {
			return
		}
		if err := svc.Delete(c.Request.Context(), id); err != nil {
			writeError(c, err)
			return
		}
		ok(c, http.StatusOK, gin.H{"deleted": id})
	}
}

// archiveMedicine soft-deletes a medicine.
func archiveMedicine(svc *service.CatalogService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := parseID(c, "id")
		if !valid {
			return
		}
		if err := svc.Archive(c.Request.Context(), id); err != nil {
			writeError(c, err)
			return
		}
		ok(c, http.StatusOK, gin.H{"archived": id})
	}
}

// ---- cart ----

type cartItemView struct {
	model.CartItem
	LineTotal    decimal.Decimal `json:"line_total"`
	IsOutOfStock bool            `json:"is_out_of_stock"`
}

type cartView struct {
	*model.Cart
	Items []cartItemView `json:"items"`
}

func viewCart(cart *model.Cart) cartView {
	items := make([]cartItemView, 0, len(cart.Items))
	for i := range cart.Items {
		it := &cart.Items[i]
		items = append(items, cartItemView{CartItem: *it, LineTotal: it.LineTotal(), IsOutOfStock: it.IsOutOfStock()})
	}
	return cartView{Cart: cart, Items: items}
}

// getCart returns the caller's cart with line totals.
func getCart(svc *service.CartService) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, authed := currentUser(c)
		if !authed {
			return
		}
		cart, err := svc.Get(c.Request.Context(), userID)
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, http.StatusOK, viewCart(cart))
	}
}

// cartCount returns the number of lines and units in the cart.
func cartCount(svc *service.CartService) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, authed := currentUser(c)
		if !authed {
			return
		}
		lines, qty, err := svc.Count(c.Request.Context(), userID)
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, http.StatusOK, gin.H{"count": lines, "quantity": qty})
	}
}

// addCartItem adds quantity units of a medicine to the cart.
func addCartItem(svc *service.CartService) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, authed := currentUser(c)
		if !authed {
			return
		}
		var req struct {
			MedicineID uint `json:"medicine_id" binding:"required"`
			Quantity   *int `json:"quantity"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, err.Error())
			return
		}
		qty := 1
		if req.Quantity != nil {
			qty = *req.Quantity
		}
		item, err := svc.AddItem(c.Request.Context(), userID, req.MedicineID, qty)
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, http.StatusCreated, item)
	}
}

// updateCartItem sets a line's quantity; 0 removes the line.
func updateCartItem(svc *service.CartService) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, authed := currentUser(c)
		if !authed {
			return
		}
		var req struct {
			MedicineID uint `json:"medicine_id" binding:"required"`
			Quantity   *int `json:"quantity" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, err.Error())
			return
		}
		item, found, err := svc.UpdateItemQuantity(c.Request.Context(), userID, req.MedicineID, *req.Quantity)
		if err != nil {
			writeError(c, err)
			return
		}
		if !found {
			fail(c, http.StatusNotFound, "item not in cart")
			return
		}
		if item == nil {
			ok(c, http.StatusOK, gin.H{"removed": req.MedicineID})
			return
		}
		ok(c, http.StatusOK, item)
	}
}

// removeCartItem drops a line from the cart.
func removeCartItem(svc *service.CartService) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, authed := currentUser(c)
		if !authed {
			return
		}
		var req struct {
			MedicineID uint `json:"medicine_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, err.Error())
			return
		}
		if err := svc.RemoveItem(c.Request.Context(), userID, req.MedicineID); err != nil {
			writeError(c, err)
			return
		}
		ok(c, http.StatusOK, gin.H{"removed": req.MedicineID})
	}
}

// clearCart empties the cart.
func clearCart(svc *service.CartService) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, authed := currentUser(c)
		if !authed {
			return
		}
		if err := svc.Clear(c.Request.Context(), userID); err != nil {
			writeError(c, err)
			return
		}
		ok(c, http.StatusOK, gin.H{"cleared": true})
	}
}

// setCartAddress selects the cart's delivery address.
func setCartAddress(svc *service.CartService) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, authed := currentUser(c)
		if !authed {
			return
		}
		var req struct {
			AddressID *uint `json:"address_id"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, err.Error())
			return
		}
		cart, err := svc.SetAddress(c.Request.Context(), userID, req.AddressID)
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, http.StatusOK, viewCart(cart))
	}
}

// ---- orders ----

// checkout places an order from the cart and opens a gateway payment.
func checkout(svc *service.CheckoutService) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, authed := currentUser(c)
		if !authed {
			return
		}
		var req struct {
			AddressID *uint  `json:"address_id"`
			Notes     string `json:"notes"`
			ClearCart *bool  `json:"clear_cart"`
		}
		if err := bindOptionalJSON(c, &req); err != nil {
			fail(c, http.StatusBadRequest, err.Error())
			return
		}
		res, err := svc.Checkout(c.Request.Context(), userID, service.CheckoutRequest{
			AddressID: req.AddressID,
			Notes:     req.Notes,
			ClearCart: req.ClearCart,
		})
		if err != nil {
			if errors.Is(err, service.ErrGateway) && res != nil {
				_ = c.Error(err)
				c.JSON(http.StatusBadGateway, gin.H{
					"code": http.StatusBadGateway,
					"msg":  "payment gateway unavailable, order kept pending",
					"data": gin.H{"order": res.Order},
				})
				return
			}
			writeError(c, err)
			return
		}
		ok(c, http.StatusCreated, gin.H{"order": res.Order, "gateway_order": res.GatewayOrder})
	}
}

// confirmPayment settles a payment from the client callback.
func confirmPayment(svc *service.PaymentService) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, authed := currentUser(c)
		if !authed {
			return
		}
		var req struct {
			GatewayOrderID   string `json:"gateway_order_id" binding:"required"`
			GatewayPaymentID string `json:"gateway_payment_id" binding:"required"`
			GatewaySignature string `json:"gateway_signature" binding:"required"`
		}
		if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
			fail(c, http.StatusBadRequest, err.Error())
			return
		}
		var raw map[string]any
		if err := c.ShouldBindBodyWith(&raw, binding.JSON); err != nil {
			fail(c, http.StatusBadRequest, err.Error())
			return
		}
		txn, err := svc.ConfirmPayment(c.Request.Context(), userID, req.GatewayOrderID, req.GatewayPaymentID, req.GatewaySignature, raw)
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, http.StatusOK, txn)
	}
}

// listOrders lists the caller's orders, newest first.
func listOrders(svc *service.OrderService) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, authed := currentUser(c)
		if !authed {
			return
		}
		orders, err := svc.List(c.Request.Context(), userID)
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, http.StatusOK, orders)
	}
}

// getOrder returns one of the caller's orders.
func getOrder(svc *service.OrderService) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, authed := currentUser(c)
		if !authed {
			return
		}
		order, err := svc.Get(c.Request.Context(), userID, c.Param("number"))
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, http.StatusOK, order)
	}
}

// paymentStatus returns the order and payment status pair.
func paymentStatus(svc *service.OrderService) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, authed := currentUser(c)
		if !authed {
			return
		}
		st, err := svc.PaymentState(c.Request.Context(), userID, c.Param("number"))
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, http.StatusOK, st)
	}
}

// updateOrderStatus moves an order to a new status.
func updateOrderStatus(svc *service.OrderService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Status string `json:"status" binding:"required"`
			Notes  string `json:"notes"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, err.Error())
			return
		}
		order, err := svc.UpdateStatus(c.Request.Context(), c.Param("number"), model.OrderStatus(req.Status), req.Notes)
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, http.StatusOK, order)
	}
}

// orderLogs returns an order's audit trail.
func orderLogs(svc *service.OrderService) gin.HandlerFunc {
	return func(c *gin.Context) {
		logs, err := svc.Logs(c.Request.Context(), c.Param("number"))
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, http.StatusOK, logs)
	}
}

// ---- addresses ----

// listAddresses lists the caller's addresses.
func listAddresses(svc *service.AddressService) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, authed := currentUser(c)
		if !authed {
			return
		}
		list, err := svc.List(c.Request.Context(), userID)
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, http.StatusOK, list)
	}
}

// createAddress saves a new address for the caller.
func createAddress(svc *service.AddressService) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, authed := currentUser(c)
		if !authed {
			return
		}
		var req struct {
			AddressLine1 string `json:"address_line1" binding:"required"`
			AddressLine2 string `json:"address_line2"`
			Landmark     string `json:"landmark"`
			City         string `json:"city" binding:"required"`
			PostalCode   string `json:"postal_code" binding:"required"`
			State        string `json:"state"`
			Country      string `json:"country"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, err.Error())
			return
		}
		addr := &model.Address{
			AddressLine1: req.AddressLine1,
			AddressLine2: req.AddressLine2,
			Landmark:     req.Landmark,
			City:         req.City,
			PostalCode:   req.PostalCode,
			State:        req.State,
			Country:      req.Country,
		}
		if err := svc.Create(c.Request.Context(), userID, addr); err != nil {
			writeError(c, err)
			return
		}
		ok(c, http.StatusCreated, addr)
	}
}

// ---- gateway ----

// gatewayWebhook acknowledges every delivery whose signature verifies, so the
// gateway stops retrying it.
func gatewayWebhook(svc *service.PaymentService) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := c.GetRawData()
		if err != nil {
			fail(c, http.StatusBadRequest, "unreadable body")
			return
		}
		txn, err := svc.HandleWebhook(c.Request.Context(), body, c.GetHeader(gateway.SignatureHeader))
		if err != nil {
			writeError(c, err)
			return
		}
		data := gin.H{"received": true}
		if txn != nil {
			data["transaction_id"] = txn.ID
		}
		ok(c, http.StatusOK, data)
	}
}
