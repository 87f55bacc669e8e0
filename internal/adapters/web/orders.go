package web

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"labsales/internal/app"
)

// apiListProducts handles GET /api/products?category=.
func (h *Handler) apiListProducts(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.ListProducts(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// apiListFees handles GET /api/fees.
func (h *Handler) apiListFees(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.ListFees(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// apiListPartners handles GET /api/partners?customers=true.
func (h *Handler) apiListPartners(w http.ResponseWriter, r *http.Request) {
	customersOnly := strings.EqualFold(r.URL.Query().Get("customers"), "true")
	result, err := h.svc.ListPartners(r.Context(), customersOnly)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// apiListOrders handles GET /api/orders?kind=&status=&customer_id=.
func (h *Handler) apiListOrders(w http.ResponseWriter, r *http.Request) {
	customerID, ok := queryID(w, r, "customer_id")
	if !ok {
		return
	}
	q := r.URL.Query()
	result, err := h.svc.ListOrders(r.Context(), app.ListOrdersRequest{
		Kind:       q.Get("kind"),
		Status:     q.Get("status"),
		CustomerID: customerID,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// apiGetOrder handles GET /api/orders/{ref}. ref is the ID or the order number.
func (h *Handler) apiGetOrder(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.GetOrder(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// apiCreateOrder handles POST /api/orders.
// Body: { kind?, customer_id, contract_ref?, customer_po?, discount_percent?, note? }
func (h *Handler) apiCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req app.CreateOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.CustomerID == 0 {
		writeError(w, r, "customer_id is required", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	result, err := h.svc.CreateOrder(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, result)
}

// apiUpdateOrder handles PATCH /api/orders/{ref}.
func (h *Handler) apiUpdateOrder(w http.ResponseWriter, r *http.Request) {
	var req app.UpdateOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.svc.UpdateOrder(r.Context(), chi.URLParam(r, "ref"), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// apiSetDiscount handles PUT /api/orders/{ref}/discount.
// Body: { percent }
func (h *Handler) apiSetDiscount(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Percent *decimal.Decimal `json:"percent"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.Percent == nil {
		writeError(w, r, "percent is required", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	result, err := h.svc.SetDiscount(r.Context(), chi.URLParam(r, "ref"), *body.Percent)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// apiTransitionOrder returns the handler for POST /api/orders/{ref}/{action}.
func (h *Handler) apiTransitionOrder(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := h.svc.TransitionOrder(r.Context(), chi.URLParam(r, "ref"), action)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, result)
	}
}

// apiGetOrderInvoice handles GET /api/orders/{ref}/invoice.
func (h *Handler) apiGetOrderInvoice(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.GetOrderInvoice(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// apiAddLine handles POST /api/orders/{ref}/lines.
// Body: { product_id, quantity?, note? }
func (h *Handler) apiAddLine(w http.ResponseWriter, r *http.Request) {
	var req app.AddLineRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ProductID == 0 {
		writeError(w, r, "product_id is required", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	result, err := h.svc.AddLine(r.Context(), chi.URLParam(r, "ref"), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, result)
}

// apiUpdateLine handles PATCH /api/lines/{id}.
func (h *Handler) apiUpdateLine(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req app.UpdateLineRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.svc.UpdateLine(r.Context(), id, req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// apiRemoveLine handles DELETE /api/lines/{id}.
func (h *Handler) apiRemoveLine(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.svc.RemoveLine(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// apiAddLineParameter handles POST /api/lines/{id}/parameters.
// Body: { parameter_id }
func (h *Handler) apiAddLineParameter(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var body struct {
		ParameterID int64 `json:"parameter_id"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.ParameterID == 0 {
		writeError(w, r, "parameter_id is required", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	result, err := h.svc.AddLineParameter(r.Context(), id, body.ParameterID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, result)
}

// apiRemoveLineParameter handles DELETE /api/line-parameters/{id}.
func (h *Handler) apiRemoveLineParameter(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.svc.RemoveLineParameter(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// apiAddFee handles POST /api/orders/{ref}/fees.
// Body: { fee_id, quantity?, note? }
func (h *Handler) apiAddFee(w http.ResponseWriter, r *http.Request) {
	var req app.AddFeeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.FeeID == 0 {
		writeError(w, r, "fee_id is required", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	result, err := h.svc.AddFee(r.Context(), chi.URLParam(r, "ref"), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, result)
}

// apiUpdateFee handles PATCH /api/order-fees/{id}.
func (h *Handler) apiUpdateFee(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req app.UpdateFeeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.svc.UpdateFee(r.Context(), id, req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// apiRemoveFee handles DELETE /api/order-fees/{id}.
func (h *Handler) apiRemoveFee(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.svc.RemoveFee(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
