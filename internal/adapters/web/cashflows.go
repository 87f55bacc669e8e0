package web

import (
	"net/http"

	"github.com/shopspring/decimal"

	"labsales/internal/app"
	"labsales/internal/core"
)

// apiListInvoices handles GET /api/invoices?partner_id=&status=.
func (h *Handler) apiListInvoices(w http.ResponseWriter, r *http.Request) {
	partnerID, ok := queryID(w, r, "partner_id")
	if !ok {
		return
	}
	result, err := h.svc.ListInvoices(r.Context(), core.InvoiceFilter{
		PartnerID: partnerID,
		Status:    core.Status(r.URL.Query().Get("status")),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// apiGetInvoice handles GET /api/invoices/{id}.
func (h *Handler) apiGetInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	result, err := h.svc.GetInvoice(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// apiCreateReceipt handles POST /api/receipts.
// Body: { invoice_id, partner_id?, payment_method_id?, amount, memo? }
func (h *Handler) apiCreateReceipt(w http.ResponseWriter, r *http.Request) {
	var req app.ReceiptRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.InvoiceID == 0 {
		writeError(w, r, "invoice_id is required", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	result, err := h.svc.CreateReceipt(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, result)
}

// apiCreatePayment handles POST /api/payments.
// Body: { partner_id, payment_method_id?, amount, memo? }
func (h *Handler) apiCreatePayment(w http.ResponseWriter, r *http.Request) {
	var req app.PaymentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.PartnerID == 0 {
		writeError(w, r, "partner_id is required", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	result, err := h.svc.CreatePayment(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, result)
}

// apiListCashFlows handles GET /api/cash-flows?type=&partner_id=&invoice_id=&status=.
func (h *Handler) apiListCashFlows(w http.ResponseWriter, r *http.Request) {
	partnerID, ok := queryID(w, r, "partner_id")
	if !ok {
		return
	}
	invoiceID, ok := queryID(w, r, "invoice_id")
	if !ok {
		return
	}
	q := r.URL.Query()
	result, err := h.svc.ListCashFlows(r.Context(), core.CashFlowFilter{
		FlowType:  core.FlowType(q.Get("type")),
		PartnerID: partnerID,
		InvoiceID: invoiceID,
		Status:    core.Status(q.Get("status")),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// apiGetCashFlow handles GET /api/cash-flows/{id}.
func (h *Handler) apiGetCashFlow(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	result, err := h.svc.GetCashFlow(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// apiUpdateCashFlow handles PATCH /api/cash-flows/{id}.
// Body: { amount }
func (h *Handler) apiUpdateCashFlow(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var body struct {
		Amount *decimal.Decimal `json:"amount"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.Amount == nil {
		writeError(w, r, "amount is required", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	result, err := h.svc.UpdateCashFlowAmount(r.Context(), id, *body.Amount)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// apiTransitionCashFlow returns the handler for POST /api/cash-flows/{id}/{action}.
func (h *Handler) apiTransitionCashFlow(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		result, err := h.svc.TransitionCashFlow(r.Context(), id, action)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, result)
	}
}

// apiListPaymentMethods handles GET /api/payment-methods.
func (h *Handler) apiListPaymentMethods(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.ListPaymentMethods(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// apiCreatePaymentMethod handles POST /api/payment-methods.
// Body: { name, rate_method, transfer_fee, auto_confirm? }
func (h *Handler) apiCreatePaymentMethod(w http.ResponseWriter, r *http.Request) {
	var req app.PaymentMethodRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeError(w, r, "name is required", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	pm, err := h.svc.CreatePaymentMethod(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, pm)
}

// apiGetBalance handles GET /api/partners/{id}/balance.
func (h *Handler) apiGetBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	result, err := h.svc.GetPartnerBalance(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// apiReconcileBalance handles POST /api/partners/{id}/balance/reconcile.
func (h *Handler) apiReconcileBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	result, err := h.svc.ReconcileBalance(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}
