package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"labsales/internal/app"
)

// Handler holds the ApplicationService and the chi router.
type Handler struct {
	svc    app.ApplicationService
	router chi.Router
}

// NewHandler creates and wires the chi router with all routes.
func NewHandler(svc app.ApplicationService, allowedOrigins string) http.Handler {
	h := &Handler{svc: svc}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logger)
	r.Use(Recoverer)
	r.Use(CORS(allowedOrigins))
	r.Use(RequestBodyLimit(1 << 20)) // 1 MB

	r.Get("/api/health", h.health)

	// Catalog
	r.Get("/api/products", h.apiListProducts)
	r.Get("/api/fees", h.apiListFees)
	r.Get("/api/partners", h.apiListPartners)

	// Orders
	r.Get("/api/orders", h.apiListOrders)
	r.Post("/api/orders", h.apiCreateOrder)
	r.Route("/api/orders/{ref}", func(r chi.Router) {
		r.Get("/", h.apiGetOrder)
		r.Patch("/", h.apiUpdateOrder)
		r.Put("/discount", h.apiSetDiscount)
		for _, action := range []string{"draft", "validate", "reject", "trash", "process", "complete"} {
			r.Post("/"+action, h.apiTransitionOrder(action))
		}
		r.Get("/invoice", h.apiGetOrderInvoice)
		r.Post("/lines", h.apiAddLine)
		r.Post("/fees", h.apiAddFee)
	})

	// Lines, fees and parameters
	r.Patch("/api/lines/{id}", h.apiUpdateLine)
	r.Delete("/api/lines/{id}", h.apiRemoveLine)
	r.Post("/api/lines/{id}/parameters", h.apiAddLineParameter)
	r.Delete("/api/line-parameters/{id}", h.apiRemoveLineParameter)
	r.Patch("/api/order-fees/{id}", h.apiUpdateFee)
	r.Delete("/api/order-fees/{id}", h.apiRemoveFee)

	// Invoices
	r.Get("/api/invoices", h.apiListInvoices)
	r.Get("/api/invoices/{id}", h.apiGetInvoice)

	// Cash flows
	r.Post("/api/receipts", h.apiCreateReceipt)
	r.Post("/api/payments", h.apiCreatePayment)
	r.Get("/api/cash-flows", h.apiListCashFlows)
	r.Get("/api/cash-flows/{id}", h.apiGetCashFlow)
	r.Patch("/api/cash-flows/{id}", h.apiUpdateCashFlow)
	for _, action := range []string{"confirm", "reject", "refund"} {
		r.Post("/api/cash-flows/{id}/"+action, h.apiTransitionCashFlow(action))
	}
	r.Get("/api/payment-methods", h.apiListPaymentMethods)
	r.Post("/api/payment-methods", h.apiCreatePaymentMethod)

	// Partner balance
	r.Get("/api/partners/{id}/balance", h.apiGetBalance)
	r.Post("/api/partners/{id}/balance/reconcile", h.apiReconcileBalance)

	h.router = r
	return r
}

// health reports that the server is accepting requests.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// decodeJSON decodes the request body into v and returns false + writes an appropriate
// error response on failure. Returns HTTP 413 when the body exceeds the size limit set
// by RequestBodyLimit middleware; HTTP 400 for all other decode errors.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, r, "request body too large", "REQUEST_TOO_LARGE", http.StatusRequestEntityTooLarge)
			return false
		}
		writeError(w, r, "invalid JSON body: "+err.Error(), "BAD_REQUEST", http.StatusBadRequest)
		return false
	}
	return true
}

// pathID parses a positive integer URL parameter, writing 400 when it is not one.
func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, "invalid "+name+": "+chi.URLParam(r, name), "BAD_REQUEST", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// queryID parses an optional integer query parameter. Absent means zero.
func queryID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		writeError(w, r, "invalid "+name+": "+raw, "BAD_REQUEST", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}
