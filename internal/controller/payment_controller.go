package controller

import (
	"context"
	"net/http"

	"github.com/cassiomorais/booking-payments/internal/domain/payment"
	"github.com/cassiomorais/booking-payments/internal/middleware"
	"github.com/cassiomorais/booking-payments/internal/providers"
	"github.com/cassiomorais/booking-payments/internal/service"
	"github.com/go-chi/chi/v5"
)

// PaymentService is the part of service.PaymentService the controller uses.
type PaymentService interface {
	CreatePayment(ctx context.Context, req service.CreatePaymentRequest) (*service.CreatePaymentResult, error)
	ProcessPayment(ctx context.Context, paymentID string, opts service.ProcessOptions) (*service.ProcessResult, error)
	RefundPayment(ctx context.Context, paymentID string, opts service.RefundOptions) (*service.RefundResult, error)
	CancelPayment(ctx context.Context, paymentID string) (*payment.Intent, error)
	GetPayment(ctx context.Context, paymentID string) (*payment.Intent, error)
	ListPaymentMethods(ctx context.Context, customerID string) []*payment.Method
	ListProviders() []providers.Info
}

// PaymentController handles payment-related HTTP requests.
type PaymentController struct {
	payments PaymentService
}

// NewPaymentController creates a new PaymentController.
func NewPaymentController(payments PaymentService) *PaymentController {
	return &PaymentController{payments: payments}
}

// CreatePayment handles POST /api/v1/payments
func (h *PaymentController) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req CreatePaymentRequest
	if err := decodeAndValidate(r, &req, false); err != nil {
		writeError(w, err)
		return
	}
	if !allowedCustomer(r, req.CustomerID) {
		writeJSON(w, http.StatusForbidden, ErrorResponse{Error: "customer mismatch", Code: "forbidden"})
		return
	}

	res, err := h.payments.CreatePayment(r.Context(), req.toService())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, fromCreateResult(res))
}

// ProcessPayment handles POST /api/v1/payments/{id}/process. A declined
// payment is a 200 with success=false.
func (h *PaymentController) ProcessPayment(w http.ResponseWriter, r *http.Request) {
	if !h.ownsPayment(w, r) {
		return
	}
	var req ProcessPaymentRequest
	if err := decodeAndValidate(r, &req, true); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.payments.ProcessPayment(r.Context(), chi.URLParam(r, "id"), service.ProcessOptions{
		MethodType:        payment.MethodType(req.PaymentMethodType),
		Token:             req.Token,
		SavePaymentMethod: req.SavePaymentMethod,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fromProcessResult(res))
}

// RefundPayment handles POST /api/v1/payments/{id}/refund
func (h *PaymentController) RefundPayment(w http.ResponseWriter, r *http.Request) {
	if !h.ownsPayment(w, r) {
		return
	}
	var req RefundPaymentRequest
	if err := decodeAndValidate(r, &req, true); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.payments.RefundPayment(r.Context(), chi.URLParam(r, "id"), service.RefundOptions{
		Amount: req.Amount,
		Reason: req.Reason,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fromRefundResult(res))
}

// CancelPayment handles POST /api/v1/payments/{id}/cancel
func (h *PaymentController) CancelPayment(w http.ResponseWriter, r *http.Request) {
	if !h.ownsPayment(w, r) {
		return
	}
	p, err := h.payments.CancelPayment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FromIntent(p))
}

// GetPayment handles GET /api/v1/payments/{id}
func (h *PaymentController) GetPayment(w http.ResponseWriter, r *http.Request) {
	p, err := h.payments.GetPayment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if !allowedCustomer(r, p.CustomerID) {
		writePaymentNotFound(w)
		return
	}
	writeJSON(w, http.StatusOK, FromIntent(p))
}

// ListPaymentMethods handles GET /api/v1/payments/customer/{customerId}/methods
func (h *PaymentController) ListPaymentMethods(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "customerId")
	if !allowedCustomer(r, customerID) {
		writeJSON(w, http.StatusForbidden, ErrorResponse{Error: "customer mismatch", Code: "forbidden"})
		return
	}

	methods := h.payments.ListPaymentMethods(r.Context(), customerID)
	resp := make([]*PaymentMethodResponse, 0, len(methods))
	for _, m := range methods {
		resp = append(resp, FromMethod(m))
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListProviders handles GET /api/v1/payments/providers
func (h *PaymentController) ListProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, fromProviders(h.payments.ListProviders()))
}

// allowedCustomer reports whether the caller may act for customerID.
// Unauthenticated and service callers carry no customer and may act for any.
func allowedCustomer(r *http.Request, customerID string) bool {
	caller, ok := middleware.CustomerID(r.Context())
	return !ok || caller == customerID
}

// ownsPayment writes a 404 and returns false when a customer-scoped caller
// targets a payment belonging to someone else.
func (h *PaymentController) ownsPayment(w http.ResponseWriter, r *http.Request) bool {
	if _, ok := middleware.CustomerID(r.Context()); !ok {
		return true
	}
	p, err := h.payments.GetPayment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return false
	}
	if !allowedCustomer(r, p.CustomerID) {
		writePaymentNotFound(w)
		return false
	}
	return true
}

func writePaymentNotFound(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "payment not found", Code: "not_found"})
}
