package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"stockbook/backend/internal/domain"
)

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":         true,
		"issue_mode": string(a.service.IssueMode()),
		"at":         time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, r, http.StatusTooManyRequests, errTooManyAttempts)
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, errInvalidCredentials) || errors.Is(err, errInactiveAccount) || errors.Is(err, errNoBusiness) {
			status = http.StatusUnauthorized
		}
		writeError(w, r, status, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCreateBusiness(w http.ResponseWriter, r *http.Request) {
	scope, actor := requestScope(r)
	var req domain.BusinessCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	business, err := a.service.CreateBusiness(r.Context(), scope, actor, req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"business": business})
}

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	scope, _ := requestScope(r)
	q := r.URL.Query()
	filter := domain.ProductFilter{
		Category:      strings.TrimSpace(q.Get("category")),
		IncludeHidden: q.Get("include_hidden") == "true",
		Limit:         parsePositiveLimit(q.Get("limit"), 200, 1000),
	}
	products, err := a.service.ListProducts(r.Context(), scope, filter)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	scope, actor := requestScope(r)
	var req domain.ProductCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	product, err := a.service.CreateProduct(r.Context(), scope, actor, req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"product": product})
}

func (a *API) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	scope, _ := requestScope(r)
	product, err := a.service.GetProduct(r.Context(), scope, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	scope, actor := requestScope(r)
	var req domain.ProductUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	product, err := a.service.UpdateProduct(r.Context(), scope, actor, chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	scope, actor := requestScope(r)
	if err := a.service.DeleteProduct(r.Context(), scope, actor, chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (a *API) handleListVendors(w http.ResponseWriter, r *http.Request) {
	scope, _ := requestScope(r)
	vendors, err := a.service.ListVendors(r.Context(), scope)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"vendors": vendors})
}

func (a *API) handleCreateVendor(w http.ResponseWriter, r *http.Request) {
	scope, actor := requestScope(r)
	var req domain.VendorCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	vendor, err := a.service.CreateVendor(r.Context(), scope, actor, req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"vendor": vendor})
}

func (a *API) handleListBanks(w http.ResponseWriter, r *http.Request) {
	scope, _ := requestScope(r)
	banks, err := a.service.ListBanks(r.Context(), scope)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"banks": banks})
}

func (a *API) handleCreateBank(w http.ResponseWriter, r *http.Request) {
	scope, actor := requestScope(r)
	var req domain.BankCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	bank, err := a.service.CreateBank(r.Context(), scope, actor, req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"bank": bank})
}

func (a *API) handleListInventory(w http.ResponseWriter, r *http.Request) {
	scope, _ := requestScope(r)
	records, err := a.service.ListInventory(r.Context(), scope)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"inventory": records})
}

func (a *API) handleGetInventory(w http.ResponseWriter, r *http.Request) {
	scope, _ := requestScope(r)
	record, err := a.service.GetInventory(r.Context(), scope, chi.URLParam(r, "productID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"inventory": record})
}

func (a *API) handleListAdjustments(w http.ResponseWriter, r *http.Request) {
	scope, _ := requestScope(r)
	filter, err := parseListFilter(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	adjustments, err := a.service.ListAdjustments(r.Context(), scope, filter)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"adjustments": adjustments})
}

func (a *API) handleCreateAdjustment(w http.ResponseWriter, r *http.Request) {
	scope, actor := requestScope(r)
	var req domain.AdjustmentCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	adjustment, err := a.service.CreateAdjustment(r.Context(), scope, actor, req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"adjustment": adjustment})
}

// handleDeleteAdjustment appends a compensating adjustment; the original row
// stays in the log.
func (a *API) handleDeleteAdjustment(w http.ResponseWriter, r *http.Request) {
	scope, actor := requestScope(r)
	reversal, err := a.service.DeleteAdjustment(r.Context(), scope, actor, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reversal": reversal})
}

func (a *API) handleListPurchases(w http.ResponseWriter, r *http.Request) {
	scope, _ := requestScope(r)
	filter, err := parseListFilter(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	purchases, err := a.service.ListPurchases(r.Context(), scope, filter)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"purchases": purchases})
}

func (a *API) handleCreatePurchase(w http.ResponseWriter, r *http.Request) {
	scope, actor := requestScope(r)
	var req domain.PurchaseCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.CreatePurchase(r.Context(), scope, actor, req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleGetPurchase(w http.ResponseWriter, r *http.Request) {
	scope, _ := requestScope(r)
	purchase, err := a.service.GetPurchase(r.Context(), scope, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"purchase": purchase})
}

func (a *API) handleUpdatePurchase(w http.ResponseWriter, r *http.Request) {
	scope, actor := requestScope(r)
	var req domain.PurchaseUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.UpdatePurchase(r.Context(), scope, actor, chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleDeletePurchase(w http.ResponseWriter, r *http.Request) {
	scope, actor := requestScope(r)
	warnings, err := a.service.DeletePurchase(r.Context(), scope, actor, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true, "warnings": warnings})
}

func (a *API) handleListSales(w http.ResponseWriter, r *http.Request) {
	scope, _ := requestScope(r)
	filter, err := parseListFilter(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	sales, err := a.service.ListSales(r.Context(), scope, filter)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sales": sales})
}

func (a *API) handleCreateSale(w http.ResponseWriter, r *http.Request) {
	scope, actor := requestScope(r)
	var req domain.SaleCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.CreateSale(r.Context(), scope, actor, req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleGetSale(w http.ResponseWriter, r *http.Request) {
	scope, _ := requestScope(r)
	sale, err := a.service.GetSale(r.Context(), scope, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
}

func (a *API) handleUpdateSale(w http.ResponseWriter, r *http.Request) {
	scope, actor := requestScope(r)
	var req domain.SaleUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.UpdateSale(r.Context(), scope, actor, chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleDeleteSale(w http.ResponseWriter, r *http.Request) {
	scope, actor := requestScope(r)
	if err := a.service.DeleteSale(r.Context(), scope, actor, chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (a *API) handleListPayments(w http.ResponseWriter, r *http.Request) {
	scope, _ := requestScope(r)
	payments, err := a.service.ListPayments(r.Context(), scope, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payments": payments})
}

func (a *API) handleRecordPayment(w http.ResponseWriter, r *http.Request) {
	scope, actor := requestScope(r)
	var req domain.PaymentCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	payment, err := a.service.RecordPayment(r.Context(), scope, actor, chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"payment": payment})
}

func (a *API) handleDeletePayment(w http.ResponseWriter, r *http.Request) {
	scope, actor := requestScope(r)
	sale, err := a.service.DeletePayment(r.Context(), scope, actor, chi.URLParam(r, "id"), chi.URLParam(r, "paymentID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true, "sale": sale})
}
