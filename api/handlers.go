/*
handlers.go - HTTP API handlers for the storefront

PURPOSE:
  Exposes the catalog engine and the token ledger via REST API. Handles
  HTTP request/response, JSON serialization, and delegates to the engine.

ENDPOINTS:
  Catalog:
    GET    /api/products                                List catalog in order
    POST   /api/products                                Add or restock (owner)
    GET    /api/products/{index}                        Product at index
    GET    /api/products/by-name/{name}                 Quantity and price
    GET    /api/products/by-name/{name}/buyers          Permanent buyer log
    GET    /api/products/by-name/{name}/purchases/{address}
                                                        Active purchase height

  Purchases:
    POST   /api/products/{index}/buy                    Buy one unit
    POST   /api/products/{index}/refund                 Refund own purchase

  Store / accounts:
    GET    /api/store                                   Owner, account, height
    GET    /api/accounts/{address}                      Token balance and nonce
    POST   /api/faucet                                  Mint test tokens (dev)

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Engine: catalog operations and queries
  - Ledger: token balances and permit nonces
  - Audience: expected audience of caller tokens

REQUEST FLOW:
  1. Authenticate caller (mutating catalog routes)
  2. Parse and validate input
  3. Call the engine
  4. Serialize response
  5. Map engine errors to HTTP status

ERROR HANDLING:
  Errors are returned as JSON {"error","code","details"}:
  - 400: Validation errors, malformed index or address
  - 401: Missing or invalid caller token
  - 402: Payment Authority rejected the operation
  - 403: Caller is not the owner
  - 404: Index out of range, faucet disabled
  - 409: Out of stock, already bought, not bought, refund expired
  - 500: Internal errors (details are logged, not returned)

SEE ALSO:
  - dto.go: Request/response data structures
  - auth.go: Caller token middleware
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/warp/storefront/catalog"
	"github.com/warp/storefront/logger"
	"github.com/warp/storefront/token"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

// FaucetConfig controls the development token faucet.
type FaucetConfig struct {
	Enabled bool
	// Limit caps a single mint. Zero means no cap.
	Limit catalog.Amount
}

// Config wires a Handler.
type Config struct {
	Engine   *catalog.Engine
	Ledger   *token.Ledger
	Audience string
	Faucet   FaucetConfig

	Metrics          http.Handler
	HealthChecks     map[string]HealthCheck
	CORSAllowOrigins []string
	Logger           *zap.Logger
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	engine   *catalog.Engine
	ledger   *token.Ledger
	audience string
	faucet   FaucetConfig

	metrics     http.Handler
	health      map[string]HealthCheck
	corsOrigins []string
	validate    *validator.Validate
	logger      *zap.Logger
}

// NewHandler creates a new handler.
func NewHandler(cfg Config) *Handler {
	l := cfg.Logger
	if l == nil {
		l = zap.NewNop()
	}
	return &Handler{
		engine:      cfg.Engine,
		ledger:      cfg.Ledger,
		audience:    cfg.Audience,
		faucet:      cfg.Faucet,
		metrics:     cfg.Metrics,
		health:      cfg.HealthChecks,
		corsOrigins: cfg.CORSAllowOrigins,
		validate:    newValidator(),
		logger:      l.Named("api"),
	}
}

// =============================================================================
// CATALOG HANDLERS
// =============================================================================

// ListProducts returns every product in catalog order.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.engine.Catalog(r.Context())
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	dtos := make([]ProductDTO, len(products))
	for i, p := range products {
		dtos[i] = toProductDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetProduct returns the product at a catalog index.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	index, ok := parseIndex(w, r)
	if !ok {
		return
	}

	p, err := h.engine.ProductAt(r.Context(), index)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTO(p))
}

// GetProductByName returns quantity and price for a name. Unknown names
// answer with zero values and exists=false, like the engine queries.
func (h *Handler) GetProductByName(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	ctx := r.Context()

	quantity, err := h.engine.QuantityOf(ctx, name)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	price, err := h.engine.PriceOf(ctx, name)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ProductDTO{
		Name:     name,
		Quantity: uint64(quantity),
		Price:    uint64(price),
		Exists:   price != 0,
	})
}

// GetBuyers returns the permanent buyer log of a product.
func (h *Handler) GetBuyers(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	buyers, err := h.engine.BuyersOf(r.Context(), name)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	out := make([]string, len(buyers))
	for i, b := range buyers {
		out[i] = b.String()
	}
	writeJSON(w, http.StatusOK, BuyersDTO{Name: name, Buyers: out})
}

// GetPurchase returns a customer's active purchase of a product.
func (h *Handler) GetPurchase(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	customer, ok := parseAddress(w, chi.URLParam(r, "address"))
	if !ok {
		return
	}
	ctx := r.Context()

	bought, err := h.engine.PurchaseHeightOf(ctx, name, customer)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	current, err := h.engine.Height(ctx)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	active := bought != 0
	writeJSON(w, http.StatusOK, PurchaseDTO{
		Name:          name,
		Customer:      customer.String(),
		Height:        uint64(bought),
		Active:        active,
		Refundable:    active && !h.engine.RefundPolicy().Expired(bought, current),
		CurrentHeight: uint64(current),
	})
}

// AddProduct creates or restocks a product. Owner only.
func (h *Handler) AddProduct(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())
	if caller != h.engine.Owner() {
		h.writeEngineError(w, r, &catalog.UnauthorizedError{Caller: caller})
		return
	}

	var req AddProductRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	ctx := r.Context()
	err := h.engine.AddProduct(ctx, caller, req.Name, catalog.Quantity(req.Quantity), catalog.Amount(req.Price))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	quantity, err := h.engine.QuantityOf(ctx, req.Name)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	price, err := h.engine.PriceOf(ctx, req.Name)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ProductDTO{
		Name:     req.Name,
		Quantity: uint64(quantity),
		Price:    uint64(price),
		Exists:   true,
	})
}

// =============================================================================
// PURCHASE HANDLERS
// =============================================================================

// BuyProduct buys one unit of the product at index for the caller.
func (h *Handler) BuyProduct(w http.ResponseWriter, r *http.Request) {
	index, ok := parseIndex(w, r)
	if !ok {
		return
	}
	var req BuyRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	ctx := r.Context()
	caller := callerFrom(ctx)
	deadline := time.Unix(req.Deadline, 0).UTC()

	err := h.engine.BuyProduct(ctx, caller, index, catalog.Amount(req.Amount), deadline, catalog.Signature(req.Signature))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	p, err := h.engine.ProductAt(ctx, index)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	height, err := h.engine.PurchaseHeightOf(ctx, p.Name, caller)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BuyResponse{
		Product: p.Name,
		Buyer:   caller.String(),
		Amount:  req.Amount,
		Height:  uint64(height),
	})
}

// RefundProduct refunds the caller's active purchase of the product at index.
func (h *Handler) RefundProduct(w http.ResponseWriter, r *http.Request) {
	index, ok := parseIndex(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	caller := callerFrom(ctx)

	// Price never changes once set, so the refund can be priced up front.
	p, err := h.engine.ProductAt(ctx, index)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	if err := h.engine.RefundProduct(ctx, caller, index); err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, RefundResponse{
		Product: p.Name,
		Buyer:   caller.String(),
		Refund:  uint64(h.engine.RefundPolicy().Amount(p.Price)),
	})
}

// =============================================================================
// STORE AND ACCOUNT HANDLERS
// =============================================================================

// GetStore describes the storefront.
func (h *Handler) GetStore(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	size, err := h.engine.CatalogSize(ctx)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	height, err := h.engine.Height(ctx)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	policy := h.engine.RefundPolicy()
	writeJSON(w, http.StatusOK, StoreDTO{
		Owner:        h.engine.Owner().String(),
		Address:      h.engine.Account().String(),
		CatalogSize:  size,
		Height:       uint64(height),
		RefundWindow: policy.Window,
		RefundRate:   policy.Rate.String(),
		TokenDomain:  h.ledger.Domain(),
	})
}

// GetAccount returns a token balance and the next permit nonce.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(w, chi.URLParam(r, "address"))
	if !ok {
		return
	}
	ctx := r.Context()

	balance, err := h.ledger.BalanceOf(ctx, addr)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	nonce, err := h.ledger.Nonce(ctx, addr)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AccountDTO{Address: addr.String(), Balance: uint64(balance), Nonce: nonce})
}

// Faucet mints tokens to an address when the faucet is enabled.
func (h *Handler) Faucet(w http.ResponseWriter, r *http.Request) {
	if !h.faucet.Enabled {
		writeError(w, http.StatusNotFound, "faucet disabled", "faucet_disabled", nil)
		return
	}
	var req FaucetRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	addr, ok := parseAddress(w, req.Address)
	if !ok {
		return
	}
	if h.faucet.Limit > 0 && catalog.Amount(req.Amount) > h.faucet.Limit {
		writeError(w, http.StatusBadRequest, "amount above faucet limit", "faucet_limit",
			map[string]uint64{"limit": uint64(h.faucet.Limit)})
		return
	}

	ctx := r.Context()
	if err := h.ledger.Mint(ctx, addr, catalog.Amount(req.Amount)); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	logger.FromContext(ctx).Info("faucet mint", zap.Stringer("to", addr), zap.Uint64("amount", req.Amount))

	balance, err := h.ledger.BalanceOf(ctx, addr)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	nonce, err := h.ledger.Nonce(ctx, addr)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AccountDTO{Address: addr.String(), Balance: uint64(balance), Nonce: nonce})
}

// Health runs every registered health check.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	failed := make(map[string]string)
	for name, check := range h.health {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "checks": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func toProductDTO(p catalog.ProductView) ProductDTO {
	index := p.Index
	return ProductDTO{
		Index:    &index,
		Name:     p.Name,
		Quantity: uint64(p.Quantity),
		Price:    uint64(p.Price),
		Exists:   true,
	}
}

func parseIndex(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	raw := chi.URLParam(r, "index")
	index, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid product index", "invalid_index", raw)
		return 0, false
	}
	return index, true
}

func parseAddress(w http.ResponseWriter, raw string) (catalog.Address, bool) {
	addr, err := catalog.ParseAddress(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid address", "invalid_address", err.Error())
		return "", false
	}
	return addr, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message, code string, details any) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code, Details: details})
}

// errorMapping is checked in order; the first sentinel that matches wins.
var errorMapping = []struct {
	err    error
	status int
	code   string
}{
	{catalog.ErrUnauthorized, http.StatusForbidden, "unauthorized_account"},
	{catalog.ErrIndexOutOfRange, http.StatusNotFound, "index_out_of_range"},
	{catalog.ErrInvalidInputs, http.StatusBadRequest, "invalid_inputs"},
	{catalog.ErrInvalidAddress, http.StatusBadRequest, "invalid_address"},
	{token.ErrZeroAddress, http.StatusBadRequest, "zero_address"},
	{catalog.ErrInsufficientAmount, http.StatusConflict, "insufficient_amount"},
	{catalog.ErrProductAlreadyBought, http.StatusConflict, "product_already_bought"},
	{catalog.ErrProductNotBought, http.StatusConflict, "product_not_bought"},
	{catalog.ErrRefundExpired, http.StatusConflict, "refund_expired"},
	{catalog.ErrQuantityOverflow, http.StatusConflict, "quantity_overflow"},
	{token.ErrSupplyOverflow, http.StatusConflict, "supply_overflow"},
	{catalog.ErrExpiredDeadline, http.StatusPaymentRequired, "expired_deadline"},
	{catalog.ErrInvalidSignature, http.StatusPaymentRequired, "invalid_signature"},
	{catalog.ErrInsufficientAuthorityBalance, http.StatusPaymentRequired, "insufficient_authority_balance"},
	{catalog.ErrInsufficientBalance, http.StatusPaymentRequired, "insufficient_balance"},
}

// errorStatus maps an engine or ledger error to an HTTP status, a stable
// code and the sentinel it matched (nil for internal errors).
func errorStatus(err error) (int, string, error) {
	for _, m := range errorMapping {
		if errors.Is(err, m.err) {
			return m.status, m.code, m.err
		}
	}
	return http.StatusInternalServerError, "internal_error", nil
}

func (h *Handler) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, sentinel := errorStatus(err)
	if sentinel == nil {
		logger.FromContext(r.Context()).Error("request failed", zap.Error(err))
		writeError(w, status, "internal error", code, nil)
		return
	}
	writeError(w, status, sentinel.Error(), code, err.Error())
}
