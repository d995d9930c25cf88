/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the catalog model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Catalog:
    ProductDTO, AddProductRequest, BuyersDTO, PurchaseDTO

  Purchases:
    BuyRequest, BuyResponse, RefundResponse

  Store / accounts:
    StoreDTO, AccountDTO, FaucetRequest

VALIDATION:
  Request bodies carry validator/v10 struct tags and are checked by
  decodeAndValidate before any handler logic runs. Amounts are JSON
  numbers in token units.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

// =============================================================================
// CATALOG
// =============================================================================

// ProductDTO represents a catalog entry in API responses.
type ProductDTO struct {
	Index    *uint64 `json:"index,omitempty"`
	Name     string  `json:"name"`
	Quantity uint64  `json:"quantity"`
	Price    uint64  `json:"price"`
	Exists   bool    `json:"exists"`
}

// AddProductRequest creates a product or restocks an existing one.
// Price is ignored on restock.
type AddProductRequest struct {
	Name     string `json:"name" validate:"required,max=200"`
	Quantity uint64 `json:"quantity" validate:"required,gt=0"`
	Price    uint64 `json:"price" validate:"required,gt=0"`
}

// BuyersDTO is the permanent purchase log of a product.
type BuyersDTO struct {
	Name   string   `json:"name"`
	Buyers []string `json:"buyers"`
}

// PurchaseDTO describes one customer's active purchase of a product.
type PurchaseDTO struct {
	Name          string `json:"name"`
	Customer      string `json:"customer"`
	Height        uint64 `json:"height"`
	Active        bool   `json:"active"`
	Refundable    bool   `json:"refundable"`
	CurrentHeight uint64 `json:"current_height"`
}

// =============================================================================
// PURCHASES
// =============================================================================

// BuyRequest carries the delegated approval the buyer signed for the store.
// Deadline is Unix seconds and must match the signed approval.
type BuyRequest struct {
	Amount    uint64 `json:"amount"`
	Deadline  int64  `json:"deadline" validate:"required,gt=0"`
	Signature string `json:"signature" validate:"required"`
}

// BuyResponse reports a committed purchase.
type BuyResponse struct {
	Product string `json:"product"`
	Buyer   string `json:"buyer"`
	Amount  uint64 `json:"amount"`
	Height  uint64 `json:"height"`
}

// RefundResponse reports a committed refund.
type RefundResponse struct {
	Product string `json:"product"`
	Buyer   string `json:"buyer"`
	Refund  uint64 `json:"refund"`
}

// =============================================================================
// STORE AND ACCOUNTS
// =============================================================================

// StoreDTO describes the storefront itself.
type StoreDTO struct {
	Owner        string `json:"owner"`
	Address      string `json:"address"`
	CatalogSize  uint64 `json:"catalog_size"`
	Height       uint64 `json:"height"`
	RefundWindow uint64 `json:"refund_window"`
	RefundRate   string `json:"refund_rate"`
	TokenDomain  string `json:"token_domain"`
}

// AccountDTO is a token account as seen by the Payment Authority.
type AccountDTO struct {
	Address string `json:"address"`
	Balance uint64 `json:"balance"`
	Nonce   uint64 `json:"nonce"`
}

// FaucetRequest mints test tokens. Only served when the faucet is enabled.
type FaucetRequest struct {
	Address string `json:"address" validate:"required"`
	Amount  uint64 `json:"amount" validate:"required,gt=0"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

// ValidationDetail names one rejected request field.
type ValidationDetail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}
