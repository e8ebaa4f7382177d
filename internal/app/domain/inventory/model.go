package inventory

import "time"

// Product is a stocked item sold or used by the clinic.
type Product struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id"`
	SKU          string    `json:"sku"`
	Name         string    `json:"name"`
	Unit         string    `json:"unit"`
	PriceCents   int64     `json:"price_cents"`
	Stock        int       `json:"stock"`
	ReorderLevel int       `json:"reorder_level"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// LowStock reports whether the product is at or below its reorder level.
func (p Product) LowStock() bool {
	return p.Stock <= p.ReorderLevel
}

// Reason classifies a stock movement.
type Reason string

const (
	ReasonPurchase   Reason = "purchase"
	ReasonSale       Reason = "sale"
	ReasonAdjustment Reason = "adjustment"
	ReasonReturn     Reason = "return"
	ReasonVoid       Reason = "void"
)

// Valid reports whether r is a known reason.
func (r Reason) Valid() bool {
	switch r {
	case ReasonPurchase, ReasonSale, ReasonAdjustment, ReasonReturn, ReasonVoid:
		return true
	}
	return false
}

// Movement is one stock change. StockAfter is the product's stock once the
// movement was applied.
type Movement struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	ProductID  string    `json:"product_id"`
	Delta      int       `json:"delta"`
	Reason     Reason    `json:"reason"`
	RefID      string    `json:"ref_id,omitempty"`
	ActorID    string    `json:"actor_id"`
	StockAfter int       `json:"stock_after"`
	CreatedAt  time.Time `json:"created_at"`
}

// Adjustment is the input of the stock adjustment procedure.
type Adjustment struct {
	TenantID  string    `json:"tenant_id"`
	ProductID string    `json:"product_id"`
	Delta     int       `json:"delta"`
	Reason    Reason    `json:"reason"`
	RefID     string    `json:"ref_id,omitempty"`
	ActorID   string    `json:"actor_id"`
	At        time.Time `json:"at"`
}
