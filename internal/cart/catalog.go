package cart

import (
	"sync"

	"github.com/dukerupert/cartsync/internal/domain"
)

// Catalog supplies display details for products added in guest mode.
// Lookups are cosmetic; a miss leaves the line with empty name and zero price.
type Catalog interface {
	Lookup(productID int64) (domain.CartLineItem, bool)
}

// ProductCache is a Catalog that learns product details from the carts it
// sees, so a product once returned by the server keeps its name after logout.
type ProductCache struct {
	mu       sync.RWMutex
	products map[int64]domain.CartLineItem
}

// NewProductCache creates an empty cache.
func NewProductCache() *ProductCache {
	return &ProductCache{products: make(map[int64]domain.CartLineItem)}
}

// Lookup returns the known details of productID. Quantity is always zero.
func (c *ProductCache) Lookup(productID int64) (domain.CartLineItem, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	item, ok := c.products[productID]
	return item, ok
}

// Remember records the display details of item. Items without a name are
// ignored so a bare guest line never overwrites real details.
func (c *ProductCache) Remember(item domain.CartLineItem) {
	if item.ProductID <= 0 || item.DisplayName == "" {
		return
	}
	item.Quantity = 0

	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[item.ProductID] = item
}

// Learn remembers every line of cart. It is meant to be a Store subscriber.
func (c *ProductCache) Learn(cart domain.CartAggregate) {
	for _, item := range cart.Items {
		c.Remember(item)
	}
}
