package market

import (
	"sync"
	"time"

	"fairprice-bot/internal/instrument"
)

type Level struct {
	Price float64
	Size  float64
}

// Book is the top of an order book for a single instrument.
type Book struct {
	Key  instrument.Key
	Time time.Time
	Bid  Level
	Ask  Level
}

func (b Book) Valid() bool {
	return b.Bid.Price > 0 && b.Ask.Price > 0 && b.Ask.Price >= b.Bid.Price
}

func (b Book) Mid() float64 {
	return (b.Bid.Price + b.Ask.Price) / 2
}

func (b Book) Spread() float64 {
	return b.Ask.Price - b.Bid.Price
}

// BookCache keeps the latest book per instrument. Updates for different
// instruments are independent; readers get no cross-instrument consistency.
type BookCache struct {
	mu    sync.RWMutex
	books map[instrument.Key]Book
}

func NewBookCache() *BookCache {
	return &BookCache{books: make(map[instrument.Key]Book)}
}

func (c *BookCache) Update(book Book) {
	c.mu.Lock()
	c.books[book.Key] = book
	c.mu.Unlock()
}

func (c *BookCache) Get(key instrument.Key) (Book, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	book, ok := c.books[key]
	return book, ok
}
