package model

import "time"

type ItemStatus string

const (
	ItemStatusOnSale ItemStatus = "on_sale"
	ItemStatusSold   ItemStatus = "sold"
)

// Item is a listed good. Everything except Buyer and SoldAt is fixed at listing time.
type Item struct {
	ID          int64      `json:"id"`
	Seller      string     `json:"seller"`
	Buyer       *string    `json:"buyer,omitempty"` // Nullable
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Price       int64      `json:"price"`
	CreatedAt   time.Time  `json:"created_at"`
	SoldAt      *time.Time `json:"sold_at,omitempty"`
}

// Status is derived from Buyer: an item is on sale until someone buys it.
func (i Item) Status() ItemStatus {
	if i.Buyer == nil {
		return ItemStatusOnSale
	}
	return ItemStatusSold
}

func (i Item) ForSale() bool {
	return i.Status() == ItemStatusOnSale
}

// Receipt is returned to the buyer of a successful purchase.
type Receipt struct {
	ID          string    `json:"id"`
	ItemID      int64     `json:"item_id"`
	Seller      string    `json:"seller"`
	Buyer       string    `json:"buyer"`
	Price       int64     `json:"price"`
	Tendered    int64     `json:"tendered"`
	Refunded    int64     `json:"refunded"`
	EventSeq    int64     `json:"event_seq"`
	PurchasedAt time.Time `json:"purchased_at"`
}

type Account struct {
	ID      string `json:"id"`
	Balance int64  `json:"balance"`
}
