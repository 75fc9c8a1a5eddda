package model

import (
	"fmt"
	"time"
)

type EventKind string

const (
	EventListed    EventKind = "listed"
	EventPurchased EventKind = "purchased"
)

// Event records one committed mutation. Seq is the ledger commit order.
type Event struct {
	Seq         int64     `json:"seq"`
	ID          string    `json:"id"`
	Kind        EventKind `json:"kind"`
	ItemID      int64     `json:"item_id"`
	Seller      string    `json:"seller"`
	Buyer       string    `json:"buyer,omitempty"`
	Name        string    `json:"name"`
	Price       int64     `json:"price"`
	CommittedAt time.Time `json:"committed_at"`
}

func (e Event) String() string {
	switch e.Kind {
	case EventListed:
		return fmt.Sprintf("%s is now for sale", e.Name)
	case EventPurchased:
		return fmt.Sprintf("%s has bought %s", e.Buyer, e.Name)
	default:
		return fmt.Sprintf("unknown event %q for item %d", e.Kind, e.ItemID)
	}
}
