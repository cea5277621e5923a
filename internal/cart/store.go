package cart

import (
	"sync"
	"time"

	"github.com/platewise/orderflow/pkg/models"
)

// Store is the cart collaborator the checkout core depends on. Snapshot
// freezes the cart at checkout start; Clear is called only after a confirmed
// success.
type Store interface {
	Snapshot() (*models.CartSnapshot, error)
	Clear()
}

// MemoryStore is a per-user cart held in memory. The storefront CRUD around
// it is out of scope; the checkout core only needs Snapshot and Clear.
type MemoryStore struct {
	mutex          sync.Mutex
	items          []models.CartItem
	restaurantID   string
	restaurantName string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// AddItem appends a line to the cart and records the owning restaurant from
// the first item added.
func (s *MemoryStore) AddItem(item models.CartItem, restaurantName string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.restaurantID == "" {
		s.restaurantID = item.RestaurantID
		s.restaurantName = restaurantName
	}
	for i := range s.items {
		if s.items[i].ItemID == item.ItemID {
			s.items[i].Quantity += item.Quantity
			return
		}
	}
	s.items = append(s.items, item)
}

func (s *MemoryStore) Snapshot() (*models.CartSnapshot, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	snapshot := &models.CartSnapshot{
		Items:          append([]models.CartItem(nil), s.items...),
		RestaurantID:   s.restaurantID,
		RestaurantName: s.restaurantName,
		TakenAt:        time.Now(),
	}
	if err := snapshot.Validate(); err != nil {
		return nil, err
	}
	return snapshot, nil
}

func (s *MemoryStore) Clear() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.items = nil
	s.restaurantID = ""
	s.restaurantName = ""
}

func (s *MemoryStore) Len() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.items)
}
