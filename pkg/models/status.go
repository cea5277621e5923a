package models

// OrderStatus is the canonical lifecycle state of an order. The happy path is
// pending -> confirmed -> preparing -> outfordelivery -> delivered; cancelled
// branches off only from pending or confirmed.
type OrderStatus string

const (
	StatusPending        OrderStatus = "pending"
	StatusConfirmed      OrderStatus = "confirmed"
	StatusPreparing      OrderStatus = "preparing"
	StatusOutForDelivery OrderStatus = "outfordelivery"
	StatusDelivered      OrderStatus = "delivered"
	StatusCancelled      OrderStatus = "cancelled"
)

// rank orders the happy-path states so forward jumps can be checked without
// enumerating every edge. Merchants may skip intermediate states.
var rank = map[OrderStatus]int{
	StatusPending:        0,
	StatusConfirmed:      1,
	StatusPreparing:      2,
	StatusOutForDelivery: 3,
	StatusDelivered:      4,
}

func (s OrderStatus) Valid() bool {
	if s == StatusCancelled {
		return true
	}
	_, ok := rank[s]
	return ok
}

func (s OrderStatus) IsTerminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

func (s OrderStatus) String() string {
	return string(s)
}

// CanTransition reports whether from -> to is a legal edge. Forward movement
// along the happy path is allowed (including skips); cancelled is reachable
// only from pending or confirmed; terminal states have no outgoing edges.
func CanTransition(from, to OrderStatus) bool {
	if from.IsTerminal() {
		return false
	}
	if to == StatusCancelled {
		return from == StatusPending || from == StatusConfirmed
	}
	fromRank, ok := rank[from]
	if !ok {
		return false
	}
	toRank, ok := rank[to]
	if !ok {
		return false
	}
	return toRank > fromRank
}

// Actor identifies who is requesting a transition. Customers may only take
// the cancelled edge; merchants drive the happy path.
type Actor string

const (
	ActorCustomer Actor = "customer"
	ActorMerchant Actor = "merchant"
)

// AllowedFor layers the actor rules on top of edge legality.
func AllowedFor(actor Actor, to OrderStatus) bool {
	if actor == ActorCustomer {
		return to == StatusCancelled
	}
	return true
}
