package domain

import (
	"fmt"
	"strings"
)

type OrderStatus string

const (
	StatusPending   OrderStatus = "PENDING"
	StatusConfirmed OrderStatus = "CONFIRMED"
	StatusShipped   OrderStatus = "SHIPPED"
	StatusDelivered OrderStatus = "DELIVERED"
	StatusCancelled OrderStatus = "CANCELLED"
)

// transitions es el grafo (acíclico) de cambios de estado permitidos.
// DELIVERED y CANCELLED son terminales.
var transitions = map[OrderStatus][]OrderStatus{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusShipped, StatusCancelled},
	StatusShipped:   {StatusDelivered},
	StatusDelivered: nil,
	StatusCancelled: nil,
}

// Valid indica si el estado pertenece al conjunto conocido.
func (s OrderStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransitionTo indica si el cambio s -> to está permitido.
func (s OrderStatus) CanTransitionTo(to OrderStatus) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// ParseOrderStatus acepta el estado sin distinguir mayúsculas.
func ParseOrderStatus(raw string) (OrderStatus, bool) {
	s := OrderStatus(strings.ToUpper(strings.TrimSpace(raw)))
	return s, s.Valid()
}

// OrderItem es una línea del pedido. Price va en unidades mínimas (céntimos).
type OrderItem struct {
	ProductID string `json:"productId"`
	Name      string `json:"name,omitempty"`
	Quantity  int    `json:"quantity"`
	Price     int64  `json:"price"`
}

// Subtotal devuelve price * quantity.
func (i OrderItem) Subtotal() int64 {
	return i.Price * int64(i.Quantity)
}

func (i OrderItem) validate() error {
	if strings.TrimSpace(i.ProductID) == "" {
		return fmt.Errorf("%w: empty product id", ErrInvalidItem)
	}
	if i.Quantity <= 0 {
		return fmt.Errorf("%w: product %s has non-positive quantity %d", ErrInvalidItem, i.ProductID, i.Quantity)
	}
	if i.Price <= 0 {
		return fmt.Errorf("%w: product %s has non-positive price %d", ErrInvalidItem, i.ProductID, i.Price)
	}
	return nil
}

// Order es el agregado reconstruido. Es un valor inmutable: cada transición
// devuelve un Order nuevo y nunca modifica el receptor.
type Order struct {
	ID         string      `json:"id"`
	CustomerID string      `json:"customerId"`
	Items      []OrderItem `json:"items"`
	Status     OrderStatus `json:"status"`
	// Version es la versión actual del log del pedido, la que se usa como
	// expectedVersion en el siguiente comando.
	Version int `json:"version"`
}

// TotalAmount se recalcula siempre a partir de los items.
func (o Order) TotalAmount() int64 {
	var total int64
	for _, it := range o.Items {
		total += it.Subtotal()
	}
	return total
}

// HasItem indica si el producto ya forma parte del pedido.
func (o Order) HasItem(productID string) bool {
	return o.indexOf(productID) >= 0
}

func (o Order) indexOf(productID string) int {
	for i, it := range o.Items {
		if it.ProductID == productID {
			return i
		}
	}
	return -1
}

// clone copia el slice de items para que el nuevo valor no comparta memoria.
func (o Order) clone() Order {
	c := o
	c.Items = make([]OrderItem, len(o.Items))
	copy(c.Items, o.Items)
	return c
}

// ---------------- Transiciones ----------------

// NewOrder crea el pedido en estado PENDING.
func NewOrder(id, customerID string, items []OrderItem) (Order, error) {
	if strings.TrimSpace(id) == "" {
		return Order{}, fmt.Errorf("%w: empty order id", ErrInvalidAggregateState)
	}
	if strings.TrimSpace(customerID) == "" {
		return Order{}, fmt.Errorf("%w: empty customer id", ErrInvalidAggregateState)
	}
	if len(items) == 0 {
		return Order{}, fmt.Errorf("%w: an order needs at least one item", ErrInvalidAggregateState)
	}

	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		if err := it.validate(); err != nil {
			return Order{}, fmt.Errorf("%w: %v", ErrInvalidAggregateState, err)
		}
		if _, dup := seen[it.ProductID]; dup {
			return Order{}, fmt.Errorf("%w: product %s listed twice", ErrInvalidAggregateState, it.ProductID)
		}
		seen[it.ProductID] = struct{}{}
	}

	o := Order{
		ID:         id,
		CustomerID: customerID,
		Items:      make([]OrderItem, len(items)),
		Status:     StatusPending,
	}
	copy(o.Items, items)
	return o, nil
}

// ChangeStatus aplica el cambio de estado. Pedir el estado actual no hace nada.
func (o Order) ChangeStatus(to OrderStatus) (Order, error) {
	if to == o.Status {
		return o, nil
	}
	if !to.Valid() || !o.Status.CanTransitionTo(to) {
		return Order{}, &InvalidTransitionError{From: o.Status, To: to}
	}
	next := o.clone()
	next.Status = to
	return next, nil
}

// AddItem añade la línea al final, preservando el orden de inserción.
func (o Order) AddItem(item OrderItem) (Order, error) {
	if err := item.validate(); err != nil {
		return Order{}, err
	}
	if o.HasItem(item.ProductID) {
		return Order{}, fmt.Errorf("%w: product %s", ErrDuplicateItem, item.ProductID)
	}
	next := o.clone()
	next.Items = append(next.Items, item)
	return next, nil
}

// RemoveItem quita la línea del producto. Un pedido nunca se queda sin items.
func (o Order) RemoveItem(productID string) (Order, error) {
	idx := o.indexOf(productID)
	if idx < 0 {
		return Order{}, fmt.Errorf("%w: product %s", ErrItemNotFound, productID)
	}
	if len(o.Items) == 1 {
		return Order{}, fmt.Errorf("%w: product %s is the only item", ErrLastItemRemoval, productID)
	}
	next := o.clone()
	next.Items = append(next.Items[:idx], next.Items[idx+1:]...)
	return next, nil
}
