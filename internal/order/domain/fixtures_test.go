package domain

import "time"

var baseTime = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

var (
	itemA = OrderItem{ProductID: "A", Name: "Keyboard", Quantity: 1, Price: 100}
	itemB = OrderItem{ProductID: "B", Name: "Mouse", Quantity: 2, Price: 25}
	itemC = OrderItem{ProductID: "C", Name: "Cable", Quantity: 3, Price: 5}
)

// ev crea un evento del pedido "o1" con un timestamp de un minuto por versión.
func ev(version int, p Payload) Event {
	return Event{
		AggregateID: "o1",
		Version:     version,
		Timestamp:   baseTime.Add(time.Duration(version) * time.Minute),
		Payload:     p,
	}
}

func created(items ...OrderItem) Payload {
	return OrderCreated{CustomerID: "c1", Items: items}
}

func statusTo(s OrderStatus) Payload {
	return StatusChanged{To: s}
}

func added(it OrderItem) Payload {
	return ItemAdded{Item: it}
}

func removed(productID string) Payload {
	return ItemRemoved{ProductID: productID}
}

func rollbackTo(version int) Payload {
	return RolledBack{Descriptor: RollbackDescriptor{Type: RollbackByVersion, ToVersion: version}}
}

func rollbackAt(t time.Time) Payload {
	return RolledBack{Descriptor: RollbackDescriptor{Type: RollbackByTimestamp, ToTime: t}}
}

func intPtr(v int) *int { return &v }

func strPtr(s string) *string { return &s }

func productIDs(o *Order) []string {
	ids := make([]string, 0, len(o.Items))
	for _, it := range o.Items {
		ids = append(ids, it.ProductID)
	}
	return ids
}
