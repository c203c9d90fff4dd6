package domain

import (
	"encoding/json"
	"sort"
	"time"
)

type EventKind string

const (
	KindCreated       EventKind = "Created"
	KindStatusChanged EventKind = "StatusChanged"
	KindItemAdded     EventKind = "ItemAdded"
	KindItemRemoved   EventKind = "ItemRemoved"
	KindRolledBack    EventKind = "RolledBack"
)

// Event es un hecho inmutable del log, identificado por (AggregateID, Version).
type Event struct {
	AggregateID string
	Version     int
	Timestamp   time.Time
	Payload     Payload
}

// Kind se deriva siempre del payload para que no puedan discrepar.
func (e Event) Kind() EventKind {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.Kind()
}

// IsRollback indica si el evento es un RolledBack.
func (e Event) IsRollback() bool {
	_, ok := e.Payload.(RolledBack)
	return ok
}

// PartitionKey agrupa los eventos de un mismo pedido en la misma partición.
func (e Event) PartitionKey() string {
	return e.AggregateID
}

// Payload es un tipo suma cerrado: solo los tipos de este paquete lo implementan,
// así que cada switch sobre él enumera todas las variantes.
type Payload interface {
	Kind() EventKind
	isPayload()
}

type OrderCreated struct {
	CustomerID string      `json:"customerId"`
	Items      []OrderItem `json:"items"`
}

type StatusChanged struct {
	From OrderStatus `json:"from,omitempty"`
	To   OrderStatus `json:"to"`
}

type ItemAdded struct {
	Item OrderItem `json:"item"`
}

type ItemRemoved struct {
	ProductID string `json:"productId"`
}

type RolledBack struct {
	Descriptor RollbackDescriptor
}

// UnknownPayload conserva los eventos cuyo kind no reconoce este binario.
// La reconstrucción los salta con un aviso en vez de abortar.
type UnknownPayload struct {
	RawKind string
	Raw     json.RawMessage
}

func (OrderCreated) Kind() EventKind     { return KindCreated }
func (StatusChanged) Kind() EventKind    { return KindStatusChanged }
func (ItemAdded) Kind() EventKind        { return KindItemAdded }
func (ItemRemoved) Kind() EventKind      { return KindItemRemoved }
func (RolledBack) Kind() EventKind       { return KindRolledBack }
func (p UnknownPayload) Kind() EventKind { return EventKind(p.RawKind) }

func (OrderCreated) isPayload()   {}
func (StatusChanged) isPayload()  {}
func (ItemAdded) isPayload()      {}
func (ItemRemoved) isPayload()    {}
func (RolledBack) isPayload()     {}
func (UnknownPayload) isPayload() {}

// ---------------- Rollback ----------------

type RollbackType string

const (
	RollbackByVersion   RollbackType = "version"
	RollbackByTimestamp RollbackType = "timestamp"
)

// RollbackDescriptor es el payload de RolledBack. Solo uno de ToVersion/ToTime
// tiene sentido según Type.
//
// Broken marca un rollback por versión cuyo valor almacenado no es numérico:
// rompe la cadena de resolución, no restaura nada y no protege ninguna
// versión. RawTarget conserva el valor original para volver a serializarlo.
type RollbackDescriptor struct {
	Type      RollbackType
	ToVersion int
	ToTime    time.Time
	Broken    bool
	RawTarget string
}

// ---------------- Helpers ----------------

// SortByVersion devuelve una copia ordenada ascendentemente por versión.
func SortByVersion(events []Event) []Event {
	sorted := make([]Event, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Version < sorted[j].Version
	})
	return sorted
}

// MaxVersion devuelve la mayor versión de la lista, 0 si está vacía.
func MaxVersion(events []Event) int {
	latest := 0
	for _, e := range events {
		if e.Version > latest {
			latest = e.Version
		}
	}
	return latest
}

// UpTo filtra los eventos con versión <= version.
func UpTo(events []Event, version int) []Event {
	var out []Event
	for _, e := range events {
		if e.Version <= version {
			out = append(out, e)
		}
	}
	return out
}

// RecordedBy filtra los eventos registrados hasta el instante at (inclusive).
func RecordedBy(events []Event, at time.Time) []Event {
	var out []Event
	for _, e := range events {
		if !e.Timestamp.After(at) {
			out = append(out, e)
		}
	}
	return out
}
