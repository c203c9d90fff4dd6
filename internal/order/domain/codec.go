package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// EventEnvelope es la forma de un evento en la frontera del store y del bus:
// { aggregateId, version, kind, timestamp, payload }.
type EventEnvelope struct {
	AggregateID string          `json:"aggregateId"`
	Version     int             `json:"version"`
	Kind        string          `json:"kind"`
	Timestamp   string          `json:"timestamp"`
	Payload     json.RawMessage `json:"payload"`
}

func (e *EventEnvelope) PartitionKey() string {
	return e.AggregateID
}

// rollbackWire es la forma serializada de RollbackDescriptor.
type rollbackWire struct {
	RollbackType  RollbackType    `json:"rollbackType"`
	RollbackValue json.RawMessage `json:"rollbackValue"`
}

// EncodePayload serializa el payload a JSON.
func EncodePayload(p Payload) (json.RawMessage, error) {
	switch v := p.(type) {
	case OrderCreated, StatusChanged, ItemAdded, ItemRemoved:
		return json.Marshal(v)
	case RolledBack:
		var value any
		switch v.Descriptor.Type {
		case RollbackByVersion:
			value = v.Descriptor.ToVersion
			if v.Descriptor.Broken {
				value = json.RawMessage(v.Descriptor.RawTarget)
			}
		case RollbackByTimestamp:
			value = v.Descriptor.ToTime.UTC().Format(time.RFC3339Nano)
		default:
			return nil, fmt.Errorf("unknown rollback type %q", v.Descriptor.Type)
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		return json.Marshal(rollbackWire{RollbackType: v.Descriptor.Type, RollbackValue: raw})
	case UnknownPayload:
		if len(v.Raw) == 0 {
			return json.RawMessage("{}"), nil
		}
		return v.Raw, nil
	case nil:
		return nil, fmt.Errorf("nil payload")
	}
	return nil, fmt.Errorf("unsupported payload type %T", p)
}

// DecodePayload reconstruye el payload a partir del kind almacenado.
// Un kind desconocido no es un error: se devuelve como UnknownPayload.
func DecodePayload(kind string, raw json.RawMessage) (Payload, error) {
	switch EventKind(kind) {
	case KindCreated:
		var p OrderCreated
		if err := decodeInto(kind, raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	case KindStatusChanged:
		var p StatusChanged
		if err := decodeInto(kind, raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	case KindItemAdded:
		var p ItemAdded
		if err := decodeInto(kind, raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	case KindItemRemoved:
		var p ItemRemoved
		if err := decodeInto(kind, raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	case KindRolledBack:
		return decodeRollback(raw)
	}
	return UnknownPayload{RawKind: kind, Raw: raw}, nil
}

func decodeInto(kind string, raw json.RawMessage, dest any) error {
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("invalid %s payload: %w", kind, err)
	}
	return nil
}

func decodeRollback(raw json.RawMessage) (Payload, error) {
	var w rollbackWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("invalid RolledBack payload: %w", err)
	}

	d := RollbackDescriptor{Type: w.RollbackType}
	switch w.RollbackType {
	case RollbackByVersion:
		// Un objetivo no numérico se conserva como cadena rota.
		v, err := parseVersionValue(w.RollbackValue)
		if err != nil {
			d.Broken = true
			d.RawTarget = string(w.RollbackValue)
			if len(w.RollbackValue) == 0 {
				d.RawTarget = "null"
			}
			break
		}
		d.ToVersion = v
	case RollbackByTimestamp:
		var s string
		if err := json.Unmarshal(w.RollbackValue, &s); err != nil {
			return nil, fmt.Errorf("invalid RolledBack timestamp: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, fmt.Errorf("invalid RolledBack timestamp: %w", err)
		}
		d.ToTime = t.UTC()
	default:
		return nil, fmt.Errorf("unknown rollback type %q", w.RollbackType)
	}
	return RolledBack{Descriptor: d}, nil
}

// parseVersionValue acepta el número como entero JSON o como string numérico.
func parseVersionValue(raw json.RawMessage) (int, error) {
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, err
	}
	return strconv.Atoi(s)
}

// ToEnvelope convierte el evento a su forma de frontera.
func ToEnvelope(e Event) (EventEnvelope, error) {
	payload, err := EncodePayload(e.Payload)
	if err != nil {
		return EventEnvelope{}, fmt.Errorf("encode event %s/%d: %w", e.AggregateID, e.Version, err)
	}
	return EventEnvelope{
		AggregateID: e.AggregateID,
		Version:     e.Version,
		Kind:        string(e.Kind()),
		Timestamp:   e.Timestamp.UTC().Format(time.RFC3339Nano),
		Payload:     payload,
	}, nil
}

// FromEnvelope hace la conversión inversa y valida versión y timestamp.
func FromEnvelope(env EventEnvelope) (Event, error) {
	if env.AggregateID == "" {
		return Event{}, fmt.Errorf("event without aggregate id")
	}
	if env.Version < 1 {
		return Event{}, fmt.Errorf("event %s has invalid version %d", env.AggregateID, env.Version)
	}
	ts, err := time.Parse(time.RFC3339Nano, env.Timestamp)
	if err != nil {
		return Event{}, fmt.Errorf("event %s/%d has invalid timestamp: %w", env.AggregateID, env.Version, err)
	}
	payload, err := DecodePayload(env.Kind, env.Payload)
	if err != nil {
		return Event{}, fmt.Errorf("event %s/%d: %w", env.AggregateID, env.Version, err)
	}
	return Event{
		AggregateID: env.AggregateID,
		Version:     env.Version,
		Timestamp:   ts.UTC(),
		Payload:     payload,
	}, nil
}

// MarshalEvent serializa el evento completo con la forma de EventEnvelope.
func MarshalEvent(e Event) ([]byte, error) {
	env, err := ToEnvelope(e)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// UnmarshalEvent es el inverso de MarshalEvent.
func UnmarshalEvent(data []byte) (Event, error) {
	var env EventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, fmt.Errorf("invalid event envelope: %w", err)
	}
	return FromEnvelope(env)
}

// MarshalJSON añade totalAmount, que nunca se guarda aparte de los items.
func (o Order) MarshalJSON() ([]byte, error) {
	type alias Order
	return json.Marshal(struct {
		alias
		TotalAmount int64 `json:"totalAmount"`
	}{alias: alias(o), TotalAmount: o.TotalAmount()})
}
