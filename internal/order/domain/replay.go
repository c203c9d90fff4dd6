package domain

import "fmt"

// Rebuild reconstruye el estado actual del pedido a partir de su log.
// Devuelve (nil, nil) si la lista está vacía: el pedido no existe.
func Rebuild(events []Event) (*Order, error) {
	return Replay(events, nil)
}

// Replay es Rebuild con un hook para los eventos de kind desconocido,
// que se saltan en vez de abortar la reconstrucción.
//
// Con rollbacks en el log solo cuenta el de mayor versión (el activo). Se
// reproducen los eventos anteriores al punto de rollback que ningún rollback
// previo a ese punto haya descartado, más todo lo registrado después del
// propio rollback.
func Replay(events []Event, onSkip func(Event)) (*Order, error) {
	if len(events) == 0 {
		return nil, nil
	}

	sorted := SortByVersion(events)
	rollbacks, others := partition(sorted)
	set := others
	if len(rollbacks) > 0 {
		active := rollbacks[len(rollbacks)-1]
		var err error
		if set, err = replaySet(sorted, rollbacks, others, active); err != nil {
			return nil, err
		}
	}

	state, err := apply(set, onSkip)
	if err != nil || state == nil {
		return state, err
	}
	// La versión del agregado es la del log completo, rollbacks incluidos.
	state.Version = MaxVersion(sorted)
	return state, nil
}

// AtVersion reconstruye el estado tal y como era tras la versión dada.
func AtVersion(events []Event, version int) (*Order, error) {
	return Rebuild(UpTo(events, version))
}

func partition(sorted []Event) (rollbacks, others []Event) {
	for _, e := range sorted {
		if e.IsRollback() {
			rollbacks = append(rollbacks, e)
		} else {
			others = append(others, e)
		}
	}
	return rollbacks, others
}

// beforeRollbackPoint devuelve el criterio "anterior al punto de rollback" del
// descriptor: versión efectiva (resolviendo cadenas) o instante de corte.
func beforeRollbackPoint(sorted []Event, rb Event) (func(Event) bool, error) {
	d := rb.Payload.(RolledBack).Descriptor
	switch {
	case d.Type == RollbackByVersion && d.Broken:
		// Sin objetivo: el punto de rollback es el propio evento.
		return func(e Event) bool { return e.Version < rb.Version }, nil
	case d.Type == RollbackByVersion:
		target := ResolveEffectiveVersion(sorted, d.ToVersion)
		return func(e Event) bool { return e.Version <= target }, nil
	case d.Type == RollbackByTimestamp:
		cutoff := d.ToTime
		return func(e Event) bool { return !e.Timestamp.After(cutoff) }, nil
	}
	return nil, &DataIntegrityError{
		AggregateID: rb.AggregateID,
		Version:     rb.Version,
		Cause:       fmt.Errorf("rollback with unknown type %q", d.Type),
	}
}

func replaySet(sorted, rollbacks, others []Event, active Event) ([]Event, error) {
	inPrefix, err := beforeRollbackPoint(sorted, active)
	if err != nil {
		return nil, err
	}

	// Rollbacks que ya formaban parte del estado al que se vuelve.
	var prior []Event
	for _, rb := range rollbacks {
		if rb.Version < active.Version && inPrefix(rb) {
			prior = append(prior, rb)
		}
	}
	undone, err := skippedBy(prior, others)
	if err != nil {
		return nil, err
	}

	var set []Event
	for _, e := range others {
		switch {
		case e.Version > active.Version:
			set = append(set, e)
		case inPrefix(e) && !undone.Has(e.Version):
			set = append(set, e)
		}
	}

	if len(set) == 0 {
		return nil, &DataIntegrityError{
			AggregateID: active.AggregateID,
			Version:     active.Version,
			Cause:       fmt.Errorf("rollback leaves no events to replay"),
		}
	}
	return set, nil
}

func apply(events []Event, onSkip func(Event)) (*Order, error) {
	var state *Order
	for _, e := range events {
		next, skipped, err := applyEvent(state, e)
		if err != nil {
			return nil, &DataIntegrityError{AggregateID: e.AggregateID, Version: e.Version, Cause: err}
		}
		if skipped {
			if onSkip != nil {
				onSkip(e)
			}
			continue
		}
		next.Version = e.Version
		state = &next
	}
	return state, nil
}

func applyEvent(state *Order, e Event) (Order, bool, error) {
	if _, ok := e.Payload.(OrderCreated); !ok && state == nil {
		if _, unknown := e.Payload.(UnknownPayload); !unknown {
			return Order{}, false, fmt.Errorf("first replayed event is %q, expected %q", e.Kind(), KindCreated)
		}
	}

	switch p := e.Payload.(type) {
	case OrderCreated:
		if state != nil {
			return Order{}, false, fmt.Errorf("order created twice")
		}
		o, err := NewOrder(e.AggregateID, p.CustomerID, p.Items)
		return o, false, err
	case StatusChanged:
		o, err := state.ChangeStatus(p.To)
		return o, false, err
	case ItemAdded:
		o, err := state.AddItem(p.Item)
		return o, false, err
	case ItemRemoved:
		o, err := state.RemoveItem(p.ProductID)
		return o, false, err
	case RolledBack:
		return Order{}, false, fmt.Errorf("rollback event in replay set")
	case UnknownPayload:
		return Order{}, true, nil
	case nil:
		return Order{}, false, fmt.Errorf("event without payload")
	}
	return Order{}, false, fmt.Errorf("unsupported payload type %T", e.Payload)
}
