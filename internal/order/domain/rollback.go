package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// VersionSet es un conjunto de versiones.
type VersionSet map[int]struct{}

func (s VersionSet) Has(v int) bool {
	_, ok := s[v]
	return ok
}

// Sorted devuelve las versiones en orden ascendente.
func (s VersionSet) Sorted() []int {
	out := make([]int, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

// RollbackRequest es la petición tal y como llega de la capa de comandos.
// Debe venir exactamente uno de los dos campos.
type RollbackRequest struct {
	ToVersion   *int    `json:"toVersion,omitempty"`
	ToTimestamp *string `json:"toTimestamp,omitempty"`
}

// RollbackInfo son los datos derivados en lectura de un RolledBack.
type RollbackInfo struct {
	Version          int   `json:"version"`
	EffectiveVersion int   `json:"effectiveVersion,omitempty"`
	EventsUndone     int   `json:"eventsUndone"`
	SkippedVersions  []int `json:"skippedVersions"`
}

// ResolveEffectiveVersion sigue la cadena cuando la versión pedida es a su vez
// un rollback por versión, hasta caer en un evento normal o romperse la cadena
// (versión inexistente, rollback por timestamp o con objetivo no numérico).
func ResolveEffectiveVersion(events []Event, requested int) int {
	byVersion := make(map[int]Event, len(events))
	for _, e := range events {
		byVersion[e.Version] = e
	}

	candidate := requested
	visited := make(map[int]struct{})
	for {
		if _, seen := visited[candidate]; seen {
			return candidate
		}
		visited[candidate] = struct{}{}

		e, ok := byVersion[candidate]
		if !ok {
			return candidate
		}
		rb, ok := e.Payload.(RolledBack)
		if !ok || rb.Descriptor.Type != RollbackByVersion || rb.Descriptor.Broken {
			return candidate
		}
		candidate = rb.Descriptor.ToVersion
	}
}

// ComputeSkippedVersions une, para todos los rollbacks del log (no solo el
// último), las versiones de eventos normales que quedaron entre el objetivo del
// rollback y el propio rollback. Ninguna podrá ser objetivo de un rollback futuro.
func ComputeSkippedVersions(events []Event) VersionSet {
	rollbacks, others := partition(SortByVersion(events))
	set := VersionSet{}
	for _, rb := range rollbacks {
		// Un rollback de tipo desconocido no protege ninguna versión.
		s, err := skippedByOne(rb, others)
		if err != nil {
			continue
		}
		for v := range s {
			set[v] = struct{}{}
		}
	}
	return set
}

func skippedBy(rollbacks, others []Event) (VersionSet, error) {
	set := VersionSet{}
	for _, rb := range rollbacks {
		s, err := skippedByOne(rb, others)
		if err != nil {
			return nil, err
		}
		for v := range s {
			set[v] = struct{}{}
		}
	}
	return set, nil
}

// skippedByOne calcula el intervalo abierto (objetivo, rb.Version) restringido a
// eventos normales existentes. Para rollbacks por timestamp el intervalo son los
// eventos registrados después del corte y antes del rollback.
func skippedByOne(rb Event, others []Event) (VersionSet, error) {
	d := rb.Payload.(RolledBack).Descriptor
	set := VersionSet{}
	if d.Broken {
		return set, nil
	}
	for _, e := range others {
		if e.Version >= rb.Version {
			continue
		}
		switch d.Type {
		case RollbackByVersion:
			if e.Version > d.ToVersion {
				set[e.Version] = struct{}{}
			}
		case RollbackByTimestamp:
			if e.Timestamp.After(d.ToTime) {
				set[e.Version] = struct{}{}
			}
		default:
			return nil, &DataIntegrityError{
				AggregateID: rb.AggregateID,
				Version:     rb.Version,
				Cause:       fmt.Errorf("rollback with unknown type %q", d.Type),
			}
		}
	}
	return set, nil
}

// ParseRollbackRequest valida la forma de la petición y la convierte en descriptor.
// Un campo presente cuenta aunque venga vacío.
func ParseRollbackRequest(req RollbackRequest) (RollbackDescriptor, error) {
	hasVersion := req.ToVersion != nil
	hasTimestamp := req.ToTimestamp != nil

	switch {
	case hasVersion && hasTimestamp:
		return RollbackDescriptor{}, fmt.Errorf("%w: toVersion and toTimestamp are mutually exclusive", ErrInvalidRollbackTarget)
	case !hasVersion && !hasTimestamp:
		return RollbackDescriptor{}, fmt.Errorf("%w: one of toVersion or toTimestamp is required", ErrInvalidRollbackTarget)
	case hasVersion:
		if *req.ToVersion < 1 {
			return RollbackDescriptor{}, fmt.Errorf("%w: toVersion must be >= 1, got %d", ErrInvalidRollbackTarget, *req.ToVersion)
		}
		return RollbackDescriptor{Type: RollbackByVersion, ToVersion: *req.ToVersion}, nil
	}

	t, err := parseInstant(*req.ToTimestamp)
	if err != nil {
		return RollbackDescriptor{}, fmt.Errorf("%w: toTimestamp %q is not an ISO-8601 instant", ErrInvalidRollbackTarget, *req.ToTimestamp)
	}
	return RollbackDescriptor{Type: RollbackByTimestamp, ToTime: t}, nil
}

// parseInstant acepta RFC 3339 y la fecha sola ISO-8601, que se toma como
// medianoche UTC.
func parseInstant(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC(), nil
	}
	return time.Parse(time.DateOnly, raw)
}

// ValidateRollbackRequest comprueba la petición contra el log actual y devuelve
// el descriptor a registrar. Rechaza objetivos fuera de rango, objetivos
// (pedidos o resueltos) que algún rollback anterior ya saltó, y cortes que no
// dejan eventos que reproducir.
func ValidateRollbackRequest(events []Event, req RollbackRequest) (RollbackDescriptor, error) {
	d, err := ParseRollbackRequest(req)
	if err != nil {
		return RollbackDescriptor{}, err
	}
	if len(events) == 0 {
		return RollbackDescriptor{}, fmt.Errorf("%w: order has no events", ErrInvalidRollbackTarget)
	}

	sorted := SortByVersion(events)
	latest := MaxVersion(sorted)
	skipped := ComputeSkippedVersions(sorted)

	switch d.Type {
	case RollbackByVersion:
		if d.ToVersion > latest {
			return RollbackDescriptor{}, fmt.Errorf("%w: version %d is beyond current version %d", ErrInvalidRollbackTarget, d.ToVersion, latest)
		}
		if skipped.Has(d.ToVersion) {
			return RollbackDescriptor{}, fmt.Errorf("%w: version %d was skipped by a previous rollback", ErrInvalidRollbackTarget, d.ToVersion)
		}
		if resolved := ResolveEffectiveVersion(sorted, d.ToVersion); skipped.Has(resolved) {
			return RollbackDescriptor{}, fmt.Errorf("%w: version %d resolves to %d, which was skipped by a previous rollback", ErrInvalidRollbackTarget, d.ToVersion, resolved)
		}
	case RollbackByTimestamp:
		recorded := RecordedBy(sorted, d.ToTime)
		if len(recorded) == 0 {
			return RollbackDescriptor{}, fmt.Errorf("%w: no events recorded at or before %s", ErrInvalidRollbackTarget, d.ToTime.Format(time.RFC3339Nano))
		}
		last := recorded[len(recorded)-1].Version
		if resolved := ResolveEffectiveVersion(sorted, last); skipped.Has(resolved) {
			return RollbackDescriptor{}, fmt.Errorf("%w: state at %s (version %d) was skipped by a previous rollback", ErrInvalidRollbackTarget, d.ToTime.Format(time.RFC3339Nano), resolved)
		}
	}

	// Simulación: el rollback debe dejar un pedido reconstruible.
	probe := append(sorted[:len(sorted):len(sorted)], Event{
		AggregateID: sorted[0].AggregateID,
		Version:     latest + 1,
		Timestamp:   sorted[len(sorted)-1].Timestamp,
		Payload:     RolledBack{Descriptor: d},
	})
	state, err := Rebuild(probe)
	if err != nil || state == nil {
		return RollbackDescriptor{}, fmt.Errorf("%w: no events satisfy the rollback criteria", ErrInvalidRollbackTarget)
	}
	return d, nil
}

// DescribeRollback calcula los datos derivados de un RolledBack concreto.
func DescribeRollback(events []Event, rb Event) RollbackInfo {
	sorted := SortByVersion(events)
	_, others := partition(sorted)

	info := RollbackInfo{Version: rb.Version, SkippedVersions: []int{}}
	payload, ok := rb.Payload.(RolledBack)
	if !ok {
		return info
	}
	if payload.Descriptor.Type == RollbackByVersion && !payload.Descriptor.Broken {
		info.EffectiveVersion = ResolveEffectiveVersion(sorted, payload.Descriptor.ToVersion)
	}
	if s, err := skippedByOne(rb, others); err == nil {
		info.SkippedVersions = s.Sorted()
		info.EventsUndone = len(s)
	}
	return info
}
