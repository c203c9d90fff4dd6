package domain

import (
	"errors"
	"fmt"
)

// ---------- Errores de dominio ----------
var (
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrAggregateNotFound   = errors.New("order not found")

	// Reglas de negocio: siempre de cara al cliente, nunca se reintentan.
	ErrInvalidAggregateState = errors.New("invalid order state")
	ErrInvalidItem           = errors.New("invalid item")
	ErrDuplicateItem         = errors.New("duplicate item")
	ErrItemNotFound          = errors.New("item not found")
	ErrLastItemRemoval       = errors.New("cannot remove the last item of an order")
	ErrInvalidTransition     = errors.New("invalid status transition")

	ErrInvalidRollbackTarget = errors.New("invalid rollback target")

	// El log del agregado no se puede reproducir (corrupto o mal usado).
	ErrDataIntegrity = errors.New("data integrity error")
)

// ConcurrencyConflictError se devuelve cuando otro escritor avanzó la versión primero.
type ConcurrencyConflictError struct {
	AggregateID string
	Expected    int
	Actual      int
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("concurrency conflict on order %s: expected version %d, actual %d", e.AggregateID, e.Expected, e.Actual)
}

func (e *ConcurrencyConflictError) Is(target error) bool {
	return target == ErrConcurrencyConflict
}

// InvalidTransitionError describe un par (from, to) fuera del grafo de estados.
type InvalidTransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition from %s to %s", e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// DataIntegrityError señala en qué evento se rompió la reconstrucción.
type DataIntegrityError struct {
	AggregateID string
	Version     int
	Cause       error
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("data integrity error on order %s at version %d: %v", e.AggregateID, e.Version, e.Cause)
}

func (e *DataIntegrityError) Is(target error) bool {
	return target == ErrDataIntegrity
}

func (e *DataIntegrityError) Unwrap() error {
	return e.Cause
}

// IsBusinessRule agrupa las violaciones de reglas de negocio del agregado.
// Un fallo de integridad nunca cuenta como regla de negocio aunque envuelva una.
func IsBusinessRule(err error) bool {
	if errors.Is(err, ErrDataIntegrity) {
		return false
	}
	return errors.Is(err, ErrInvalidAggregateState) ||
		errors.Is(err, ErrInvalidItem) ||
		errors.Is(err, ErrDuplicateItem) ||
		errors.Is(err, ErrItemNotFound) ||
		errors.Is(err, ErrLastItemRemoval) ||
		errors.Is(err, ErrInvalidTransition)
}
