package domain

import (
	"strings"

	shared "github.com/davicafu/orderlog/internal/shared/domain"
)

// --- Criterios específicos para el dominio Order ---

// StatusCriteria busca pedidos por estado.
type StatusCriteria struct {
	Status OrderStatus
}

// ToConditions implementa la interfaz shared.Criteria.
func (c StatusCriteria) ToConditions() []shared.Criterion {
	return []shared.Criterion{
		{Field: "status", Op: shared.OpEq, Value: c.Status},
	}
}

// -----------------------------------------------------------

// CustomerIDCriteria busca pedidos de un cliente.
type CustomerIDCriteria struct {
	CustomerID string
}

func (c CustomerIDCriteria) ToConditions() []shared.Criterion {
	return []shared.Criterion{
		{Field: "customer_id", Op: shared.OpEq, Value: c.CustomerID},
	}
}

// -----------------------------------------------------------

// TotalAmountRangeCriteria filtra por importe total. Los dos extremos son opcionales.
type TotalAmountRangeCriteria struct {
	Min *int64
	Max *int64
}

func (c TotalAmountRangeCriteria) ToConditions() []shared.Criterion {
	var conds []shared.Criterion
	if c.Min != nil {
		conds = append(conds, shared.Criterion{Field: "total_amount", Op: shared.OpGte, Value: *c.Min})
	}
	if c.Max != nil {
		conds = append(conds, shared.Criterion{Field: "total_amount", Op: shared.OpLte, Value: *c.Max})
	}
	return conds
}

// -----------------------------------------------------------

// Matches evalúa los criterios contra un pedido ya reconstruido. El estado de
// un pedido solo existe en memoria (se deriva del log), así que el filtrado no
// se puede delegar a la base de datos.
func Matches(o Order, c shared.Criteria) bool {
	conds := shared.Conditions(c)
	if len(conds) == 0 {
		return true
	}

	matched := false
	for _, cond := range conds {
		ok := matchCondition(o, cond)
		if isOr(c) {
			matched = matched || ok
			continue
		}
		if !ok {
			return false
		}
	}
	if isOr(c) {
		return matched
	}
	return true
}

func isOr(c shared.Criteria) bool {
	comp, ok := c.(shared.CompositeCriteria)
	return ok && comp.Operator == shared.OpOr
}

func matchCondition(o Order, cond shared.Criterion) bool {
	switch cond.Field {
	case "status":
		return compareStrings(string(o.Status), cond.Op, toString(cond.Value))
	case "customer_id":
		return compareStrings(o.CustomerID, cond.Op, toString(cond.Value))
	case "id":
		return compareStrings(o.ID, cond.Op, toString(cond.Value))
	case "total_amount":
		v, ok := cond.Value.(int64)
		if !ok {
			return false
		}
		return compareInts(o.TotalAmount(), cond.Op, v)
	}
	return false
}

func toString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case OrderStatus:
		return string(s)
	}
	return ""
}

func compareStrings(actual string, op shared.Operator, expected string) bool {
	switch op {
	case shared.OpEq:
		return actual == expected
	case shared.OpNeq:
		return actual != expected
	case shared.OpLike:
		return strings.Contains(actual, strings.Trim(expected, "%"))
	case shared.OpILike:
		return strings.Contains(strings.ToLower(actual), strings.ToLower(strings.Trim(expected, "%")))
	}
	return false
}

func compareInts(actual int64, op shared.Operator, expected int64) bool {
	switch op {
	case shared.OpEq:
		return actual == expected
	case shared.OpNeq:
		return actual != expected
	case shared.OpGt:
		return actual > expected
	case shared.OpGte:
		return actual >= expected
	case shared.OpLt:
		return actual < expected
	case shared.OpLte:
		return actual <= expected
	}
	return false
}
