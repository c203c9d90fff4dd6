package query

// ---------- Tipos de paginación / ordenamiento ----------

const (
	DefaultLimit = 20
	MaxLimit     = 200
)

// OffsetPagination para paginación clásica
type OffsetPagination struct {
	Limit  int
	Offset int
}

// Normalize aplica los límites por defecto.
func (p OffsetPagination) Normalize() OffsetPagination {
	if p.Limit <= 0 {
		p.Limit = DefaultLimit
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// Window devuelve los índices [start, end) de la página dentro de total elementos.
func (p OffsetPagination) Window(total int) (int, int) {
	p = p.Normalize()
	start := p.Offset
	if start > total {
		start = total
	}
	end := start + p.Limit
	if end > total {
		end = total
	}
	return start, end
}

// Sort indica campo y dirección.
type Sort struct {
	Field string // ej. "id", "version", "total_amount"
	Desc  bool
}
