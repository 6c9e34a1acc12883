package resources

// Operation names one of the five endpoint slots a resource can override.
type Operation string

const (
	OpList   Operation = "getList"
	OpGetOne Operation = "getOne"
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Endpoints holds per-operation path overrides. Empty slots fall back to the
// resource name.
type Endpoints struct {
	List   string
	GetOne string
	Create string
	Update string
	Delete string
}

func (e Endpoints) lookup(op Operation) string {
	switch op {
	case OpList:
		return e.List
	case OpGetOne:
		return e.GetOne
	case OpCreate:
		return e.Create
	case OpUpdate:
		return e.Update
	case OpDelete:
		return e.Delete
	}
	return ""
}

// Resolver maps (resource, operation) to a backend path. It never fails.
type Resolver struct {
	table map[string]Endpoints
}

func NewResolver(table map[string]Endpoints) *Resolver {
	copied := make(map[string]Endpoints, len(table))
	for k, v := range table {
		copied[k] = v
	}
	return &Resolver{table: copied}
}

func (r *Resolver) Resolve(resource string, op Operation) string {
	if e, ok := r.table[resource]; ok {
		if path := e.lookup(op); path != "" {
			return path
		}
	}
	return resource
}
