package role

// Store exposes read-only role lookup to the turn pipeline and HTTP
// handlers. The pipeline never mutates role definitions.
type Store interface {
	List() []Role
	FindByID(id string) (Role, bool)
}

// MemoryStore implements Store with an in-memory slice, suitable for a
// seeded deployment or as a cache in front of an external provider.
type MemoryStore struct {
	items []Role
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied roles.
func NewMemoryStore(items []Role) *MemoryStore {
	return &MemoryStore{items: append([]Role(nil), items...)}
}

// List returns the known role list.
func (s *MemoryStore) List() []Role {
	return append([]Role(nil), s.items...)
}

// FindByID looks up a role by identifier.
func (s *MemoryStore) FindByID(id string) (Role, bool) {
	for _, item := range s.items {
		if item.ID == id {
			return item, true
		}
	}
	return Role{}, false
}
