package terminal

import "time"

// PersistedRecord is the durable view of a session, surviving restarts of
// this process. It carries no output history.
type PersistedRecord struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	WorkingDir   string    `json:"workingDirectory"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
	IsActive     bool      `json:"isActive"`
}

// RecordStore persists session records. The registry rewrites a record on
// every mutating event and deletes it when the session is destroyed; the
// store runs its own expiry sweep independently.
type RecordStore interface {
	Upsert(rec PersistedRecord) error
	Delete(id string) error
	List() ([]PersistedRecord, error)
}

type noopStore struct{}

func (noopStore) Upsert(PersistedRecord) error     { return nil }
func (noopStore) Delete(string) error              { return nil }
func (noopStore) List() ([]PersistedRecord, error) { return nil, nil }
