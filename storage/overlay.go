package storage

import "errors"

// Overlay buffers mutations on top of a Database so a state transition can be
// applied speculatively and either committed as one atomic batch or discarded.
// Reads observe pending writes and deletes before falling through to the
// backing database.
//
// Overlay is not safe for concurrent use; the node serialises access to it.
type Overlay struct {
	db        Database
	writes    map[string][]byte
	deletes   map[string]struct{}
	committed bool
}

// NewOverlay creates an empty overlay on top of the provided database.
func NewOverlay(db Database) *Overlay {
	return &Overlay{
		db:      db,
		writes:  make(map[string][]byte),
		deletes: make(map[string]struct{}),
	}
}

func (o *Overlay) Put(key, value []byte) error {
	k := string(key)
	delete(o.deletes, k)
	o.writes[k] = append([]byte(nil), value...)
	return nil
}

func (o *Overlay) Get(key []byte) ([]byte, error) {
	k := string(key)
	if _, gone := o.deletes[k]; gone {
		return nil, ErrKeyNotFound
	}
	if value, ok := o.writes[k]; ok {
		return append([]byte(nil), value...), nil
	}
	return o.db.Get(key)
}

func (o *Overlay) Delete(key []byte) error {
	k := string(key)
	delete(o.writes, k)
	o.deletes[k] = struct{}{}
	return nil
}

func (o *Overlay) Has(key []byte) (bool, error) {
	k := string(key)
	if _, gone := o.deletes[k]; gone {
		return false, nil
	}
	if _, ok := o.writes[k]; ok {
		return true, nil
	}
	return o.db.Has(key)
}

// Commit flushes all buffered mutations to the backing database in a single
// atomic batch. An overlay can be committed at most once.
func (o *Overlay) Commit() error {
	if o.committed {
		return errors.New("storage: overlay already committed")
	}
	batch := new(Batch)
	for key := range o.deletes {
		batch.Delete([]byte(key))
	}
	for key, value := range o.writes {
		batch.Put([]byte(key), value)
	}
	if err := o.db.Write(batch); err != nil {
		return err
	}
	o.committed = true
	return nil
}

// Pending reports the number of uncommitted mutations.
func (o *Overlay) Pending() int {
	return len(o.writes) + len(o.deletes)
}
