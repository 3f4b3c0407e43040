package sheet

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// Store is the durable side of the buffer. FindByID returns (nil, nil)
// when the id is unknown; Insert returns ErrSheetExists when the id is
// taken. Implemented in internal/store.
type Store interface {
	FindByID(ctx context.Context, sheetID string) (*Sheet, error)
	Upsert(ctx context.Context, s Sheet) error
	Insert(ctx context.Context, s Sheet) error
}

// entry is the in-memory write-back copy of one sheet. entry.mu serializes
// every operation touching the same sheet id, which is what keeps
// update/flush/evict from interleaving for one id.
type entry struct {
	mu     sync.Mutex
	sheet  Sheet
	dirty  bool
	loaded bool
	isNew  bool
}

// Buffer caches active sheets in front of the Store. Entries are created
// on first join, mutated on every accepted update, flushed on a timer and
// at shutdown, and evicted when the owning room empties.
type Buffer struct {
	mu      sync.RWMutex
	entries map[string]*entry

	store      Store
	templates  TemplateLoader
	dispatcher *EventDispatcher // optional, nil disables events

	// inUse reports whether a sheet is still viewed by someone. Consulted
	// before an entry is dropped, so a join that lands between the room
	// emptying and the eviction keeps the entry alive. Set once at wiring
	// time, before any eviction can run.
	inUse func(sheetID string) bool
}

func NewBuffer(store Store, templates TemplateLoader, dispatcher *EventDispatcher) *Buffer {
	return &Buffer{
		entries:    make(map[string]*entry),
		store:      store,
		templates:  templates,
		dispatcher: dispatcher,
	}
}

// SetInUseCheck registers the callback Evict uses to tell whether the
// sheet's room has been re-occupied since the eviction was triggered.
func (b *Buffer) SetInUseCheck(fn func(sheetID string) bool) {
	b.inUse = fn
}

// getOrCreateEntry returns the entry for id, inserting an unloaded
// placeholder under the map lock so that store I/O happens outside it.
func (b *Buffer) getOrCreateEntry(sheetID string) *entry {
	b.mu.RLock()
	e := b.entries[sheetID]
	b.mu.RUnlock()
	if e != nil {
		return e
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if e = b.entries[sheetID]; e == nil {
		e = &entry{}
		b.entries[sheetID] = e
	}
	return e
}

// GetOrCreate resolves a sheet for a joining client. Buffer hit wins;
// otherwise the store is tried; otherwise a new sheet is built from the
// default template and marked dirty immediately (a new sheet must
// eventually be persisted). Store failures degrade to the template path:
// editing keeps working without the database.
//
// isNew is true only for the call that instantiated the sheet from the
// template.
func (b *Buffer) GetOrCreate(ctx context.Context, sheetID string) (Sheet, bool) {
	e := b.getOrCreateEntry(sheetID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.loaded {
		b.populate(ctx, sheetID, e)
	}
	isNew := e.isNew
	e.isNew = false
	return e.sheet, isNew
}

// populate fills an unloaded entry. Caller holds e.mu.
func (b *Buffer) populate(ctx context.Context, sheetID string, e *entry) {
	e.loaded = true

	stored, err := b.store.FindByID(ctx, sheetID)
	if err != nil {
		log.Printf("sheet %s: store load failed, starting from template: %v", sheetID, err)
	}
	if stored != nil {
		e.sheet = *stored
		if len(e.sheet.SetByPlayer) == 0 {
			e.sheet.SetByPlayer = EmptyPlayerPortion
		}
		return
	}

	t := b.templates.Load()
	if len(t.SetByPlayer) == 0 {
		t.SetByPlayer = EmptyPlayerPortion
	}
	e.sheet = Sheet{
		SheetID:     sheetID,
		SetByGM:     t.SetByGM,
		SetByPlayer: t.SetByPlayer,
		GMHash:      Fingerprint(t.SetByGM),
	}
	e.dirty = true
	e.isNew = true
}

// Update replaces the sheet wholesale (no field-level merge), marks the
// entry dirty and returns the classifier verdict against the previous
// fingerprint. An update for an id the buffer has never seen classifies
// as breaking.
func (b *Buffer) Update(ctx context.Context, sheetID string, setByGM, setByPlayer []byte, gmHash string) ChangeType {
	if len(setByPlayer) == 0 {
		setByPlayer = EmptyPlayerPortion
	}
	e := b.getOrCreateEntry(sheetID)
	e.mu.Lock()
	oldHash := ""
	if e.loaded {
		oldHash = e.sheet.GMHash
	}
	e.loaded = true
	e.isNew = false
	e.sheet = Sheet{
		SheetID:     sheetID,
		SetByGM:     setByGM,
		SetByPlayer: setByPlayer,
		GMHash:      gmHash,
	}
	e.dirty = true
	e.mu.Unlock()

	verdict := Classify(oldHash, gmHash)
	if b.dispatcher != nil {
		b.dispatcher.Enqueue(ctx, SheetEvent{
			EventType:  EventSheetUpdated,
			SheetID:    sheetID,
			ChangeType: verdict,
			GMHash:     gmHash,
			UpdatedAt:  time.Now(),
		})
	}
	return verdict
}

// Flush persists the sheet if dirty. On failure the entry stays dirty so
// the next flush cycle (or eviction) retries.
func (b *Buffer) Flush(ctx context.Context, sheetID string) error {
	b.mu.RLock()
	e := b.entries[sheetID]
	b.mu.RUnlock()
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return b.flushLocked(ctx, sheetID, e)
}

// flushLocked persists one entry. Caller holds e.mu.
func (b *Buffer) flushLocked(ctx context.Context, sheetID string, e *entry) error {
	if !e.dirty {
		return nil
	}
	if err := b.store.Upsert(ctx, e.sheet); err != nil {
		return fmt.Errorf("flush sheet %s: %w", sheetID, err)
	}
	e.dirty = false
	return nil
}

// FlushAll flushes every dirty entry, tolerating individual failures.
// Used by the periodic flush timer and by graceful shutdown.
func (b *Buffer) FlushAll(ctx context.Context) {
	b.mu.RLock()
	ids := make([]string, 0, len(b.entries))
	for id := range b.entries {
		ids = append(ids, id)
	}
	b.mu.RUnlock()

	for _, id := range ids {
		if err := b.Flush(ctx, id); err != nil {
			log.Printf("flush all: %v", err)
		}
	}
}

// Evict flushes (if dirty) and removes the entry. Called when the sheet's
// room transitions to empty. If the flush fails the entry is kept in
// memory, still dirty, so no edits are lost; the next flush cycle retries
// and a later empty-room transition evicts again.
func (b *Buffer) Evict(ctx context.Context, sheetID string) {
	b.mu.RLock()
	e := b.entries[sheetID]
	b.mu.RUnlock()
	if e == nil {
		return
	}

	e.mu.Lock()
	if err := b.flushLocked(ctx, sheetID, e); err != nil {
		log.Printf("evict sheet %s: keeping entry for retry: %v", sheetID, err)
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()
	// A join may have raced in between the room emptying and here; an
	// entry someone is viewing must not be dropped.
	if b.inUse != nil && b.inUse(sheetID) {
		return
	}
	// Likewise an update may have raced in after the flush; a dirty entry
	// must not be dropped.
	if cur := b.entries[sheetID]; cur == e {
		cur.mu.Lock()
		clean := !cur.dirty
		cur.mu.Unlock()
		if clean {
			delete(b.entries, sheetID)
		}
	}
}

// CreateNew is the offline-upload path: it creates a sheet that must not
// already exist, writing it straight to the store. The id is validated
// and checked against reserved names before anything is touched. The
// store's insert decides the conflict, so two concurrent creates for the
// same id cannot both win; the buffer check additionally catches live
// sheets that have not been flushed yet.
func (b *Buffer) CreateNew(ctx context.Context, sheetID string, setByGM, setByPlayer []byte) error {
	if err := ValidateSheetID(sheetID); err != nil {
		return err
	}
	id := NormalizeSheetID(sheetID)
	if IsReservedSheetID(id) {
		return ErrReservedSheetID
	}

	b.mu.RLock()
	e := b.entries[id]
	b.mu.RUnlock()
	if e != nil {
		e.mu.Lock()
		loaded := e.loaded
		e.mu.Unlock()
		if loaded {
			return ErrSheetExists
		}
	}

	if len(setByPlayer) == 0 {
		setByPlayer = EmptyPlayerPortion
	}
	s := Sheet{
		SheetID:     id,
		SetByGM:     setByGM,
		SetByPlayer: setByPlayer,
		GMHash:      Fingerprint(setByGM),
	}
	if err := b.store.Insert(ctx, s); err != nil {
		if errors.Is(err, ErrSheetExists) {
			return ErrSheetExists
		}
		return fmt.Errorf("create sheet %s: %w", id, err)
	}
	return nil
}

// Len reports the number of buffered entries.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}
