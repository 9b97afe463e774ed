package database

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// MemoryDSN selects the in-process store in Open.
const MemoryDSN = "memory://"

// Open returns the in-process store for "memory://" and a Postgres-backed
// store for anything else.
func Open(ctx context.Context, dsn string, log logrus.FieldLogger) (Service, error) {
	if dsn == "memory" || strings.HasPrefix(dsn, MemoryDSN) {
		log.Warn("using in-memory document store, data is lost on restart")
		return NewMemory(log), nil
	}
	return New(ctx, dsn, log)
}

type memDoc struct {
	data    Record
	seq     int64
	created time.Time
}

type memCollections map[string]map[string]*memDoc

func (c memCollections) clone() memCollections {
	out := make(memCollections, len(c))
	for name, docs := range c {
		m := make(map[string]*memDoc, len(docs))
		for id, d := range docs {
			m[id] = &memDoc{data: cloneRecord(d.data), seq: d.seq, created: d.created}
		}
		out[name] = m
	}
	return out
}

// memory is a Service kept in process memory. Transactions and writes are
// serialised; a transaction works on a copy that replaces the live data on
// commit.
type memory struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	cols memCollections
	seq  int64

	log     logrus.FieldLogger
	watcher *watcher
}

// NewMemory returns an empty in-process store.
func NewMemory(log logrus.FieldLogger) Service {
	m := &memory{cols: memCollections{}, log: log}
	m.watcher = newWatcher(nil, m, log.WithField("component", "subscriptions"))
	return m
}

func (m *memory) view() *memView {
	return &memView{cols: m.cols, seq: &m.seq}
}

func (m *memory) write(fn func(v *memView) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	v := m.view()
	err := fn(v)
	m.mu.Unlock()

	m.notify(v.changed)
	return err
}

func (m *memory) notify(changed map[string]bool) {
	for collection := range changed {
		m.watcher.markCollection(collection)
	}
}

func (m *memory) CreateRecord(ctx context.Context, collection string, rec Record) (Record, error) {
	var out Record
	err := m.write(func(v *memView) error {
		var err error
		out, err = v.CreateRecord(ctx, collection, rec)
		return err
	})
	return out, err
}

func (m *memory) UpdateRecord(ctx context.Context, collection, id string, fields Record) error {
	return m.write(func(v *memView) error {
		return v.UpdateRecord(ctx, collection, id, fields)
	})
}

func (m *memory) UpdateWhere(ctx context.Context, collection string, filter, fields Record) (int64, error) {
	var n int64
	err := m.write(func(v *memView) error {
		var err error
		n, err = v.UpdateWhere(ctx, collection, filter, fields)
		return err
	})
	return n, err
}

func (m *memory) GetRecord(ctx context.Context, collection, id string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().GetRecord(ctx, collection, id)
}

func (m *memory) LockRecord(ctx context.Context, collection, id string) (Record, error) {
	return m.GetRecord(ctx, collection, id)
}

func (m *memory) FindRecords(ctx context.Context, collection string, q Query) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().FindRecords(ctx, collection, q)
}

func (m *memory) RunInTx(ctx context.Context, fn func(Documents) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.RLock()
	working := &memView{cols: m.cols.clone(), seq: new(int64)}
	*working.seq = m.seq
	m.mu.RUnlock()

	if err := fn(working); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	m.cols = working.cols
	m.seq = *working.seq
	m.mu.Unlock()

	m.notify(working.changed)
	return nil
}

func (m *memory) SubscribeToCollection(collection string, q Query, onChange func([]Record)) func() {
	return m.watcher.subscribe(collection, q, onChange)
}

func (m *memory) SubscribeToUserNotifications(userID string, onChange func([]Record)) func() {
	if userID == "" {
		m.log.Warn("notification subscription requested without a user id")
		return func() {}
	}
	return m.watcher.subscribe(CollectionNotifications, NotificationsQuery(userID), onChange)
}

func (m *memory) RunMigrations() error { return nil }

func (m *memory) Health() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, docs := range m.cols {
		n += len(docs)
	}
	return map[string]string{
		"status":        "up",
		"message":       "It's healthy",
		"backend":       "memory",
		"documents":     strconv.Itoa(n),
		"subscriptions": strconv.Itoa(m.watcher.count()),
	}
}

func (m *memory) Close() {
	m.watcher.close()
}

// memView implements Documents over one set of collections. It is used both
// for the live data (under the store's locks) and for transaction copies.
type memView struct {
	cols    memCollections
	seq     *int64
	changed map[string]bool
}

func (v *memView) touch(collection string) {
	if v.changed == nil {
		v.changed = make(map[string]bool)
	}
	v.changed[collection] = true
}

func (v *memView) CreateRecord(_ context.Context, collection string, rec Record) (Record, error) {
	if collection == "" {
		return nil, fmt.Errorf("collection name is required")
	}
	doc := cloneRecord(StripUndefined(rec))
	id, _ := doc[FieldID].(string)
	if IsTemporaryID(id) {
		id = uuid.NewString()
	}
	doc[FieldID] = id

	docs := v.cols[collection]
	if docs == nil {
		docs = make(map[string]*memDoc)
		v.cols[collection] = docs
	}
	if err := checkUnique(collection, docs, doc); err != nil {
		return nil, fmt.Errorf("failed to create %s record: %w", collection, err)
	}

	if existing, ok := docs[id]; ok {
		existing.data = doc
	} else {
		*v.seq++
		docs[id] = &memDoc{data: doc, seq: *v.seq, created: time.Now()}
	}
	v.touch(collection)
	return cloneRecord(doc), nil
}

func (v *memView) UpdateRecord(_ context.Context, collection, id string, fields Record) error {
	patch := StripUndefined(fields)
	delete(patch, FieldID)
	if len(patch) == 0 {
		return nil
	}
	d, ok := v.cols[collection][id]
	if !ok {
		return fmt.Errorf("%s %s: %w", collection, id, ErrNotFound)
	}
	merged := cloneRecord(d.data)
	for k, val := range cloneRecord(patch) {
		merged[k] = val
	}
	if err := checkUnique(collection, v.cols[collection], merged); err != nil {
		return fmt.Errorf("failed to update %s record: %w", collection, err)
	}
	d.data = merged
	v.touch(collection)
	return nil
}

func (v *memView) GetRecord(_ context.Context, collection, id string) (Record, error) {
	d, ok := v.cols[collection][id]
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", collection, id, ErrNotFound)
	}
	return cloneRecord(d.data), nil
}

func (v *memView) LockRecord(ctx context.Context, collection, id string) (Record, error) {
	return v.GetRecord(ctx, collection, id)
}

func (v *memView) FindRecords(_ context.Context, collection string, q Query) ([]Record, error) {
	filter := cloneRecord(StripUndefined(q.Filter))
	var matched []*memDoc
	for _, d := range v.cols[collection] {
		if containsJSON(d.data, filter) {
			matched = append(matched, d)
		}
	}

	byField := q.OrderBy != "" && q.OrderBy != FieldCreatedAt
	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if byField {
			if c := compareJSON(a.data[q.OrderBy], b.data[q.OrderBy]); c != 0 {
				// NULLS LAST in both directions.
				if a.data[q.OrderBy] == nil || b.data[q.OrderBy] == nil {
					return c < 0
				}
				if q.Descending {
					return c > 0
				}
				return c < 0
			}
		}
		if q.Descending {
			return a.seq > b.seq
		}
		return a.seq < b.seq
	})

	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	out := make([]Record, 0, len(matched))
	for _, d := range matched {
		out = append(out, cloneRecord(d.data))
	}
	return out, nil
}

func (v *memView) UpdateWhere(ctx context.Context, collection string, filter, fields Record) (int64, error) {
	matches, err := v.FindRecords(ctx, collection, Query{Filter: filter})
	if err != nil {
		return 0, err
	}
	var n int64
	for _, rec := range matches {
		if err := v.UpdateRecord(ctx, collection, rec.ID(), fields); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// checkUnique mirrors the unique index on applications(projectId, userId).
func checkUnique(collection string, docs map[string]*memDoc, doc Record) error {
	if collection != CollectionApplications {
		return nil
	}
	project, user := doc["projectId"], doc["userId"]
	if project == nil || user == nil {
		return nil
	}
	for id, d := range docs {
		if id == doc.ID() {
			continue
		}
		if reflect.DeepEqual(d.data["projectId"], project) && reflect.DeepEqual(d.data["userId"], user) {
			return fmt.Errorf("%w: uq_applications_project_user", ErrConflict)
		}
	}
	return nil
}

// cloneRecord deep-copies rec through its JSON form so that stored values
// share the shapes Postgres would return.
func cloneRecord(rec Record) Record {
	if rec == nil {
		return Record{}
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return Record{}
	}
	out, err := decodeRecord(data)
	if err != nil {
		return Record{}
	}
	return out
}

// containsJSON reports whether doc contains sub with jsonb @> semantics.
func containsJSON(doc, sub any) bool {
	switch s := sub.(type) {
	case Record:
		return containsJSON(doc, map[string]any(s))
	case map[string]any:
		var d map[string]any
		switch dv := doc.(type) {
		case Record:
			d = dv
		case map[string]any:
			d = dv
		default:
			return false
		}
		for k, sv := range s {
			dv, ok := d[k]
			if !ok || !containsJSON(dv, sv) {
				return false
			}
		}
		return true
	case []any:
		d, ok := doc.([]any)
		if !ok {
			return false
		}
		for _, sv := range s {
			found := false
			for _, dv := range d {
				if containsJSON(dv, sv) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	case json.Number:
		dn, ok := doc.(json.Number)
		return ok && compareNumbers(dn, s) == 0
	default:
		return reflect.DeepEqual(doc, sub)
	}
}

func compareNumbers(a, b json.Number) int {
	af, aerr := a.Float64()
	bf, berr := b.Float64()
	if aerr != nil || berr != nil {
		return strings.Compare(a.String(), b.String())
	}
	switch {
	case af < bf:
		return -1
	case af > bf:
		return 1
	}
	return 0
}

// compareJSON orders values the way jsonb does for the types records hold;
// nil sorts last.
func compareJSON(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	switch av := a.(type) {
	case json.Number:
		if bv, ok := b.(json.Number); ok {
			return compareNumbers(av, bv)
		}
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv)
		}
	case bool:
		if bv, ok := b.(bool); ok && av != bv {
			if !av {
				return -1
			}
			return 1
		}
		return 0
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}
