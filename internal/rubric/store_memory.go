package rubric

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and offline runs.
type MemoryStore struct {
	mu      sync.RWMutex
	seq     int64
	rubrics map[int64]Rubric
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rubrics: map[int64]Rubric{}, now: time.Now}
}

// sorted returns the question's rubrics newest first (created_at, then id).
func (m *MemoryStore) sorted(questionID string) []Rubric {
	out := []Rubric{}
	for _, r := range m.rubrics {
		if r.QuestionID == questionID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func copyRubric(r Rubric) Rubric {
	r.Body = r.Body.Clone()
	return r
}

func (m *MemoryStore) FindActive(_ context.Context, questionID string) (*Rubric, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.sorted(questionID) {
		if r.IsActive {
			c := copyRubric(r)
			return &c, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) FindLatest(_ context.Context, questionID string) (*Rubric, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.sorted(questionID)
	if len(all) == 0 {
		return nil, nil
	}
	c := copyRubric(all[0])
	return &c, nil
}

func (m *MemoryStore) hasVersion(questionID, version string) bool {
	for _, r := range m.rubrics {
		if r.QuestionID == questionID && r.Version == version {
			return true
		}
	}
	return false
}

func (m *MemoryStore) insert(questionID, version string, body Body, createdBy string, active bool) Rubric {
	m.seq++
	r := Rubric{
		ID:         m.seq,
		QuestionID: questionID,
		Version:    version,
		Body:       body.Clone(),
		IsActive:   active,
		CreatedBy:  createdBy,
		CreatedAt:  m.now().UTC().Truncate(time.Microsecond),
	}
	m.rubrics[r.ID] = r
	return r
}

func (m *MemoryStore) Save(_ context.Context, questionID string, body Body, createdBy string) (bool, error) {
	if body.IsNull() {
		return false, ErrInvalidBody
	}
	version := body.VersionOr(VersionAutoGenerated)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hasVersion(questionID, version) {
		return false, nil
	}
	m.insert(questionID, version, body, createdBy, false)
	return true, nil
}

func (m *MemoryStore) Create(_ context.Context, questionID string, body Body, createdBy string) (Rubric, error) {
	if body.IsNull() {
		return Rubric{}, ErrInvalidBody
	}
	version := body.VersionOr(VersionManualStored)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hasVersion(questionID, version) {
		return Rubric{}, ErrDuplicateVersion
	}
	return copyRubric(m.insert(questionID, version, body, createdBy, false)), nil
}

// Put stores a fully formed rubric as-is, including its active flag and timestamp.
// It bypasses the one-active invariant and exists to stage legacy data in tests.
func (m *MemoryStore) Put(r Rubric) Rubric {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == 0 {
		m.seq++
		r.ID = m.seq
	} else if r.ID > m.seq {
		m.seq = r.ID
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = m.now().UTC()
	}
	r.Body = r.Body.Clone()
	m.rubrics[r.ID] = r
	return copyRubric(r)
}

func (m *MemoryStore) Activate(_ context.Context, rubricID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	target, ok := m.rubrics[rubricID]
	if !ok {
		return ErrNotFound
	}
	for id, r := range m.rubrics {
		if r.QuestionID != target.QuestionID {
			continue
		}
		r.IsActive = id == rubricID
		m.rubrics[id] = r
	}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, rubricID int64) (Rubric, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rubrics[rubricID]
	if !ok {
		return Rubric{}, ErrNotFound
	}
	return copyRubric(r), nil
}

func (m *MemoryStore) ListByQuestion(_ context.Context, questionID string) ([]Rubric, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.sorted(questionID)
	for i := range all {
		all[i] = copyRubric(all[i])
	}
	return all, nil
}

func (m *MemoryStore) UpdateBody(_ context.Context, rubricID int64, body Body) (Rubric, error) {
	if body.IsNull() {
		return Rubric{}, ErrInvalidBody
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rubrics[rubricID]
	if !ok {
		return Rubric{}, ErrNotFound
	}
	r.Body = body.Clone()
	m.rubrics[rubricID] = r
	return copyRubric(r), nil
}
