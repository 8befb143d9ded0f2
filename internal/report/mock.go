package report

import "context"

// MockStore is a test double for the Store interface.
type MockStore struct {
	SaveErr  error
	GetErr   error
	CloseErr error

	Saved  []*RunReport
	Closed bool
}

func (m *MockStore) Save(_ context.Context, r *RunReport) error {
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.Saved = append(m.Saved, r)
	return nil
}

func (m *MockStore) Get(_ context.Context, runID string) (*RunReport, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	for _, r := range m.Saved {
		if r.RunID == runID {
			return r, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MockStore) Latest(_ context.Context) (*RunReport, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	if len(m.Saved) == 0 {
		return nil, ErrNotFound
	}
	latest := m.Saved[0]
	for _, r := range m.Saved[1:] {
		if r.StartedAt.After(latest.StartedAt) {
			latest = r
		}
	}
	return latest, nil
}

func (m *MockStore) Close(_ context.Context) error {
	m.Closed = true
	return m.CloseErr
}
