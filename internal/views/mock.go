package views

import "context"

// CreatedView records one CreateView call.
type CreatedView struct {
	ProjectID string
	DatasetID string
	Name      string
	SQL       string
}

// MockCreator is a test double for the Creator interface.
type MockCreator struct {
	ConnectErr error
	CreateErr  error

	Created   []CreatedView
	Connected bool
	Closed    bool
}

func (m *MockCreator) Connect(_ context.Context) error {
	if m.ConnectErr != nil {
		return m.ConnectErr
	}
	m.Connected = true
	return nil
}

func (m *MockCreator) CreateView(_ context.Context, projectID, datasetID, name, sql string) error {
	if m.CreateErr != nil {
		return m.CreateErr
	}
	m.Created = append(m.Created, CreatedView{ProjectID: projectID, DatasetID: datasetID, Name: name, SQL: sql})
	return nil
}

func (m *MockCreator) Close() error {
	m.Closed = true
	return nil
}
