package stage

import "context"

// MockClient records staging calls in memory.
type MockClient struct {
	PutErr    error
	DeleteErr error

	// Objects maps bucket/key to the local file that was put there.
	Objects map[string]string
	Cleared []string
}

// NewMockClient creates an empty MockClient.
func NewMockClient() *MockClient {
	return &MockClient{Objects: make(map[string]string)}
}

func (m *MockClient) Put(_ context.Context, bucket, key, localPath string) error {
	if m.PutErr != nil {
		return m.PutErr
	}
	if m.Objects == nil {
		m.Objects = make(map[string]string)
	}
	m.Objects[bucket+"/"+key] = localPath
	return nil
}

func (m *MockClient) DeletePrefix(_ context.Context, bucket, prefix string) (int, error) {
	if m.DeleteErr != nil {
		return 0, m.DeleteErr
	}
	m.Cleared = append(m.Cleared, bucket+"/"+prefix)
	n := 0
	for k := range m.Objects {
		if len(k) >= len(bucket)+1+len(prefix) && k[:len(bucket)+1+len(prefix)] == bucket+"/"+prefix {
			delete(m.Objects, k)
			n++
		}
	}
	return n, nil
}
