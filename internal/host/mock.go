package host

import (
	"context"
	"sync"
)

// MockBackend is a test double for Backend.
type MockBackend struct {
	mu sync.Mutex

	PR       *PullRequest
	Checks   []CheckResult
	Comments []Comment

	GetErr    error
	ChecksErr error

	PostedComments  []string
	Statuses        []CommitState
	AutoMergeCalls  int
	AutoMergeErr    error
	nextCommentID   int64
	RemoteURL       string
	ChecksPerFetch  [][]CheckResult // optional scripted sequence; overrides Checks
	checkFetchCount int
}

var _ Backend = (*MockBackend)(nil)

func (m *MockBackend) GetPullRequest(_ context.Context, number int) (*PullRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	if m.PR == nil || m.PR.Number != number {
		return nil, ErrNotFound
	}
	pr := *m.PR
	return &pr, nil
}

func (m *MockBackend) ListChecks(_ context.Context, _ string) ([]CheckResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ChecksErr != nil {
		return nil, m.ChecksErr
	}
	if len(m.ChecksPerFetch) > 0 {
		i := m.checkFetchCount
		if i >= len(m.ChecksPerFetch) {
			i = len(m.ChecksPerFetch) - 1
		}
		m.checkFetchCount++
		return m.ChecksPerFetch[i], nil
	}
	return m.Checks, nil
}

func (m *MockBackend) ListComments(_ context.Context, _ int) ([]Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Comments, nil
}

func (m *MockBackend) PostComment(_ context.Context, _ int, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PostedComments = append(m.PostedComments, body)
	m.nextCommentID++
	m.Comments = append(m.Comments, Comment{
		ID:     m.nextCommentID,
		Author: "mergewarden[bot]",
		Body:   body,
	})
	return nil
}

func (m *MockBackend) SetCommitStatus(_ context.Context, _ string, state CommitState, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Statuses = append(m.Statuses, state)
	return nil
}

func (m *MockBackend) EnableAutoMerge(_ context.Context, _ *PullRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AutoMergeErr != nil {
		return m.AutoMergeErr
	}
	m.AutoMergeCalls++
	return nil
}

func (m *MockBackend) CloneURL() string {
	return m.RemoteURL
}
