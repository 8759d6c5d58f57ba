// Package mocks provides test doubles for the nylas client.
package mocks

import (
	"context"

	nylas "github.com/sells-group/inbox-sync/pkg/nylas"
	mock "github.com/stretchr/testify/mock"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

// ListThreads provides a mock function with given fields: ctx, grantID, q
func (_m *MockClient) ListThreads(ctx context.Context, grantID string, q nylas.ThreadQuery) (*nylas.ThreadPage, error) {
	ret := _m.Called(ctx, grantID, q)

	if len(ret) == 0 {
		panic("no return value specified for ListThreads")
	}

	var r0 *nylas.ThreadPage
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string, nylas.ThreadQuery) (*nylas.ThreadPage, error)); ok {
		return rf(ctx, grantID, q)
	}
	if rf, ok := ret.Get(0).(func(context.Context, string, nylas.ThreadQuery) *nylas.ThreadPage); ok {
		r0 = rf(ctx, grantID, q)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(*nylas.ThreadPage)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, string, nylas.ThreadQuery) error); ok {
		r1 = rf(ctx, grantID, q)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// ListMessages provides a mock function with given fields: ctx, grantID, threadID
func (_m *MockClient) ListMessages(ctx context.Context, grantID string, threadID string) ([]nylas.Message, error) {
	ret := _m.Called(ctx, grantID, threadID)

	if len(ret) == 0 {
		panic("no return value specified for ListMessages")
	}

	var r0 []nylas.Message
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string, string) ([]nylas.Message, error)); ok {
		return rf(ctx, grantID, threadID)
	}
	if rf, ok := ret.Get(0).(func(context.Context, string, string) []nylas.Message); ok {
		r0 = rf(ctx, grantID, threadID)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).([]nylas.Message)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, string, string) error); ok {
		r1 = rf(ctx, grantID, threadID)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// GetEvent provides a mock function with given fields: ctx, grantID, calendarID, eventID
func (_m *MockClient) GetEvent(ctx context.Context, grantID string, calendarID string, eventID string) (*nylas.Event, error) {
	ret := _m.Called(ctx, grantID, calendarID, eventID)

	if len(ret) == 0 {
		panic("no return value specified for GetEvent")
	}

	var r0 *nylas.Event
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string, string, string) (*nylas.Event, error)); ok {
		return rf(ctx, grantID, calendarID, eventID)
	}
	if rf, ok := ret.Get(0).(func(context.Context, string, string, string) *nylas.Event); ok {
		r0 = rf(ctx, grantID, calendarID, eventID)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(*nylas.Event)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, string, string, string) error); ok {
		r1 = rf(ctx, grantID, calendarID, eventID)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// NewMockClient creates a new instance of MockClient.
func NewMockClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockClient {
	mock := &MockClient{}
	mock.Test(t)

	t.Cleanup(func() { mock.AssertExpectations(t) })

	return mock
}
