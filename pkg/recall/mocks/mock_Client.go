// Package mocks provides test doubles for the recall client.
package mocks

import (
	"context"

	recall "github.com/sells-group/inbox-sync/pkg/recall"
	mock "github.com/stretchr/testify/mock"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

// CreateBot provides a mock function with given fields: ctx, req
func (_m *MockClient) CreateBot(ctx context.Context, req recall.CreateBotRequest) (*recall.Bot, error) {
	ret := _m.Called(ctx, req)

	if len(ret) == 0 {
		panic("no return value specified for CreateBot")
	}

	var r0 *recall.Bot
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, recall.CreateBotRequest) (*recall.Bot, error)); ok {
		return rf(ctx, req)
	}
	if rf, ok := ret.Get(0).(func(context.Context, recall.CreateBotRequest) *recall.Bot); ok {
		r0 = rf(ctx, req)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(*recall.Bot)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, recall.CreateBotRequest) error); ok {
		r1 = rf(ctx, req)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// DeleteBot provides a mock function with given fields: ctx, botID
func (_m *MockClient) DeleteBot(ctx context.Context, botID string) error {
	ret := _m.Called(ctx, botID)

	if len(ret) == 0 {
		panic("no return value specified for DeleteBot")
	}

	var r0 error
	if rf, ok := ret.Get(0).(func(context.Context, string) error); ok {
		r0 = rf(ctx, botID)
	} else {
		r0 = ret.Error(0)
	}

	return r0
}

// GetBot provides a mock function with given fields: ctx, botID
func (_m *MockClient) GetBot(ctx context.Context, botID string) (*recall.Bot, error) {
	ret := _m.Called(ctx, botID)

	if len(ret) == 0 {
		panic("no return value specified for GetBot")
	}

	var r0 *recall.Bot
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string) (*recall.Bot, error)); ok {
		return rf(ctx, botID)
	}
	if rf, ok := ret.Get(0).(func(context.Context, string) *recall.Bot); ok {
		r0 = rf(ctx, botID)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(*recall.Bot)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, string) error); ok {
		r1 = rf(ctx, botID)
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
