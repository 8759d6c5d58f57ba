// Package mocks provides test doubles for the salesforce client.
package mocks

import (
	"context"

	mock "github.com/stretchr/testify/mock"

	salesforce "github.com/sells-group/inbox-sync/pkg/salesforce"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

// UpsertCollection provides a mock function with given fields: ctx, sObjectName, externalIDField, records
func (_m *MockClient) UpsertCollection(ctx context.Context, sObjectName string, externalIDField string, records []map[string]any) ([]salesforce.CollectionResult, error) {
	ret := _m.Called(ctx, sObjectName, externalIDField, records)

	if len(ret) == 0 {
		panic("no return value specified for UpsertCollection")
	}

	var r0 []salesforce.CollectionResult
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string, string, []map[string]any) ([]salesforce.CollectionResult, error)); ok {
		return rf(ctx, sObjectName, externalIDField, records)
	}
	if rf, ok := ret.Get(0).(func(context.Context, string, string, []map[string]any) []salesforce.CollectionResult); ok {
		r0 = rf(ctx, sObjectName, externalIDField, records)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).([]salesforce.CollectionResult)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, string, string, []map[string]any) error); ok {
		r1 = rf(ctx, sObjectName, externalIDField, records)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// DescribeSObject provides a mock function with given fields: ctx, name
func (_m *MockClient) DescribeSObject(ctx context.Context, name string) (*salesforce.SObjectDescription, error) {
	ret := _m.Called(ctx, name)

	if len(ret) == 0 {
		panic("no return value specified for DescribeSObject")
	}

	var r0 *salesforce.SObjectDescription
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string) (*salesforce.SObjectDescription, error)); ok {
		return rf(ctx, name)
	}
	if rf, ok := ret.Get(0).(func(context.Context, string) *salesforce.SObjectDescription); ok {
		r0 = rf(ctx, name)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(*salesforce.SObjectDescription)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, string) error); ok {
		r1 = rf(ctx, name)
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
