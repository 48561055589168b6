package server

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sunswitch/sunswitch/pkg/types"
)

type mockAutomation struct {
	mock.Mock
}

var _ Automation = (*mockAutomation)(nil)

func (m *mockAutomation) Status() types.Status {
	args := m.Called()
	return args.Get(0).(types.Status)
}

func (m *mockAutomation) Settings(ctx context.Context) (types.Settings, error) {
	args := m.Called(ctx)
	return args.Get(0).(types.Settings), args.Error(1)
}

func (m *mockAutomation) SaveSettings(ctx context.Context, settings types.Settings) (types.Settings, error) {
	args := m.Called(ctx, settings)
	return args.Get(0).(types.Settings), args.Error(1)
}

func (m *mockAutomation) SetState(ctx context.Context, enabled bool, triggerKW *float64) (types.Settings, error) {
	args := m.Called(ctx, enabled, triggerKW)
	return args.Get(0).(types.Settings), args.Error(1)
}

func (m *mockAutomation) RunOnce(ctx context.Context) (types.Action, error) {
	args := m.Called(ctx)
	return args.Get(0).(types.Action), args.Error(1)
}
