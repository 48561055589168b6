package storagemock

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/sunswitch/sunswitch/pkg/storage"
	"github.com/sunswitch/sunswitch/pkg/types"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) GetSettings(ctx context.Context) (types.Settings, int, error) {
	args := m.Called(ctx)
	if len(args) > 0 {
		return args.Get(0).(types.Settings), args.Int(1), args.Error(2)
	}
	return types.Settings{}, 0, nil
}

func (m *MockDatabase) SetSettings(ctx context.Context, settings types.Settings, version int) error {
	args := m.Called(ctx, settings, version)
	return args.Error(0)
}

func (m *MockDatabase) InsertReading(ctx context.Context, reading types.Reading) error {
	args := m.Called(ctx, reading)
	return args.Error(0)
}

func (m *MockDatabase) InsertAction(ctx context.Context, action types.Action) error {
	args := m.Called(ctx, action)
	return args.Error(0)
}

func (m *MockDatabase) GetReadingHistory(ctx context.Context, start, end time.Time) ([]types.Reading, error) {
	args := m.Called(ctx, start, end)
	if len(args) > 0 {
		return args.Get(0).([]types.Reading), args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) GetActionHistory(ctx context.Context, start, end time.Time) ([]types.Action, error) {
	args := m.Called(ctx, start, end)
	if len(args) > 0 {
		return args.Get(0).([]types.Action), args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) GetLatestAction(ctx context.Context) (*types.Action, error) {
	args := m.Called(ctx)
	val := args.Get(0)
	if val == nil {
		return nil, args.Error(1)
	}
	return val.(*types.Action), args.Error(1)
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}
