package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/sunswitch/sunswitch/pkg/types"
)

// ErrStaleSettings is returned when saving settings older than the stored
// version.
var ErrStaleSettings = errors.New("stored settings are newer")

// Database defines the interface for persisting history and retrieving settings.
type Database interface {
	// Settings
	GetSettings(ctx context.Context) (types.Settings, int, error)
	SetSettings(ctx context.Context, settings types.Settings, version int) error

	// Data Persistence
	InsertReading(ctx context.Context, reading types.Reading) error
	InsertAction(ctx context.Context, action types.Action) error

	// History
	GetReadingHistory(ctx context.Context, start, end time.Time) ([]types.Reading, error)
	GetActionHistory(ctx context.Context, start, end time.Time) ([]types.Action, error)
	GetLatestAction(ctx context.Context) (*types.Action, error)

	// Lifecycle
	Close() error
}

// Configured sets up the Storage provider based on flags.
func Configured() Database {
	provider := lflag.String("storage-provider", "firestore", "Storage provider to use (available: firestore)")

	var p struct{ Database }

	fs := configuredFirestore()

	lflag.Do(func() {
		switch *provider {
		case "firestore":
			if err := fs.Validate(); err != nil {
				panic(fmt.Sprintf("firestore validation failed: %v", err))
			}
			p.Database = fs
			if err := fs.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("firestore init failed: %v", err))
			}
		default:
			panic(fmt.Sprintf("unknown storage provider: %s", *provider))
		}
	})

	return &p
}
