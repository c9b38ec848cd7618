package notice

import (
	"context"
	"time"
)

// Store is the dedup store keyed by notice id.
type Store interface {
	// Exists reports whether a notice with the id was stored before.
	Exists(ctx context.Context, id int64) (bool, error)
	// Insert stores the full record. It returns ErrDuplicateKey when the id exists.
	Insert(ctx context.Context, n Notice) error
	// ListByDate returns notices posted on date, newest (highest id) first.
	ListByDate(ctx context.Context, date string) ([]Notice, error)
	// DeleteByDate removes notices posted on date and returns how many went.
	DeleteByDate(ctx context.Context, date string) (int64, error)
	Close() error
}

// Migrator is implemented by stores that own a schema.
type Migrator interface {
	Migrate(ctx context.Context) error
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Extractor turns a board list URL into notices.
type Extractor interface {
	FetchAndParse(ctx context.Context, url string) ([]Notice, error)
}

// Publisher pushes new-notice events to subscribers.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces cycle IDs.
type IDGenerator interface {
	NewID() (string, error)
}
