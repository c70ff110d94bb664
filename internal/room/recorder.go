package room

import "context"

// Recorder mirrors live sessions somewhere operators can inspect them. It
// is never read back; the registry's table is the only source of truth.
type Recorder interface {
	Save(ctx context.Context, s Session) error
	Delete(ctx context.Context, s Session) error
}

// NopRecorder is used when no mirror is configured.
type NopRecorder struct{}

func (NopRecorder) Save(context.Context, Session) error   { return nil }
func (NopRecorder) Delete(context.Context, Session) error { return nil }
