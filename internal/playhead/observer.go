// Package playhead models an audio playhead: a position that advances while
// playing and is reported to subscribers on every time update.
package playhead

// Listener receives playhead events. Calls for one Observer never overlap
// with each other from the ticker, but Seek reports from the caller's
// goroutine; listeners guard their own state.
type Listener interface {
	OnTimeUpdate(position float64)
	OnMetadata(duration float64)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are ignored.
type ListenerFuncs struct {
	TimeUpdate func(position float64)
	Metadata   func(duration float64)
}

func (f ListenerFuncs) OnTimeUpdate(position float64) {
	if f.TimeUpdate != nil {
		f.TimeUpdate(position)
	}
}

func (f ListenerFuncs) OnMetadata(duration float64) {
	if f.Metadata != nil {
		f.Metadata(duration)
	}
}

// Observer exposes the current position and duration of a source, in
// seconds. Nothing is reported while the source is not playing.
type Observer interface {
	Position() float64
	Duration() float64
	Subscribe(l Listener) (unsubscribe func())
}
