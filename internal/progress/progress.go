// Package progress defines the event stream the engine emits while a sync
// runs. Emission is best-effort: events are dropped rather than ever blocking
// a worker on a slow or absent consumer.
package progress

// Phase identifies what part of a sync an event belongs to.
type Phase string

const (
	PhaseResolve  Phase = "resolve"
	PhaseDelete   Phase = "delete"
	PhaseDownload Phase = "download"
	PhaseCopy     Phase = "copy"
	PhaseExtract  Phase = "extract"
	PhaseDone     Phase = "done"
)

// Event is one progress observation. Completed/Total count plan items;
// BytesDone/BytesTotal describe the transfer of the current item when known
// (BytesTotal is 0 when the server does not report a length).
type Event struct {
	Phase      Phase
	Completed  int
	Total      int
	Item       string
	BytesDone  int64
	BytesTotal int64
}

// Emit sends ev without blocking. A nil channel or a full buffer drops the
// event.
func Emit(ch chan<- Event, ev Event) {
	if ch == nil {
		return
	}
	select {
	case ch <- ev:
	default:
	}
}
