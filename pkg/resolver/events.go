package resolver

// Status is the progress state of one provider attempt within a run.
type Status string

const (
	StatusPending  Status = "pending"
	StatusSuccess  Status = "success"
	StatusNotFound Status = "notfound"
	StatusFailure  Status = "failure"
)

// Terminal reports whether the status ends the attempt it describes.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusNotFound || s == StatusFailure
}

// Event is the closed set of run observations. Events are emitted
// synchronously on the run's goroutine, in order, and carry no control
// authority: sinks observe, they cannot steer.
//
// The ID carried by Start, Update, and DiscoverEmbeds events is a source
// plugin id during the scan phase and a queue entry id ("<sourceId>-<n>")
// during embed resolution, so repeated uses of one embed plugin stay
// distinguishable.
type Event interface {
	RunID() ULID

	isEvent()
}

// SourceBrief names one source in the scan order announced by Init.
type SourceBrief struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// EmbedBrief names one queued embed reference announced by DiscoverEmbeds.
type EmbedBrief struct {
	// EntryID identifies this queue entry in later Start/Update events.
	EntryID string `json:"entry_id"`
	// EmbedID is the embed plugin that will handle the entry.
	EmbedID string `json:"embed_id"`
}

// InitEvent opens a run and announces the post-filter scan order.
type InitEvent struct {
	Run     ULID          `json:"run_id"`
	Sources []SourceBrief `json:"sources"`
}

// StartEvent marks the beginning of one provider attempt.
type StartEvent struct {
	Run ULID   `json:"run_id"`
	ID  string `json:"id"`
}

// UpdateEvent reports attempt progress. For a given ID, percentages never
// decrease and the first terminal status is final.
type UpdateEvent struct {
	Run     ULID   `json:"run_id"`
	ID      string `json:"id"`
	Percent int    `json:"percent"`
	Status  Status `json:"status"`
	Reason  string `json:"reason,omitempty"`
}

// DiscoverEmbedsEvent announces the embed references a source deferred for
// the second phase, in queue order.
type DiscoverEmbedsEvent struct {
	Run      ULID         `json:"run_id"`
	SourceID string       `json:"source_id"`
	Embeds   []EmbedBrief `json:"embeds"`
}

func (e InitEvent) RunID() ULID           { return e.Run }
func (e StartEvent) RunID() ULID          { return e.Run }
func (e UpdateEvent) RunID() ULID         { return e.Run }
func (e DiscoverEmbedsEvent) RunID() ULID { return e.Run }

func (e InitEvent) isEvent()           {}
func (e StartEvent) isEvent()          {}
func (e UpdateEvent) isEvent()         {}
func (e DiscoverEmbedsEvent) isEvent() {}
