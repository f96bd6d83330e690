package draft

type EventKind string

const (
	EventAdded        EventKind = "added"
	EventEdited       EventKind = "edited"
	EventRemoved      EventKind = "removed"
	EventBatchMerged  EventKind = "batch_merged"
	EventMetadata     EventKind = "metadata_updated"
	EventSchemaReset  EventKind = "schema_reset"
	EventCommitted    EventKind = "committed"
	EventCommitFailed EventKind = "commit_failed"
)

// Event is the user-facing confirmation signal emitted after each operation.
type Event struct {
	Kind    EventKind
	Flow    string
	Index   int
	Count   int
	Message string
	Err     error
}

type Notifier interface {
	Notify(Event)
}

type NotifierFunc func(Event)

func (f NotifierFunc) Notify(e Event) { f(e) }

type multiNotifier []Notifier

func (m multiNotifier) Notify(e Event) {
	for _, n := range m {
		n.Notify(e)
	}
}

// MultiNotifier fans an event out to every non-nil notifier.
func MultiNotifier(ns ...Notifier) Notifier {
	out := make(multiNotifier, 0, len(ns))
	for _, n := range ns {
		if n != nil {
			out = append(out, n)
		}
	}
	return out
}

var messages = map[EventKind]string{
	EventAdded:        "Soal berhasil ditambahkan",
	EventEdited:       "Soal berhasil diperbarui",
	EventRemoved:      "Soal berhasil dihapus",
	EventBatchMerged:  "Soal hasil generate berhasil ditambahkan",
	EventMetadata:     "Data berhasil disimpan",
	EventSchemaReset:  "Draft lama tidak kompatibel dan telah direset",
	EventCommitted:    "Soal berhasil disimpan ke database",
	EventCommitFailed: "Gagal menyimpan soal ke database",
}
