package ib

// PendingKind says what an outstanding request was for, so completion
// events can route their cleanup.
type PendingKind int

const (
	PendingContractDetails PendingKind = iota
	PendingOptionParams
	PendingSnapshot
	PendingHistory
)

// Pending is one in-flight request: its purpose and the local contract it
// targets (zero when the target is not a contract row yet).
type Pending struct {
	Kind       PendingKind
	ContractID int64
	Symbol     string
}

// PendingBook tracks request correlation in memory. It replaces persisting
// transient request ids on contract rows: session start resets the book,
// completion callbacks resolve entries, and an empty book after a resolve
// means the scanner may immediately continue.
type PendingBook struct {
	entries map[int64]Pending
}

func NewPendingBook() *PendingBook {
	return &PendingBook{entries: make(map[int64]Pending)}
}

func (b *PendingBook) Track(reqID int64, p Pending) {
	b.entries[reqID] = p
}

// Resolve removes the entry and returns it with ok=false if the id was
// unknown (stale or never tracked).
func (b *PendingBook) Resolve(reqID int64) (Pending, bool) {
	p, ok := b.entries[reqID]
	if ok {
		delete(b.entries, reqID)
	}
	return p, ok
}

// Lookup returns the entry without resolving it. Tick streams consult the
// book repeatedly before the terminating snapshot-end arrives.
func (b *PendingBook) Lookup(reqID int64) (Pending, bool) {
	p, ok := b.entries[reqID]
	return p, ok
}

func (b *PendingBook) Len() int {
	return len(b.entries)
}

// Reset drops every outstanding mark. Run at session start and stop.
func (b *PendingBook) Reset() {
	b.entries = make(map[int64]Pending)
}
