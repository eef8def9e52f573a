package ledger

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

// State is the scalar part of the ledger: its owner and the aggregate counters.
type State struct {
	Admin    string
	Stats    ContractStats
	EventSeq uint64
}

// Snapshot is everything a Store has committed so far.
type Snapshot struct {
	State         State
	Donors        []*Donor
	Farmers       []*Farmer
	Disbursements []*Disbursement
	Balances      map[string]decimal.Decimal
}

// Changeset is the complete effect of one successful operation. Records hold their
// values after the change; balances are absolute.
type Changeset struct {
	State         State
	Donors        []*Donor
	Farmers       []*Farmer
	Disbursements []*Disbursement
	Balances      map[string]decimal.Decimal
	Events        []Event
}

// Store persists changesets. Commit must be all-or-nothing: when it returns an error
// nothing from the changeset may be visible to a later Load.
type Store interface {
	Load(ctx context.Context) (*Snapshot, error)
	Commit(ctx context.Context, cs *Changeset) error
}

// Publisher receives the events of every committed changeset in commit order.
// It is called with the ledger lock held and must not block.
type Publisher interface {
	Publish(ctx context.Context, events []Event)
}

// PublisherFunc adapts a function to Publisher
type PublisherFunc func(ctx context.Context, events []Event)

func (f PublisherFunc) Publish(ctx context.Context, events []Event) { f(ctx, events) }

// MultiPublisher fans events out to several publishers in order
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(ctx context.Context, events []Event) {
	for _, p := range m {
		if p != nil {
			p.Publish(ctx, events)
		}
	}
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, []Event) {}

// MemoryStore keeps committed state in process. It backs the ledger when no
// database is configured, and in tests.
type MemoryStore struct {
	mu            sync.Mutex
	state         State
	donors        map[string]*Donor
	farmers       map[string]*Farmer
	disbursements map[uint64]*Disbursement
	balances      map[string]decimal.Decimal
	events        []Event
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		donors:        make(map[string]*Donor),
		farmers:       make(map[string]*Farmer),
		disbursements: make(map[uint64]*Disbursement),
		balances:      make(map[string]decimal.Decimal),
	}
}

func (s *MemoryStore) Load(ctx context.Context) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := &Snapshot{
		State:    s.state,
		Balances: make(map[string]decimal.Decimal, len(s.balances)),
	}
	for _, d := range s.donors {
		snap.Donors = append(snap.Donors, d.clone())
	}
	for _, f := range s.farmers {
		snap.Farmers = append(snap.Farmers, f.clone())
	}
	for _, d := range s.disbursements {
		snap.Disbursements = append(snap.Disbursements, d.clone())
	}
	for k, v := range s.balances {
		snap.Balances[k] = v
	}
	sort.Slice(snap.Donors, func(i, j int) bool { return snap.Donors[i].Seq < snap.Donors[j].Seq })
	sort.Slice(snap.Farmers, func(i, j int) bool { return snap.Farmers[i].Seq < snap.Farmers[j].Seq })
	sort.Slice(snap.Disbursements, func(i, j int) bool { return snap.Disbursements[i].ID < snap.Disbursements[j].ID })
	return snap, nil
}

func (s *MemoryStore) Commit(ctx context.Context, cs *Changeset) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = cs.State
	for _, d := range cs.Donors {
		s.donors[d.Address] = d.clone()
	}
	for _, f := range cs.Farmers {
		s.farmers[f.Address] = f.clone()
	}
	for _, d := range cs.Disbursements {
		s.disbursements[d.ID] = d.clone()
	}
	for k, v := range cs.Balances {
		s.balances[k] = v
	}
	s.events = append(s.events, cs.Events...)
	return nil
}

// Events returns every committed event in commit order
func (s *MemoryStore) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}
