package ledger

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"fairfund/fairfund-backend/pkg/address"
	"fairfund/fairfund-backend/pkg/workflows"
)

var (
	adminAddr  = address.MustNormalize("0x00000000000000000000000000000000000000a1")
	donorAddr  = address.MustNormalize("0x1111111111111111111111111111111111111111")
	farmerAddr = address.MustNormalize("0x2222222222222222222222222222222222222222")
	otherAddr  = address.MustNormalize("0x3333333333333333333333333333333333333333")
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Publish(_ context.Context, events []Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
}

func (r *recorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind())
	}
	return out
}

type fixture struct {
	ledger *Ledger
	clock  *fakeClock
	store  *MemoryStore
	events *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{clock: newFakeClock(), store: NewMemoryStore(), events: &recorder{}}
	l, err := New(context.Background(), Options{
		Admin:     adminAddr,
		Clock:     f.clock.Now,
		Store:     f.store,
		Publisher: f.events,
	})
	require.NoError(t, err)
	f.ledger = l
	return f
}

// setup registers and verifies donorAddr and farmerAddr and funds the donor.
func (f *fixture) setup(t *testing.T, funds int64) {
	t.Helper()
	ctx := context.Background()
	_, err := f.ledger.RegisterDonor(ctx, donorAddr, "AidOrg", "Helping farmers")
	require.NoError(t, err)
	_, err = f.ledger.RegisterFarmer(ctx, farmerAddr, "Ravi", "Village A", "Organic")
	require.NoError(t, err)
	_, err = f.ledger.VerifyDonor(ctx, adminAddr, donorAddr)
	require.NoError(t, err)
	_, err = f.ledger.VerifyFarmer(ctx, adminAddr, farmerAddr)
	require.NoError(t, err)
	if funds > 0 {
		_, err = f.ledger.FundAccount(ctx, adminAddr, donorAddr, decimal.NewFromInt(funds))
		require.NoError(t, err)
	}
}

func (f *fixture) balance(t *testing.T, account string) decimal.Decimal {
	t.Helper()
	b, err := f.ledger.BalanceOf(account)
	require.NoError(t, err)
	return b
}

func amt(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

func TestNewRequiresValidAdmin(t *testing.T) {
	_, err := New(context.Background(), Options{Admin: "root"})
	assert.Error(t, err)

	l, err := New(context.Background(), Options{Admin: strings.ToLower(adminAddr)})
	require.NoError(t, err)
	assert.Equal(t, adminAddr, l.Owner())
}

func TestScenarioClaimBeforeDeadline(t *testing.T) {
	f := newFixture(t)
	f.setup(t, 1000)
	ctx := context.Background()

	d, err := f.ledger.CreateDisbursement(ctx, donorAddr, farmerAddr, "Seeds", 3, amt(250))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), d.ID)
	assert.False(t, d.Claimed())
	assert.True(t, amt(250).Equal(d.Amount))
	assert.Equal(t, f.clock.Now().Unix()+3*SecondsPerDay, d.ClaimDeadline)

	assert.True(t, amt(750).Equal(f.balance(t, donorAddr)))
	assert.True(t, amt(250).Equal(f.balance(t, EscrowAccount)))
	assert.Equal(t, []uint64{1}, f.ledger.GetDonorDisbursements(donorAddr))
	assert.Equal(t, []uint64{1}, f.ledger.GetFarmerDisbursements(farmerAddr))

	f.clock.Advance(48 * time.Hour)
	claimed, err := f.ledger.ClaimFunds(ctx, farmerAddr, 1)
	require.NoError(t, err)
	assert.True(t, claimed.Claimed())
	assert.Equal(t, workflows.StatusClaimed, claimed.Status)

	farmer, err := f.ledger.GetFarmerStats(farmerAddr)
	require.NoError(t, err)
	assert.True(t, amt(250).Equal(farmer.TotalReceived))
	assert.Equal(t, f.clock.Now().Unix(), farmer.LastDisbursementDate)

	donor, err := f.ledger.GetDonorStats(donorAddr)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), donor.SuccessfulDisbursements)
	assert.Equal(t, DefaultReputationStep, donor.ReputationScore)
	assert.True(t, amt(250).Equal(donor.TotalDonated))

	stats := f.ledger.GetContractStats()
	assert.True(t, amt(250).Equal(stats.TotalFundsDistributed))
	assert.True(t, stats.TotalEscrowed.IsZero())
	assert.True(t, amt(250).Equal(f.balance(t, farmerAddr)))
	assert.True(t, f.balance(t, EscrowAccount).IsZero())
	assert.NoError(t, f.ledger.CheckInvariants())
}

func TestScenarioReclaimAfterDeadline(t *testing.T) {
	f := newFixture(t)
	f.setup(t, 1000)
	ctx := context.Background()

	_, err := f.ledger.CreateDisbursement(ctx, donorAddr, farmerAddr, "Seeds", 1, amt(400))
	require.NoError(t, err)

	f.clock.Advance(48 * time.Hour)
	d, err := f.ledger.ReclaimExpiredFunds(ctx, donorAddr, 1)
	require.NoError(t, err)
	assert.Equal(t, workflows.StatusReclaimed, d.Status)
	assert.False(t, d.Claimed())
	assert.True(t, amt(1000).Equal(f.balance(t, donorAddr)))

	_, err = f.ledger.ClaimFunds(ctx, farmerAddr, 1)
	require.ErrorIs(t, err, ErrAlreadyClaimed)
	assert.Contains(t, err.Error(), "reclaimed")

	_, err = f.ledger.ReclaimExpiredFunds(ctx, donorAddr, 1)
	assert.ErrorIs(t, err, ErrAlreadyClaimed)

	stats := f.ledger.GetContractStats()
	assert.True(t, stats.TotalFundsDistributed.IsZero())
	assert.True(t, stats.TotalEscrowed.IsZero())

	donor, err := f.ledger.GetDonorStats(donorAddr)
	require.NoError(t, err)
	assert.Zero(t, donor.SuccessfulDisbursements)
	assert.Zero(t, donor.ReputationScore)
	assert.True(t, amt(400).Equal(donor.TotalDonated))
	assert.NoError(t, f.ledger.CheckInvariants())
}

func TestScenarioUnverifiedDonorConsumesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ledger.RegisterDonor(ctx, donorAddr, "AidOrg", "Helping farmers")
	require.NoError(t, err)
	_, err = f.ledger.RegisterFarmer(ctx, farmerAddr, "Ravi", "Village A", "Organic")
	require.NoError(t, err)
	_, err = f.ledger.VerifyFarmer(ctx, adminAddr, farmerAddr)
	require.NoError(t, err)
	_, err = f.ledger.FundAccount(ctx, adminAddr, donorAddr, amt(100))
	require.NoError(t, err)

	before := f.ledger.GetContractStats()
	_, err = f.ledger.CreateDisbursement(ctx, donorAddr, farmerAddr, "Seeds", 3, amt(10))
	require.ErrorIs(t, err, ErrNotVerified)

	assert.Equal(t, before, f.ledger.GetContractStats())
	assert.Empty(t, f.ledger.GetDonorDisbursements(donorAddr))
	assert.True(t, amt(100).Equal(f.balance(t, donorAddr)))

	_, err = f.ledger.VerifyDonor(ctx, adminAddr, donorAddr)
	require.NoError(t, err)
	d, err := f.ledger.CreateDisbursement(ctx, donorAddr, farmerAddr, "Seeds", 3, amt(10))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), d.ID)
}

func TestCreateDisbursementRequiresBothVerified(t *testing.T) {
	for _, verify := range []string{"donor", "farmer", "none"} {
		t.Run(verify, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			_, err := f.ledger.RegisterDonor(ctx, donorAddr, "AidOrg", "")
			require.NoError(t, err)
			_, err = f.ledger.RegisterFarmer(ctx, farmerAddr, "Ravi", "", "")
			require.NoError(t, err)
			_, err = f.ledger.FundAccount(ctx, adminAddr, donorAddr, amt(100))
			require.NoError(t, err)

			switch verify {
			case "donor":
				_, err = f.ledger.VerifyDonor(ctx, adminAddr, donorAddr)
			case "farmer":
				_, err = f.ledger.VerifyFarmer(ctx, adminAddr, farmerAddr)
			}
			require.NoError(t, err)

			_, err = f.ledger.CreateDisbursement(ctx, donorAddr, farmerAddr, "Seeds", 3, amt(10))
			assert.ErrorIs(t, err, ErrNotVerified)
		})
	}
}

func TestCreateDisbursementGuards(t *testing.T) {
	tests := []struct {
		name    string
		caller  string
		farmer  string
		days    int64
		amount  decimal.Decimal
		wantErr error
	}{
		{"unregistered donor", otherAddr, farmerAddr, 3, amt(10), ErrNotVerified},
		{"unknown farmer", donorAddr, otherAddr, 3, amt(10), ErrNotFound},
		{"zero amount", donorAddr, farmerAddr, 3, decimal.Zero, ErrInvalidAmount},
		{"negative amount", donorAddr, farmerAddr, 3, amt(-5), ErrInvalidAmount},
		{"fractional amount", donorAddr, farmerAddr, 3, decimal.RequireFromString("1.5"), ErrInvalidAmount},
		{"zero days", donorAddr, farmerAddr, 0, amt(10), ErrInvalidDeadline},
		{"negative days", donorAddr, farmerAddr, -1, amt(10), ErrInvalidDeadline},
		{"too many days", donorAddr, farmerAddr, MaxClaimDeadlineDays + 1, amt(10), ErrInvalidDeadline},
		{"insufficient funds", donorAddr, farmerAddr, 3, amt(101), ErrInsufficientFunds},
		{"bad farmer address", donorAddr, "0xnope", 3, amt(10), ErrInvalidAddress},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.setup(t, 100)
			before := f.ledger.GetContractStats()
			eventsBefore := len(f.events.kinds())

			_, err := f.ledger.CreateDisbursement(context.Background(), tt.caller, tt.farmer, "Seeds", tt.days, tt.amount)
			assert.ErrorIs(t, err, tt.wantErr)

			assert.Equal(t, before, f.ledger.GetContractStats())
			assert.True(t, amt(100).Equal(f.balance(t, donorAddr)))
			assert.Len(t, f.events.kinds(), eventsBefore)
			assert.NoError(t, f.ledger.CheckInvariants())
		})
	}
}

func TestClaimWindow(t *testing.T) {
	f := newFixture(t)
	f.setup(t, 100)
	ctx := context.Background()
	_, err := f.ledger.CreateDisbursement(ctx, donorAddr, farmerAddr, "Tools", 1, amt(10))
	require.NoError(t, err)
	_, err = f.ledger.CreateDisbursement(ctx, donorAddr, farmerAddr, "Tools", 1, amt(10))
	require.NoError(t, err)

	_, err = f.ledger.ClaimFunds(ctx, farmerAddr, 99)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.ledger.ClaimFunds(ctx, otherAddr, 1)
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = f.ledger.ClaimFunds(ctx, donorAddr, 1)
	assert.ErrorIs(t, err, ErrUnauthorized)

	// the deadline itself is still claimable, and not yet reclaimable
	f.clock.Advance(24 * time.Hour)
	_, err = f.ledger.ReclaimExpiredFunds(ctx, donorAddr, 1)
	assert.ErrorIs(t, err, ErrNotYetExpired)
	_, err = f.ledger.ClaimFunds(ctx, farmerAddr, 1)
	require.NoError(t, err)

	_, err = f.ledger.ClaimFunds(ctx, farmerAddr, 1)
	assert.ErrorIs(t, err, ErrAlreadyClaimed)
	_, err = f.ledger.ReclaimExpiredFunds(ctx, donorAddr, 1)
	assert.ErrorIs(t, err, ErrAlreadyClaimed)

	f.clock.Advance(time.Second)
	_, err = f.ledger.ClaimFunds(ctx, farmerAddr, 2)
	assert.ErrorIs(t, err, ErrExpired)
	_, err = f.ledger.ReclaimExpiredFunds(ctx, farmerAddr, 2)
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = f.ledger.ReclaimExpiredFunds(ctx, donorAddr, 2)
	require.NoError(t, err)

	assert.True(t, amt(90).Equal(f.balance(t, donorAddr)))
	assert.True(t, amt(10).Equal(f.balance(t, farmerAddr)))
	assert.NoError(t, f.ledger.CheckInvariants())
}

func TestRegistrationNamespaces(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ledger.RegisterDonor(ctx, donorAddr, "Both", "")
	require.NoError(t, err)
	_, err = f.ledger.RegisterFarmer(ctx, donorAddr, "Both", "Hill", "Tea")
	require.NoError(t, err)

	_, err = f.ledger.RegisterDonor(ctx, strings.ToLower(donorAddr), "Again", "")
	assert.ErrorIs(t, err, ErrAlreadyRegistered)
	_, err = f.ledger.RegisterFarmer(ctx, donorAddr, "Again", "", "")
	assert.ErrorIs(t, err, ErrAlreadyRegistered)

	stats := f.ledger.GetContractStats()
	assert.Equal(t, uint64(1), stats.TotalDonors)
	assert.Equal(t, uint64(1), stats.TotalBeneficiaries)
	assert.True(t, f.ledger.IsDonorRegistered(donorAddr))
	assert.True(t, f.ledger.IsFarmerRegistered(donorAddr))
	assert.False(t, f.ledger.IsDonorRegistered(otherAddr))
}

func TestVerification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.ledger.RegisterDonor(ctx, donorAddr, "AidOrg", "")
	require.NoError(t, err)

	_, err = f.ledger.VerifyDonor(ctx, donorAddr, donorAddr)
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = f.ledger.VerifyDonor(ctx, adminAddr, otherAddr)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.ledger.VerifyFarmer(ctx, adminAddr, donorAddr)
	assert.ErrorIs(t, err, ErrNotFound)

	for i := 0; i < 2; i++ {
		d, err := f.ledger.VerifyDonor(ctx, adminAddr, donorAddr)
		require.NoError(t, err)
		assert.True(t, d.IsVerified)
	}
	assert.Equal(t, uint64(1), f.ledger.GetContractStats().TotalDonors)
	assert.Equal(t, []EventKind{KindDonorRegistered, KindDonorVerified, KindDonorVerified}, f.events.kinds())
}

func TestFundAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ledger.FundAccount(ctx, donorAddr, donorAddr, amt(5))
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = f.ledger.FundAccount(ctx, adminAddr, donorAddr, decimal.Zero)
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = f.ledger.FundAccount(ctx, adminAddr, EscrowAccount, amt(5))
	assert.ErrorIs(t, err, ErrInvalidAddress)

	b, err := f.ledger.FundAccount(ctx, adminAddr, donorAddr, amt(5))
	require.NoError(t, err)
	assert.True(t, amt(5).Equal(b))
	b, err = f.ledger.FundAccount(ctx, adminAddr, donorAddr, amt(7))
	require.NoError(t, err)
	assert.True(t, amt(12).Equal(b))
}

func TestReputationSaturates(t *testing.T) {
	assert.Equal(t, 10, SaturatingStep(10)(0))
	assert.Equal(t, 100, SaturatingStep(10)(95))
	assert.Equal(t, 100, SaturatingStep(10)(100))

	clock := newFakeClock()
	l, err := New(context.Background(), Options{
		Admin:          adminAddr,
		Clock:          clock.Now,
		ReputationRule: SaturatingStep(60),
	})
	require.NoError(t, err)
	f := &fixture{ledger: l, clock: clock}
	f.setup(t, 100)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := l.CreateDisbursement(ctx, donorAddr, farmerAddr, "Seeds", 1, amt(1))
		require.NoError(t, err)
		_, err = l.ClaimFunds(ctx, farmerAddr, d.ID)
		require.NoError(t, err)
	}
	donor, err := l.GetDonorStats(donorAddr)
	require.NoError(t, err)
	assert.Equal(t, MaxReputation, donor.ReputationScore)
	assert.Equal(t, uint64(3), donor.SuccessfulDisbursements)
}

func TestEventsFollowCommitOrder(t *testing.T) {
	f := newFixture(t)
	f.setup(t, 100)
	ctx := context.Background()
	_, err := f.ledger.CreateDisbursement(ctx, donorAddr, farmerAddr, "Seeds", 1, amt(10))
	require.NoError(t, err)
	_, err = f.ledger.ClaimFunds(ctx, farmerAddr, 1)
	require.NoError(t, err)

	assert.Equal(t, []EventKind{
		KindDonorRegistered,
		KindFarmerRegistered,
		KindDonorVerified,
		KindFarmerVerified,
		KindAccountFunded,
		KindFundsDisbursed,
		KindFundsClaimed,
		KindReputationUpdated,
	}, f.events.kinds())

	for i, e := range f.events.events {
		assert.Equal(t, uint64(i+1), e.Header().Seq)
	}
	assert.Equal(t, f.events.events, f.store.Events())

	disbursed := f.events.events[5].(FundsDisbursed)
	assert.Equal(t, uint64(1), disbursed.ID)
	assert.Equal(t, []string{donorAddr, farmerAddr}, Parties(disbursed))
}

// MockStore is a mock implementation of the Store interface
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Load(ctx context.Context) (*Snapshot, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Snapshot), args.Error(1)
}

func (m *MockStore) Commit(ctx context.Context, cs *Changeset) error {
	args := m.Called(ctx, cs)
	return args.Error(0)
}

func TestCommitFailureLeavesStateUntouched(t *testing.T) {
	store := new(MockStore)
	store.On("Load", mock.Anything).Return(&Snapshot{}, nil)
	// registration, verification and funding succeed
	store.On("Commit", mock.Anything, mock.Anything).Return(nil).Times(5)
	store.On("Commit", mock.Anything, mock.Anything).Return(errors.New("connection reset")).Once()
	store.On("Commit", mock.Anything, mock.Anything).Return(nil)

	events := &recorder{}
	l, err := New(context.Background(), Options{Admin: adminAddr, Store: store, Publisher: events})
	require.NoError(t, err)
	f := &fixture{ledger: l, events: events}
	f.setup(t, 100)
	ctx := context.Background()

	before := l.GetContractStats()
	_, err = l.CreateDisbursement(ctx, donorAddr, farmerAddr, "Seeds", 3, amt(40))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")

	assert.Equal(t, before, l.GetContractStats())
	assert.True(t, amt(100).Equal(f.balance(t, donorAddr)))
	assert.True(t, f.balance(t, EscrowAccount).IsZero())
	assert.Empty(t, l.GetDonorDisbursements(donorAddr))
	_, err = l.GetDisbursementDetails(1)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Len(t, events.kinds(), 5)

	d, err := l.CreateDisbursement(ctx, donorAddr, farmerAddr, "Seeds", 3, amt(40))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), d.ID)
	assert.Equal(t, uint64(6), events.events[5].Header().Seq)
	assert.NoError(t, l.CheckInvariants())
	store.AssertNumberOfCalls(t, "Commit", 7)
}

func TestRestoreFromStore(t *testing.T) {
	f := newFixture(t)
	f.setup(t, 100)
	ctx := context.Background()
	_, err := f.ledger.CreateDisbursement(ctx, donorAddr, farmerAddr, "Seeds", 1, amt(30))
	require.NoError(t, err)
	_, err = f.ledger.CreateDisbursement(ctx, donorAddr, farmerAddr, "Tools", 1, amt(20))
	require.NoError(t, err)
	_, err = f.ledger.ClaimFunds(ctx, farmerAddr, 2)
	require.NoError(t, err)

	restored, err := New(ctx, Options{Admin: adminAddr, Store: f.store, Clock: f.clock.Now})
	require.NoError(t, err)

	assert.True(t, f.ledger.GetContractStats().Equal(restored.GetContractStats()))
	assert.Equal(t, []uint64{1, 2}, restored.GetDonorDisbursements(donorAddr))
	assert.Equal(t, []uint64{1, 2}, restored.GetFarmerDisbursements(farmerAddr))
	assert.Equal(t, f.ledger.GetAllDonors(), restored.GetAllDonors())
	assert.NoError(t, restored.CheckInvariants())

	f.clock.Advance(48 * time.Hour)
	_, err = restored.ReclaimExpiredFunds(ctx, donorAddr, 1)
	require.NoError(t, err)
	d, err := restored.CreateDisbursement(ctx, donorAddr, farmerAddr, "Fertiliser", 1, amt(5))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), d.ID)

	_, err = New(ctx, Options{Admin: otherAddr, Store: f.store})
	assert.Error(t, err)
}

func TestCountersMatchRecomputation(t *testing.T) {
	f := newFixture(t)
	f.setup(t, 1000)
	ctx := context.Background()
	_, err := f.ledger.RegisterFarmer(ctx, otherAddr, "Mina", "Village B", "Dairy")
	require.NoError(t, err)
	_, err = f.ledger.VerifyFarmer(ctx, adminAddr, otherAddr)
	require.NoError(t, err)

	for i := int64(1); i <= 6; i++ {
		to := farmerAddr
		if i%2 == 0 {
			to = otherAddr
		}
		_, err := f.ledger.CreateDisbursement(ctx, donorAddr, to, "Seeds", i%3+1, amt(i*10))
		require.NoError(t, err)
	}
	_, err = f.ledger.ClaimFunds(ctx, farmerAddr, 1)
	require.NoError(t, err)
	_, err = f.ledger.ClaimFunds(ctx, otherAddr, 4)
	require.NoError(t, err)
	f.clock.Advance(10 * 24 * time.Hour)
	_, err = f.ledger.ReclaimExpiredFunds(ctx, donorAddr, 3)
	require.NoError(t, err)

	stats := f.ledger.GetContractStats()
	assert.True(t, stats.Equal(f.ledger.Recompute()))
	assert.True(t, amt(50).Equal(stats.TotalFundsDistributed))
	assert.True(t, amt(20+50+60).Equal(stats.TotalEscrowed))
	assert.Equal(t, uint64(6), stats.TotalDisbursements)
	assert.NoError(t, f.ledger.CheckInvariants())

	open, err := f.ledger.ListDisbursements(DisbursementFilter{Status: workflows.StatusOpen})
	require.NoError(t, err)
	assert.Len(t, open, 3)

	toOther, err := f.ledger.ListDisbursements(DisbursementFilter{Farmer: strings.ToLower(otherAddr)})
	require.NoError(t, err)
	require.Len(t, toOther, 3)
	assert.Equal(t, []uint64{2, 4, 6}, []uint64{toOther[0].ID, toOther[1].ID, toOther[2].ID})

	expired, err := f.ledger.ListDisbursements(DisbursementFilter{ExpiredAt: f.clock.Now().Unix()})
	require.NoError(t, err)
	assert.Len(t, expired, 3)

	_, err = f.ledger.ListDisbursements(DisbursementFilter{Status: "pending"})
	assert.ErrorIs(t, err, ErrInvalidFilter)
}

func TestConcurrentClaimSettlesOnce(t *testing.T) {
	f := newFixture(t)
	f.setup(t, 100)
	ctx := context.Background()
	_, err := f.ledger.CreateDisbursement(ctx, donorAddr, farmerAddr, "Seeds", 1, amt(100))
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.ledger.ClaimFunds(ctx, farmerAddr, 1); err == nil {
				successes.Add(1)
			}
			_ = f.ledger.GetContractStats()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
	assert.True(t, amt(100).Equal(f.balance(t, farmerAddr)))
	assert.NoError(t, f.ledger.CheckInvariants())
}

func TestReadsOfUnknownEntities(t *testing.T) {
	f := newFixture(t)

	_, err := f.ledger.GetDonorStats(otherAddr)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.ledger.GetFarmerStats(otherAddr)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.ledger.GetDisbursementDetails(0)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, f.ledger.GetDonorDisbursements(otherAddr))
	assert.Empty(t, f.ledger.GetFarmerDisbursements("garbage"))
	assert.Empty(t, f.ledger.GetAllDonors())
	b, err := f.ledger.BalanceOf(otherAddr)
	require.NoError(t, err)
	assert.True(t, b.IsZero())
}

func TestDecodeEvent(t *testing.T) {
	in := FundsClaimed{
		EventHeader: EventHeader{Seq: 7, At: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)},
		ID:          3,
		Farmer:      farmerAddr,
		Amount:      amt(42),
	}
	rec, err := NewEventRecord(in)
	require.NoError(t, err)
	assert.Equal(t, farmerAddr, rec.Account)
	assert.Nil(t, rec.Counterparty)
	require.NotNil(t, rec.DisbursementID)
	assert.Equal(t, uint64(3), *rec.DisbursementID)

	out, err := rec.Event()
	require.NoError(t, err)
	claimed, ok := out.(FundsClaimed)
	require.True(t, ok)
	assert.Equal(t, in.Seq, claimed.Seq)
	assert.True(t, in.At.Equal(claimed.At))
	assert.True(t, in.Amount.Equal(claimed.Amount))

	_, err = DecodeEvent("Bogus", []byte(`{}`))
	assert.Error(t, err)
}
