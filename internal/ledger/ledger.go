package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"fairfund/fairfund-backend/pkg/address"
	"fairfund/fairfund-backend/pkg/workflows"
)

// DefaultReputationStep is how much a donor's score rises per claimed disbursement
const DefaultReputationStep = 10

// ReputationRule maps a donor's score to the score after one successful claim.
type ReputationRule func(score int) int

// SaturatingStep adds step to the score and caps it at MaxReputation.
func SaturatingStep(step int) ReputationRule {
	return func(score int) int {
		return min(MaxReputation, score+step)
	}
}

// Options configures a Ledger. Only Admin is required.
type Options struct {
	Admin          string
	ReputationRule ReputationRule
	Clock          func() time.Time
	Store          Store
	Publisher      Publisher
	Logger         *zap.Logger
}

// Ledger owns donors, farmers, disbursements, balances and counters. Writes are
// serialized and all-or-nothing; reads see only committed state.
type Ledger struct {
	mu        sync.RWMutex
	admin     string
	rule      ReputationRule
	clock     func() time.Time
	store     Store
	publisher Publisher
	logger    *zap.Logger
	lifecycle *workflows.StateMachine

	donors        map[string]*Donor
	donorOrder    []string
	farmers       map[string]*Farmer
	farmerOrder   []string
	disbursements []*Disbursement // id n lives at index n-1
	balances      map[string]decimal.Decimal
	stats         ContractStats
	eventSeq      uint64
}

// New creates a ledger and restores whatever the store has committed.
func New(ctx context.Context, opts Options) (*Ledger, error) {
	admin, err := address.Normalize(opts.Admin)
	if err != nil {
		return nil, fmt.Errorf("admin: %w", err)
	}

	l := &Ledger{
		admin:     admin,
		rule:      opts.ReputationRule,
		clock:     opts.Clock,
		store:     opts.Store,
		publisher: opts.Publisher,
		logger:    opts.Logger,
		lifecycle: workflows.NewStateMachine(),
		donors:    make(map[string]*Donor),
		farmers:   make(map[string]*Farmer),
		balances:  make(map[string]decimal.Decimal),
		stats: ContractStats{
			TotalFundsDistributed: decimal.Zero,
			TotalEscrowed:         decimal.Zero,
		},
	}
	if l.rule == nil {
		l.rule = SaturatingStep(DefaultReputationStep)
	}
	if l.clock == nil {
		l.clock = time.Now
	}
	if l.store == nil {
		l.store = NewMemoryStore()
	}
	if l.publisher == nil {
		l.publisher = nopPublisher{}
	}
	if l.logger == nil {
		l.logger = zap.NewNop()
	}

	snap, err := l.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger state: %w", err)
	}
	if err := l.restore(snap); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Ledger) restore(snap *Snapshot) error {
	if snap.State.Admin != "" && snap.State.Admin != l.admin {
		return fmt.Errorf("stored ledger is owned by %s, not %s", snap.State.Admin, l.admin)
	}

	for _, d := range snap.Donors {
		d := d.clone()
		d.DisbursementIDs = nil
		l.donors[d.Address] = d
		l.donorOrder = append(l.donorOrder, d.Address)
	}
	for _, f := range snap.Farmers {
		f := f.clone()
		f.DisbursementIDs = nil
		l.farmers[f.Address] = f
		l.farmerOrder = append(l.farmerOrder, f.Address)
	}
	for i, d := range snap.Disbursements {
		if d.ID != uint64(i+1) {
			return fmt.Errorf("stored disbursements are not contiguous at id %d", d.ID)
		}
		d := d.clone()
		l.disbursements = append(l.disbursements, d)
		// ids ascend, so appending keeps each list in creation order
		if donor, ok := l.donors[d.Donor]; ok {
			donor.DisbursementIDs = append(donor.DisbursementIDs, d.ID)
		}
		if farmer, ok := l.farmers[d.Farmer]; ok {
			farmer.DisbursementIDs = append(farmer.DisbursementIDs, d.ID)
		}
	}
	for k, v := range snap.Balances {
		l.balances[k] = v
	}
	l.eventSeq = snap.State.EventSeq
	l.stats = l.recompute()

	if snap.State.Admin != "" && !snap.State.Stats.Equal(l.stats) {
		l.logger.Warn("Stored counters differ from recomputation, using recomputed values",
			zap.Any("stored", snap.State.Stats),
			zap.Any("recomputed", l.stats))
	}
	if len(snap.Donors) > 0 || len(snap.Farmers) > 0 {
		l.logger.Info("Ledger restored",
			zap.Int("donors", len(l.donors)),
			zap.Int("farmers", len(l.farmers)),
			zap.Int("disbursements", len(l.disbursements)))
	}
	return nil
}

// RegisterDonor creates the caller's donor record.
func (l *Ledger) RegisterDonor(ctx context.Context, caller, name, description string) (*Donor, error) {
	caller, err := normalize(caller)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.donors[caller]; ok {
		return nil, fmt.Errorf("%w: donor %s", ErrAlreadyRegistered, caller)
	}

	t := l.begin()
	t.state.Stats.TotalDonors++
	donor := &Donor{
		Address:      caller,
		Name:         name,
		Description:  description,
		TotalDonated: decimal.Zero,
		RegisteredAt: t.now.Unix(),
		Seq:          t.state.Stats.TotalDonors,
	}
	t.putDonor(donor)
	t.emit(DonorRegistered{EventHeader: t.header(), Donor: caller, Name: name})

	if err := l.commit(ctx, t); err != nil {
		return nil, err
	}
	l.logger.Info("Donor registered", zap.String("donor", caller))
	return donor.clone(), nil
}

// RegisterFarmer creates the caller's farmer record. The donor and farmer roles are
// independent: one address may hold both.
func (l *Ledger) RegisterFarmer(ctx context.Context, caller, name, location, farmType string) (*Farmer, error) {
	caller, err := normalize(caller)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.farmers[caller]; ok {
		return nil, fmt.Errorf("%w: farmer %s", ErrAlreadyRegistered, caller)
	}

	t := l.begin()
	t.state.Stats.TotalBeneficiaries++
	farmer := &Farmer{
		Address:       caller,
		Name:          name,
		Location:      location,
		FarmType:      farmType,
		TotalReceived: decimal.Zero,
		RegisteredAt:  t.now.Unix(),
		Seq:           t.state.Stats.TotalBeneficiaries,
	}
	t.putFarmer(farmer)
	t.emit(FarmerRegistered{EventHeader: t.header(), Farmer: caller, Name: name, Location: location})

	if err := l.commit(ctx, t); err != nil {
		return nil, err
	}
	l.logger.Info("Farmer registered", zap.String("farmer", caller))
	return farmer.clone(), nil
}

// VerifyDonor marks a donor as trusted. Only the administrator may call it;
// verifying twice is harmless.
func (l *Ledger) VerifyDonor(ctx context.Context, caller, target string) (*Donor, error) {
	caller, target, err := normalizePair(caller, target)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.admin {
		return nil, fmt.Errorf("%w: only the administrator can verify donors", ErrUnauthorized)
	}
	t := l.begin()
	donor, ok := t.donor(target)
	if !ok {
		return nil, fmt.Errorf("%w: donor %s", ErrNotFound, target)
	}
	donor.IsVerified = true
	t.emit(DonorVerified{EventHeader: t.header(), Donor: target})

	if err := l.commit(ctx, t); err != nil {
		return nil, err
	}
	l.logger.Info("Donor verified", zap.String("donor", target))
	return donor.clone(), nil
}

// VerifyFarmer marks a farmer as trusted. Only the administrator may call it.
func (l *Ledger) VerifyFarmer(ctx context.Context, caller, target string) (*Farmer, error) {
	caller, target, err := normalizePair(caller, target)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.admin {
		return nil, fmt.Errorf("%w: only the administrator can verify farmers", ErrUnauthorized)
	}
	t := l.begin()
	farmer, ok := t.farmer(target)
	if !ok {
		return nil, fmt.Errorf("%w: farmer %s", ErrNotFound, target)
	}
	farmer.IsVerified = true
	t.emit(FarmerVerified{EventHeader: t.header(), Farmer: target})

	if err := l.commit(ctx, t); err != nil {
		return nil, err
	}
	l.logger.Info("Farmer verified", zap.String("farmer", target))
	return farmer.clone(), nil
}

// CreateDisbursement moves amount from the calling donor into escrow for farmer. The
// farmer may claim it until days*86400 seconds from now; after that the donor may
// reclaim it.
func (l *Ledger) CreateDisbursement(ctx context.Context, caller, farmerAddr, purpose string, days int64, amount decimal.Decimal) (*Disbursement, error) {
	caller, farmerAddr, err := normalizePair(caller, farmerAddr)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	t := l.begin()
	donor, ok := t.donor(caller)
	if !ok || !donor.IsVerified {
		return nil, fmt.Errorf("%w: donor %s", ErrNotVerified, caller)
	}
	farmer, ok := t.farmer(farmerAddr)
	if !ok {
		return nil, fmt.Errorf("%w: farmer %s", ErrNotFound, farmerAddr)
	}
	if !farmer.IsVerified {
		return nil, fmt.Errorf("%w: farmer %s", ErrNotVerified, farmerAddr)
	}
	if err := validAmount(amount); err != nil {
		return nil, err
	}
	if days <= 0 || days > MaxClaimDeadlineDays {
		return nil, fmt.Errorf("%w: %d days", ErrInvalidDeadline, days)
	}
	if err := t.transfer(caller, EscrowAccount, amount); err != nil {
		return nil, err
	}

	now := t.now.Unix()
	t.state.Stats.TotalDisbursements++
	t.state.Stats.TotalEscrowed = t.state.Stats.TotalEscrowed.Add(amount)
	d := &Disbursement{
		ID:            t.state.Stats.TotalDisbursements,
		Donor:         caller,
		Farmer:        farmerAddr,
		Amount:        amount,
		Timestamp:     now,
		Purpose:       purpose,
		Status:        workflows.StatusOpen,
		ClaimDeadline: now + days*SecondsPerDay,
	}
	t.putDisbursement(d)
	donor.TotalDonated = donor.TotalDonated.Add(amount)
	donor.DisbursementIDs = append(donor.DisbursementIDs, d.ID)
	farmer.DisbursementIDs = append(farmer.DisbursementIDs, d.ID)
	t.emit(FundsDisbursed{EventHeader: t.header(), ID: d.ID, Donor: caller, Farmer: farmerAddr, Amount: amount})

	if err := l.commit(ctx, t); err != nil {
		return nil, err
	}
	l.logger.Info("Disbursement created",
		zap.Uint64("id", d.ID),
		zap.String("donor", caller),
		zap.String("farmer", farmerAddr),
		zap.String("amount", amount.String()))
	return d.clone(), nil
}

// ClaimFunds releases an open disbursement to its farmer before the deadline.
func (l *Ledger) ClaimFunds(ctx context.Context, caller string, id uint64) (*Disbursement, error) {
	caller, err := normalize(caller)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	t := l.begin()
	d, ok := t.disbursement(id)
	if !ok {
		return nil, fmt.Errorf("%w: disbursement %d", ErrNotFound, id)
	}
	if caller != d.Farmer {
		return nil, fmt.Errorf("%w: only the farmer of disbursement %d can claim it", ErrUnauthorized, id)
	}
	if err := l.canSettle(d, workflows.StatusClaimed); err != nil {
		return nil, err
	}
	now := t.now.Unix()
	if d.Expired(now) {
		return nil, fmt.Errorf("%w: disbursement %d expired at %d", ErrExpired, id, d.ClaimDeadline)
	}
	if err := t.transfer(EscrowAccount, d.Farmer, d.Amount); err != nil {
		return nil, err
	}

	d.Status = workflows.StatusClaimed
	d.SettledAt = now

	farmer, _ := t.farmer(d.Farmer)
	farmer.TotalReceived = farmer.TotalReceived.Add(d.Amount)
	farmer.LastDisbursementDate = now

	donor, _ := t.donor(d.Donor)
	donor.SuccessfulDisbursements++
	donor.ReputationScore = l.nextReputation(donor.ReputationScore)

	t.state.Stats.TotalFundsDistributed = t.state.Stats.TotalFundsDistributed.Add(d.Amount)
	t.state.Stats.TotalEscrowed = t.state.Stats.TotalEscrowed.Sub(d.Amount)

	t.emit(FundsClaimed{EventHeader: t.header(), ID: id, Farmer: d.Farmer, Amount: d.Amount})
	t.emit(ReputationUpdated{EventHeader: t.header(), Donor: d.Donor, NewScore: donor.ReputationScore})

	if err := l.commit(ctx, t); err != nil {
		return nil, err
	}
	l.logger.Info("Disbursement claimed", zap.Uint64("id", id), zap.String("farmer", d.Farmer))
	return d.clone(), nil
}

// ReclaimExpiredFunds returns an unclaimed disbursement to its donor once the
// deadline has passed. The disbursement can never be claimed afterwards.
func (l *Ledger) ReclaimExpiredFunds(ctx context.Context, caller string, id uint64) (*Disbursement, error) {
	caller, err := normalize(caller)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	t := l.begin()
	d, ok := t.disbursement(id)
	if !ok {
		return nil, fmt.Errorf("%w: disbursement %d", ErrNotFound, id)
	}
	if caller != d.Donor {
		return nil, fmt.Errorf("%w: only the donor of disbursement %d can reclaim it", ErrUnauthorized, id)
	}
	if err := l.canSettle(d, workflows.StatusReclaimed); err != nil {
		return nil, err
	}
	now := t.now.Unix()
	if !d.Expired(now) {
		return nil, fmt.Errorf("%w: disbursement %d is claimable until %d", ErrNotYetExpired, id, d.ClaimDeadline)
	}
	if err := t.transfer(EscrowAccount, d.Donor, d.Amount); err != nil {
		return nil, err
	}

	d.Status = workflows.StatusReclaimed
	d.SettledAt = now
	t.state.Stats.TotalEscrowed = t.state.Stats.TotalEscrowed.Sub(d.Amount)
	t.emit(FundsReclaimed{EventHeader: t.header(), ID: id, Donor: d.Donor, Amount: d.Amount})

	if err := l.commit(ctx, t); err != nil {
		return nil, err
	}
	l.logger.Info("Disbursement reclaimed", zap.Uint64("id", id), zap.String("donor", d.Donor))
	return d.clone(), nil
}

// FundAccount credits an account's spendable balance. Only the administrator may
// mint funds.
func (l *Ledger) FundAccount(ctx context.Context, caller, account string, amount decimal.Decimal) (decimal.Decimal, error) {
	caller, account, err := normalizePair(caller, account)
	if err != nil {
		return decimal.Zero, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.admin {
		return decimal.Zero, fmt.Errorf("%w: only the administrator can fund accounts", ErrUnauthorized)
	}
	if err := validAmount(amount); err != nil {
		return decimal.Zero, err
	}

	t := l.begin()
	balance := t.balance(account).Add(amount)
	t.balances[account] = balance
	t.emit(AccountFunded{EventHeader: t.header(), Account: account, Amount: amount})

	if err := l.commit(ctx, t); err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}

func (l *Ledger) canSettle(d *Disbursement, to string) error {
	if l.lifecycle.CanTransition(d.Status, to) {
		return nil
	}
	if d.Status == workflows.StatusReclaimed {
		return fmt.Errorf("%w: disbursement %d was reclaimed by donor", ErrAlreadyClaimed, d.ID)
	}
	return fmt.Errorf("%w: disbursement %d", ErrAlreadyClaimed, d.ID)
}

// nextReputation applies the rule and keeps the result monotone and bounded.
func (l *Ledger) nextReputation(score int) int {
	next := l.rule(score)
	if next < score {
		next = score
	}
	return min(next, MaxReputation)
}

func validAmount(amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return fmt.Errorf("%w: %s must be positive", ErrInvalidAmount, amount)
	}
	if !amount.IsInteger() {
		return fmt.Errorf("%w: %s is not a whole number of base units", ErrInvalidAmount, amount)
	}
	return nil
}

func normalize(s string) (string, error) {
	a, err := address.Normalize(s)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return a, nil
}

func normalizePair(a, b string) (string, string, error) {
	na, err := normalize(a)
	if err != nil {
		return "", "", err
	}
	nb, err := normalize(b)
	if err != nil {
		return "", "", err
	}
	return na, nb, nil
}

// commit persists the staged changes and only then makes them visible. Must be
// called with l.mu held.
func (l *Ledger) commit(ctx context.Context, t *txn) error {
	cs := t.changeset()
	if err := l.store.Commit(ctx, cs); err != nil {
		l.logger.Error("Failed to commit ledger change", zap.Error(err))
		return fmt.Errorf("failed to persist ledger change: %w", err)
	}
	l.apply(cs)
	l.publisher.Publish(ctx, cs.Events)
	return nil
}

func (l *Ledger) apply(cs *Changeset) {
	for _, d := range cs.Donors {
		if _, ok := l.donors[d.Address]; !ok {
			l.donorOrder = append(l.donorOrder, d.Address)
		}
		l.donors[d.Address] = d.clone()
	}
	for _, f := range cs.Farmers {
		if _, ok := l.farmers[f.Address]; !ok {
			l.farmerOrder = append(l.farmerOrder, f.Address)
		}
		l.farmers[f.Address] = f.clone()
	}
	for _, d := range cs.Disbursements {
		if d.ID == uint64(len(l.disbursements))+1 {
			l.disbursements = append(l.disbursements, d.clone())
		} else {
			l.disbursements[d.ID-1] = d.clone()
		}
	}
	for k, v := range cs.Balances {
		l.balances[k] = v
	}
	l.stats = cs.State.Stats
	l.eventSeq = cs.State.EventSeq
}

// txn stages one operation on copies of the records it touches.
type txn struct {
	l     *Ledger
	now   time.Time
	state State

	donors        map[string]*Donor
	donorKeys     []string
	farmers       map[string]*Farmer
	farmerKeys    []string
	disbursements map[uint64]*Disbursement
	disbKeys      []uint64
	balances      map[string]decimal.Decimal
	events        []Event
}

func (l *Ledger) begin() *txn {
	return &txn{
		l:   l,
		now: l.clock(),
		state: State{
			Admin:    l.admin,
			Stats:    l.stats,
			EventSeq: l.eventSeq,
		},
		donors:        make(map[string]*Donor),
		farmers:       make(map[string]*Farmer),
		disbursements: make(map[uint64]*Disbursement),
		balances:      make(map[string]decimal.Decimal),
	}
}

func (t *txn) donor(addr string) (*Donor, bool) {
	if d, ok := t.donors[addr]; ok {
		return d, true
	}
	d, ok := t.l.donors[addr]
	if !ok {
		return nil, false
	}
	c := d.clone()
	t.putDonor(c)
	return c, true
}

func (t *txn) putDonor(d *Donor) {
	if _, ok := t.donors[d.Address]; !ok {
		t.donorKeys = append(t.donorKeys, d.Address)
	}
	t.donors[d.Address] = d
}

func (t *txn) farmer(addr string) (*Farmer, bool) {
	if f, ok := t.farmers[addr]; ok {
		return f, true
	}
	f, ok := t.l.farmers[addr]
	if !ok {
		return nil, false
	}
	c := f.clone()
	t.putFarmer(c)
	return c, true
}

func (t *txn) putFarmer(f *Farmer) {
	if _, ok := t.farmers[f.Address]; !ok {
		t.farmerKeys = append(t.farmerKeys, f.Address)
	}
	t.farmers[f.Address] = f
}

func (t *txn) disbursement(id uint64) (*Disbursement, bool) {
	if d, ok := t.disbursements[id]; ok {
		return d, true
	}
	if id == 0 || id > uint64(len(t.l.disbursements)) {
		return nil, false
	}
	c := t.l.disbursements[id-1].clone()
	t.putDisbursement(c)
	return c, true
}

func (t *txn) putDisbursement(d *Disbursement) {
	if _, ok := t.disbursements[d.ID]; !ok {
		t.disbKeys = append(t.disbKeys, d.ID)
	}
	t.disbursements[d.ID] = d
}

func (t *txn) balance(account string) decimal.Decimal {
	if b, ok := t.balances[account]; ok {
		return b
	}
	if b, ok := t.l.balances[account]; ok {
		return b
	}
	return decimal.Zero
}

func (t *txn) transfer(from, to string, amount decimal.Decimal) error {
	available := t.balance(from)
	if available.LessThan(amount) {
		return fmt.Errorf("%w: %s has %s, need %s", ErrInsufficientFunds, from, available, amount)
	}
	t.balances[from] = available.Sub(amount)
	t.balances[to] = t.balance(to).Add(amount)
	return nil
}

func (t *txn) header() EventHeader {
	t.state.EventSeq++
	return EventHeader{Seq: t.state.EventSeq, At: t.now.UTC()}
}

func (t *txn) emit(e Event) {
	t.events = append(t.events, e)
}

func (t *txn) changeset() *Changeset {
	cs := &Changeset{
		State:    t.state,
		Balances: t.balances,
		Events:   t.events,
	}
	for _, k := range t.donorKeys {
		cs.Donors = append(cs.Donors, t.donors[k])
	}
	for _, k := range t.farmerKeys {
		cs.Farmers = append(cs.Farmers, t.farmers[k])
	}
	for _, k := range t.disbKeys {
		cs.Disbursements = append(cs.Disbursements, t.disbursements[k])
	}
	return cs
}
