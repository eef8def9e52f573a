package ledger

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// EventKind names a ledger notification
type EventKind string

const (
	KindDonorRegistered   EventKind = "DonorRegistered"
	KindFarmerRegistered  EventKind = "FarmerRegistered"
	KindDonorVerified     EventKind = "DonorVerified"
	KindFarmerVerified    EventKind = "FarmerVerified"
	KindFundsDisbursed    EventKind = "FundsDisbursed"
	KindFundsClaimed      EventKind = "FundsClaimed"
	KindFundsReclaimed    EventKind = "FundsReclaimed"
	KindReputationUpdated EventKind = "ReputationUpdated"
	KindAccountFunded     EventKind = "AccountFunded"
)

// Event is one committed state change. Seq is unique and increasing across the
// whole ledger, so sorting by it reproduces commit order.
type Event interface {
	Kind() EventKind
	Header() EventHeader
}

// EventHeader is embedded by every event
type EventHeader struct {
	Seq uint64    `json:"seq"`
	At  time.Time `json:"at"`
}

func (h EventHeader) Header() EventHeader { return h }

type DonorRegistered struct {
	EventHeader
	Donor string `json:"donor"`
	Name  string `json:"name"`
}

type FarmerRegistered struct {
	EventHeader
	Farmer   string `json:"farmer"`
	Name     string `json:"name"`
	Location string `json:"location"`
}

type DonorVerified struct {
	EventHeader
	Donor string `json:"donor"`
}

type FarmerVerified struct {
	EventHeader
	Farmer string `json:"farmer"`
}

type FundsDisbursed struct {
	EventHeader
	ID     uint64          `json:"id"`
	Donor  string          `json:"donor"`
	Farmer string          `json:"farmer"`
	Amount decimal.Decimal `json:"amount"`
}

type FundsClaimed struct {
	EventHeader
	ID     uint64          `json:"id"`
	Farmer string          `json:"farmer"`
	Amount decimal.Decimal `json:"amount"`
}

// FundsReclaimed records the escrow returning to the donor after the deadline.
type FundsReclaimed struct {
	EventHeader
	ID     uint64          `json:"id"`
	Donor  string          `json:"donor"`
	Amount decimal.Decimal `json:"amount"`
}

type ReputationUpdated struct {
	EventHeader
	Donor    string `json:"donor"`
	NewScore int    `json:"new_score"`
}

type AccountFunded struct {
	EventHeader
	Account string          `json:"account"`
	Amount  decimal.Decimal `json:"amount"`
}

func (DonorRegistered) Kind() EventKind   { return KindDonorRegistered }
func (FarmerRegistered) Kind() EventKind  { return KindFarmerRegistered }
func (DonorVerified) Kind() EventKind     { return KindDonorVerified }
func (FarmerVerified) Kind() EventKind    { return KindFarmerVerified }
func (FundsDisbursed) Kind() EventKind    { return KindFundsDisbursed }
func (FundsClaimed) Kind() EventKind      { return KindFundsClaimed }
func (FundsReclaimed) Kind() EventKind    { return KindFundsReclaimed }
func (ReputationUpdated) Kind() EventKind { return KindReputationUpdated }
func (AccountFunded) Kind() EventKind     { return KindAccountFunded }

// Parties returns the accounts an event concerns, primary account first.
func Parties(e Event) []string {
	switch ev := e.(type) {
	case DonorRegistered:
		return []string{ev.Donor}
	case FarmerRegistered:
		return []string{ev.Farmer}
	case DonorVerified:
		return []string{ev.Donor}
	case FarmerVerified:
		return []string{ev.Farmer}
	case FundsDisbursed:
		return []string{ev.Donor, ev.Farmer}
	case FundsClaimed:
		return []string{ev.Farmer}
	case FundsReclaimed:
		return []string{ev.Donor}
	case ReputationUpdated:
		return []string{ev.Donor}
	case AccountFunded:
		return []string{ev.Account}
	}
	return nil
}

// DisbursementID returns the disbursement an event refers to, if any.
func DisbursementID(e Event) (uint64, bool) {
	switch ev := e.(type) {
	case FundsDisbursed:
		return ev.ID, true
	case FundsClaimed:
		return ev.ID, true
	case FundsReclaimed:
		return ev.ID, true
	}
	return 0, false
}

// EncodeEvent serializes the event payload. The kind travels separately.
func EncodeEvent(e Event) ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEvent rebuilds a typed event from its kind and payload
func DecodeEvent(kind EventKind, payload []byte) (Event, error) {
	var (
		e   Event
		err error
	)
	switch kind {
	case KindDonorRegistered:
		var ev DonorRegistered
		err = json.Unmarshal(payload, &ev)
		e = ev
	case KindFarmerRegistered:
		var ev FarmerRegistered
		err = json.Unmarshal(payload, &ev)
		e = ev
	case KindDonorVerified:
		var ev DonorVerified
		err = json.Unmarshal(payload, &ev)
		e = ev
	case KindFarmerVerified:
		var ev FarmerVerified
		err = json.Unmarshal(payload, &ev)
		e = ev
	case KindFundsDisbursed:
		var ev FundsDisbursed
		err = json.Unmarshal(payload, &ev)
		e = ev
	case KindFundsClaimed:
		var ev FundsClaimed
		err = json.Unmarshal(payload, &ev)
		e = ev
	case KindFundsReclaimed:
		var ev FundsReclaimed
		err = json.Unmarshal(payload, &ev)
		e = ev
	case KindReputationUpdated:
		var ev ReputationUpdated
		err = json.Unmarshal(payload, &ev)
		e = ev
	case KindAccountFunded:
		var ev AccountFunded
		err = json.Unmarshal(payload, &ev)
		e = ev
	default:
		return nil, fmt.Errorf("unknown event kind %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s event: %w", kind, err)
	}
	return e, nil
}
