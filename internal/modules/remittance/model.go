// README: Remittance aggregate, status flow and period arithmetic.
package remittance

import (
	"errors"
	"fmt"
	"time"

	"parkangel/internal/types"
)

type Status string

const (
	StatusNone       Status = "none"
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusEscalated  Status = "escalated"
	// StatusReleased means an escalated remittance gave its shares back to the pool.
	StatusReleased Status = "released"
)

// Remittance is one payout of a recipient's shares for one period. Sequence
// increases when new shares arrive after an earlier sequence completed.
type Remittance struct {
	ID                 types.ID
	RecipientID        types.ID
	PeriodStart        time.Time
	PeriodEnd          time.Time
	Sequence           int
	TotalShare         int64
	PreviouslyReserved int64
	Payable            int64
	Currency           string
	Status             Status
	StatusVersion      int
	Attempts           int
	TransferID         string
	LastError          string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Open reports whether the remittance still blocks a new sequence for its period.
func (r Remittance) Open() bool {
	return r.Status != StatusCompleted && r.Status != StatusReleased
}

type Event struct {
	ID           int64
	RemittanceID types.ID
	FromStatus   Status
	ToStatus     Status
	ActorType    string
	Note         string
	CreatedAt    time.Time
}

// AllowedTransitions represents the remittance flow as code.
var AllowedTransitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusEscalated},
	StatusProcessing: {StatusCompleted, StatusFailed},
	StatusFailed:     {StatusPending, StatusEscalated},
	StatusEscalated:  {StatusReleased},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

var (
	ErrNothingToRemit  = errors.New("no shares to remit for period")
	ErrInvalidState    = errors.New("invalid remittance state transition")
	ErrNotFound        = errors.New("remittance not found")
	ErrConflict        = errors.New("remittance state conflict")
	ErrBadRequest      = errors.New("bad request")
	ErrNoPayoutAccount = errors.New("recipient has no payout account")

	// ErrTransferUncertain means the gateway may or may not have executed the transfer.
	ErrTransferUncertain = errors.New("transfer outcome unknown")
)

// TransferError is a definitive rejection from the payment gateway.
type TransferError struct {
	RemittanceID types.ID
	Reason       string
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer for remittance %s failed: %s", e.RemittanceID, e.Reason)
}

// Period is the half-open local-time interval [Start, End).
type Period struct {
	Start time.Time
	End   time.Time
}

func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

func (p Period) String() string {
	return p.Start.Format(time.DateOnly) + "/" + p.End.Format(time.DateOnly)
}

// periodEpoch is a Monday; periods of N days are counted from it.
var periodEpoch = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// PeriodContaining returns the period of the given number of local days that
// contains t. Boundaries fall on local midnights.
func PeriodContaining(t time.Time, days int, loc *time.Location) Period {
	if days <= 0 {
		days = 1
	}
	y, m, d := t.In(loc).Date()
	dayNum := int(time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Sub(periodEpoch) / (24 * time.Hour))
	idx := dayNum / days
	if dayNum%days != 0 && dayNum < 0 {
		idx--
	}
	first := idx * days
	return Period{
		Start: time.Date(2024, time.January, 1+first, 0, 0, 0, 0, loc),
		End:   time.Date(2024, time.January, 1+first+days, 0, 0, 0, 0, loc),
	}
}

// LastClosedPeriod is the most recent period that ended at or before now.
func LastClosedPeriod(now time.Time, days int, loc *time.Location) Period {
	current := PeriodContaining(now, days, loc)
	return PeriodContaining(current.Start.Add(-time.Nanosecond), days, loc)
}

// Job asks a queue worker to run and process one recipient's period.
type Job struct {
	RecipientID types.ID  `json:"recipientId"`
	PeriodStart time.Time `json:"periodStart"`
	PeriodEnd   time.Time `json:"periodEnd"`
}

func (j Job) Period() Period {
	return Period{Start: j.PeriodStart, End: j.PeriodEnd}
}
