package eligibility

import (
	"context"
	"errors"
	"testing"
	"time"

	"parkangel/internal/types"
)

type memRepo struct {
	assignments []VIPAssignment
	rules       []DiscountRule
	records     []Record
}

func (m *memRepo) InsertAssignment(_ context.Context, a VIPAssignment) error {
	m.assignments = append(m.assignments, a)
	return nil
}

func (m *memRepo) SetAssignmentActive(_ context.Context, id types.ID, active bool) (bool, error) {
	for i := range m.assignments {
		if m.assignments[i].ID == id {
			m.assignments[i].IsActive = active
			return true, nil
		}
	}
	return false, nil
}

func (m *memRepo) ActiveAssignments(_ context.Context, userID types.ID, _ time.Time) ([]VIPAssignment, error) {
	var out []VIPAssignment
	for _, a := range m.assignments {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memRepo) InsertRule(_ context.Context, r DiscountRule) error {
	m.rules = append(m.rules, r)
	return nil
}

func (m *memRepo) RulesForOperator(_ context.Context, operatorID types.ID) ([]DiscountRule, error) {
	var out []DiscountRule
	for _, r := range m.rules {
		if r.OperatorID == operatorID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memRepo) UpsertRecord(_ context.Context, r Record) error {
	m.records = append(m.records, r)
	return nil
}

func (m *memRepo) RecordsForUser(_ context.Context, userID types.ID) ([]Record, error) {
	var out []Record
	for _, r := range m.records {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

func intPtr(v int) *int { return &v }

func TestAssignmentValidate(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		name string
		a    VIPAssignment
		ok   bool
	}{
		{"vvip any spot", VIPAssignment{UserID: "u", Type: VIPTypeVVIP, ValidFrom: from}, true},
		{"flex vvip needs limit", VIPAssignment{UserID: "u", Type: VIPTypeFlexVVIP, ValidFrom: from}, false},
		{"flex vvip with limit", VIPAssignment{UserID: "u", Type: VIPTypeFlexVVIP, TimeLimitHours: intPtr(2), ValidFrom: from}, true},
		{"vip needs spots", VIPAssignment{UserID: "u", Type: VIPTypeVIP, ValidFrom: from}, false},
		{"vip with limit rejected", VIPAssignment{UserID: "u", Type: VIPTypeVIP, AssignedSpots: []types.ID{"s"}, TimeLimitHours: intPtr(1), ValidFrom: from}, false},
		{"flex vip", VIPAssignment{UserID: "u", Type: VIPTypeFlexVIP, AssignedSpots: []types.ID{"s"}, TimeLimitHours: intPtr(3), ValidFrom: from}, true},
		{"unknown type", VIPAssignment{UserID: "u", Type: "gold", ValidFrom: from}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.a.Validate()
			if (err == nil) != tc.ok {
				t.Fatalf("Validate() = %v, want ok=%v", err, tc.ok)
			}
			if err != nil && !errors.Is(err, ErrInvalidAssignment) {
				t.Fatalf("error %v does not wrap ErrInvalidAssignment", err)
			}
		})
	}
}

func TestGetActiveAssignments_FiltersWindow(t *testing.T) {
	repo := &memRepo{}
	svc := NewService(repo, nil)
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	expired := now.Add(-time.Hour)

	if _, err := svc.AssignVIP(ctx, VIPAssignment{UserID: "u1", Type: VIPTypeVVIP, ValidFrom: now.Add(-48 * time.Hour), IsActive: true}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.AssignVIP(ctx, VIPAssignment{UserID: "u1", Type: VIPTypeVVIP, ValidFrom: now.Add(-48 * time.Hour), ValidUntil: &expired, IsActive: true}); err != nil {
		t.Fatal(err)
	}
	revoked, err := svc.AssignVIP(ctx, VIPAssignment{UserID: "u1", Type: VIPTypeVVIP, ValidFrom: now.Add(-48 * time.Hour), IsActive: true})
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.RevokeVIP(ctx, revoked); err != nil {
		t.Fatal(err)
	}

	got, err := svc.GetActiveAssignments(ctx, "u1", now)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("active assignments = %d, want 1", len(got))
	}
	if err := svc.RevokeVIP(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("revoke missing: %v", err)
	}
}

func TestPredicateAccepts(t *testing.T) {
	student, err := CustomPredicate("student")
	if err != nil {
		t.Fatal(err)
	}
	if !student.Accepts(Record{Kind: KindCustom, Tag: "student"}) {
		t.Error("custom predicate should accept matching tag")
	}
	if student.Accepts(Record{Kind: KindCustom, Tag: "faculty"}) {
		t.Error("custom predicate should reject other tags")
	}
	if !SeniorPredicate().Accepts(Record{Kind: KindSenior}) || SeniorPredicate().Accepts(Record{Kind: KindPWD}) {
		t.Error("senior predicate mismatch")
	}
	if _, err := CustomPredicate(""); !errors.Is(err, ErrInvalidRule) {
		t.Errorf("empty custom tag: %v", err)
	}
}

func TestPutDiscountRule_Validates(t *testing.T) {
	svc := NewService(&memRepo{}, nil)
	ctx := context.Background()
	if _, err := svc.PutDiscountRule(ctx, DiscountRule{Name: "Senior", OperatorID: "op1", Percentage: 2000, VATExempt: true, Eligibility: SeniorPredicate()}); err != nil {
		t.Fatalf("valid rule rejected: %v", err)
	}
	if _, err := svc.PutDiscountRule(ctx, DiscountRule{Name: "Too much", OperatorID: "op1", Percentage: 10001, Eligibility: SeniorPredicate()}); !errors.Is(err, ErrInvalidRule) {
		t.Fatalf("over 100%%: %v", err)
	}
}

func TestRecordClaim_SetsVerifiedAt(t *testing.T) {
	repo := &memRepo{}
	svc := NewService(repo, nil)
	if err := svc.RecordClaim(context.Background(), Record{UserID: "u1", Kind: KindPWD, Verified: true}); err != nil {
		t.Fatal(err)
	}
	if repo.records[0].VerifiedAt == nil {
		t.Fatal("verified claim should carry VerifiedAt")
	}
	snap, err := svc.GetEligibleRules(context.Background(), "u1", "op1")
	if err != nil || len(snap.Records) != 1 {
		t.Fatalf("snapshot = %+v, %v", snap, err)
	}
}
