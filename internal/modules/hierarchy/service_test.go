package hierarchy

import (
	"context"
	"errors"
	"testing"
	"time"

	"parkangel/internal/types"
)

type memStore struct {
	nodes    map[types.ID]*Node
	versions map[types.ID][]PricingConfig
}

func newMemStore() *memStore {
	return &memStore{nodes: map[types.ID]*Node{}, versions: map[types.ID][]PricingConfig{}}
}

func (m *memStore) CreateNode(_ context.Context, n *Node) error {
	cp := *n
	m.nodes[n.ID] = &cp
	return nil
}

func (m *memStore) GetNode(_ context.Context, id types.ID, _ time.Time) (*Node, error) {
	n, ok := m.nodes[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *n
	if vs := m.versions[id]; len(vs) > 0 {
		cfg := vs[len(vs)-1]
		cp.Config = &cfg
		cp.ConfigVersion = len(vs)
	}
	return &cp, nil
}

func (m *memStore) Chain(ctx context.Context, id types.ID, asOf time.Time) ([]Node, error) {
	var chain []Node
	for cur := &id; cur != nil; {
		n, err := m.GetNode(ctx, *cur, asOf)
		if err != nil {
			return nil, err
		}
		chain = append(chain, *n)
		cur = n.ParentID
	}
	return chain, nil
}

func (m *memStore) AppendConfig(_ context.Context, nodeID types.ID, cfg PricingConfig, _ time.Time) (int, error) {
	if _, ok := m.nodes[nodeID]; !ok {
		return 0, ErrNotFound
	}
	m.versions[nodeID] = append(m.versions[nodeID], cfg)
	return len(m.versions[nodeID]), nil
}

func buildTree(t *testing.T, svc *Service) (loc, sec, zone, spot types.ID) {
	t.Helper()
	ctx := context.Background()
	var err error
	loc, err = svc.CreateNode(ctx, CreateNodeCommand{Type: NodeLocation, Name: "Ayala", OperatorID: "op1", ParkingType: ParkingFacility})
	if err != nil {
		t.Fatalf("create location: %v", err)
	}
	sec, err = svc.CreateNode(ctx, CreateNodeCommand{Type: NodeSection, ParentID: &loc, Name: "B1"})
	if err != nil {
		t.Fatalf("create section: %v", err)
	}
	zone, err = svc.CreateNode(ctx, CreateNodeCommand{Type: NodeZone, ParentID: &sec, Name: "Z1"})
	if err != nil {
		t.Fatalf("create zone: %v", err)
	}
	spot, err = svc.CreateNode(ctx, CreateNodeCommand{Type: NodeSpot, ParentID: &zone, Name: "S-001"})
	if err != nil {
		t.Fatalf("create spot: %v", err)
	}
	return
}

func TestCreateNode_ParentRules(t *testing.T) {
	svc := NewService(newMemStore(), nil)
	ctx := context.Background()
	loc, _, zone, _ := buildTree(t, svc)

	if _, err := svc.CreateNode(ctx, CreateNodeCommand{Type: NodeSpot, ParentID: &loc, Name: "x"}); !errors.Is(err, ErrBadParent) {
		t.Fatalf("spot under location: got %v, want ErrBadParent", err)
	}
	if _, err := svc.CreateNode(ctx, CreateNodeCommand{Type: NodeZone, ParentID: &zone, Name: "x"}); !errors.Is(err, ErrBadParent) {
		t.Fatalf("zone under zone: got %v, want ErrBadParent", err)
	}
	if _, err := svc.CreateNode(ctx, CreateNodeCommand{Type: NodeLocation, Name: "x"}); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("location without operator: got %v, want ErrConfiguration", err)
	}
}

func TestChain_OrderedFromSpot(t *testing.T) {
	svc := NewService(newMemStore(), nil)
	loc, sec, zone, spot := buildTree(t, svc)

	chain, err := svc.Chain(context.Background(), spot, time.Now())
	if err != nil {
		t.Fatalf("chain: %v", err)
	}
	want := []types.ID{spot, zone, sec, loc}
	if len(chain) != len(want) {
		t.Fatalf("chain length = %d, want %d", len(chain), len(want))
	}
	for i, id := range want {
		if chain[i].ID != id {
			t.Errorf("chain[%d] = %s, want %s", i, chain[i].ID, id)
		}
	}
}

func TestChain_RejectsNonSpot(t *testing.T) {
	svc := NewService(newMemStore(), nil)
	_, _, zone, _ := buildTree(t, svc)
	if _, err := svc.Chain(context.Background(), zone, time.Now()); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("got %v, want ErrConfiguration", err)
	}
}

func TestOperatorOf_InheritedFromLocation(t *testing.T) {
	svc := NewService(newMemStore(), nil)
	_, sec, _, spot := buildTree(t, svc)
	for _, id := range []types.ID{sec, spot} {
		op, err := svc.OperatorOf(context.Background(), id)
		if err != nil || op != "op1" {
			t.Fatalf("OperatorOf(%s) = %q, %v", id, op, err)
		}
	}
	if _, err := svc.OperatorOf(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestPutConfig_VersionsAndValidation(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, nil)
	_, sec, _, _ := buildTree(t, svc)
	ctx := context.Background()

	rate := int64(5000)
	v1, err := svc.PutConfig(ctx, sec, PricingConfig{BaseRate: &rate})
	if err != nil || v1 != 1 {
		t.Fatalf("first put: v=%d err=%v", v1, err)
	}
	rate2 := int64(6000)
	v2, err := svc.PutConfig(ctx, sec, PricingConfig{BaseRate: &rate2})
	if err != nil || v2 != 2 {
		t.Fatalf("second put: v=%d err=%v", v2, err)
	}
	if got := *store.versions[sec][0].BaseRate; got != 5000 {
		t.Fatalf("first snapshot mutated: %d", got)
	}

	bad := PricingConfig{TimeBasedRates: []TimeBasedRate{{Kind: TimeHourRange, StartHour: 9, EndHour: 9, Rate: 100}}}
	_, err = svc.PutConfig(ctx, sec, bad)
	var cerr *ConfigurationError
	if !errors.As(err, &cerr) || cerr.Path != "timeBasedRates[0].endHour" {
		t.Fatalf("got %v, want ConfigurationError at timeBasedRates[0].endHour", err)
	}
}

func TestValidate(t *testing.T) {
	neg := int64(-1)
	vat := types.BasisPoints(12000)
	cases := []struct {
		name string
		cfg  PricingConfig
		path string
	}{
		{"negative base", PricingConfig{BaseRate: &neg}, "baseRate"},
		{"vat above 100", PricingConfig{VATRate: &vat}, "vatRate"},
		{"unknown vehicle kind", PricingConfig{VehicleTypeRates: map[string]VehicleRate{"car": {Kind: "free"}}}, "vehicleTypeRates[car].kind"},
		{"weekday with hours", PricingConfig{TimeBasedRates: []TimeBasedRate{{Kind: TimeWeekday, StartHour: 1, EndHour: 2}}}, "timeBasedRates[0]"},
		{"bad holiday date", PricingConfig{HolidayRates: []HolidayRate{{Kind: HolidayOneTime, Date: "12/25"}}}, "holidayRates[0].date"},
		{"feb 30", PricingConfig{HolidayRates: []HolidayRate{{Kind: HolidayRecurring, Month: time.February, Day: 30}}}, "holidayRates[0].day"},
		{"curve not increasing", PricingConfig{OccupancyCurve: []OccupancyStep{{Above: 9000, Multiplier: 15000}, {Above: 8000, Multiplier: 12000}}}, "occupancyCurve[1].above"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			var cerr *ConfigurationError
			if !errors.As(err, &cerr) {
				t.Fatalf("got %v, want ConfigurationError", err)
			}
			if cerr.Path != tc.path {
				t.Errorf("path = %q, want %q", cerr.Path, tc.path)
			}
		})
	}

	if _, err := NewRecurringHoliday("Leap", time.February, 29, 100); err != nil {
		t.Errorf("Feb 29 should be accepted: %v", err)
	}
	if _, err := NewHourRangeRate("night", nil, 22, 24, 100); err != nil {
		t.Errorf("22-24 should be accepted: %v", err)
	}
}

func TestTimeBasedRateMatches(t *testing.T) {
	sat := time.Date(2026, 3, 7, 10, 0, 0, 0, time.UTC) // Saturday
	mon := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	peak, _ := NewHourRangeRate("peak", []time.Weekday{time.Monday}, 9, 12, 100)
	weekend, _ := NewDayKindRate(TimeWeekend, "weekend", 100)

	if !peak.Matches(mon) || peak.Matches(sat) {
		t.Fatal("hour range should match Monday 10:00 only")
	}
	if !weekend.Matches(sat) || weekend.Matches(mon) {
		t.Fatal("weekend should match Saturday only")
	}
}
