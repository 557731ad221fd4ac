package pricing

import (
	"errors"
	"testing"
	"time"

	"parkangel/internal/modules/hierarchy"
	"parkangel/internal/types"
)

var manila = time.FixedZone("PHT", 8*3600)

func at(y int, m time.Month, d, h, minute int) time.Time {
	return time.Date(y, m, d, h, minute, 0, 0, manila)
}

func TestCalculateRate(t *testing.T) {
	// 2026-03-02 is a Monday, 2026-03-06 a Friday, 2026-12-25 a Friday.
	eveningBand := hierarchy.TimeBasedRate{Kind: hierarchy.TimeHourRange, Label: "evening", StartHour: 18, EndHour: 22, Rate: 8000}
	weekend := hierarchy.TimeBasedRate{Kind: hierarchy.TimeWeekend, Rate: 6000}
	weekday := hierarchy.TimeBasedRate{Kind: hierarchy.TimeWeekday, Rate: 100}
	christmas := hierarchy.HolidayRate{Kind: hierarchy.HolidayRecurring, Name: "christmas", Month: time.December, Day: 25, Rate: 200}

	tests := []struct {
		name       string
		cfg        ResolvedConfig
		in         RateInput
		wantTotal  int64
		wantItems  int
		wantSource []RateSource
	}{
		{
			name:       "base rate only",
			cfg:        ResolvedConfig{BaseRate: 5000},
			in:         RateInput{Start: at(2026, 3, 2, 10, 0), End: at(2026, 3, 2, 12, 30)},
			wantTotal:  12500, // 5000 * 2.5h
			wantItems:  1,
			wantSource: []RateSource{SourceBase},
		},
		{
			name: "crosses into hour band",
			cfg:  ResolvedConfig{BaseRate: 5000, TimeBasedRates: []hierarchy.TimeBasedRate{eveningBand}},
			in:   RateInput{Start: at(2026, 3, 2, 17, 30), End: at(2026, 3, 2, 19, 30)},
			// 17:30-18:00 at 5000 = 2500; 18:00-19:30 at 8000 = 12000.
			wantTotal:  14500,
			wantItems:  2,
			wantSource: []RateSource{SourceBase, SourceTimeBand},
		},
		{
			name:       "hourly pieces with the same rate merge",
			cfg:        ResolvedConfig{BaseRate: 5000, TimeBasedRates: []hierarchy.TimeBasedRate{eveningBand}},
			in:         RateInput{Start: at(2026, 3, 2, 8, 0), End: at(2026, 3, 2, 10, 0)},
			wantTotal:  10000,
			wantItems:  1,
			wantSource: []RateSource{SourceBase},
		},
		{
			name: "midnight into weekend",
			cfg:  ResolvedConfig{BaseRate: 4000, TimeBasedRates: []hierarchy.TimeBasedRate{weekend}},
			in:   RateInput{Start: at(2026, 3, 6, 23, 0), End: at(2026, 3, 7, 1, 0)},
			// Friday 23:00-24:00 at 4000; Saturday 00:00-01:00 at 6000.
			wantTotal:  10000,
			wantItems:  2,
			wantSource: []RateSource{SourceBase, SourceTimeBand},
		},
		{
			name: "holiday beats time band",
			cfg: ResolvedConfig{
				BaseRate:       50,
				TimeBasedRates: []hierarchy.TimeBasedRate{weekday},
				HolidayRates:   []hierarchy.HolidayRate{christmas},
			},
			in:         RateInput{Start: at(2026, 12, 25, 10, 0), End: at(2026, 12, 25, 11, 0)},
			wantTotal:  200,
			wantItems:  1,
			wantSource: []RateSource{SourceHoliday},
		},
		{
			name: "vehicle multiplier scales base",
			cfg: ResolvedConfig{BaseRate: 4000, VehicleTypeRates: map[string]hierarchy.VehicleRate{
				"suv": {Kind: hierarchy.VehicleMultiplier, Multiplier: 15000},
			}},
			in:         RateInput{Start: at(2026, 3, 2, 9, 0), End: at(2026, 3, 2, 10, 0), VehicleType: "suv"},
			wantTotal:  6000,
			wantItems:  1,
			wantSource: []RateSource{SourceBase},
		},
		{
			name: "vehicle override replaces base",
			cfg: ResolvedConfig{BaseRate: 4000, VehicleTypeRates: map[string]hierarchy.VehicleRate{
				"motorcycle": {Kind: hierarchy.VehicleOverride, Rate: 2000},
			}},
			in:         RateInput{Start: at(2026, 3, 2, 9, 0), End: at(2026, 3, 2, 10, 0), VehicleType: "motorcycle"},
			wantTotal:  2000,
			wantItems:  1,
			wantSource: []RateSource{SourceVehicleOverride},
		},
		{
			name:       "prorated by the second",
			cfg:        ResolvedConfig{BaseRate: 5000},
			in:         RateInput{Start: at(2026, 3, 2, 9, 0), End: at(2026, 3, 2, 9, 1).Add(time.Second)},
			wantTotal:  85, // 5000 * 61 / 3600 = 84.72
			wantItems:  1,
			wantSource: []RateSource{SourceBase},
		},
		{
			name:      "empty session",
			cfg:       ResolvedConfig{BaseRate: 5000},
			in:        RateInput{Start: at(2026, 3, 2, 9, 0), End: at(2026, 3, 2, 9, 0)},
			wantTotal: 0,
			wantItems: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.in.Location = manila
			items, err := CalculateRate(tt.cfg, tt.in)
			if err != nil {
				t.Fatalf("CalculateRate() error = %v", err)
			}
			if got := SumItems(items); got != tt.wantTotal {
				t.Errorf("total = %d, want %d", got, tt.wantTotal)
			}
			if len(items) != tt.wantItems {
				t.Fatalf("items = %d (%+v), want %d", len(items), items, tt.wantItems)
			}
			for i, src := range tt.wantSource {
				if items[i].Source != src {
					t.Errorf("items[%d].Source = %s, want %s", i, items[i].Source, src)
				}
			}
		})
	}
}

func TestCalculateRate_ItemsCoverSession(t *testing.T) {
	cfg := ResolvedConfig{BaseRate: 3000, TimeBasedRates: []hierarchy.TimeBasedRate{
		{Kind: hierarchy.TimeHourRange, StartHour: 7, EndHour: 9, Rate: 4500},
		{Kind: hierarchy.TimeWeekend, Rate: 3500},
	}}
	start := at(2026, 3, 6, 5, 17)
	end := at(2026, 3, 8, 11, 3)
	items, err := CalculateRate(cfg, RateInput{Start: start, End: end, Location: manila})
	if err != nil {
		t.Fatal(err)
	}
	var seconds int64
	for i, it := range items {
		if i > 0 && !it.Start.Equal(items[i-1].End) {
			t.Fatalf("gap between items %d and %d", i-1, i)
		}
		seconds += it.Seconds
	}
	if !items[0].Start.Equal(start) || !items[len(items)-1].End.Equal(end) {
		t.Fatal("items do not span the session")
	}
	if want := int64(end.Sub(start) / time.Second); seconds != want {
		t.Fatalf("seconds = %d, want %d", seconds, want)
	}
}

func TestCalculateRate_EndBeforeStart(t *testing.T) {
	_, err := CalculateRate(ResolvedConfig{BaseRate: 1}, RateInput{Start: at(2026, 3, 2, 10, 0), End: at(2026, 3, 2, 9, 0)})
	if !errors.Is(err, ErrInvalidInterval) {
		t.Fatalf("got %v, want ErrInvalidInterval", err)
	}
}

func TestOccupancyMultiplier(t *testing.T) {
	curve := []hierarchy.OccupancyStep{{Above: 5000, Multiplier: 12000}, {Above: 8000, Multiplier: 15000}}
	tests := []struct {
		occupancy types.BasisPoints
		want      types.BasisPoints
	}{
		{0, types.One},
		{5000, types.One},
		{5001, 12000},
		{8000, 12000},
		{9000, 15000},
	}
	for _, tt := range tests {
		if got := OccupancyMultiplier(curve, tt.occupancy); got != tt.want {
			t.Errorf("OccupancyMultiplier(%d) = %d, want %d", tt.occupancy, got, tt.want)
		}
	}

	items, err := CalculateRate(ResolvedConfig{BaseRate: 4000, OccupancyCurve: curve}, RateInput{
		Start: at(2026, 3, 2, 9, 0), End: at(2026, 3, 2, 10, 0), Occupancy: 9000, Location: manila,
	})
	if err != nil {
		t.Fatal(err)
	}
	if items[0].Amount != 6000 {
		t.Fatalf("amount = %d, want 6000", items[0].Amount)
	}
}
