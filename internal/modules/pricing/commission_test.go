package pricing

import "testing"

func TestTierFor(t *testing.T) {
	cases := []struct {
		rides int64
		want  string
	}{
		{0, "base"},
		{99, "base"},
		{100, "bronze"},
		{150, "bronze"},
		{299, "bronze"},
		{300, "silver"},
		{500, "gold"},
		{999, "gold"},
		{1000, "platinum"},
		{25000, "platinum"},
	}
	for _, tc := range cases {
		if got := TierFor(tc.rides).Name; got != tc.want {
			t.Errorf("TierFor(%d) = %s, want %s", tc.rides, got, tc.want)
		}
	}
}

func TestSplitFare(t *testing.T) {
	cases := []struct {
		name           string
		fare, rides    int64
		wantCommission int64
		wantNet        int64
	}{
		// 150 rides -> bronze 15%: 2500 * 0.15 = 375
		{"bronze tier on 2500", 2500, 150, 375, 2125},
		{"base tier on 2500", 2500, 10, 500, 2000},
		{"platinum tier on 2500", 2500, 1200, 200, 2300},
		// 1050 * 0.12 = 126
		{"silver tier", 1050, 320, 126, 924},
		// 1150 * 0.15 = 172.5 -> 173
		{"half unit rounds up", 1150, 100, 173, 977},
		{"zero fare", 0, 100, 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := SplitFare(tc.fare, tc.rides)
			if s.Commission != tc.wantCommission || s.Net != tc.wantNet {
				t.Errorf("SplitFare(%d, %d) = %d/%d, want %d/%d", tc.fare, tc.rides, s.Commission, s.Net, tc.wantCommission, tc.wantNet)
			}
			if s.Commission+s.Net != s.Fare {
				t.Errorf("split does not add up: %+v", s)
			}
		})
	}
}
