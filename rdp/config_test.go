package rdp

import "testing"

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := CheckConfigValid(cfg.SegMax, cfg.SegBMax, cfg.MaxMessageSize); err != nil {
		t.Fatalf("DefaultConfig fails its own validation: %v", err)
	}
}

func TestCheckConfigValid(t *testing.T) {
	cases := []struct {
		name    string
		segmax  uint16
		segbmax uint16
		maxMsg  int
		ok      bool
	}{
		{"segmax upper bound", 256, 1472, 1024, true},
		{"segmax one past bound", 257, 1472, 1024, false},
		{"segmax zero", 0, 1472, 1024, false},
		{"segbmax too small for header", 32, 48, 64, false},
		{"message does not fit window", 4, 100, 1024, false},
		{"message exactly fits", 4, 100, 4 * (100 - fixedHeaderSize), true},
	}
	for _, tc := range cases {
		err := CheckConfigValid(tc.segmax, tc.segbmax, tc.maxMsg)
		if (err == nil) != tc.ok {
			t.Errorf("%s: CheckConfigValid(%d, %d, %d) = %v", tc.name, tc.segmax, tc.segbmax, tc.maxMsg, err)
		}
		if err != nil && err != ErrInvalidConfig {
			t.Errorf("%s: error = %v, want ErrInvalidConfig", tc.name, err)
		}
	}
}
