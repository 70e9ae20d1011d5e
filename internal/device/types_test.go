package device

import "testing"

func TestParseSampleType(t *testing.T) {
	tests := []struct {
		in      string
		want    SampleType
		wantErr bool
	}{
		{"u8", SampleU8, false},
		{"u12", SampleU12, false},
		{"U16", SampleU16, false},
		{"  u10 ", SampleU10, false},
		{"u14", SampleU14, false},
		{"mono12", SampleUnknown, true},
		{"", SampleUnknown, true},
	}
	for _, tc := range tests {
		got, err := ParseSampleType(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseSampleType(%q) err = %v, wantErr %v", tc.in, err, tc.wantErr)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseSampleType(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestParseTriggerEdge(t *testing.T) {
	tests := []struct {
		in      string
		want    TriggerEdge
		wantErr bool
	}{
		{"rising", EdgeRising, false},
		{"Falling", EdgeFalling, false},
		// Observable but not writable edges are rejected on the way in.
		{"any_edge", EdgeUnknown, true},
		{"level_high", EdgeUnknown, true},
		{"bogus", EdgeUnknown, true},
	}
	for _, tc := range tests {
		got, err := ParseTriggerEdge(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseTriggerEdge(%q) err = %v, wantErr %v", tc.in, err, tc.wantErr)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseTriggerEdge(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestSampleType_BytesPerPixel(t *testing.T) {
	if got := SampleU8.BytesPerPixel(); got != 1 {
		t.Errorf("u8 bytes per pixel = %d, want 1", got)
	}
	for _, s := range []SampleType{SampleU10, SampleU12, SampleU14, SampleU16} {
		if got := s.BytesPerPixel(); got != 2 {
			t.Errorf("%v bytes per pixel = %d, want 2", s, got)
		}
	}
}

func TestSampleType_BitsAreDistinct(t *testing.T) {
	var mask uint64
	for s := SampleU8; s < SampleTypeCount; s++ {
		bit := s.Bit()
		if mask&bit != 0 {
			t.Errorf("%v shares a bitmask bit with an earlier type", s)
		}
		mask |= bit
	}
}
