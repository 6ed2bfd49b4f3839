package progress

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for score := 0; score <= MaxScore; score++ {
		for idx := 0; idx <= MaxQuestionIndex; idx++ {
			for _, finished := range []bool{false, true} {
				s, q, f := Decode(Encode(score, idx, finished))
				if s != score || q != idx || f != finished {
					t.Fatalf("round trip (%d,%d,%v) -> (%d,%d,%v)", score, idx, finished, s, q, f)
				}
			}
		}
	}
}

func TestEncodeKnownValues(t *testing.T) {
	cases := []struct {
		name     string
		score    int
		idx      int
		finished bool
		want     int
	}{
		{name: "zero", score: 0, idx: 0, finished: false, want: 0},
		{name: "mid match", score: 4, idx: 5, finished: false, want: 504},
		{name: "finished full score", score: 10, idx: 10, finished: true, want: 11010},
		{name: "finished zero score", score: 0, idx: 10, finished: true, want: 11000},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Encode(tc.score, tc.idx, tc.finished); got != tc.want {
				t.Fatalf("Encode(%d,%d,%v) = %d, want %d", tc.score, tc.idx, tc.finished, got, tc.want)
			}
		})
	}
}

// A player's encoded value only ever grows during a match: the index advances,
// the score can only rise with it, and finishing adds the top bit. The sync
// reducer relies on this to merge duplicate updates with max().
func TestEncodeMonotoneOverAMatch(t *testing.T) {
	prev := Encode(0, 0, false)
	score := 0
	for idx := 1; idx <= 10; idx++ {
		if idx%2 == 0 {
			score++ // every other answer correct
		}
		v := Encode(score, idx, idx == 10)
		if v <= prev {
			t.Fatalf("encoded progress went backwards at index %d: %d <= %d", idx, v, prev)
		}
		prev = v
	}
}
