// Package progress packs a player's battle progress (score, question index,
// finished flag) into a single integer. The encoded value is both the wire
// payload and the stored score column, so one field update carries the whole
// picture and a separate "finished" flag can never drift out of sync.
package progress

const (
	questionBase = 100
	finishedBase = 10000

	// MaxScore and MaxQuestionIndex bound the documented codec ranges.
	// Callers must stay inside them; the codec is lossless only there.
	MaxScore         = 99
	MaxQuestionIndex = 10
)

// Encode packs score (0-99), questionIndex (0-10) and finished into one int.
func Encode(score, questionIndex int, finished bool) int {
	v := score + questionIndex*questionBase
	if finished {
		v += finishedBase
	}
	return v
}

// Decode inverts Encode.
func Decode(value int) (score, questionIndex int, finished bool) {
	finished = value >= finishedBase
	remainder := value
	if finished {
		remainder -= finishedBase
	}
	return remainder % questionBase, remainder / questionBase, finished
}
