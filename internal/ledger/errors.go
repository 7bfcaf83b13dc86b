package ledger

import "fmt"

// CorruptEntryError indicates a ledger record did not have the expected
// fixed-width layout.
type CorruptEntryError struct {
	Seq      uint64
	KeyLen   int
	ValueLen int
}

func (e CorruptEntryError) Error() string {
	return fmt.Sprintf("corrupt ledger entry at seq %d: key length %d, value length %d", e.Seq, e.KeyLen, e.ValueLen)
}
