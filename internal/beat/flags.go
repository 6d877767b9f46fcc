package beat

import "strings"

// Flags is the packed status of a hook.
//
// Enabled, Looped, Interrupt and the three user flags are plain read/write
// bits. The warning and error bits are owned by the scheduler: they are set on
// dispatch and only observable through the clear-on-read Scheduler.Warning and
// Scheduler.Error accessors.
type Flags uint32

const (
	FlagEnabled Flags = 1 << iota
	FlagLooped
	FlagInterrupt
	flagWarning
	flagError
	FlagUser1
	FlagUser2
	FlagUser3
)

const (
	userFlags       = FlagUser1 | FlagUser2 | FlagUser3
	diagnosticFlags = flagWarning | flagError
	defaultFlags    = FlagEnabled | FlagLooped
)

// Has reports whether every bit of x is set in f.
func (f Flags) Has(x Flags) bool { return f&x == x }

func (f Flags) String() string {
	if f == 0 {
		return "-"
	}
	names := []struct {
		bit  Flags
		name string
	}{
		{FlagEnabled, "enabled"},
		{FlagLooped, "looped"},
		{FlagInterrupt, "interrupt"},
		{flagWarning, "warning"},
		{flagError, "error"},
		{FlagUser1, "user1"},
		{FlagUser2, "user2"},
		{FlagUser3, "user3"},
	}
	parts := make([]string, 0, len(names))
	for _, n := range names {
		if f&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}
