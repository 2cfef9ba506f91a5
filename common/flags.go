package common

import (
	"fmt"
	"strings"

	"golang.org/x/exp/constraints"
)

// FlagStringMapping maintains a registry of flag-bit names for a bitmask
// type and renders combined masks as pipe-separated strings.
type FlagStringMapping[T constraints.Integer] struct {
	names map[T]string
}

func NewFlagStringMapping[T constraints.Integer]() FlagStringMapping[T] {
	return FlagStringMapping[T]{names: make(map[T]string)}
}

func (m FlagStringMapping[T]) Register(flag T, str string) {
	m.names[flag] = str
}

func (m FlagStringMapping[T]) FlagsToString(flags T) string {
	if flags == 0 {
		return "None"
	}

	var sb strings.Builder
	remaining := flags
	for bit := T(1); bit != 0 && remaining != 0; bit <<= 1 {
		if remaining&bit == 0 {
			continue
		}
		remaining &^= bit

		if sb.Len() > 0 {
			sb.WriteRune('|')
		}
		name, ok := m.names[bit]
		if !ok {
			name = fmt.Sprintf("0x%x", uint64(bit))
		}
		sb.WriteString(name)
	}

	return sb.String()
}
