package search

// Alphabet is the ordered set of characters tried at each string position.
// Characters are tried in order, so putting frequent ones first means fewer
// queries.
type Alphabet struct {
	runes []rune
}

// NewAlphabet builds an alphabet from chars, keeping the first occurrence
// of each rune
func NewAlphabet(chars string) Alphabet {
	seen := make(map[rune]bool, len(chars))
	runes := make([]rune, 0, len(chars))
	for _, r := range chars {
		if seen[r] {
			continue
		}
		seen[r] = true
		runes = append(runes, r)
	}
	return Alphabet{runes: runes}
}

// Len returns the number of characters
func (a Alphabet) Len() int {
	return len(a.runes)
}

// Contains reports whether r is in the alphabet
func (a Alphabet) Contains(r rune) bool {
	for _, c := range a.runes {
		if c == r {
			return true
		}
	}
	return false
}

func (a Alphabet) String() string {
	return string(a.runes)
}
