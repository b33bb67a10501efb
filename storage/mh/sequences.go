package mh

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/creativeprojects/mailstore/lib"
	"github.com/creativeprojects/mailstore/mailbox"
)

// SequencesFile is the shared file persisting per-message labels as named
// lists of message numbers.
const SequencesFile = ".mh_sequences"

// sequences holds the parsed label lists. Line order is kept so a
// rewrite preserves sequences the engine does not understand.
type sequences struct {
	order []string
	lists map[string][]int
}

func newSequences() *sequences {
	return &sequences{
		order: []string{},
		lists: map[string][]int{},
	}
}

// parseSequences reads the "name: 1 3-5 9" line format. Numbers may be
// single or inclusive ranges.
func parseSequences(content []byte) (*sequences, error) {
	result := newSequences()
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		name, list, found := strings.Cut(line, ":")
		if !found || name == "" {
			return result, fmt.Errorf("%w: malformed sequence line %q", lib.ErrCorrupt, line)
		}
		numbers := []int{}
		for _, token := range strings.Fields(list) {
			first, last, isRange := strings.Cut(token, "-")
			from, err := strconv.Atoi(first)
			if err != nil {
				return result, fmt.Errorf("%w: malformed sequence entry %q", lib.ErrCorrupt, token)
			}
			to := from
			if isRange {
				to, err = strconv.Atoi(last)
				if err != nil || to < from {
					return result, fmt.Errorf("%w: malformed sequence range %q", lib.ErrCorrupt, token)
				}
			}
			for n := from; n <= to; n++ {
				numbers = append(numbers, n)
			}
		}
		result.set(name, numbers)
	}
	return result, nil
}

func (s *sequences) set(name string, numbers []int) {
	if _, known := s.lists[name]; !known {
		s.order = append(s.order, name)
	}
	sort.Ints(numbers)
	s.lists[name] = numbers
}

func (s *sequences) numbersFor(name string) []int {
	return s.lists[name]
}

func (s *sequences) names() []string {
	return s.order
}

// bytes serializes the sequences, consecutive numbers compressed into
// inclusive ranges. Empty sequences are dropped.
func (s *sequences) bytes() []byte {
	builder := &strings.Builder{}
	for _, name := range s.order {
		numbers := s.lists[name]
		if len(numbers) == 0 {
			continue
		}
		builder.WriteString(name)
		builder.WriteString(":")
		for _, token := range formatRanges(numbers) {
			builder.WriteString(" ")
			builder.WriteString(token)
		}
		builder.WriteString("\n")
	}
	return []byte(builder.String())
}

func formatRanges(numbers []int) []string {
	tokens := []string{}
	for i := 0; i < len(numbers); {
		j := i
		for j+1 < len(numbers) && numbers[j+1] == numbers[j]+1 {
			j++
		}
		if j > i {
			tokens = append(tokens, fmt.Sprintf("%d-%d", numbers[i], numbers[j]))
		} else {
			tokens = append(tokens, strconv.Itoa(numbers[i]))
		}
		i = j + 1
	}
	return tokens
}

// seqToLabel maps an MH sequence name to a label name. Only "cur" has a
// dedicated label; any other sequence name is carried as a label of its
// own, which is how unknown sequences survive a rewrite untouched.
func seqToLabel(name string) string {
	if name == "cur" {
		return mailbox.LabelCurrent
	}
	return name
}

func labelToSeq(label string) string {
	if label == mailbox.LabelCurrent {
		return "cur"
	}
	return label
}
