package mdir

import (
	"github.com/creativeprojects/mailstore/mailbox"
	"github.com/emersion/go-maildir"
)

// labelFor maps a flag letter from the message filename to its label
// name. Letters without a mapping are carried in the record residue and
// written back verbatim.
func labelFor(flag maildir.Flag) (string, bool) {
	switch flag {
	case maildir.FlagSeen:
		return mailbox.LabelSeen, true

	case maildir.FlagReplied:
		return mailbox.LabelReplied, true

	case maildir.FlagFlagged:
		return mailbox.LabelFlagged, true

	case maildir.FlagTrashed:
		return mailbox.LabelDeleted, true

	case maildir.FlagDraft:
		return mailbox.LabelDraft, true

	case maildir.FlagPassed:
		return mailbox.LabelPassed, true
	}
	return "", false
}

func flagFor(label string) (maildir.Flag, bool) {
	switch label {
	case mailbox.LabelSeen:
		return maildir.FlagSeen, true

	case mailbox.LabelReplied:
		return maildir.FlagReplied, true

	case mailbox.LabelFlagged:
		return maildir.FlagFlagged, true

	case mailbox.LabelDeleted:
		return maildir.FlagTrashed, true

	case mailbox.LabelDraft:
		return maildir.FlagDraft, true

	case mailbox.LabelPassed:
		return maildir.FlagPassed, true
	}
	return 0, false
}

// recordFlags rebuilds the complete flag set of a record: the letters for
// its labels plus the unrecognized letters preserved in the residue.
// Labels with no flag letter have nowhere to live in a filename and are
// not persisted by this layout.
func recordFlags(record *mailbox.Record) []maildir.Flag {
	flags := make([]maildir.Flag, 0, 8)
	for _, label := range record.Labels() {
		if flag, ok := flagFor(label); ok {
			flags = append(flags, flag)
		}
	}
	for _, letter := range record.Residue() {
		flags = append(flags, maildir.Flag(letter))
	}
	return flags
}
