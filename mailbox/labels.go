package mailbox

import "github.com/emersion/go-imap"

// Canonical label names. Their storage is uniform across backends; their
// persistence differs (mbox: Status/X-Status headers are out of scope, so
// labels live in memory until write-back; MH: the sequences file;
// Maildir: the filename flag suffix).
const (
	LabelSeen    = "seen"
	LabelReplied = "replied"
	LabelFlagged = "flagged"
	LabelDeleted = "deleted"
	LabelDraft   = "draft"
	LabelPassed  = "passed"
	LabelCurrent = "current"
)

var labelToFlag = map[string]string{
	LabelSeen:    imap.SeenFlag,
	LabelReplied: imap.AnsweredFlag,
	LabelFlagged: imap.FlaggedFlag,
	LabelDeleted: imap.DeletedFlag,
	LabelDraft:   imap.DraftFlag,
}

// LabelToFlag maps a label name to the equivalent IMAP system flag, for
// collaborators speaking the IMAP vocabulary. Labels with no system flag
// (passed, current) report false.
func LabelToFlag(label string) (string, bool) {
	flag, ok := labelToFlag[label]
	return flag, ok
}

// FlagToLabel maps an IMAP system flag back to a label name.
func FlagToLabel(flag string) (string, bool) {
	for label, imapFlag := range labelToFlag {
		if imapFlag == flag {
			return label, true
		}
	}
	return "", false
}
