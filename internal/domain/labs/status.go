package labs

import (
	"fmt"
	"strings"
)

// Status is the ingestion run state. Runs move forward only:
// uploading -> processing -> completed | error.
type Status string

const (
	StatusUploading  Status = "uploading"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

var statusRank = map[Status]int{
	StatusUploading:  1,
	StatusProcessing: 2,
	StatusCompleted:  3,
	StatusError:      3,
}

func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := statusRank[s]; !ok {
		return "", fmt.Errorf("unknown status %q", raw)
	}
	return s, nil
}

func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// Rank orders statuses by phase. Both terminal statuses share the last rank.
func (s Status) Rank() int { return statusRank[s] }

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError
}

// CanTransition reports whether a run in s may move to next.
// Terminal runs accept no writes and a run never returns to an earlier phase.
func (s Status) CanTransition(next Status) bool {
	if !s.Valid() || !next.Valid() || s.IsTerminal() {
		return false
	}
	return next.Rank() > s.Rank()
}

// Predecessors lists every status that may transition into s.
func (s Status) Predecessors() []Status {
	var out []Status
	for _, cand := range []Status{StatusUploading, StatusProcessing} {
		if cand.CanTransition(s) {
			out = append(out, cand)
		}
	}
	return out
}

// NonTerminalStatuses are the statuses a poller keeps waiting on.
func NonTerminalStatuses() []Status {
	return []Status{StatusUploading, StatusProcessing}
}

// Stage records the last orchestrator step that started for a run.
type Stage string

const (
	StageCreated       Stage = "created"
	StageConfirmUpload Stage = "confirm_upload"
	StageExtract       Stage = "extract"
	StagePersist       Stage = "persist"
	StageFinalize      Stage = "finalize"
	StageDone          Stage = "done"
)
