package tcms

import (
	"fmt"
	"strings"
)

// The enumerations below are fixed on the server and resolved locally.

type Priority int

const (
	P1 Priority = iota + 1
	P2
	P3
	P4
	P5
)

func (p Priority) String() string {
	if p < P1 || p > P5 {
		return fmt.Sprintf("Priority(%d)", int(p))
	}
	return fmt.Sprintf("P%d", int(p))
}

func ParsePriority(s string) (Priority, error) {
	for p := P1; p <= P5; p++ {
		if strings.EqualFold(s, p.String()) {
			return p, nil
		}
	}
	return 0, &NotFoundError{Class: "Priority", Key: s}
}

// PlanStatus is whether a plan is active.
type PlanStatus int

const (
	PlanDisabled PlanStatus = iota
	PlanEnabled
)

func (s PlanStatus) String() string {
	if s == PlanEnabled {
		return "ENABLED"
	}
	return "DISABLED"
}

type RunStatus int

const (
	RunRunning RunStatus = iota
	RunFinished
)

func (s RunStatus) String() string {
	if s == RunFinished {
		return "FINISHED"
	}
	return "RUNNING"
}

type CaseStatus int

const (
	CaseProposed CaseStatus = iota + 1
	CaseConfirmed
	CaseDisabled
	CaseNeedUpdate
)

var caseStatusNames = []string{"", "PROPOSED", "CONFIRMED", "DISABLED", "NEED_UPDATE"}

func (s CaseStatus) String() string {
	if s < CaseProposed || s > CaseNeedUpdate {
		return fmt.Sprintf("CaseStatus(%d)", int(s))
	}
	return caseStatusNames[s]
}

func ParseCaseStatus(s string) (CaseStatus, error) {
	for i := CaseProposed; i <= CaseNeedUpdate; i++ {
		if strings.EqualFold(s, caseStatusNames[i]) {
			return i, nil
		}
	}
	return 0, &NotFoundError{Class: "CaseStatus", Key: s}
}

// Status is the result of a case run.
type Status int

const (
	StatusIdle Status = iota + 1
	StatusPassed
	StatusFailed
	StatusRunning
	StatusPaused
	StatusBlocked
	StatusError
	StatusWaived
)

var statusNames = []string{"", "IDLE", "PASSED", "FAILED", "RUNNING", "PAUSED", "BLOCKED", "ERROR", "WAIVED"}

func (s Status) String() string {
	if s < StatusIdle || s > StatusWaived {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return statusNames[s]
}

func ParseStatus(s string) (Status, error) {
	for i := StatusIdle; i <= StatusWaived; i++ {
		if strings.EqualFold(s, statusNames[i]) {
			return i, nil
		}
	}
	return 0, &NotFoundError{Class: "Status", Key: s}
}
