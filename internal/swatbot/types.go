// Package swatbot provides the failure/build data model and the REST client
// for the swatbot Django server.
package swatbot

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Status is the status of a build or failure as reported by the autobuilder.
type Status int

// Known failure statuses. The numeric values follow the swatbot server.
const (
	StatusUnknown   Status = -1
	StatusWarning   Status = 1
	StatusError     Status = 2
	StatusCancelled Status = 6
)

// StatusFromInt converts a raw server status value, mapping unknown values
// to StatusUnknown instead of failing.
func StatusFromInt(v int) Status {
	switch Status(v) {
	case StatusWarning, StatusError, StatusCancelled:
		return Status(v)
	default:
		return StatusUnknown
	}
}

func (s Status) String() string {
	switch s {
	case StatusWarning:
		return "Warning"
	case StatusError:
		return "Error"
	case StatusCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// TriageStatus is an operator classification set on a failure.
type TriageStatus int

// Triage statuses understood by the swatbot server.
const (
	TriagePending    TriageStatus = 0
	TriageMailSent   TriageStatus = 1
	TriageBug        TriageStatus = 2
	TriageOther      TriageStatus = 3
	TriageNotForSwat TriageStatus = 4
	TriageCancelled  TriageStatus = 5
)

var triageNames = map[TriageStatus]string{
	TriagePending:    "PENDING",
	TriageMailSent:   "MAIL_SENT",
	TriageBug:        "BUG",
	TriageOther:      "OTHER",
	TriageNotForSwat: "NOT_FOR_SWAT",
	TriageCancelled:  "CANCELLED",
}

// Name returns the canonical upper-case name, as persisted in the triage
// history file.
func (t TriageStatus) Name() string {
	if name, ok := triageNames[t]; ok {
		return name
	}
	return fmt.Sprintf("TRIAGE_%d", int(t))
}

func (t TriageStatus) String() string {
	switch t {
	case TriagePending:
		return "Pending"
	case TriageMailSent:
		return "Mail sent"
	case TriageBug:
		return "Bug"
	case TriageOther:
		return "Other"
	case TriageNotForSwat:
		return "Not for SWAT"
	case TriageCancelled:
		return "Cancelled"
	default:
		return t.Name()
	}
}

// TriageFromName converts a triage status name (case-insensitive) back to its
// value.
func TriageFromName(name string) (TriageStatus, error) {
	want := strings.ToUpper(strings.TrimSpace(name))
	for status, statusName := range triageNames {
		if statusName == want {
			return status, nil
		}
	}
	return TriagePending, fmt.Errorf("unknown triage status: %q", name)
}

// Failure is one failed build step under triage.
type Failure struct {
	ID          int
	Build       *Build
	StepNumber  int
	StepName    string
	Status      Status
	URLs        map[string]string
	Triage      TriageStatus
	TriageNotes string
}

// LogURL returns the URL of the given log webpage, or "" if the step has no
// such log.
func (f *Failure) LogURL(logname string) string {
	return f.URLs[logname]
}

func (f *Failure) String() string {
	return fmt.Sprintf("Failure %d: %s on step %d of build %d, %s",
		f.ID, f.Status, f.StepNumber, f.Build.ID, f.StepName)
}

// Build is a swatbot build with its failed steps.
type Build struct {
	ID             int
	Status         Status
	Test           string
	Worker         string
	Owner          string
	Branch         string
	Completed      time.Time
	SwatURL        string
	AutobuilderURL string
	Failures       map[int]*Failure
}

// FirstFailure returns the first failure whose status matches the build
// status, falling back to the lowest failure id. A build always has at least
// one failure.
func (b *Build) FirstFailure() *Failure {
	ids := make([]int, 0, len(b.Failures))
	for id := range b.Failures {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		if b.Failures[id].Status == b.Status {
			return b.Failures[id]
		}
	}
	return b.Failures[ids[0]]
}

// ShortDescription returns a one-line build summary for reports and menus.
func (b *Build) ShortDescription() string {
	return fmt.Sprintf("Build %d (%s): %s on %s, %s at %s",
		b.ID, b.Branch, b.Test, b.Worker,
		strings.ToLower(b.Status.String()),
		b.Completed.Format("2006-01-02 15:04"))
}
