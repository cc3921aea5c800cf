package lifecycle

import (
	"fmt"
	"sort"

	"github.com/alanyoungcy/predictstake/internal/domain"
)

// StatusTable maps raw ledger status codes to event statuses.
type StatusTable struct {
	byCode map[uint8]domain.EventStatus
}

// DefaultTable is the mapping assumed when none is configured.
func DefaultTable() StatusTable {
	t, _ := NewStatusTable(map[uint8]domain.EventStatus{
		0: domain.EventStatusPendingApproval,
		1: domain.EventStatusOngoing,
		2: domain.EventStatusCompleted,
		3: domain.EventStatusCancelled,
		4: domain.EventStatusRejected,
		5: domain.EventStatusNullified,
		6: domain.EventStatusClosed,
	})
	return t
}

// NewStatusTable validates and copies m. Each status may appear once.
func NewStatusTable(m map[uint8]domain.EventStatus) (StatusTable, error) {
	seen := make(map[domain.EventStatus]uint8, len(m))
	byCode := make(map[uint8]domain.EventStatus, len(m))
	for code, st := range m {
		if _, ok := ParseStatus(string(st)); !ok || st == domain.EventStatusUnknown {
			return StatusTable{}, fmt.Errorf("lifecycle: code %d: invalid status %q", code, st)
		}
		if prev, dup := seen[st]; dup {
			return StatusTable{}, fmt.Errorf("lifecycle: status %q mapped by codes %d and %d", st, min(prev, code), max(prev, code))
		}
		seen[st] = code
		byCode[code] = st
	}
	return StatusTable{byCode: byCode}, nil
}

// Status returns the status for code, or EventStatusUnknown.
func (t StatusTable) Status(code uint8) domain.EventStatus {
	if st, ok := t.byCode[code]; ok {
		return st
	}
	return domain.EventStatusUnknown
}

// Codes lists the mapped codes in ascending order.
func (t StatusTable) Codes() []uint8 {
	codes := make([]uint8, 0, len(t.byCode))
	for c := range t.byCode {
		codes = append(codes, c)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	return codes
}

// ParseStatus accepts the snake_case status names used in configuration.
func ParseStatus(s string) (domain.EventStatus, bool) {
	switch st := domain.EventStatus(s); st {
	case domain.EventStatusPendingApproval, domain.EventStatusOngoing,
		domain.EventStatusClosed, domain.EventStatusCompleted,
		domain.EventStatusCancelled, domain.EventStatusRejected,
		domain.EventStatusNullified, domain.EventStatusUnknown:
		return st, true
	default:
		return "", false
	}
}
