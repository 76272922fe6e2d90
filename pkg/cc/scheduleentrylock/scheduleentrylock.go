// Package scheduleentrylock implements the Schedule Entry Lock command
// class (0x4E): per-user weekday schedule slots on door locks, plus the
// enable switches and the supported-slots report.
package scheduleentrylock

import (
	"fmt"

	"github.com/mikebaz/gozwave/pkg/cc"
)

// Schedule Entry Lock command identifiers.
const (
	CmdEnableSet             uint8 = 0x01
	CmdEnableAllSet          uint8 = 0x02
	CmdWeekDayScheduleSet    uint8 = 0x03
	CmdWeekDayScheduleGet    uint8 = 0x04
	CmdWeekDayScheduleReport uint8 = 0x05
	CmdSupportedGet          uint8 = 0x09
	CmdSupportedReport       uint8 = 0x0a
)

// fieldAbsent marks an unused schedule field on the wire.
const fieldAbsent = 0xff

// Weekday numbers days Sunday = 0 through Saturday = 6.
type Weekday uint8

// Weekdays.
const (
	Sunday Weekday = iota
	Monday
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
)

// SetAction selects what WeekDayScheduleSet does with a slot.
type SetAction uint8

const (
	// ActionErase clears the slot.
	ActionErase SetAction = 0

	// ActionSet programs the slot.
	ActionSet SetAction = 1
)

// EnableSet enables or disables schedules for one user.
type EnableSet struct {
	UserID  uint8
	Enabled bool
}

// CommandClassID implements cc.Command.
func (e *EnableSet) CommandClassID() cc.CommandClassID { return cc.ScheduleEntryLockCC }

// CommandID implements cc.Command.
func (e *EnableSet) CommandID() uint8 { return CmdEnableSet }

// MarshalPayload implements cc.Command.
func (e *EnableSet) MarshalPayload() ([]byte, error) {
	return []byte{e.UserID, boolByte(e.Enabled)}, nil
}

// DecodeEnableSet parses an EnableSet payload.
func DecodeEnableSet(payload []byte) (cc.Command, error) {
	if len(payload) < 2 {
		return nil, fmt.Errorf("%w: EnableSet too short", cc.ErrPayloadInvalid)
	}
	return &EnableSet{UserID: payload[0], Enabled: payload[1] != 0}, nil
}

// EnableAllSet enables or disables schedules for every user.
type EnableAllSet struct {
	Enabled bool
}

// CommandClassID implements cc.Command.
func (e *EnableAllSet) CommandClassID() cc.CommandClassID { return cc.ScheduleEntryLockCC }

// CommandID implements cc.Command.
func (e *EnableAllSet) CommandID() uint8 { return CmdEnableAllSet }

// MarshalPayload implements cc.Command.
func (e *EnableAllSet) MarshalPayload() ([]byte, error) {
	return []byte{boolByte(e.Enabled)}, nil
}

// DecodeEnableAllSet parses an EnableAllSet payload.
func DecodeEnableAllSet(payload []byte) (cc.Command, error) {
	if len(payload) < 1 {
		return nil, fmt.Errorf("%w: EnableAllSet too short", cc.ErrPayloadInvalid)
	}
	return &EnableAllSet{Enabled: payload[0] != 0}, nil
}

// SupportedGet queries the lock's slot capacities.
type SupportedGet struct{}

// CommandClassID implements cc.Command.
func (s *SupportedGet) CommandClassID() cc.CommandClassID { return cc.ScheduleEntryLockCC }

// CommandID implements cc.Command.
func (s *SupportedGet) CommandID() uint8 { return CmdSupportedGet }

// MarshalPayload implements cc.Command.
func (s *SupportedGet) MarshalPayload() ([]byte, error) { return nil, nil }

// DecodeSupportedGet parses a SupportedGet payload.
func DecodeSupportedGet(payload []byte) (cc.Command, error) {
	return &SupportedGet{}, nil
}

// SupportedReport lists the lock's slot capacities. The daily-repeating
// count exists only from command class version 3 on; it is omitted from the
// wire when nil.
type SupportedReport struct {
	NumWeekDaySlots        uint8
	NumYearDaySlots        uint8
	NumDailyRepeatingSlots *uint8
}

// CommandClassID implements cc.Command.
func (s *SupportedReport) CommandClassID() cc.CommandClassID { return cc.ScheduleEntryLockCC }

// CommandID implements cc.Command.
func (s *SupportedReport) CommandID() uint8 { return CmdSupportedReport }

// MarshalPayload implements cc.Command.
func (s *SupportedReport) MarshalPayload() ([]byte, error) {
	out := []byte{s.NumWeekDaySlots, s.NumYearDaySlots}
	if s.NumDailyRepeatingSlots != nil {
		out = append(out, *s.NumDailyRepeatingSlots)
	}
	return out, nil
}

// DecodeSupportedReport parses a SupportedReport payload.
func DecodeSupportedReport(payload []byte) (cc.Command, error) {
	if len(payload) < 2 {
		return nil, fmt.Errorf("%w: SupportedReport too short", cc.ErrPayloadInvalid)
	}
	s := &SupportedReport{
		NumWeekDaySlots: payload[0],
		NumYearDaySlots: payload[1],
	}
	if len(payload) >= 3 {
		v := payload[2]
		s.NumDailyRepeatingSlots = &v
	}
	return s, nil
}

// WeekDaySchedule is one weekday slot's contents. Nil fields are absent and
// encode as 0xFF.
type WeekDaySchedule struct {
	Weekday     *Weekday
	StartHour   *uint8
	StartMinute *uint8
	StopHour    *uint8
	StopMinute  *uint8
}

// appendFields emits the five schedule bytes, 0xFF for absent fields.
func (w *WeekDaySchedule) appendFields(out []byte) []byte {
	put := func(v *uint8) byte {
		if v == nil {
			return fieldAbsent
		}
		return *v
	}
	var wd byte = fieldAbsent
	if w.Weekday != nil {
		wd = byte(*w.Weekday)
	}
	return append(out, wd, put(w.StartHour), put(w.StartMinute), put(w.StopHour), put(w.StopMinute))
}

// parseScheduleFields reads five schedule bytes; 0xFF decodes as absent.
func parseScheduleFields(data []byte) WeekDaySchedule {
	var w WeekDaySchedule
	opt := func(b byte) *uint8 {
		if b == fieldAbsent {
			return nil
		}
		v := b
		return &v
	}
	if data[0] != fieldAbsent {
		wd := Weekday(data[0])
		w.Weekday = &wd
	}
	w.StartHour = opt(data[1])
	w.StartMinute = opt(data[2])
	w.StopHour = opt(data[3])
	w.StopMinute = opt(data[4])
	return w
}

// WeekDayScheduleSet programs or erases one weekday slot. Erase fills the
// unused schedule bytes with 0xFF.
type WeekDayScheduleSet struct {
	Action SetAction
	UserID uint8
	SlotID uint8

	// Schedule is required for ActionSet and ignored for ActionErase.
	Schedule WeekDaySchedule
}

// CommandClassID implements cc.Command.
func (w *WeekDayScheduleSet) CommandClassID() cc.CommandClassID { return cc.ScheduleEntryLockCC }

// CommandID implements cc.Command.
func (w *WeekDayScheduleSet) CommandID() uint8 { return CmdWeekDayScheduleSet }

// MarshalPayload implements cc.Command.
func (w *WeekDayScheduleSet) MarshalPayload() ([]byte, error) {
	out := []byte{byte(w.Action), w.UserID, w.SlotID}
	if w.Action == ActionSet {
		s := w.Schedule
		if s.Weekday == nil || s.StartHour == nil || s.StartMinute == nil ||
			s.StopHour == nil || s.StopMinute == nil {
			return nil, fmt.Errorf("%w: WeekDayScheduleSet(Set) requires a complete schedule", cc.ErrPayloadInvalid)
		}
		return s.appendFields(out), nil
	}
	return append(out, fieldAbsent, fieldAbsent, fieldAbsent, fieldAbsent, fieldAbsent), nil
}

// DecodeWeekDayScheduleSet parses a WeekDayScheduleSet payload. Set frames
// carry all 8 bytes; Erase frames may omit the schedule bytes.
func DecodeWeekDayScheduleSet(payload []byte) (cc.Command, error) {
	if len(payload) < 3 {
		return nil, fmt.Errorf("%w: WeekDayScheduleSet too short", cc.ErrPayloadInvalid)
	}
	w := &WeekDayScheduleSet{
		Action: SetAction(payload[0]),
		UserID: payload[1],
		SlotID: payload[2],
	}
	switch w.Action {
	case ActionSet:
		if len(payload) < 8 {
			return nil, fmt.Errorf("%w: WeekDayScheduleSet(Set) requires 8 bytes", cc.ErrPayloadInvalid)
		}
		w.Schedule = parseScheduleFields(payload[3:8])
	case ActionErase:
		// Unused bytes, if present, are 0xFF fill.
	default:
		return nil, fmt.Errorf("%w: WeekDayScheduleSet action 0x%02x", cc.ErrPayloadInvalid, payload[0])
	}
	return w, nil
}

// WeekDayScheduleGet queries one weekday slot.
type WeekDayScheduleGet struct {
	UserID uint8
	SlotID uint8
}

// CommandClassID implements cc.Command.
func (w *WeekDayScheduleGet) CommandClassID() cc.CommandClassID { return cc.ScheduleEntryLockCC }

// CommandID implements cc.Command.
func (w *WeekDayScheduleGet) CommandID() uint8 { return CmdWeekDayScheduleGet }

// MarshalPayload implements cc.Command.
func (w *WeekDayScheduleGet) MarshalPayload() ([]byte, error) {
	return []byte{w.UserID, w.SlotID}, nil
}

// DecodeWeekDayScheduleGet parses a WeekDayScheduleGet payload.
func DecodeWeekDayScheduleGet(payload []byte) (cc.Command, error) {
	if len(payload) < 2 {
		return nil, fmt.Errorf("%w: WeekDayScheduleGet too short", cc.ErrPayloadInvalid)
	}
	return &WeekDayScheduleGet{UserID: payload[0], SlotID: payload[1]}, nil
}

// WeekDayScheduleReport reports one weekday slot. An empty slot reports all
// schedule fields absent.
type WeekDayScheduleReport struct {
	UserID   uint8
	SlotID   uint8
	Schedule WeekDaySchedule
}

// CommandClassID implements cc.Command.
func (w *WeekDayScheduleReport) CommandClassID() cc.CommandClassID { return cc.ScheduleEntryLockCC }

// CommandID implements cc.Command.
func (w *WeekDayScheduleReport) CommandID() uint8 { return CmdWeekDayScheduleReport }

// MarshalPayload implements cc.Command.
func (w *WeekDayScheduleReport) MarshalPayload() ([]byte, error) {
	return w.Schedule.appendFields([]byte{w.UserID, w.SlotID}), nil
}

// DecodeWeekDayScheduleReport parses a WeekDayScheduleReport payload.
func DecodeWeekDayScheduleReport(payload []byte) (cc.Command, error) {
	if len(payload) < 7 {
		return nil, fmt.Errorf("%w: WeekDayScheduleReport too short", cc.ErrPayloadInvalid)
	}
	return &WeekDayScheduleReport{
		UserID:   payload[0],
		SlotID:   payload[1],
		Schedule: parseScheduleFields(payload[2:7]),
	}, nil
}

// Register binds all Schedule Entry Lock decoders.
func Register(reg *cc.Registry) {
	reg.MustRegister(cc.ScheduleEntryLockCC, CmdEnableSet, DecodeEnableSet)
	reg.MustRegister(cc.ScheduleEntryLockCC, CmdEnableAllSet, DecodeEnableAllSet)
	reg.MustRegister(cc.ScheduleEntryLockCC, CmdWeekDayScheduleSet, DecodeWeekDayScheduleSet)
	reg.MustRegister(cc.ScheduleEntryLockCC, CmdWeekDayScheduleGet, DecodeWeekDayScheduleGet)
	reg.MustRegister(cc.ScheduleEntryLockCC, CmdWeekDayScheduleReport, DecodeWeekDayScheduleReport)
	reg.MustRegister(cc.ScheduleEntryLockCC, CmdSupportedGet, DecodeSupportedGet)
	reg.MustRegister(cc.ScheduleEntryLockCC, CmdSupportedReport, DecodeSupportedReport)
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
