package scheduleentrylock

import (
	"bytes"
	"errors"
	"testing"

	"github.com/mikebaz/gozwave/pkg/cc"
)

func u8(v uint8) *uint8 { return &v }

func TestEnableSetRoundtrip(t *testing.T) {
	set := &EnableSet{UserID: 7, Enabled: true}
	payload, err := set.MarshalPayload()
	if err != nil {
		t.Fatalf("MarshalPayload failed: %v", err)
	}
	if !bytes.Equal(payload, []byte{0x07, 0x01}) {
		t.Errorf("payload = %x, want 0701", payload)
	}

	cmd, err := DecodeEnableSet(payload)
	if err != nil {
		t.Fatalf("DecodeEnableSet failed: %v", err)
	}
	got := cmd.(*EnableSet)
	if got.UserID != 7 || !got.Enabled {
		t.Errorf("decoded = %+v", got)
	}
}

func TestWeekDayScheduleSetErase(t *testing.T) {
	set := &WeekDayScheduleSet{Action: ActionErase, UserID: 3, SlotID: 2}
	payload, err := set.MarshalPayload()
	if err != nil {
		t.Fatalf("MarshalPayload failed: %v", err)
	}
	want := []byte{0x00, 0x03, 0x02, 0xff, 0xff, 0xff, 0xff, 0xff}
	if !bytes.Equal(payload, want) {
		t.Errorf("payload = %x, want %x", payload, want)
	}

	cmd, err := DecodeWeekDayScheduleSet(payload)
	if err != nil {
		t.Fatalf("DecodeWeekDayScheduleSet failed: %v", err)
	}
	got := cmd.(*WeekDayScheduleSet)
	if got.Action != ActionErase || got.UserID != 3 || got.SlotID != 2 {
		t.Errorf("decoded = %+v", got)
	}
	if got.Schedule.Weekday != nil || got.Schedule.StartHour != nil {
		t.Error("erase decoded schedule fields as present")
	}

	// Erase needs only the first three bytes.
	if _, err := DecodeWeekDayScheduleSet([]byte{0x00, 0x03, 0x02}); err != nil {
		t.Errorf("short erase frame rejected: %v", err)
	}
}

func TestWeekDayScheduleSetProgram(t *testing.T) {
	wd := Tuesday
	set := &WeekDayScheduleSet{
		Action: ActionSet,
		UserID: 1,
		SlotID: 4,
		Schedule: WeekDaySchedule{
			Weekday:     &wd,
			StartHour:   u8(8),
			StartMinute: u8(30),
			StopHour:    u8(17),
			StopMinute:  u8(0),
		},
	}
	payload, err := set.MarshalPayload()
	if err != nil {
		t.Fatalf("MarshalPayload failed: %v", err)
	}
	want := []byte{0x01, 0x01, 0x04, 0x02, 0x08, 0x1e, 0x11, 0x00}
	if !bytes.Equal(payload, want) {
		t.Errorf("payload = %x, want %x", payload, want)
	}

	cmd, err := DecodeWeekDayScheduleSet(payload)
	if err != nil {
		t.Fatalf("DecodeWeekDayScheduleSet failed: %v", err)
	}
	got := cmd.(*WeekDayScheduleSet)
	if got.Schedule.Weekday == nil || *got.Schedule.Weekday != Tuesday {
		t.Errorf("weekday = %v", got.Schedule.Weekday)
	}
	if *got.Schedule.StartMinute != 30 || *got.Schedule.StopHour != 17 {
		t.Errorf("decoded schedule = %+v", got.Schedule)
	}
}

func TestWeekDayScheduleSetInvalid(t *testing.T) {
	// Set requires all 8 payload bytes.
	if _, err := DecodeWeekDayScheduleSet([]byte{0x01, 0x01, 0x04, 0x02}); !errors.Is(err, cc.ErrPayloadInvalid) {
		t.Errorf("truncated set: got error %v", err)
	}
	// Unknown action byte.
	if _, err := DecodeWeekDayScheduleSet([]byte{0x07, 0x01, 0x04}); !errors.Is(err, cc.ErrPayloadInvalid) {
		t.Errorf("bad action: got error %v", err)
	}
	// Programming with an incomplete schedule must not serialize.
	set := &WeekDayScheduleSet{Action: ActionSet, UserID: 1, SlotID: 1}
	if _, err := set.MarshalPayload(); !errors.Is(err, cc.ErrPayloadInvalid) {
		t.Errorf("incomplete schedule: got error %v", err)
	}
}

func TestWeekDayScheduleReportAbsentFields(t *testing.T) {
	// An empty slot reports every field absent as 0xFF.
	report := &WeekDayScheduleReport{UserID: 3, SlotID: 2}
	payload, err := report.MarshalPayload()
	if err != nil {
		t.Fatalf("MarshalPayload failed: %v", err)
	}
	want := []byte{0x03, 0x02, 0xff, 0xff, 0xff, 0xff, 0xff}
	if !bytes.Equal(payload, want) {
		t.Errorf("payload = %x, want %x", payload, want)
	}

	cmd, err := DecodeWeekDayScheduleReport(payload)
	if err != nil {
		t.Fatalf("DecodeWeekDayScheduleReport failed: %v", err)
	}
	got := cmd.(*WeekDayScheduleReport)
	s := got.Schedule
	if s.Weekday != nil || s.StartHour != nil || s.StartMinute != nil || s.StopHour != nil || s.StopMinute != nil {
		t.Errorf("absent fields decoded as present: %+v", s)
	}

	// Mixed present/absent.
	wd := Friday
	report = &WeekDayScheduleReport{
		UserID: 1, SlotID: 1,
		Schedule: WeekDaySchedule{Weekday: &wd, StartHour: u8(9)},
	}
	payload, _ = report.MarshalPayload()
	if !bytes.Equal(payload, []byte{0x01, 0x01, 0x05, 0x09, 0xff, 0xff, 0xff}) {
		t.Errorf("payload = %x", payload)
	}
}

func TestSupportedReportOptionalThirdByte(t *testing.T) {
	// Version < 3: two bytes only.
	report := &SupportedReport{NumWeekDaySlots: 4, NumYearDaySlots: 2}
	payload, _ := report.MarshalPayload()
	if !bytes.Equal(payload, []byte{0x04, 0x02}) {
		t.Errorf("payload = %x, want 0402", payload)
	}

	cmd, err := DecodeSupportedReport(payload)
	if err != nil {
		t.Fatalf("DecodeSupportedReport failed: %v", err)
	}
	if cmd.(*SupportedReport).NumDailyRepeatingSlots != nil {
		t.Error("two-byte report decoded a daily-repeating count")
	}

	// Version >= 3 with the count supplied.
	report.NumDailyRepeatingSlots = u8(1)
	payload, _ = report.MarshalPayload()
	if !bytes.Equal(payload, []byte{0x04, 0x02, 0x01}) {
		t.Errorf("payload = %x, want 040201", payload)
	}
	cmd, err = DecodeSupportedReport(payload)
	if err != nil {
		t.Fatalf("DecodeSupportedReport failed: %v", err)
	}
	got := cmd.(*SupportedReport)
	if got.NumDailyRepeatingSlots == nil || *got.NumDailyRepeatingSlots != 1 {
		t.Errorf("daily-repeating count = %v", got.NumDailyRepeatingSlots)
	}
}

func TestRegisterDecodesThroughRegistry(t *testing.T) {
	reg := cc.NewRegistry()
	Register(reg)

	data, err := cc.Marshal(&WeekDayScheduleGet{UserID: 2, SlotID: 9})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	cmd, err := reg.Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	got, ok := cmd.(*WeekDayScheduleGet)
	if !ok {
		t.Fatalf("decoded type = %T", cmd)
	}
	if got.UserID != 2 || got.SlotID != 9 {
		t.Errorf("decoded = %+v", got)
	}
}
