package reminder

import (
	"errors"
	"fmt"
	"math"
)

// Trigger keys pack (event, reminder, occurrence) into one int64:
//
//	key = (eventID*ReminderSlots + reminderID)*OccurrenceSlots + occurrence
//
// Schedule and Cancel share this encoding. Ids outside the representable
// range are rejected with ErrKeyOverflow instead of wrapping.
const (
	ReminderSlots   = 100000
	OccurrenceSlots = 32
)

var ErrKeyOverflow = errors.New("trigger key out of range")

// maxKeyEventID is the largest event id that still encodes for every
// reminder and occurrence slot.
const maxKeyEventID = (math.MaxInt64/OccurrenceSlots - (ReminderSlots - 1)) / ReminderSlots

// EncodeKey builds the timer key for one occurrence of one reminder.
func EncodeKey(eventID, reminderID int64, occurrence int) (int64, error) {
	switch {
	case eventID < 0 || eventID > maxKeyEventID:
		return 0, fmt.Errorf("%w: event id %d", ErrKeyOverflow, eventID)
	case reminderID < 0 || reminderID >= ReminderSlots:
		return 0, fmt.Errorf("%w: reminder id %d", ErrKeyOverflow, reminderID)
	case occurrence < 0 || occurrence >= OccurrenceSlots:
		return 0, fmt.Errorf("%w: occurrence %d", ErrKeyOverflow, occurrence)
	}
	return (eventID*ReminderSlots+reminderID)*OccurrenceSlots + int64(occurrence), nil
}

// DecodeKey is the inverse of EncodeKey for keys it produced.
func DecodeKey(key int64) (eventID, reminderID int64, occurrence int) {
	occurrence = int(key % OccurrenceSlots)
	rest := key / OccurrenceSlots
	return rest / ReminderSlots, rest % ReminderSlots, occurrence
}
