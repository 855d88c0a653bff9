package booking

import "strconv"

// BookingKey identifies a booking at the API boundary: either the numeric
// row id or the public "BK..." reference. The ambiguity is resolved once,
// at parse time; everything downstream switches on the tag.
type BookingKey struct {
	ID        int64
	Reference string
	byRef     bool
}

func KeyByID(id int64) BookingKey          { return BookingKey{ID: id} }
func KeyByReference(ref string) BookingKey { return BookingKey{Reference: ref, byRef: true} }

func (k BookingKey) ByReference() bool { return k.byRef }

// ParseBookingKey classifies a path parameter. A pure integer is a row
// id; anything else is treated as a reference.
func ParseBookingKey(raw string) BookingKey {
	if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return KeyByID(id)
	}
	return KeyByReference(raw)
}
