package types

import "github.com/google/uuid"

// NewTimeUUID generates a fresh time-based UUID for a timeuuid column that
// was not given an explicit value on write; the wire format stays the
// spec's raw 16 bytes, uuid.UUID is used only as the generator.
func NewTimeUUID() (TimeUUIDValue, error) {
	u, err := uuid.NewUUID()
	if err != nil {
		return TimeUUIDValue{}, err
	}
	return TimeUUIDValue(u), nil
}

// NewRandomUUID generates a fresh random (v4) uuid column value.
func NewRandomUUID() (UUIDValue, error) {
	u, err := uuid.NewRandom()
	if err != nil {
		return UUIDValue{}, err
	}
	return UUIDValue(u), nil
}

// String formats a UUIDValue for debug output only; never part of the wire
// format.
func (u UUIDValue) String() string { return uuid.UUID(u).String() }

// String formats a TimeUUIDValue for debug output only.
func (u TimeUUIDValue) String() string { return uuid.UUID(u).String() }
