package reading

// Reading is one stored sensor row.
type Reading struct {
	DeviceID string
	Time     int64
	// Value is the record rendered as text; never interpreted.
	Value string
}
