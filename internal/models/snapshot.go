package models

// Quote is the primary feed's estimate for one instrument.
type Quote struct {
	Code                   string
	Name                   string
	EstimatedChangePercent *float64
	EstimatedValue         *float64
	ConfirmedValue         *float64
	ConfirmedValueDate     string // YYYY-MM-DD
	EstimateTimestamp      string
}

// Confirmation is the secondary feed's last confirmed value.
type Confirmation struct {
	Code               string
	ConfirmedValue     *float64
	ConfirmedValueDate string // YYYY-MM-DD
	ChangePercent      *float64
}

// InstrumentSnapshot is one tick's reconciled view of an instrument.
// It is rebuilt every tick and never cached.
type InstrumentSnapshot struct {
	Code                   string   `json:"code"`
	Name                   string   `json:"name,omitempty"`
	EstimatedChangePercent *float64 `json:"gszzl"`
	EstimatedValue         *float64 `json:"gsz"`
	ConfirmedValue         *float64 `json:"dwjz"`
	ConfirmedValueDate     string   `json:"jzrq,omitempty"`
	EstimateTimestamp      string   `json:"gztime,omitempty"`
}

// Usable reports whether the snapshot carries a change percent or an
// estimated value, the two inputs threshold rules read.
func (s InstrumentSnapshot) Usable() bool {
	return s.EstimatedChangePercent != nil || s.EstimatedValue != nil
}

// Empty reports whether no field was filled by any source.
func (s InstrumentSnapshot) Empty() bool {
	return !s.Usable() && s.ConfirmedValue == nil && s.ConfirmedValueDate == "" && s.EstimateTimestamp == ""
}
