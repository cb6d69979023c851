package model

// NAS is a RADIUS client registry entry, one per router, in the layout
// freeradius reads its clients from. The shortname is derived from the
// router id so the entry can be found without a join.
type NAS struct {
	ID          int64  `json:"id" db:"id"`
	NASName     string `json:"nasname" db:"nasname"`
	ShortName   string `json:"shortname" db:"shortname"`
	Type        string `json:"type" db:"type"`
	Secret      string `json:"-" db:"secret"`
	Server      string `json:"server" db:"server"`
	Description string `json:"description" db:"description"`
}
