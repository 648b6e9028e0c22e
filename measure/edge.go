package measure

// Edge is a visibility transition direction
type Edge uint8

const (
	EdgeRise Edge = iota // off -> on
	EdgeFall             // on -> off
)

// String returns the wire name used in exported toggle records
func (e Edge) String() string {
	if e == EdgeFall {
		return "fall"
	}
	return "rise"
}
