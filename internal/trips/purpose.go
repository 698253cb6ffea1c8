package trips

// Purpose classifies a trip by its origin and destination activity types.
type Purpose int

const (
	HomeBasedWork Purpose = iota
	HomeBasedOther
	NonHomeBased
)

// Purposes lists every purpose in report order.
var Purposes = [...]Purpose{HomeBasedWork, HomeBasedOther, NonHomeBased}

const numPurposes = len(Purposes)

const (
	activityHome = "home"
	activityWork = "work"
)

// String returns the short label used in reports: hbw, hbo or nhb.
func (p Purpose) String() string {
	switch p {
	case HomeBasedWork:
		return "hbw"
	case HomeBasedOther:
		return "hbo"
	case NonHomeBased:
		return "nhb"
	default:
		return "unknown"
	}
}

// ParsePurpose is the inverse of String.
func ParsePurpose(s string) (Purpose, bool) {
	for _, p := range Purposes {
		if p.String() == s {
			return p, true
		}
	}
	return 0, false
}

// Classify maps an origin/destination activity pair to a purpose. A home<->work
// trip is always HomeBasedWork even though it also touches home; unknown activity
// types fall through to NonHomeBased.
func Classify(origin, destination string) Purpose {
	switch {
	case origin == activityHome && destination == activityWork,
		origin == activityWork && destination == activityHome:
		return HomeBasedWork
	case origin == activityHome || destination == activityHome:
		return HomeBasedOther
	default:
		return NonHomeBased
	}
}
