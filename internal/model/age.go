package model

import "time"

// AgeAt returns the age in whole years of someone born on dob, as of now.
// A birthday later in the year than now has not happened yet.
func AgeAt(dob, now time.Time) int {
	if now.Before(dob) {
		return 0
	}
	dy, dm, dd := dob.Date()
	ny, nm, nd := now.In(dob.Location()).Date()

	age := ny - dy
	if nm < dm || (nm == dm && nd < dd) {
		age--
	}
	return age
}
