package timezone

import "time"

var Location *time.Location

func init() {
	var err error
	Location, err = time.LoadLocation("Europe/London")
	if err != nil {
		panic(err)
	}
}

// force the timezone to be London because FutureLearn publishes run
// start dates in UK local time, and date arithmetic based on
// <time.Time>.Year()/Month()/Day() goes wrong when the box running
// the scrape ends up in another region.
func Now() time.Time {
	return time.Now().In(Location)
}
