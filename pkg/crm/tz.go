package crm

import (
	"fmt"
	"time"
	_ "time/tzdata"
)

// Paris is the display time zone.
var Paris = mustLoad("Europe/Paris")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

var (
	frenchDays   = [...]string{"dimanche", "lundi", "mardi", "mercredi", "jeudi", "vendredi", "samedi"}
	frenchMonths = [...]string{"janvier", "février", "mars", "avril", "mai", "juin", "juillet", "août", "septembre", "octobre", "novembre", "décembre"}
)

// FormatFrench renders t in Paris time, e.g. "jeudi 12 juin à 14h30".
func FormatFrench(t time.Time) string {
	p := t.In(Paris)
	day := fmt.Sprintf("%d", p.Day())
	if p.Day() == 1 {
		day = "1er"
	}
	return fmt.Sprintf("%s %s %s à %dh%02d", frenchDays[p.Weekday()], day, frenchMonths[p.Month()-1], p.Hour(), p.Minute())
}

// sfTime parses the datetime format of the REST API.
func sfTime(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02T15:04:05.000-0700", "2006-01-02T15:04:05.000Z0700", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized salesforce datetime %q", s)
}
