package wifi

import (
	"sort"
	"time"
)

// sightings remembers when each MAC address was last seen.
//
// Not safe for concurrent use; the Watcher owns it from a single goroutine.
type sightings struct {
	lastSeen    map[string]time.Time
	exitTimeout time.Duration
}

func newSightings(exitTimeout time.Duration) *sightings {
	return &sightings{
		lastSeen:    make(map[string]time.Time),
		exitTimeout: exitTimeout,
	}
}

// observe records a scan taken at now and returns the addresses that just
// appeared and those that have now been gone for at least the exit timeout.
// Timed-out addresses are forgotten, so they count as new when they return.
func (s *sightings) observe(now time.Time, macs []string) (entered, left []string) {
	for _, mac := range macs {
		if _, known := s.lastSeen[mac]; !known {
			entered = append(entered, mac)
		}
		s.lastSeen[mac] = now
	}

	for mac, seen := range s.lastSeen {
		if now.Sub(seen) >= s.exitTimeout {
			left = append(left, mac)
			delete(s.lastSeen, mac)
		}
	}
	sort.Strings(left)
	return entered, left
}

// present returns the number of addresses currently considered present.
func (s *sightings) present() int {
	return len(s.lastSeen)
}
