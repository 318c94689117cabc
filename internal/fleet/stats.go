package fleet

// Stats are the dashboard aggregates. Offline is whatever is left once
// online, updating and vulnerable devices are counted, so the four
// buckets always add up to Total.
type Stats struct {
	Total      int `json:"total"`
	Online     int `json:"online"`
	Updating   int `json:"updating"`
	Vulnerable int `json:"vulnerable"`
	Offline    int `json:"offline"`
}

func Summarize(devices []Device) Stats {
	stats := Stats{Total: len(devices)}
	for _, d := range devices {
		switch d.Status {
		case DeviceStatusOnline:
			stats.Online++
		case DeviceStatusUpdating:
			stats.Updating++
		case DeviceStatusVulnerable, DeviceStatusCompromised:
			stats.Vulnerable++
		}
	}
	stats.Offline = stats.Total - stats.Online - stats.Updating - stats.Vulnerable
	return stats
}

// AtRisk counts devices flagged VULNERABLE or COMPROMISED.
func AtRisk(devices []Device) int {
	n := 0
	for _, d := range devices {
		if d.Status == DeviceStatusVulnerable || d.Status == DeviceStatusCompromised {
			n++
		}
	}
	return n
}
