package ops

import (
	"fmt"
	"runtime"
	"sort"
	"time"
)

// SystemStats contains overall process statistics
type SystemStats struct {
	Version   string
	Commit    string
	Uptime    time.Duration
	StartTime time.Time

	GoVersion     string
	NumGoroutines int
	MemAllocMB    float64
	MemSysMB      float64
	NumGC         uint32
}

// CacheStats contains entity store statistics
type CacheStats struct {
	Notes        int
	Users        int
	Placeholders int
	IngestErrors int64
}

// SessionStats contains subscription lifecycle statistics
type SessionStats struct {
	State             string
	Relays            int
	Subscriptions     int
	DetailViews       int
	Received          int64
	TransportFailures int64
}

// RelayHealth contains connection state for one relay
type RelayHealth struct {
	URL       string
	Connected bool
}

// Sources supply the component stats. Any of them may be nil.
type Sources struct {
	Cache   func() CacheStats
	Session func() SessionStats
	Relays  func() []RelayHealth
	Cards   func() int
}

// Diagnostics is one collected report
type Diagnostics struct {
	CollectedAt time.Time
	System      *SystemStats
	Cache       *CacheStats
	Session     *SessionStats
	Relays      []RelayHealth
	Cards       int
}

// DiagnosticsCollector collects process and component diagnostics
type DiagnosticsCollector struct {
	version   string
	commit    string
	startTime time.Time
	sources   Sources
}

// NewDiagnosticsCollector creates a new diagnostics collector
func NewDiagnosticsCollector(version, commit string, sources Sources) *DiagnosticsCollector {
	return &DiagnosticsCollector{
		version:   version,
		commit:    commit,
		startTime: time.Now(),
		sources:   sources,
	}
}

// CollectSystemStats collects process-level statistics
func (d *DiagnosticsCollector) CollectSystemStats() *SystemStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return &SystemStats{
		Version:   d.version,
		Commit:    d.commit,
		Uptime:    time.Since(d.startTime),
		StartTime: d.startTime,

		GoVersion:     runtime.Version(),
		NumGoroutines: runtime.NumGoroutine(),
		MemAllocMB:    float64(m.Alloc) / 1024 / 1024,
		MemSysMB:      float64(m.Sys) / 1024 / 1024,
		NumGC:         m.NumGC,
	}
}

// CollectAll collects every available section
func (d *DiagnosticsCollector) CollectAll() *Diagnostics {
	diag := &Diagnostics{
		CollectedAt: time.Now(),
		System:      d.CollectSystemStats(),
	}
	if d.sources.Cache != nil {
		stats := d.sources.Cache()
		diag.Cache = &stats
	}
	if d.sources.Session != nil {
		stats := d.sources.Session()
		diag.Session = &stats
	}
	if d.sources.Relays != nil {
		diag.Relays = d.sources.Relays()
		sort.Slice(diag.Relays, func(i, j int) bool {
			return diag.Relays[i].URL < diag.Relays[j].URL
		})
	}
	if d.sources.Cards != nil {
		diag.Cards = d.sources.Cards()
	}
	return diag
}

// ConnectedRelays counts relays that are currently up
func (d *Diagnostics) ConnectedRelays() int {
	n := 0
	for _, r := range d.Relays {
		if r.Connected {
			n++
		}
	}
	return n
}

// FormatAsText formats diagnostics as plain text
func (d *Diagnostics) FormatAsText() string {
	var out string

	out += "=== notecache Diagnostics ===\n"
	out += fmt.Sprintf("Collected: %s\n\n", d.CollectedAt.Format(time.RFC3339))

	out += "--- System ---\n"
	out += fmt.Sprintf("Version: %s (%s)\n", d.System.Version, d.System.Commit)
	out += fmt.Sprintf("Uptime: %s\n", d.System.Uptime.Round(time.Second))
	out += fmt.Sprintf("Go Version: %s\n", d.System.GoVersion)
	out += fmt.Sprintf("Goroutines: %d\n", d.System.NumGoroutines)
	out += fmt.Sprintf("Memory: %.2f MB allocated, %.2f MB system\n", d.System.MemAllocMB, d.System.MemSysMB)
	out += fmt.Sprintf("GC Runs: %d\n\n", d.System.NumGC)

	out += "--- Cache ---\n"
	if d.Cache != nil {
		out += fmt.Sprintf("Notes: %d (%d placeholders)\n", d.Cache.Notes, d.Cache.Placeholders)
		out += fmt.Sprintf("Users: %d\n", d.Cache.Users)
		out += fmt.Sprintf("Ingest Errors: %d\n", d.Cache.IngestErrors)
		out += fmt.Sprintf("Notification Cards: %d\n\n", d.Cards)
	} else {
		out += "Not configured\n\n"
	}

	out += "--- Session ---\n"
	if d.Session != nil {
		out += fmt.Sprintf("State: %s\n", d.Session.State)
		out += fmt.Sprintf("Subscriptions: %d (%d detail views)\n", d.Session.Subscriptions, d.Session.DetailViews)
		out += fmt.Sprintf("Received: %d events\n", d.Session.Received)
		out += fmt.Sprintf("Transport Failures: %d\n\n", d.Session.TransportFailures)
	} else {
		out += "Not configured\n\n"
	}

	if len(d.Relays) > 0 {
		out += "--- Relay Health ---\n"
		out += fmt.Sprintf("Relays: %d total, %d connected\n", len(d.Relays), d.ConnectedRelays())
		for _, relay := range d.Relays {
			status := "disconnected"
			if relay.Connected {
				status = "connected"
			}
			out += fmt.Sprintf("%s: %s\n", relay.URL, status)
		}
	}

	return out
}

// LogDiagnostics writes a one-line summary of d
func (l *Logger) LogDiagnostics(d *Diagnostics) {
	attrs := []any{
		"uptime", d.System.Uptime.Round(time.Second).String(),
		"goroutines", d.System.NumGoroutines,
		"mem_mb", fmt.Sprintf("%.1f", d.System.MemAllocMB),
	}
	if d.Cache != nil {
		attrs = append(attrs, "notes", d.Cache.Notes, "users", d.Cache.Users, "cards", d.Cards)
	}
	if d.Session != nil {
		attrs = append(attrs, "state", d.Session.State, "subscriptions", d.Session.Subscriptions, "received", d.Session.Received)
	}
	if len(d.Relays) > 0 {
		attrs = append(attrs, "relays", len(d.Relays), "connected", d.ConnectedRelays())
	}
	l.Info("status", attrs...)
}
