package prometheus

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	fileGate "github.com/MrEthical07/fileGate"
)

// Source yields engine metrics. *fileGate.Engine implements it.
type Source interface {
	MetricsSnapshot() fileGate.MetricsSnapshot
	AuditDropped() uint64
}

// Exporter serves a Source as a scrape endpoint.
type Exporter struct {
	src Source
}

var _ http.Handler = (*Exporter)(nil)

func New(src Source) *Exporter {
	return &Exporter{src: src}
}

func (e *Exporter) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	_, _ = w.Write(e.Render())
}

// Render returns the exposition text, or nil when the engine collects
// nothing.
func (e *Exporter) Render() []byte {
	if e == nil || e.src == nil {
		return nil
	}
	snap := e.src.MetricsSnapshot()
	dropped := e.src.AuditDropped()
	if len(snap.Counters) == 0 && len(snap.Histograms) == 0 && dropped == 0 {
		return nil
	}

	var buf bytes.Buffer
	for _, f := range families {
		header(&buf, f.name, f.help, "counter")
		for _, s := range f.series {
			fmt.Fprintf(&buf, "%s{%s=%q} %d\n", f.name, s.label, s.value, snap.Counters[s.id])
		}
	}

	header(&buf, "filegate_audit_dropped_total", "Audit events dropped because the queue was full.", "counter")
	fmt.Fprintf(&buf, "filegate_audit_dropped_total %d\n", dropped)

	header(&buf, "filegate_lockouts_outstanding", "Locks recorded minus locks lifted since start.", "gauge")
	fmt.Fprintf(&buf, "filegate_lockouts_outstanding %d\n", outstandingLocks(snap))

	header(&buf, "filegate_download_denial_ratio", "Share of download decisions that were denials.", "gauge")
	fmt.Fprintf(&buf, "filegate_download_denial_ratio %s\n", formatFloat(denialRatio(snap)))

	loginHistogram(&buf, snap.Histograms[fileGate.MetricLoginLatency])
	return buf.Bytes()
}

// outstandingLocks never goes negative: a lock taken before a restart can
// be lifted after it.
func outstandingLocks(snap fileGate.MetricsSnapshot) uint64 {
	locked := snap.Counters[fileGate.MetricAccountLocked]
	unlocked := snap.Counters[fileGate.MetricAccountUnlocked]
	if unlocked >= locked {
		return 0
	}
	return locked - unlocked
}

func denialRatio(snap fileGate.MetricsSnapshot) float64 {
	granted := snap.Counters[fileGate.MetricDownloadGranted]
	denied := snap.Counters[fileGate.MetricDownloadDenied]
	if granted+denied == 0 {
		return 0
	}
	return float64(denied) / float64(granted+denied)
}

func loginHistogram(buf *bytes.Buffer, slots []uint64) {
	const name = "filegate_login_duration_seconds"
	header(buf, name, "Time spent in Login, password check included.", "histogram")

	var total uint64
	for i, le := range loginBuckets {
		if i < len(slots) {
			total += slots[i]
		}
		fmt.Fprintf(buf, "%s_bucket{le=%q} %d\n", name, formatFloat(le), total)
	}
	for i := len(loginBuckets); i < len(slots); i++ {
		total += slots[i]
	}
	fmt.Fprintf(buf, "%s_bucket{le=\"+Inf\"} %d\n", name, total)
	// Slots carry counts only, so the sum is not tracked.
	fmt.Fprintf(buf, "%s_sum 0\n%s_count %d\n", name, name, total)
}

func header(buf *bytes.Buffer, name, help, kind string) {
	help = strings.NewReplacer(`\`, `\\`, "\n", `\n`).Replace(help)
	fmt.Fprintf(buf, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, kind)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
