// Package prometheus serves fileGate engine metrics in the Prometheus text
// format.
//
// Engine counters are grouped into labelled families such as
// filegate_logins_total{result="failure"} and
// filegate_downloads_total{result="denied"}. Two gauges are derived at scrape
// time: filegate_lockouts_outstanding and filegate_download_denial_ratio.
// Login latency is the histogram filegate_login_duration_seconds.
//
// Nothing is registered globally; mount [New] on the scrape route.
package prometheus
