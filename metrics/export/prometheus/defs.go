package prometheus

import fileGate "github.com/MrEthical07/fileGate"

// series is one labelled sample of a counter family.
type series struct {
	label string
	value string
	id    fileGate.MetricID
}

// family groups engine counters that describe the same event with
// different outcomes, so dashboards can sum or ratio them by label.
type family struct {
	name   string
	help   string
	series []series
}

func outcome(label string, pairs ...any) []series {
	out := make([]series, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, series{label: label, value: pairs[i].(string), id: pairs[i+1].(fileGate.MetricID)})
	}
	return out
}

var families = []family{
	{"filegate_logins_total", "Login attempts by result.", outcome("result",
		"success", fileGate.MetricLoginSuccess,
		"failure", fileGate.MetricLoginFailure,
		"mfa_required", fileGate.MetricMFALoginRequired,
	)},
	{"filegate_mfa_challenges_total", "Second-factor login challenges by result.", outcome("result",
		"passed", fileGate.MetricMFALoginSuccess,
		"failed", fileGate.MetricMFALoginFailure,
	)},
	{"filegate_mfa_changes_total", "MFA enrollment changes.", outcome("change",
		"enrolled", fileGate.MetricMFAEnrolled,
		"disabled", fileGate.MetricMFADisabled,
	)},
	{"filegate_lockouts_total", "Account locks and unlocks.", outcome("event",
		"locked", fileGate.MetricAccountLocked,
		"unlocked", fileGate.MetricAccountUnlocked,
	)},
	{"filegate_tokens_total", "Signed tokens issued and rejected.", outcome("outcome",
		"issued", fileGate.MetricTokenIssued,
		"rejected", fileGate.MetricTokenInvalid,
	)},
	{"filegate_accounts_total", "Account lifecycle events.", outcome("event",
		"created", fileGate.MetricAccountCreated,
		"activated", fileGate.MetricActivationSuccess,
	)},
	{"filegate_password_events_total", "Password resets and changes.", outcome("event",
		"reset_requested", fileGate.MetricPasswordResetRequest,
		"reset_completed", fileGate.MetricPasswordResetSuccess,
		"changed", fileGate.MetricPasswordChanged,
	)},
	{"filegate_assignments_total", "File assignments granted and revoked.", outcome("event",
		"granted", fileGate.MetricAssignmentCreated,
		"revoked", fileGate.MetricAssignmentRevoked,
	)},
	{"filegate_downloads_total", "Download decisions by result.", outcome("result",
		"granted", fileGate.MetricDownloadGranted,
		"denied", fileGate.MetricDownloadDenied,
	)},
	{"filegate_mail_total", "Notification mail deliveries by result.", outcome("result",
		"sent", fileGate.MetricMailSent,
		"failed", fileGate.MetricMailFailed,
	)},
}

// loginBuckets are upper bounds in seconds for the engine's millisecond
// histogram slots. The last slot is +Inf.
var loginBuckets = [...]float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}
