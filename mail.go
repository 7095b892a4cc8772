package fileGate

import (
	"context"
	"log/slog"
	"strings"
)

type mailJob struct {
	to         string
	templateID string
	vars       map[string]string
}

// sendMail queues a message and returns at once. Failures are logged and
// counted; they never reach the caller.
func (e *Engine) sendMail(ctx context.Context, to, templateID string, vars map[string]string) {
	if e.mail == nil {
		e.logger.Warn("mail skipped: no mailer configured",
			slog.String("template", templateID),
			slog.String("to", to),
		)
		return
	}

	job := mailJob{to: to, templateID: templateID, vars: vars}
	if !e.mail.Submit(ctx, job) {
		e.metricInc(MetricMailFailed)
		e.logger.Error("mail dropped: queue unavailable",
			slog.String("template", templateID),
			slog.String("to", to),
		)
	}
}

func (e *Engine) deliverMail(ctx context.Context, job mailJob) {
	ctx, cancel := context.WithTimeout(ctx, e.config.Mail.SendTimeout)
	defer cancel()

	if err := e.mailer.Send(ctx, job.to, job.templateID, job.vars); err != nil {
		e.metricInc(MetricMailFailed)
		e.logger.Error("mail send failed",
			slog.String("template", job.templateID),
			slog.String("to", job.to),
			slog.Any("error", err),
		)
		return
	}
	e.metricInc(MetricMailSent)
}

func (e *Engine) mailVars(extra map[string]string) map[string]string {
	vars := map[string]string{
		"company_name": e.config.Mail.CompanyName,
		"portal_url":   strings.TrimRight(e.config.Mail.BaseURL, "/"),
	}
	for k, v := range extra {
		vars[k] = v
	}
	return vars
}

func (e *Engine) link(path, tok string) string {
	return strings.TrimRight(e.config.Mail.BaseURL, "/") + "/" + path + "/" + tok
}
