package processor

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/snarg/vox-engine/internal/database"
	"github.com/snarg/vox-engine/internal/fault"
	"github.com/snarg/vox-engine/internal/ledger"
	"github.com/snarg/vox-engine/internal/summarize"
)

// runDailySummary assembles the user's local day of transcripts, summarizes
// them through the LLM, stores the encrypted result, and emails it. A day
// with no transcripts still produces a stored summary and a "no activity"
// email; the LLM is not called for it.
func (p *Processor) runDailySummary(ctx context.Context, log zerolog.Logger, job *database.Job) error {
	prefs, err := p.store.GetPreferences(ctx, job.UserID)
	if err != nil {
		return err
	}
	if prefs == nil || !prefs.EnableDailySummary {
		log.Info().Msg("daily summary disabled by user, skipping")
		return nil
	}
	if prefs.NotificationEmail == "" {
		return fault.New(fault.InvalidInput, "notification email required")
	}

	date := summaryDate(job, prefs.TimezoneOffsetHours)
	from, to := summaryWindow(date, prefs.TimezoneOffsetHours)
	log = log.With().Str("summary_date", date.Format("2006-01-02")).Logger()

	transcripts, err := p.store.TranscriptsInRange(ctx, job.UserID, from, to)
	if err != nil {
		return err
	}

	key, err := p.keys.GetKey(ctx, job.UserID)
	if fault.Is(err, fault.NotFound) {
		return fault.New(fault.NotFound, "encryption key missing")
	}
	if err != nil {
		return err
	}
	if err := p.charge(ctx, log, job.UserID, ledger.OpKeyRetrieve, decimal.NewFromInt(1)); err != nil {
		return err
	}

	body := database.SummaryBody{Family: []string{}, Business: []string{}, Misc: []string{}}
	if len(transcripts) > 0 {
		entries := make([]summarize.Entry, 0, len(transcripts))
		offset := time.Duration(prefs.TimezoneOffsetHours) * time.Hour
		for _, t := range transcripts {
			entries = append(entries, summarize.Entry{
				RecordedAt: t.CreatedAt.Add(offset).Format("15:04"),
				Text:       t.Text,
			})
		}

		result, err := p.summarizer.Summarize(ctx, summarize.FormatTranscripts(entries))
		if err != nil {
			return err
		}
		if err := p.charge(ctx, log, job.UserID, ledger.OpLLMInput, decimal.NewFromInt(result.TokensIn)); err != nil {
			return err
		}
		if err := p.charge(ctx, log, job.UserID, ledger.OpLLMOutput, decimal.NewFromInt(result.TokensOut)); err != nil {
			return err
		}
		body.Family = result.Family
		body.Business = result.Business
		body.Misc = result.Misc
	}

	summaryID, err := p.store.SaveSummary(ctx, key, job.UserID, date, body, time.Now().UTC())
	if err != nil {
		return err
	}

	html, err := renderSummaryEmail(date, body)
	if err != nil {
		return err
	}
	subject := "Your daily summary for " + date.Format("January 2, 2006")
	msgID, err := p.mail.Send(ctx, prefs.NotificationEmail, subject, html)
	if err != nil {
		return err
	}
	if err := p.charge(ctx, log, job.UserID, ledger.OpSendEmail, decimal.NewFromInt(1)); err != nil {
		return err
	}

	log.Info().
		Str("summary_id", summaryID.String()).
		Str("message_id", msgID).
		Int("transcripts", len(transcripts)).
		Msg("daily summary delivered")
	return nil
}

// summaryDate returns the date-only value the summary covers. Jobs written by
// the scheduler carry it explicitly; rows from before that column existed
// fall back to the day before the job's creation in the user's local clock.
func summaryDate(job *database.Job, offsetHours int) time.Time {
	if job.SummaryDate != nil {
		d := *job.SummaryDate
		return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	}
	local := job.CreatedAt.Add(time.Duration(offsetHours) * time.Hour).AddDate(0, 0, -1)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

// summaryWindow returns the UTC half-open interval covering the user's local
// calendar day for date (a date-only value) at the given fixed offset.
func summaryWindow(date time.Time, offsetHours int) (time.Time, time.Time) {
	start := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC).
		Add(-time.Duration(offsetHours) * time.Hour)
	return start, start.Add(24 * time.Hour)
}

var summaryEmailTmpl = template.Must(template.New("summary").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; max-width: 600px; margin: 0 auto;">
<h2>Daily Summary &mdash; {{.Date}}</h2>
{{- if .Empty}}
<p>No recorded activity for this day.</p>
{{- else}}
{{- range .Sections}}
<h3>{{.Title}}</h3>
<ul>
{{- range .Items}}
<li>{{.}}</li>
{{- end}}
</ul>
{{- end}}
{{- end}}
<p style="color: #888; font-size: 12px;">Recorded with your voice capture device.</p>
</body>
</html>
`))

type emailSection struct {
	Title string
	Items []string
}

// renderSummaryEmail produces the HTML body for the notification email.
func renderSummaryEmail(date time.Time, body database.SummaryBody) (string, error) {
	var sections []emailSection
	for _, s := range []emailSection{
		{"Family", body.Family},
		{"Business", body.Business},
		{"Everything Else", body.Misc},
	} {
		if len(s.Items) > 0 {
			sections = append(sections, s)
		}
	}

	var buf bytes.Buffer
	err := summaryEmailTmpl.Execute(&buf, struct {
		Date     string
		Empty    bool
		Sections []emailSection
	}{
		Date:     date.Format("January 2, 2006"),
		Empty:    len(sections) == 0,
		Sections: sections,
	})
	if err != nil {
		return "", fmt.Errorf("render summary email: %w", err)
	}
	return buf.String(), nil
}
