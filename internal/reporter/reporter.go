// Package reporter implements the end-of-job notification (spec §4.8):
// render the Job's outcome as a multi-part email and send it, retrying on
// a later tick if delivery fails.
package reporter

import (
	"bytes"
	htmltemplate "html/template"
	texttemplate "text/template"

	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/mailer"
	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/orcherrors"
	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/types"
)

// Context is the rendering context for both templates: the Job, its
// Exports grouped by type, the upstream snapshots taken at Job creation,
// and the WebsiteUpdate outcome.
type Context struct {
	Job               types.Job
	ImageExports      []types.Export
	TableExports      []types.Export
	UpstreamSnapshots []types.UpstreamSnapshot
	Website           *types.WebsiteUpdate
}

const textBody = `Snow observation pipeline report - Job {{.Job.ID}}
Status: {{.Job.JobStatus}}
{{if .Job.Error}}Error: {{.Job.Error}}
{{end}}
Image exports: {{len .ImageExports}} (stage {{.Job.ImageExportStatus}})
Table exports: {{len .TableExports}} (stage {{.Job.StatsExportStatus}})
Website update: {{.Job.WebsiteUpdateStatus}}{{if .Website}}{{if .Website.PullRequestURL}} ({{.Website.PullRequestURL}}){{end}}{{end}}
`

const htmlBody = `<h2>Snow observation pipeline report &mdash; Job {{.Job.ID}}</h2>
<p><strong>Status:</strong> {{.Job.JobStatus}}</p>
{{if .Job.Error}}<p><strong>Error:</strong> {{.Job.Error}}</p>{{end}}
<ul>
<li>Image exports: {{len .ImageExports}} (stage {{.Job.ImageExportStatus}})</li>
<li>Table exports: {{len .TableExports}} (stage {{.Job.StatsExportStatus}})</li>
<li>Website update: {{.Job.WebsiteUpdateStatus}}{{if .Website}}{{if .Website.PullRequestURL}} (<a href="{{.Website.PullRequestURL}}">pull request</a>){{end}}{{end}}</li>
</ul>
`

type Reporter struct {
	Mailer   mailer.Mailer
	textTmpl *texttemplate.Template
	htmlTmpl *htmltemplate.Template
}

func New(m mailer.Mailer) (*Reporter, error) {
	textTmpl, err := texttemplate.New("report.txt").Parse(textBody)
	if err != nil {
		return nil, err
	}
	htmlTmpl, err := htmltemplate.New("report.html").Parse(htmlBody)
	if err != nil {
		return nil, err
	}
	return &Reporter{Mailer: m, textTmpl: textTmpl, htmlTmpl: htmlTmpl}, nil
}

// Send renders both templates from ctx and delivers one multi-part
// message. Any failure is wrapped as a ReportDeliveryError for the caller
// to persist on the Report row (spec §4.8, §7).
func (r *Reporter) Send(ctx Context) error {
	var textBuf, htmlBuf bytes.Buffer
	if err := r.textTmpl.Execute(&textBuf, ctx); err != nil {
		return orcherrors.ReportDelivery("rendering text report", err)
	}
	if err := r.htmlTmpl.Execute(&htmlBuf, ctx); err != nil {
		return orcherrors.ReportDelivery("rendering html report", err)
	}

	subject := "Snow observation pipeline: Job " + ctx.Job.ID + " " + string(ctx.Job.JobStatus)
	msg := mailer.Message{
		Subject:  subject,
		TextBody: textBuf.String(),
		HTMLBody: htmlBuf.String(),
	}
	if err := r.Mailer.Send(msg); err != nil {
		return orcherrors.ReportDelivery("sending report email", err)
	}
	return nil
}
