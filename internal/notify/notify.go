// Package notify emails a summary when a batch of verification runs has failures.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/kuitang/handover-verify/internal/logutil"
	"github.com/kuitang/handover-verify/internal/obs"
	"github.com/kuitang/handover-verify/internal/verify"
)

// Notifier sends failure summaries to one recipient.
type Notifier struct {
	sender  Sender
	to      string
	baseURL string
}

// New returns a Notifier. An empty recipient disables sending.
func New(sender Sender, to, baseURL string) *Notifier {
	return &Notifier{sender: sender, to: strings.TrimSpace(to), baseURL: baseURL}
}

// NotifyFailures sends one summary if any result failed. It reports whether a
// message was sent. reportURL may be empty.
func (n *Notifier) NotifyFailures(ctx context.Context, results []*verify.Result, reportURL string) (bool, error) {
	var failed []*verify.Result
	for _, r := range results {
		if !r.Passed() {
			failed = append(failed, r)
		}
	}
	if len(failed) == 0 {
		return false, nil
	}
	if n.to == "" {
		obs.From(ctx).Warn("notify_skipped", "reason", "no recipient", "failed", len(failed))
		return false, nil
	}

	msg, err := n.render(failed, len(results), reportURL)
	if err != nil {
		return false, err
	}
	if err := n.sender.Send(ctx, msg); err != nil {
		return false, err
	}
	obs.From(ctx).Info("notify_sent", "to", n.to, "failed", len(failed), "total", len(results))
	return true, nil
}

type failureRow struct {
	Script  string
	Code    string
	Message string
	PageURL string
	Shot    string
}

type summaryData struct {
	Subject   string
	BaseURL   string
	ReportURL string
	Failed    []failureRow
	Total     int
}

func (n *Notifier) render(failed []*verify.Result, total int, reportURL string) (Message, error) {
	data := summaryData{
		Subject:   fmt.Sprintf("[handover-verify] %d of %d scripts failed against %s", len(failed), total, n.baseURL),
		BaseURL:   n.baseURL,
		ReportURL: reportURL,
		Total:     total,
	}
	var text strings.Builder
	fmt.Fprintf(&text, "%s\n\n", data.Subject)

	for _, r := range failed {
		row := failureRow{
			Script:  r.Script,
			Code:    string(r.Code),
			Message: logutil.TruncateForLog(r.Message, 500),
		}
		if r.Diagnostics != nil {
			row.PageURL = r.Diagnostics.URL
		}
		if len(r.Artifacts) > 0 {
			row.Shot = r.Artifacts[len(r.Artifacts)-1]
		} else if r.ErrorShot != "" {
			row.Shot = r.ErrorShot
		}
		data.Failed = append(data.Failed, row)
		fmt.Fprintf(&text, "- %s: %s: %s\n", row.Script, row.Code, row.Message)
	}
	if reportURL != "" {
		fmt.Fprintf(&text, "\nReport: %s\n", reportURL)
	}
	fmt.Fprintf(&text, "\nSent %s\n", time.Now().UTC().Format(time.RFC3339))

	var html bytes.Buffer
	if err := summaryTemplate.Execute(&html, data); err != nil {
		return Message{}, fmt.Errorf("notify: render summary: %w", err)
	}
	return Message{To: n.to, Subject: data.Subject, HTML: html.String(), Text: text.String()}, nil
}

var summaryTemplate = template.Must(template.New("summary").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>{{.Subject}}</title>
</head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, 'Helvetica Neue', Arial, sans-serif; line-height: 1.6; color: #333; max-width: 640px; margin: 0 auto; padding: 20px;">
    <div style="background: linear-gradient(135deg, #f093fb 0%, #f5576c 100%); padding: 24px; border-radius: 10px 10px 0 0;">
        <h1 style="color: white; margin: 0; font-size: 22px;">{{len .Failed}} of {{.Total}} verification scripts failed</h1>
    </div>
    <div style="background: #ffffff; padding: 24px; border: 1px solid #e0e0e0; border-top: none; border-radius: 0 0 10px 10px;">
        <p>Target: <code>{{.BaseURL}}</code></p>
        <table style="border-collapse: collapse; width: 100%;">
            <tr><th align="left">Script</th><th align="left">Code</th><th align="left">Error</th></tr>
            {{range .Failed}}
            <tr>
                <td style="padding: 6px; border-top: 1px solid #eee;">{{.Script}}</td>
                <td style="padding: 6px; border-top: 1px solid #eee;"><code>{{.Code}}</code></td>
                <td style="padding: 6px; border-top: 1px solid #eee;">{{.Message}}{{if .PageURL}}<br><small>at {{.PageURL}}</small>{{end}}{{if .Shot}}<br><small>screenshot: {{.Shot}}</small>{{end}}</td>
            </tr>
            {{end}}
        </table>
        {{if .ReportURL}}<p style="text-align: center; margin: 24px 0;"><a href="{{.ReportURL}}" style="background: #f5576c; color: white; padding: 12px 24px; text-decoration: none; border-radius: 6px; font-weight: 600;">Open report</a></p>{{end}}
        <hr style="border: none; border-top: 1px solid #e0e0e0; margin: 20px 0;">
        <p style="color: #999; font-size: 12px;">This is an automated message from handover-verify.</p>
    </div>
</body>
</html>`))
