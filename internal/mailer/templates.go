package mailer

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
)

// Email types accepted by Render.
const (
	TypeDepositApproved    = "deposit_approved"
	TypeDepositRejected    = "deposit_rejected"
	TypeWithdrawalApproved = "withdrawal_approved"
	TypeWithdrawalRejected = "withdrawal_rejected"
	TypeTradeResult        = "trade_result"
	TypeWelcome            = "welcome"
)

type emailTemplate struct {
	subject string
	body    string
}

var catalog = map[string]emailTemplate{
	TypeDepositApproved: {
		subject: "Deposit approved",
		body: `<p>Your deposit of <strong>{{.amount}}</strong> has been approved and credited to your wallet.</p>
{{with .reference}}<p>Reference: {{.}}</p>{{end}}`,
	},
	TypeDepositRejected: {
		subject: "Deposit rejected",
		body: `<p>Your deposit of <strong>{{.amount}}</strong> could not be approved.</p>
{{with .reason}}<p>Reason: {{.}}</p>{{end}}`,
	},
	TypeWithdrawalApproved: {
		subject: "Withdrawal approved",
		body: `<p>Your withdrawal of <strong>{{.amount}}</strong> has been approved and is on its way.</p>`,
	},
	TypeWithdrawalRejected: {
		subject: "Withdrawal rejected",
		body: `<p>Your withdrawal of <strong>{{.amount}}</strong> was rejected and the funds returned to your wallet.</p>
{{with .reason}}<p>Reason: {{.}}</p>{{end}}`,
	},
	TypeTradeResult: {
		subject: "Trade {{if .won}}won{{else}}lost{{end}}: {{.pair}}",
		body: `<p>Your {{.tradeType}} trade on <strong>{{.pair}}</strong> for {{.amount}} has settled.</p>
<p>Result: <strong>{{if .won}}WON{{else}}LOST{{end}}</strong> ({{.profitLoss}})</p>
<p>New balance: {{.newBalance}}</p>`,
	},
	TypeWelcome: {
		subject: "Welcome aboard",
		body:    `<p>Your account is ready. Check the offers page for your first deposit bonus.</p>`,
	},
}

const layout = `<!DOCTYPE html>
<html><body style="font-family:Arial,sans-serif;color:#222">
<p>Hi {{.Name}},</p>
{{.Body}}
<p style="color:#888;font-size:12px">This is an automated message.</p>
</body></html>`

var (
	layoutTmpl   = template.Must(template.New("layout").Parse(layout))
	bodyTmpls    = make(map[string]*template.Template, len(catalog))
	subjectTmpls = make(map[string]*template.Template, len(catalog))
)

func init() {
	for name, et := range catalog {
		bodyTmpls[name] = template.Must(template.New(name).Parse(et.body))
		subjectTmpls[name] = template.Must(template.New(name + "_subject").Parse(et.subject))
	}
}

// Render builds the subject and HTML body of emailType for recipient name.
func Render(emailType, name string, data map[string]any) (subject, html string, err error) {
	body, ok := bodyTmpls[emailType]
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrUnknownType, emailType)
	}
	if data == nil {
		data = map[string]any{}
	}

	var sb, bb, out bytes.Buffer
	if err := subjectTmpls[emailType].Execute(&sb, data); err != nil {
		return "", "", fmt.Errorf("render subject: %w", err)
	}
	if err := body.Execute(&bb, data); err != nil {
		return "", "", fmt.Errorf("render body: %w", err)
	}
	if name == "" {
		name = "trader"
	}
	err = layoutTmpl.Execute(&out, struct {
		Name string
		Body template.HTML
	}{Name: name, Body: template.HTML(bb.String())})
	if err != nil {
		return "", "", fmt.Errorf("render layout: %w", err)
	}
	return strings.TrimSpace(sb.String()), out.String(), nil
}
