package email

import (
	"bytes"
	"fmt"
	"html/template"
)

var activationTemplate = template.Must(template.New("activation").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.ClubName}} is live</title>
</head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; margin: 0; padding: 0; background-color: #f5f5f5;">
<table role="presentation" style="width: 100%; border: 0; cellpadding: 0; cellspacing: 0;">
<tr><td style="padding: 40px 0; text-align: center;">
<table role="presentation" style="max-width: 480px; margin: 0 auto; background: #ffffff; border-radius: 8px; overflow: hidden; box-shadow: 0 1px 3px rgba(0,0,0,0.1);">
<tr><td style="padding: 32px 40px; text-align: center;">
<h1 style="margin: 0 0 16px; font-size: 24px; color: #1a1a1a;">{{.ClubName}} is live</h1>
<p style="margin: 0 0 24px; color: #666; font-size: 15px; line-height: 1.5;">
Your payment went through and your club space is ready. Sign in with the email and password you chose during signup.
</p>
<a href="{{.ClubURL}}" style="display: inline-block; padding: 12px 32px; background: #2563eb; color: #ffffff; text-decoration: none; border-radius: 6px; font-size: 15px; font-weight: 500;">
Open {{.ClubName}}
</a>
<p style="margin: 24px 0 0; color: #999; font-size: 13px; line-height: 1.5;">
Your club address is {{.ClubURL}}
</p>
</td></tr>
</table>
</td></tr>
</table>
</body>
</html>`))

// ActivationData holds template data for the activation email.
type ActivationData struct {
	ClubName string
	ClubURL  string
}

// RenderActivationEmail renders the tenant activation email.
func RenderActivationEmail(data ActivationData) (html, text string, err error) {
	var buf bytes.Buffer
	if err := activationTemplate.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("render activation template: %w", err)
	}

	textBody := fmt.Sprintf("%s is live\n\nYour payment went through and your club space is ready: %s\n\nSign in with the email and password you chose during signup.", data.ClubName, data.ClubURL)

	return buf.String(), textBody, nil
}

var resumeLinkTemplate = template.Must(template.New("resume_link").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Finish setting up your club</title>
</head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; margin: 0; padding: 0; background-color: #f5f5f5;">
<table role="presentation" style="width: 100%; border: 0; cellpadding: 0; cellspacing: 0;">
<tr><td style="padding: 40px 0; text-align: center;">
<table role="presentation" style="max-width: 480px; margin: 0 auto; background: #ffffff; border-radius: 8px; overflow: hidden; box-shadow: 0 1px 3px rgba(0,0,0,0.1);">
<tr><td style="padding: 32px 40px; text-align: center;">
<h1 style="margin: 0 0 16px; font-size: 24px; color: #1a1a1a;">Finish setting up your club</h1>
<p style="margin: 0 0 24px; color: #666; font-size: 15px; line-height: 1.5;">
Click the button below to continue your signup where you left off.
</p>
<a href="{{.ResumeURL}}" style="display: inline-block; padding: 12px 32px; background: #2563eb; color: #ffffff; text-decoration: none; border-radius: 6px; font-size: 15px; font-weight: 500;">
Continue signup
</a>
<p style="margin: 24px 0 0; color: #999; font-size: 13px; line-height: 1.5;">
This link expires in {{.ExpiresIn}} and can only be used once.<br>
If you didn't request this, you can safely ignore this email.
</p>
</td></tr>
</table>
</td></tr>
</table>
</body>
</html>`))

// ResumeLinkData holds template data for the signup resume email.
type ResumeLinkData struct {
	ResumeURL string
	ExpiresIn string
}

// RenderResumeLinkEmail renders the signup resume email.
func RenderResumeLinkEmail(data ResumeLinkData) (html, text string, err error) {
	var buf bytes.Buffer
	if err := resumeLinkTemplate.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("render resume link template: %w", err)
	}

	textBody := fmt.Sprintf("Finish setting up your club\n\nContinue your signup: %s\n\nThis link expires in %s and can only be used once.\nIf you didn't request this, you can safely ignore this email.", data.ResumeURL, data.ExpiresIn)

	return buf.String(), textBody, nil
}
