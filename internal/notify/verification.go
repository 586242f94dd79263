package notify

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"net/url"
	"strings"
	texttemplate "text/template"
)

// VerificationSubject is the subject line of the registration email.
const VerificationSubject = "Registration"

// The two renderings carry the same greeting, link and code. The text body
// wraps the code in '|' so it can be cut out by hand.
var (
	verificationText = texttemplate.Must(texttemplate.New("verification.txt").Parse(
		`Hi {{.Firstname}} {{.Lastname}}
Please confirm your email {{.Email}} by clicking on this link {{.Link}}
Verification code is: |{{.Token}}|
{{.Signature}}`))

	verificationHTML = htmltemplate.Must(htmltemplate.New("verification.html").Parse(
		`<h1>Hi {{.Firstname}} {{.Lastname}}</h1>
<p>Please confirm your email {{.Email}} by clicking on this <a href="{{.Link}}">link</a></p>
<p>Verification code is: <strong>{{.Token}}</strong></p>
<p>{{.Signature}}</p>`))
)

// Verification describes one verification email.
type Verification struct {
	From      string
	To        string
	Firstname string
	Lastname  string
	Token     string
	// VerifyURL is the endpoint the link points at; the token is added as
	// the "token" query parameter.
	VerifyURL string
	Signature string
}

// Link returns the verification URL with the token embedded.
func (v Verification) Link() (string, error) {
	u, err := url.Parse(v.VerifyURL)
	if err != nil {
		return "", fmt.Errorf("notify: parsing verify url: %w", err)
	}
	q := u.Query()
	q.Set("token", v.Token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Render builds the email for v.
func (v Verification) Render() (Message, error) {
	link, err := v.Link()
	if err != nil {
		return Message{}, err
	}

	data := struct {
		Firstname, Lastname, Email, Link, Token, Signature string
	}{
		Firstname: v.Firstname,
		Lastname:  v.Lastname,
		Email:     v.To,
		Link:      link,
		Token:     v.Token,
		Signature: v.Signature,
	}

	var text, html bytes.Buffer
	if err := verificationText.Execute(&text, data); err != nil {
		return Message{}, fmt.Errorf("notify: rendering text body: %w", err)
	}
	if err := verificationHTML.Execute(&html, data); err != nil {
		return Message{}, fmt.Errorf("notify: rendering html body: %w", err)
	}

	return Message{
		To:      v.To,
		From:    v.From,
		Subject: VerificationSubject,
		Text:    text.String(),
		HTML:    html.String(),
	}, nil
}

// TokenFromText cuts the '|'-delimited code out of a rendered text body.
func TokenFromText(text string) (string, bool) {
	_, rest, ok := strings.Cut(text, "|")
	if !ok {
		return "", false
	}
	token, _, ok := strings.Cut(rest, "|")
	return token, ok && token != ""
}
