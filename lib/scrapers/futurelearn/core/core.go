package core

import (
	"bytes"
	"context"
	"fmt"
	"net/http/cookiejar"
	"net/url"
	"time"

	"fldata/lib/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("scrapers/futurelearn/core")

var ErrLoginFailed = fmt.Errorf("Failed to login to your FutureLearn account.")

const SignInPath = "/sign-in"

type Client struct {
	BaseUrl *url.URL
	Http    *resty.Client

	email    string
	password string
}

type ClientOptions struct {
	BaseUrl string
}

func NewClient(ctx context.Context, opts ClientOptions) (*Client, error) {
	baseUrl, err := url.Parse(opts.BaseUrl)
	if err != nil {
		return nil, err
	}

	client := resty.New()
	client.SetBaseURL(opts.BaseUrl)
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)

	client.SetHeader("user-agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36")
	client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(baseUrl.Hostname()))
	client.SetTimeout(time.Second * 30)

	telemetry.InstrumentResty(client, "scrapers/futurelearn/http")

	c := &Client{
		BaseUrl: baseUrl,
		Http:    client,
	}
	return c, nil
}

// FormFields collects every input element carrying both a name and a
// value attribute. The sign-in and enroll forms pre-fill their CSRF
// tokens this way, so a submit is just these fields plus whatever the
// caller merges in.
func FormFields(doc *goquery.Document) map[string]string {
	fields := map[string]string{}
	doc.Find("input").Each(func(i int, sel *goquery.Selection) {
		name, hasName := sel.Attr("name")
		value, hasValue := sel.Attr("value")
		if hasName && hasValue {
			fields[name] = value
		}
	})
	return fields
}

// Login performs the form-based sign-in: fetch the sign-in page,
// lift the pre-filled hidden fields, merge in the credentials and post
// the form back. One attempt, no retry; the cookie jar carries the
// session afterwards.
func (c *Client) Login(ctx context.Context, email, password string) error {
	ctx, span := tracer.Start(ctx, "client:Login")
	defer span.End()

	res, err := c.Http.R().
		SetContext(ctx).
		Get(SignInPath)
	if err != nil {
		span.SetStatus(codes.Error, "failed to fetch sign-in page")
		return err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		span.SetStatus(codes.Error, "failed to parse sign-in page html")
		return err
	}

	formData := FormFields(doc)
	formData["email"] = email
	formData["password"] = password

	res, err = c.Http.R().
		SetContext(ctx).
		SetFormData(formData).
		Post(SignInPath)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to make login request")
		return err
	}
	if res.IsError() {
		span.SetStatus(codes.Error, ErrLoginFailed.Error())
		return ErrLoginFailed
	}

	c.email = email
	c.password = password
	return nil
}

// Relogin re-submits the sign-in form with the credentials from the
// last successful Login. The course landing pages occasionally bounce
// an authenticated session back to the register page, which this
// recovers from.
func (c *Client) Relogin(ctx context.Context) error {
	if c.email == "" {
		return fmt.Errorf("cannot relogin before a successful login")
	}
	return c.Login(ctx, c.email, c.password)
}
