// Package graph is the live directory and mail backend on Microsoft Graph.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/sypherin/comply/internal/httpx"
	"github.com/sypherin/comply/internal/logging"
	"github.com/sypherin/comply/internal/providers"
)

const (
	contentTypeJSON = "application/json"
	defaultScope    = "https://graph.microsoft.com/.default"
	defaultTimeout  = 30 * time.Second
)

// Options configures a Client. Either Token or the tenant/client credential
// triple must be set.
type Options struct {
	BaseURL      string
	TenantID     string
	ClientID     string
	ClientSecret string
	Token        string

	// TokenURL overrides the Entra ID token endpoint derived from TenantID.
	TokenURL string

	// SenderID is the mailbox reminders are sent from; "me" uses the
	// signed-in principal.
	SenderID string

	Timeout time.Duration
	Logger  *zap.Logger
}

// Client implements providers.Directory and providers.Mailer.
type Client struct {
	BaseURL  string
	SenderID string
	HTTP     *http.Client
	// Timeout bounds each request through its context. It is not set on
	// HTTP: the oauth2 transport does not support the client-level cancel.
	Timeout time.Duration

	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// New builds a Client with an OAuth2 token source for the configured
// credentials.
func New(ctx context.Context, opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("graph: missing base url")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.SenderID == "" {
		opts.SenderID = "me"
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("graph")

	base := httpx.NewClient(opts.Timeout)
	ctx = context.WithValue(ctx, oauth2.HTTPClient, base)

	var hc *http.Client
	switch {
	case opts.Token != "":
		hc = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token, TokenType: "Bearer"}))
	case opts.TenantID != "" && opts.ClientID != "" && opts.ClientSecret != "":
		tokenURL := opts.TokenURL
		if tokenURL == "" {
			tokenURL = "https://login.microsoftonline.com/" + url.PathEscape(opts.TenantID) + "/oauth2/v2.0/token"
		}
		cc := clientcredentials.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			TokenURL:     tokenURL,
			Scopes:       []string{defaultScope},
		}
		hc = cc.Client(ctx)
	default:
		return nil, errors.New("graph: no credentials: set a token or tenant, client id and secret")
	}

	return &Client{
		BaseURL:  strings.TrimRight(opts.BaseURL, "/"),
		SenderID: opts.SenderID,
		HTTP:     hc,
		Timeout:  opts.Timeout,
		breaker:  newBreaker(logger),
		logger:   logger,
	}, nil
}

// newBreaker stops directory lookups for a while after repeated failures so a
// Graph outage does not add a timeout to every recipient.
func newBreaker(logger *zap.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "graph-directory",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
}

func (c *Client) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.Timeout)
}

type managerResponse struct {
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
}

// ResolveManager asks Graph for the manager of identity (an email or object
// id). One attempt, no retry. Not found and every failure report absent.
func (c *Client) ResolveManager(ctx context.Context, identity string) (string, bool) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return "", false
	}

	ctx, cancel := c.requestContext(ctx)
	defer cancel()

	res, err := c.breaker.Execute(func() (interface{}, error) {
		var mr managerResponse
		err := httpx.DoJSON(ctx, c.HTTP, func(ctx context.Context) (*http.Request, error) {
			u := fmt.Sprintf("%s/users/%s/manager?$select=mail,userPrincipalName", c.BaseURL, url.PathEscape(identity))
			r, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
			if err != nil {
				return nil, err
			}
			r.Header.Set("Accept", contentTypeJSON)
			return r, nil
		}, &mr)

		var herr *httpx.HTTPError
		if errors.As(err, &herr) && herr.StatusCode == http.StatusNotFound {
			// no manager assigned is an answer, not a fault
			return "", nil
		}
		if err != nil {
			return nil, err
		}
		if mr.Mail != "" {
			return mr.Mail, nil
		}
		return mr.UserPrincipalName, nil
	})
	if err != nil {
		c.logger.Warn("manager lookup failed",
			zap.String("user", logging.MaskEmail(identity)),
			zap.Error(err),
		)
		return "", false
	}

	mgr, _ := res.(string)
	return mgr, mgr != ""
}

type emailAddress struct {
	Address string `json:"address"`
}

type recipient struct {
	EmailAddress emailAddress `json:"emailAddress"`
}

type itemBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type message struct {
	Subject      string      `json:"subject"`
	Body         itemBody    `json:"body"`
	ToRecipients []recipient `json:"toRecipients"`
	CcRecipients []recipient `json:"ccRecipients,omitempty"`
}

type sendMailRequest struct {
	Message         message `json:"message"`
	SaveToSentItems bool    `json:"saveToSentItems"`
}

func recipients(addrs []string) []recipient {
	out := make([]recipient, 0, len(addrs))
	for _, a := range addrs {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, recipient{EmailAddress: emailAddress{Address: a}})
		}
	}
	return out
}

// Send posts one message through sendMail. A single attempt: callers wrap it
// in their own retry policy. Graph answers 202 with no body; the delivery id
// is the request-id response header.
func (c *Client) Send(ctx context.Context, msg providers.Message) (providers.Delivery, error) {
	b, err := json.Marshal(sendMailRequest{
		Message: message{
			Subject:      msg.Subject,
			Body:         itemBody{ContentType: "HTML", Content: msg.HTML},
			ToRecipients: recipients(msg.To),
			CcRecipients: recipients(msg.CC),
		},
		SaveToSentItems: true,
	})
	if err != nil {
		return providers.Delivery{}, fmt.Errorf("graph: encode message: %w", err)
	}

	path := "/me/sendMail"
	if c.SenderID != "me" {
		path = "/users/" + url.PathEscape(c.SenderID) + "/sendMail"
	}

	ctx, cancel := c.requestContext(ctx)
	defer cancel()

	resp, _, err := httpx.Do(ctx, c.HTTP, func(ctx context.Context) (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(b))
		if err != nil {
			return nil, err
		}
		r.Header.Set("Content-Type", contentTypeJSON)
		return r, nil
	})
	if err != nil {
		return providers.Delivery{}, fmt.Errorf("graph: send mail: %w", err)
	}

	id := resp.Header.Get("request-id")
	if id == "" {
		id = resp.Header.Get("client-request-id")
	}
	if id == "" {
		id = uuid.NewString()
	}
	return providers.Delivery{ID: id}, nil
}

var (
	_ providers.Directory = (*Client)(nil)
	_ providers.Mailer    = (*Client)(nil)
)
