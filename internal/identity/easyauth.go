package identity

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/sypherin/comply/internal/domain"
)

// Header names set by App Service authentication, plus the debug overrides
// accepted when the principal header is absent.
const (
	HeaderPrincipal  = "X-MS-CLIENT-PRINCIPAL"
	HeaderDebugEmail = "X-DEBUG-EMAIL"
	HeaderDebugName  = "X-DEBUG-NAME"
	HeaderDebugOID   = "X-DEBUG-OID"
)

// EasyAuth reads the principal forwarded by an authenticating proxy.
type EasyAuth struct {
	Header http.Header
}

type claim struct {
	Typ string `json:"typ"`
	Val string `json:"val"`
}

type clientPrincipal struct {
	Name              string  `json:"name"`
	UserDetails       string  `json:"userDetails"`
	UserPrincipalName string  `json:"userPrincipalName"`
	Claims            []claim `json:"claims"`
}

func (e EasyAuth) Authenticate(context.Context) (domain.Principal, error) {
	raw := strings.TrimSpace(e.Header.Get(HeaderPrincipal))
	if raw == "" {
		email := strings.TrimSpace(e.Header.Get(HeaderDebugEmail))
		if email == "" {
			return domain.Principal{}, fmt.Errorf("%w: missing %s header", ErrUnauthenticated, HeaderPrincipal)
		}
		p := domain.Principal{
			Name:  strings.TrimSpace(e.Header.Get(HeaderDebugName)),
			Email: email,
			ID:    strings.TrimSpace(e.Header.Get(HeaderDebugOID)),
		}
		if p.Name == "" {
			p.Name = email
		}
		if p.ID == "" {
			p.ID = "debug-oid"
		}
		return p, nil
	}

	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return domain.Principal{}, fmt.Errorf("%w: decode principal: %v", ErrUnauthenticated, err)
	}
	var cp clientPrincipal
	if err := json.Unmarshal(decoded, &cp); err != nil {
		return domain.Principal{}, fmt.Errorf("%w: parse principal: %v", ErrUnauthenticated, err)
	}

	p := domain.Principal{Name: cp.Name, Email: cp.UserPrincipalName}
	if p.Name == "" {
		p.Name = cp.UserDetails
	}
	for _, c := range cp.Claims {
		switch {
		case strings.HasSuffix(c.Typ, "/name"):
			p.Name = c.Val
		case strings.HasSuffix(c.Typ, "/emailaddress"), strings.HasSuffix(c.Typ, "/upn"):
			p.Email = c.Val
		case strings.HasSuffix(c.Typ, "/objectidentifier"):
			p.ID = c.Val
		}
	}
	if p.Email == "" {
		return domain.Principal{}, fmt.Errorf("%w: principal has no email claim", ErrUnauthenticated)
	}
	if p.Name == "" {
		p.Name = p.Email
	}
	return p, nil
}

// HeaderFromEnv maps the proxy headers onto environment variables
// (X_MS_CLIENT_PRINCIPAL, X_DEBUG_EMAIL, ...) for command-line runs.
func HeaderFromEnv() http.Header {
	h := http.Header{}
	for _, name := range []string{HeaderPrincipal, HeaderDebugEmail, HeaderDebugName, HeaderDebugOID} {
		if v := os.Getenv(strings.ReplaceAll(name, "-", "_")); v != "" {
			h.Set(name, v)
		}
	}
	return h
}

// New selects the authenticator for mode.
func New(mode, actorName, actorEmail string, header http.Header) (Authenticator, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", ModeDemo:
		return Demo{}, nil
	case ModeEasyAuth:
		return EasyAuth{Header: header}, nil
	case ModeStatic:
		return Static{Name: actorName, Email: actorEmail}, nil
	}
	return nil, fmt.Errorf("identity: unknown auth mode %q", mode)
}
