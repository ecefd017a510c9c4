// Package identity works out who is running the pipeline. The actor's email is
// written to every audit record.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/sypherin/comply/internal/domain"
)

const (
	ModeDemo     = "demo"
	ModeEasyAuth = "easyauth"
	ModeStatic   = "static"
)

var (
	ErrUnauthenticated  = errors.New("identity: no authenticated principal")
	ErrDomainNotAllowed = errors.New("identity: email domain is not allowed")
)

// DemoPrincipal is the fixed actor used in demo mode.
var DemoPrincipal = domain.Principal{Name: "Demo User", Email: "demo.user@example.com", ID: "demo-oid"}

// Authenticator produces the acting principal.
type Authenticator interface {
	Authenticate(ctx context.Context) (domain.Principal, error)
}

// Demo always returns DemoPrincipal.
type Demo struct{}

func (Demo) Authenticate(context.Context) (domain.Principal, error) {
	return DemoPrincipal, nil
}

// Static returns a principal taken from configuration.
type Static struct {
	Name  string
	Email string
}

func (s Static) Authenticate(context.Context) (domain.Principal, error) {
	email := strings.TrimSpace(s.Email)
	if email == "" {
		return domain.Principal{}, fmt.Errorf("%w: static mode needs an actor email", ErrUnauthenticated)
	}
	name := strings.TrimSpace(s.Name)
	if name == "" {
		name = email
	}
	return domain.Principal{Name: name, Email: email, ID: "static"}, nil
}

// Guard checks the principal's email domain against an allow-list. An empty
// list allows everyone.
type Guard struct {
	AllowedDomains []string

	validate *validator.Validate
}

func NewGuard(allowed []string) *Guard {
	return &Guard{AllowedDomains: allowed, validate: validator.New()}
}

// Check rejects principals with a malformed email or a domain outside the
// allow-list.
func (g *Guard) Check(p domain.Principal) error {
	email := strings.ToLower(strings.TrimSpace(p.Email))
	if err := g.validate.Var(email, "required,email"); err != nil {
		return fmt.Errorf("%w: invalid email %q", ErrUnauthenticated, p.Email)
	}
	if len(g.AllowedDomains) == 0 {
		return nil
	}
	dom := email[strings.LastIndex(email, "@")+1:]
	for _, d := range g.AllowedDomains {
		d = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(d), "@"))
		if d != "" && dom == d {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrDomainNotAllowed, dom)
}

// Resolve authenticates and then applies the guard.
func Resolve(ctx context.Context, a Authenticator, g *Guard) (domain.Principal, error) {
	p, err := a.Authenticate(ctx)
	if err != nil {
		return domain.Principal{}, err
	}
	if g != nil {
		if err := g.Check(p); err != nil {
			return domain.Principal{}, err
		}
	}
	return p, nil
}
