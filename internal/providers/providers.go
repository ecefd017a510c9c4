// Package providers defines the directory and messaging backends the dispatch
// engine talks to.
package providers

import (
	"context"
	"strings"

	"github.com/sypherin/comply/internal/domain"
)

// Directory looks up a person's manager. A miss and a lookup failure both
// report absent; implementations log failures rather than return them.
type Directory interface {
	ResolveManager(ctx context.Context, identity string) (string, bool)
}

// Message is a rendered reminder ready for delivery.
type Message struct {
	To      []string
	CC      []string
	Subject string
	HTML    string
}

// Delivery is what the messaging backend returned for one accepted message.
// Simulated deliveries never left the process.
type Delivery struct {
	ID        string
	Simulated bool
}

// Mailer delivers one message.
type Mailer interface {
	Send(ctx context.Context, msg Message) (Delivery, error)
}

// ResolveResponsibleParty returns the address to copy on a reminder. The
// Manager Email carried by the roster wins; the directory is only asked when
// the roster had none and useDirectory is set.
func ResolveResponsibleParty(ctx context.Context, g domain.RecipientGroup, dir Directory, useDirectory bool) (string, bool) {
	if rp := strings.TrimSpace(g.ResponsibleParty); rp != "" {
		return rp, true
	}
	if !useDirectory || dir == nil {
		return "", false
	}
	mgr, ok := dir.ResolveManager(ctx, g.Email)
	mgr = strings.TrimSpace(mgr)
	if !ok || mgr == "" {
		return "", false
	}
	return mgr, true
}
