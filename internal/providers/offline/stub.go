// Package offline provides directory and mail backends that never leave the
// process. They are the default when no live credentials are configured.
package offline

import (
	"context"

	"go.uber.org/zap"

	"github.com/sypherin/comply/internal/logging"
	"github.com/sypherin/comply/internal/providers"
)

// SimulatedID is the delivery id reported for every simulated send.
const SimulatedID = "offline-simulated"

// Stub implements providers.Directory and providers.Mailer.
type Stub struct {
	logger *zap.Logger
}

// New returns a Stub. A nil logger discards output.
func New(logger *zap.Logger) *Stub {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("offline")
	logger.Info("directory and mail running in offline stub mode")
	return &Stub{logger: logger}
}

// ResolveManager always reports absent.
func (s *Stub) ResolveManager(ctx context.Context, identity string) (string, bool) {
	return "", false
}

// Send logs the message and reports a simulated delivery.
func (s *Stub) Send(ctx context.Context, msg providers.Message) (providers.Delivery, error) {
	if err := ctx.Err(); err != nil {
		return providers.Delivery{}, err
	}
	to := make([]string, len(msg.To))
	for i, addr := range msg.To {
		to[i] = logging.MaskEmail(addr)
	}
	s.logger.Info("simulated send",
		zap.Strings("to", to),
		zap.Int("cc", len(msg.CC)),
		zap.String("subject", msg.Subject),
	)
	return providers.Delivery{ID: SimulatedID, Simulated: true}, nil
}

var (
	_ providers.Directory = (*Stub)(nil)
	_ providers.Mailer    = (*Stub)(nil)
)
