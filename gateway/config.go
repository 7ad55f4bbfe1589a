package gateway

import (
	"time"

	"github.com/papercomputeco/switchboard/pkg/credentials"
	"github.com/papercomputeco/switchboard/pkg/dispatch"
	"github.com/papercomputeco/switchboard/pkg/eventstream"
	"github.com/papercomputeco/switchboard/pkg/metrics"
	"github.com/papercomputeco/switchboard/pkg/oauth"
)

// Config is the gateway server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8080")
	ListenAddr string

	// APIKeys are the keys inbound callers must present. Empty disables
	// inbound authentication.
	APIKeys []string

	// Store holds provider configurations and their credentials.
	Store credentials.Store

	// Dispatcher selects the provider for each request. Required.
	Dispatcher *dispatch.Dispatcher

	// OAuth runs the authorization flows. When nil the /oauth routes are not
	// registered.
	OAuth *oauth.Manager

	// Publisher receives interaction lifecycle events. Defaults to a no-op
	// publisher.
	Publisher eventstream.Publisher

	// Metrics is exposed on /metrics. When nil a private registry is created.
	Metrics *metrics.Metrics

	// SuccessRedirect and FailureRedirect are where OAuth callbacks land.
	SuccessRedirect string
	FailureRedirect string

	// NumWorkers and QueueSize size the event publishing pool.
	NumWorkers uint
	QueueSize  uint

	// Now overrides the recorder clock. Defaults to time.Now.
	Now func() time.Time
}
