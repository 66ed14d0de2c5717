package calendar

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/wolfman30/clinic-voice-platform/internal/backend"
	"github.com/wolfman30/clinic-voice-platform/pkg/logging"
)

var googleEndpoint = oauth2.Endpoint{
	AuthURL:  "https://accounts.google.com/o/oauth2/auth",
	TokenURL: "https://oauth2.googleapis.com/token",
}

// FactoryConfig holds the OAuth client used for every clinic's calendar.
type FactoryConfig struct {
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
	// TokenURL and APIEndpoint override Google's defaults.
	TokenURL    string
	APIEndpoint string
}

// Factory builds per-clinic adapters from stored connections.
type Factory struct {
	oauth       *oauth2.Config
	timeout     time.Duration
	apiEndpoint string
	logger      *logging.Logger
}

// NewFactory creates an adapter factory.
func NewFactory(cfg FactoryConfig, logger *logging.Logger) *Factory {
	if logger == nil {
		logger = logging.Default()
	}
	endpoint := googleEndpoint
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Factory{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
			Scopes:       []string{gcal.CalendarEventsScope, gcal.CalendarReadonlyScope},
		},
		timeout:     timeout,
		apiEndpoint: cfg.APIEndpoint,
		logger:      logger,
	}
}

// AdapterFor returns an adapter acting on the connection's calendar.
func (f *Factory) AdapterFor(ctx context.Context, conn *Connection) (*Adapter, error) {
	if conn == nil || conn.RefreshToken == "" || conn.CalendarID == "" {
		return nil, ErrNotConnected
	}

	base := &http.Client{Timeout: f.timeout}
	tokenCtx := context.WithValue(context.WithoutCancel(ctx), oauth2.HTTPClient, base)
	ts := f.oauth.TokenSource(tokenCtx, &oauth2.Token{RefreshToken: conn.RefreshToken})

	httpClient := &http.Client{
		Timeout: f.timeout,
		Transport: &oauth2.Transport{
			Source: ts,
			Base:   http.DefaultTransport,
		},
	}

	opts := []option.ClientOption{option.WithHTTPClient(httpClient)}
	if f.apiEndpoint != "" {
		opts = append(opts, option.WithEndpoint(f.apiEndpoint))
	}
	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("calendar: create service: %w", err)
	}
	return newAdapter(svc, conn, f.logger), nil
}

// ForConnection is AdapterFor typed as the shared adapter interface.
func (f *Factory) ForConnection(ctx context.Context, conn *Connection) (backend.Adapter, error) {
	a, err := f.AdapterFor(ctx, conn)
	if err != nil {
		return nil, err
	}
	return a, nil
}
