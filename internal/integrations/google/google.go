package google

import (
	"context"

	"google.golang.org/api/option"

	"github.com/devanshuguptaa/Converge-AI/pkg/models"
)

// Integration bundles the Google-backed services.
type Integration struct {
	Mail     *Gmail
	Calendar *Calendar
	Scopes   models.ScopeSet
}

// Connect builds Gmail and Calendar clients from the cached token.
func Connect(ctx context.Context, cfg AuthConfig) (*Integration, error) {
	client, err := HTTPClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return connect(ctx, cfg.GrantedScopes(), option.WithHTTPClient(client))
}

func connect(ctx context.Context, scopes models.ScopeSet, opts ...option.ClientOption) (*Integration, error) {
	gm, err := NewGmail(ctx, opts...)
	if err != nil {
		return nil, err
	}
	cal, err := NewCalendar(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &Integration{Mail: gm, Calendar: cal, Scopes: scopes}, nil
}
