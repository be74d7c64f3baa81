package directory

import (
	"context"
	"errors"
	"time"

	"github.com/partyhub/mention-lifecycle/internal/models"
)

var (
	// ErrNoCredential is returned when no usable access token is stored.
	ErrNoCredential = errors.New("directory: no stored credential")
	// ErrUnknownTenant is returned when no organization owns an account id.
	ErrUnknownTenant = errors.New("directory: unknown tenant")
	// ErrNotFound is returned for missing ambassadors.
	ErrNotFound = errors.New("directory: not found")
)

// Credential is an access token handed out by the CredentialProvider.
type Credential struct {
	Token     string
	ExpiresAt *time.Time
}

// Expired reports whether the token can no longer be used at now.
func (c *Credential) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && !c.ExpiresAt.After(now)
}

// CredentialProvider hands out platform access tokens.
type CredentialProvider interface {
	OrganizationToken(ctx context.Context, organizationID string) (*Credential, error)
	HasStoredCredential(ctx context.Context, ambassadorID string) (bool, error)
}

// UsableOrganizationToken returns the organization's access token, or ""
// when none is stored or it has expired at now.
func UsableOrganizationToken(ctx context.Context, provider CredentialProvider, organizationID string, now time.Time) (string, error) {
	cred, err := provider.OrganizationToken(ctx, organizationID)
	if errors.Is(err, ErrNoCredential) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if cred.Expired(now) {
		return "", nil
	}
	return cred.Token, nil
}

// EventDirectory lists an organization's events.
type EventDirectory interface {
	// ActiveEvents returns active events ordered by date ascending, with
	// undated events last.
	ActiveEvents(ctx context.Context, organizationID string) ([]models.Event, error)
}

// AmbassadorDirectory resolves senders to ambassadors.
type AmbassadorDirectory interface {
	FindByPlatformUserID(ctx context.Context, organizationID, platformUserID string) (*models.Ambassador, error)
	Get(ctx context.Context, ambassadorID string) (*models.Ambassador, error)
	// MarkPermissionRequested stamps permission_requested_at once. It
	// returns false when a request was already recorded.
	MarkPermissionRequested(ctx context.Context, ambassadorID string, at time.Time) (bool, error)
}

// TenantResolver maps inbound identifiers to organizations.
type TenantResolver interface {
	ByPlatformAccountID(ctx context.Context, accountID string) (*models.Organization, error)
	ByID(ctx context.Context, organizationID string) (*models.Organization, error)
}

// HashtagDirectory lists the hashtags organizations follow.
type HashtagDirectory interface {
	ActiveHashtags(ctx context.Context) ([]models.TrackedHashtag, error)
	SetPlatformHashtagID(ctx context.Context, id uint, platformID string) error
	MarkHashtagPolled(ctx context.Context, id uint, at time.Time) error
}
