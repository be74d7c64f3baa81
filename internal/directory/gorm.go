package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/partyhub/mention-lifecycle/internal/models"
	"gorm.io/gorm"
)

// GormDirectory serves tenants, events, ambassadors and credentials from the
// tables the dashboard owns.
type GormDirectory struct {
	db *gorm.DB
}

var (
	_ CredentialProvider  = (*GormDirectory)(nil)
	_ EventDirectory      = (*GormDirectory)(nil)
	_ AmbassadorDirectory = (*GormDirectory)(nil)
	_ TenantResolver      = (*GormDirectory)(nil)
	_ HashtagDirectory    = (*GormDirectory)(nil)
)

func NewGormDirectory(db *gorm.DB) *GormDirectory {
	return &GormDirectory{db: db}
}

func (d *GormDirectory) OrganizationToken(ctx context.Context, organizationID string) (*Credential, error) {
	return d.token(ctx, models.CredentialOwnerOrganization, organizationID)
}

func (d *GormDirectory) HasStoredCredential(ctx context.Context, ambassadorID string) (bool, error) {
	_, err := d.token(ctx, models.CredentialOwnerAmbassador, ambassadorID)
	if errors.Is(err, ErrNoCredential) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (d *GormDirectory) token(ctx context.Context, ownerType, ownerID string) (*Credential, error) {
	var cred models.PlatformCredential
	err := d.db.WithContext(ctx).
		Where("owner_type = ? AND owner_id = ?", ownerType, ownerID).
		First(&cred).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoCredential
	}
	if err != nil {
		return nil, fmt.Errorf("directory: load %s credential %s: %w", ownerType, ownerID, err)
	}
	if cred.AccessToken == "" {
		return nil, ErrNoCredential
	}
	return &Credential{Token: cred.AccessToken, ExpiresAt: cred.ExpiresAt}, nil
}

func (d *GormDirectory) ActiveEvents(ctx context.Context, organizationID string) ([]models.Event, error) {
	var events []models.Event
	err := d.db.WithContext(ctx).
		Where("organization_id = ? AND status = ?", organizationID, models.EventStatusActive).
		Order("event_date IS NULL").
		Order("event_date ASC").
		Order("created_at ASC").
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("directory: active events for %s: %w", organizationID, err)
	}
	return events, nil
}

func (d *GormDirectory) FindByPlatformUserID(ctx context.Context, organizationID, platformUserID string) (*models.Ambassador, error) {
	if platformUserID == "" {
		return nil, ErrNotFound
	}
	var a models.Ambassador
	err := d.db.WithContext(ctx).
		Where("organization_id = ? AND instagram_user_id = ?", organizationID, platformUserID).
		First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("directory: find ambassador %s/%s: %w", organizationID, platformUserID, err)
	}
	return &a, nil
}

func (d *GormDirectory) Get(ctx context.Context, ambassadorID string) (*models.Ambassador, error) {
	var a models.Ambassador
	err := d.db.WithContext(ctx).Where("id = ?", ambassadorID).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("directory: get ambassador %s: %w", ambassadorID, err)
	}
	return &a, nil
}

func (d *GormDirectory) MarkPermissionRequested(ctx context.Context, ambassadorID string, at time.Time) (bool, error) {
	result := d.db.WithContext(ctx).Model(&models.Ambassador{}).
		Where("id = ? AND permission_requested_at IS NULL", ambassadorID).
		Update("permission_requested_at", at.UTC())
	if result.Error != nil {
		return false, fmt.Errorf("directory: mark permission requested for %s: %w", ambassadorID, result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (d *GormDirectory) ByPlatformAccountID(ctx context.Context, accountID string) (*models.Organization, error) {
	var org models.Organization
	err := d.db.WithContext(ctx).Where("instagram_account_id = ?", accountID).First(&org).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUnknownTenant
	}
	if err != nil {
		return nil, fmt.Errorf("directory: resolve account %s: %w", accountID, err)
	}
	return &org, nil
}

func (d *GormDirectory) ByID(ctx context.Context, organizationID string) (*models.Organization, error) {
	var org models.Organization
	err := d.db.WithContext(ctx).Where("id = ?", organizationID).First(&org).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUnknownTenant
	}
	if err != nil {
		return nil, fmt.Errorf("directory: get organization %s: %w", organizationID, err)
	}
	return &org, nil
}

func (d *GormDirectory) ActiveHashtags(ctx context.Context) ([]models.TrackedHashtag, error) {
	var hashtags []models.TrackedHashtag
	err := d.db.WithContext(ctx).
		Where("active = ?", true).
		Order("organization_id").
		Order("name").
		Find(&hashtags).Error
	if err != nil {
		return nil, fmt.Errorf("directory: active hashtags: %w", err)
	}
	return hashtags, nil
}

func (d *GormDirectory) SetPlatformHashtagID(ctx context.Context, id uint, platformID string) error {
	err := d.db.WithContext(ctx).Model(&models.TrackedHashtag{}).
		Where("id = ?", id).
		Update("platform_hashtag_id", platformID).Error
	if err != nil {
		return fmt.Errorf("directory: cache hashtag id for %d: %w", id, err)
	}
	return nil
}

func (d *GormDirectory) MarkHashtagPolled(ctx context.Context, id uint, at time.Time) error {
	err := d.db.WithContext(ctx).Model(&models.TrackedHashtag{}).
		Where("id = ?", id).
		Update("last_polled_at", at.UTC()).Error
	if err != nil {
		return fmt.Errorf("directory: mark hashtag %d polled: %w", id, err)
	}
	return nil
}
