package models

import "time"

// Organization is the tenant boundary. Inbound webhooks are routed to an
// organization by the receiving platform account id.
type Organization struct {
	ID                 string `gorm:"primaryKey;size:64"`
	Name               string `gorm:"size:256"`
	InstagramAccountID string `gorm:"size:64;uniqueIndex"`
	WebhookSecret      string `gorm:"size:256"`
	VerifyToken        string `gorm:"size:256"`
	CreatedAt          time.Time
}

// Event is an organization's party ("fiesta") that mentions are attributed to.
type Event struct {
	ID              string `gorm:"primaryKey;size:64"`
	OrganizationID  string `gorm:"size:64;not null;index"`
	Name            string `gorm:"size:256;not null"`
	Description     string `gorm:"type:text"`
	Location        string `gorm:"size:256"`
	EventDate       *time.Time
	InstagramHandle string `gorm:"size:128"`
	Status          string `gorm:"size:16;default:draft;index"`
	CreatedAt       time.Time
}

// TableName keeps the table name the dashboard already reads.
func (Event) TableName() string { return "fiestas" }

// EventStatusActive marks events that mentions may be attributed to.
const EventStatusActive = "active"

// Ambassador is a person promoting an organization's events.
type Ambassador struct {
	ID                    string `gorm:"primaryKey;size:64"`
	OrganizationID        string `gorm:"size:64;not null;index:idx_ambassadors_org_user,priority:1"`
	InstagramUsername     string `gorm:"size:128"`
	InstagramUserID       string `gorm:"size:64;index:idx_ambassadors_org_user,priority:2"`
	PermissionRequestedAt *time.Time
	CreatedAt             time.Time
}

// Credential owners.
const (
	CredentialOwnerOrganization = "organization"
	CredentialOwnerAmbassador   = "ambassador"
)

// PlatformCredential is a stored access token. Encryption at rest is owned
// by the dashboard; this service only reads the token it is handed.
type PlatformCredential struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	OwnerType   string `gorm:"size:16;not null;uniqueIndex:ux_credentials_owner,priority:1"`
	OwnerID     string `gorm:"size:64;not null;uniqueIndex:ux_credentials_owner,priority:2"`
	AccessToken string `gorm:"type:text;not null"`
	ExpiresAt   *time.Time
	UpdatedAt   time.Time
}

// TrackedHashtag is a hashtag an organization follows. The platform id is
// cached after the first search because hashtag lookups are rate limited
// per account.
type TrackedHashtag struct {
	ID                uint   `gorm:"primaryKey;autoIncrement"`
	OrganizationID    string `gorm:"size:64;not null;uniqueIndex:ux_hashtags_org_name,priority:1"`
	Name              string `gorm:"size:128;not null;uniqueIndex:ux_hashtags_org_name,priority:2"`
	PlatformHashtagID string `gorm:"size:64"`
	Active            bool   `gorm:"not null"`
	LastPolledAt      *time.Time
	CreatedAt         time.Time
}
