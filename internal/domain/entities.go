package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PropertyType is the lead's property class.
type PropertyType string

const (
	PropertyResidential PropertyType = "residential"
	PropertyCommercial  PropertyType = "commercial"
	PropertyIndustrial  PropertyType = "industrial"
)

// LeadType distinguishes battery-storage leads from standard ones.
type LeadType string

const (
	LeadTypeStandard       LeadType = "standard"
	LeadTypeCommercial     LeadType = "commercial"
	LeadTypeBatteryStorage LeadType = "battery_storage"
)

// Default installer settings applied at registration.
const (
	DefaultServiceRadiusKm  = 50
	DefaultMaxLeadsPerMonth = 50
	DefaultMaxLeadPrice     = 70
)

// Lead is a sales opportunity. Prices are whole AUD.
type Lead struct {
	ID                  uuid.UUID
	Source              string
	CustomerName        string
	CustomerEmail       string
	CustomerPhone       string
	Suburb              string
	State               string
	Postcode            string
	Latitude            *float64
	Longitude           *float64
	PropertyType        PropertyType
	LeadType            LeadType
	EstimatedSystemSize *float64
	QualityScore        int
	BasePrice           int64
	FinalPrice          *int64
	Status              LeadStatus
	IsResold            bool
	ResaleCount         int
	OriginalSaleDate    *time.Time
	IsAuctionLead       bool
	AuctionStartPrice   *int64
	AuctionEndTime      *time.Time
	ExpiresAt           *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// HasCoordinates reports whether both latitude and longitude are set.
func (l Lead) HasCoordinates() bool {
	return l.Latitude != nil && l.Longitude != nil
}

// Installer is a buyer of leads.
type Installer struct {
	ID               uuid.UUID
	CompanyName      string
	ContactName      string
	Email            string
	Phone            string
	ABN              *string
	State            string
	ServicePostcodes []string
	ServiceRadiusKm  int
	Latitude         *float64
	Longitude        *float64
	MaxLeadsPerMonth int
	MaxLeadPrice     int64
	AutoAcceptLeads  bool
	StripeCustomerID *string
	IsActive         bool
	IsVerified       bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// HasCoordinates reports whether both latitude and longitude are set.
func (i Installer) HasCoordinates() bool {
	return i.Latitude != nil && i.Longitude != nil
}

// Eligible reports whether the installer may receive offers at all.
func (i Installer) Eligible() bool {
	return i.IsActive && i.IsVerified
}

// ServicesPostcode reports whether postcode is in the installer's direct service set.
func (i Installer) ServicesPostcode(postcode string) bool {
	for _, pc := range i.ServicePostcodes {
		if pc == postcode {
			return true
		}
	}
	return false
}

// Offer binds one lead to one installer at a price.
type Offer struct {
	ID          uuid.UUID
	LeadID      uuid.UUID
	InstallerID uuid.UUID
	OfferPrice  int64
	DistanceKm  int
	Status      OfferStatus
	SentAt      time.Time
	ExpiresAt   time.Time
	RespondedAt *time.Time
	EmailSent   bool
	SMSSent     bool
	CreatedAt   time.Time
}

// Transaction is a monetary record tied to an accepted offer. Amounts are cents.
type Transaction struct {
	ID                 uuid.UUID
	LeadID             uuid.UUID
	InstallerID        uuid.UUID
	OfferID            *uuid.UUID
	AmountCents        int64
	Currency           string
	Status             TransactionStatus
	ExternalPaymentRef *string
	Metadata           TransactionMetadata
	FailureReason      *string
	PaidAt             *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// TransactionMetadata is the JSON blob stored alongside a transaction.
type TransactionMetadata struct {
	OfferID string `json:"offerId,omitempty"`
	Kind    string `json:"kind,omitempty"`
}

// MarshalMetadata encodes the metadata for storage.
func (t Transaction) MarshalMetadata() ([]byte, error) {
	return json.Marshal(t.Metadata)
}

// Closure is a reported sale outcome for an accepted offer.
type Closure struct {
	ID                    uuid.UUID
	OfferID               uuid.UUID
	LeadID                uuid.UUID
	InstallerID           uuid.UUID
	ContractValue         int64
	PerformanceBonusCents int64
	BonusPaid             bool
	ClosedAt              time.Time
}

// Referral tracks a referring and a referred installer.
type Referral struct {
	ID                    uuid.UUID
	ReferrerInstallerID   uuid.UUID
	ReferredInstallerID   uuid.UUID
	CommissionAmountCents int64
	Status                ReferralStatus
	PaidAt                *time.Time
	CreatedAt             time.Time
}

// Bid is one bid on an auction lead.
type Bid struct {
	ID           uuid.UUID
	LeadID       uuid.UUID
	InstallerID  uuid.UUID
	BidAmount    int64
	IsWinningBid bool
	CreatedAt    time.Time
}

// RefundReason enumerates the accepted refund request reasons.
type RefundReason string

const (
	RefundInvalidPhone  RefundReason = "invalid_phone"
	RefundNeverInquired RefundReason = "never_inquired"
	RefundDuplicate     RefundReason = "duplicate"
	RefundNoResponse    RefundReason = "no_response"
	RefundOther         RefundReason = "other"
)

// RefundRecord is the persisted audit entry for one refund decision.
type RefundRecord struct {
	ID              uuid.UUID
	OfferID         uuid.UUID
	InstallerID     *uuid.UUID
	Reason          RefundReason
	ContactAttempts int
	EvidenceKey     *string
	Approved        bool
	DecisionReason  string
	RefundAmount    int64
	Automated       bool
	ProcessedAt     time.Time
}

// ActivityStatus is the outcome of a telemetry record.
type ActivityStatus string

const (
	ActivitySuccess ActivityStatus = "success"
	ActivityFailed  ActivityStatus = "failed"
)

// AgentActivity is one append-only telemetry record.
type AgentActivity struct {
	ID             uuid.UUID
	ActivityType   string
	Description    string
	Status         ActivityStatus
	LeadsGenerated int
	LeadsQualified int
	OffersCreated  int
	ErrorDetails   *string
	Metadata       map[string]any
	StartedAt      time.Time
	CompletedAt    *time.Time
}
