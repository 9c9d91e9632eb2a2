package model

import "time"

// User roles.
const (
	RoleFarmer = "FARMER"
	RoleBuyer  = "BUYER"
	RoleHauler = "HAULER"
	RoleAgent  = "AGENT"
	RoleAdmin  = "ADMIN"
)

// Hauler verification statuses.
const (
	HaulerInProgress          = "IN_PROGRESS"
	HaulerPendingVerification = "PENDING_VERIFICATION"
	HaulerActive              = "ACTIVE"
	HaulerRejected            = "REJECTED"
)

// Agent statuses.
const (
	AgentTraining = "TRAINING"
	AgentActive   = "ACTIVE"
	AgentInactive = "INACTIVE"
)

// Team membership roles.
const (
	TeamAdmin              = "ADMIN"
	TeamProcurementManager = "PROCUREMENT_MANAGER"
	TeamFinanceUser        = "FINANCE_USER"
	TeamReceivingStaff     = "RECEIVING_STAFF"
)

// Team membership statuses.
const (
	MembershipActive   = "ACTIVE"
	MembershipInactive = "INACTIVE"
	MembershipPending  = "PENDING"
)

// Zone types, root to leaf.
const (
	ZoneState    = "STATE"
	ZoneDistrict = "DISTRICT"
	ZoneTaluk    = "TALUK"
	ZoneVillage  = "VILLAGE"
)

// Hauler document types.
const (
	DocVehiclePhotoFront = "VEHICLE_PHOTO_FRONT"
	DocVehiclePhotoSide  = "VEHICLE_PHOTO_SIDE"
	DocVehiclePhotoOther = "VEHICLE_PHOTO_OTHER"
	DocDLFront           = "DL_FRONT"
	DocDLBack            = "DL_BACK"
)

// Payment types.
const (
	PaymentUPI  = "UPI"
	PaymentBank = "BANK"
)

// Buyer business types (closed set).
var BusinessTypes = []string{"RESTAURANT", "HOTEL", "RETAILER", "WHOLESALER", "CATERER", "OTHER"}

// Agent employment types (closed set).
var EmploymentTypes = []string{"FULL_TIME", "PART_TIME", "CONTRACT"}

type User struct {
	ID            int64
	Phone         string
	Email         *string
	Role          string
	PasswordHash  *string
	PinHash       *string
	TempPinHash   *string
	PinExpiresAt  *time.Time
	LoginAttempts int
	LockedUntil   *time.Time
	IsActive      bool
	Language      string
	LastLoginAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeletedAt     *time.Time
}

type FarmerProfile struct {
	ID           int64
	UserID       int64
	FullName     string
	District     *string
	State        *string
	Village      *string
	PinCode      *string
	FarmSize     *string
	FarmingTypes []string
	MainCrops    []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type BuyerProfile struct {
	ID           int64
	UserID       int64
	FullName     string
	BusinessName string
	BusinessType string
	GSTNumber    *string
	Address      *string
	City         *string
	PinCode      *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type HaulerProfile struct {
	ID                 int64
	UserID             int64
	FullName           string
	District           *string
	VehicleType        string
	VehicleNumber      string
	PayloadCapacityKg  float64
	DLNumber           *string
	DLExpiry           *time.Time
	CurrentStep        int
	VerificationStatus string
	RegistrationToken  *string
	VerifiedBy         *int64
	VerifiedAt         *time.Time
	RejectionReason    *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type AgentProfile struct {
	ID                  int64
	UserID              int64
	FullName            string
	EmployeeID          string
	EmploymentType      string
	Status              string
	StartDate           time.Time
	CreatedBy           int64
	TrainingCompletedAt *time.Time
	DeactivatedAt       *time.Time
	DeactivationReason  *string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

type HaulerDocument struct {
	ID         int64
	HaulerID   int64
	Type       string
	URL        string
	FileName   *string
	FileSize   *int64
	UploadedAt time.Time
}

type PaymentDetails struct {
	ID          int64
	UserID      int64
	Type        string
	UpiID       *string
	BankAccount *string
	IFSC        *string
	BankName    *string
	Verified    bool
	VerifiedAt  *time.Time
	Primary     bool
	CreatedAt   time.Time
}

type Session struct {
	ID           string
	UserID       int64
	TokenHash    string
	RefreshToken string
	ExpiresAt    time.Time
	IPAddress    *string
	UserAgent    *string
	CreatedAt    time.Time
	DeletedAt    *time.Time
}

type PasswordResetToken struct {
	ID         int64
	UserID     int64
	TokenHash  string
	LookupHash string
	ExpiresAt  time.Time
	UsedAt     *time.Time
	CreatedAt  time.Time
}

type TeamMembership struct {
	ID         int64
	BuyerOrgID int64
	UserID     int64
	Role       string
	Status     string
	InvitedBy  *int64
	AcceptedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type TeamInvitation struct {
	ID         int64
	BuyerOrgID int64
	Email      string
	Phone      *string
	Role       string
	TokenHash  string
	LookupHash string
	InvitedBy  int64
	ExpiresAt  time.Time
	Accepted   bool
	AcceptedAt *time.Time
	CreatedAt  time.Time
}

type TeamRoleChange struct {
	ID           int64
	MembershipID int64
	OldRole      string
	NewRole      string
	ChangedBy    int64
	Reason       *string
	ChangedAt    time.Time
}

type Zone struct {
	ID                int64
	Name              string
	Type              string
	ParentID          *int64
	DistrictManagerID *int64
	CreatedAt         time.Time
}

type AgentZoneAssignment struct {
	ID            int64
	AgentID       int64
	ZoneID        int64
	AssignedBy    int64
	EffectiveFrom time.Time
	EffectiveTo   *time.Time
}
