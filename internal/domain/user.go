package domain

import (
	"fmt"
	"net/url"
	"time"
)

// Role clasifica las cuentas del sistema.
type Role string

const (
	RoleTourist Role = "tourist"
	RoleGuide   Role = "guide"
	RoleAdmin   Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleTourist, RoleGuide, RoleAdmin:
		return true
	}
	return false
}

// VerificationStatus refleja el estado de revision de un guia.
type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationVerified VerificationStatus = "verified"
	VerificationRejected VerificationStatus = "rejected"
)

type User struct {
	ID                     string        `bson:"_id" json:"id"`
	Email                  string        `bson:"email" json:"email"`
	Name                   string        `bson:"name" json:"name"`
	PasswordHash           string        `bson:"passwordHash,omitempty" json:"-"`
	GoogleID               string        `bson:"googleId,omitempty" json:"googleId,omitempty"`
	AvatarURL              string        `bson:"avatar,omitempty" json:"avatar,omitempty"`
	Role                   Role          `bson:"role" json:"role"`
	ProfileIncomplete      bool          `bson:"profileIncomplete" json:"profileIncomplete"`
	Phone                  string        `bson:"phone,omitempty" json:"phone,omitempty"`
	Country                string        `bson:"country,omitempty" json:"country,omitempty"`
	Gender                 string        `bson:"gender,omitempty" json:"gender,omitempty"`
	IsActive               bool          `bson:"isActive" json:"isActive"`
	LastLogin              *time.Time    `bson:"lastLogin,omitempty" json:"lastLogin,omitempty"`
	PasswordResetTokenHash string        `bson:"passwordResetTokenHash,omitempty" json:"-"`
	PasswordResetExpiresAt *time.Time    `bson:"passwordResetExpiresAt,omitempty" json:"-"`
	Guide                  *GuideProfile `bson:"guide,omitempty" json:"guide,omitempty"`
	CreatedAt              time.Time     `bson:"createdAt" json:"createdAt"`
	UpdatedAt              time.Time     `bson:"updatedAt" json:"updatedAt"`
}

// GuideProfile agrupa los campos que solo tienen sentido cuando role == guide.
type GuideProfile struct {
	Specialties       []string           `bson:"specialties,omitempty" json:"specialties,omitempty"`
	Languages         []string           `bson:"languages,omitempty" json:"languages,omitempty"`
	Experience        string             `bson:"experience,omitempty" json:"experience,omitempty"`
	ExperienceYears   int                `bson:"experienceYears,omitempty" json:"experienceYears,omitempty"`
	ExperienceDetails string             `bson:"experienceDetails,omitempty" json:"experienceDetails,omitempty"`
	Certificates      []Certificate      `bson:"certificates,omitempty" json:"certificates,omitempty"`
	Location          string             `bson:"location,omitempty" json:"location,omitempty"`
	Bio               string             `bson:"bio,omitempty" json:"bio,omitempty"`
	Available         bool               `bson:"available" json:"available"`
	Rating            float64            `bson:"rating" json:"rating"`
	CompletedTrips    int                `bson:"completedTrips" json:"completedTrips"`
	Verification      VerificationStatus `bson:"verificationStatus" json:"verificationStatus"`
}

type Certificate struct {
	Name           string     `bson:"name" json:"name"`
	IssuedBy       string     `bson:"issuedBy" json:"issuedBy"`
	IssuedDate     *time.Time `bson:"issuedDate,omitempty" json:"issuedDate,omitempty"`
	ExpiryDate     *time.Time `bson:"expiryDate,omitempty" json:"expiryDate,omitempty"`
	CertificateURL string     `bson:"certificateUrl,omitempty" json:"certificateUrl,omitempty"`
	Verified       bool       `bson:"verified" json:"verified"`
}

// HasCredential indica si la cuenta tiene al menos una forma de autenticarse.
func (u User) HasCredential() bool {
	return u.PasswordHash != "" || u.GoogleID != ""
}

// PublicProfile es la representacion externa de un usuario: nunca incluye el
// hash de password ni los campos de reset, y solo expone la seccion de guia
// cuando el rol es guide.
type PublicProfile struct {
	ID                string        `json:"id"`
	GoogleID          string        `json:"googleId,omitempty"`
	Name              string        `json:"name"`
	Email             string        `json:"email"`
	Phone             string        `json:"phone,omitempty"`
	Country           string        `json:"country,omitempty"`
	Gender            string        `json:"gender,omitempty"`
	Role              Role          `json:"role"`
	AvatarURL         string        `json:"avatar,omitempty"`
	ProfileIncomplete bool          `json:"profileIncomplete"`
	IsActive          bool          `json:"isActive"`
	LastLogin         *time.Time    `json:"lastLogin,omitempty"`
	Guide             *GuideProfile `json:"guide,omitempty"`
	CreatedAt         time.Time     `json:"createdAt"`
	UpdatedAt         time.Time     `json:"updatedAt"`
}

func (u User) Public() PublicProfile {
	p := PublicProfile{
		ID:                u.ID,
		GoogleID:          u.GoogleID,
		Name:              u.Name,
		Email:             u.Email,
		Phone:             u.Phone,
		Country:           u.Country,
		Gender:            u.Gender,
		Role:              u.Role,
		AvatarURL:         u.AvatarURL,
		ProfileIncomplete: u.ProfileIncomplete,
		IsActive:          u.IsActive,
		LastLogin:         u.LastLogin,
		CreatedAt:         u.CreatedAt,
		UpdatedAt:         u.UpdatedAt,
	}
	if u.Role == RoleGuide {
		p.Guide = u.Guide
	}
	return p
}

// FallbackAvatarURL genera un placeholder para cuentas sin foto de proveedor.
func FallbackAvatarURL(name string) string {
	if name == "" {
		name = "User"
	}
	return fmt.Sprintf("https://ui-avatars.com/api/?name=%s&background=0D8ABC&color=fff", url.QueryEscape(name))
}
