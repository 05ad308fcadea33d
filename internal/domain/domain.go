package domain

import (
	"strings"
	"time"
)

// Role identifies what a user account is allowed to do
type Role string

const (
	RoleAdmin Role = "ADMIN"
	RoleBasic Role = "BASIC"
	RoleTutor Role = "TUTOR"
)

// UnknownBreed is the placeholder breed ("sem raça definida") stored when none is known
const UnknownBreed = "SRD"

// IsValid reports whether r is one of the known roles
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleBasic, RoleTutor:
		return true
	}
	return false
}

// User is a login account
type User struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	Email        string     `json:"email"`
	FirstName    string     `json:"first_name"`
	PasswordHash string     `json:"password_hash,omitempty"`
	Role         Role       `json:"role"`
	Superuser    bool       `json:"superuser"`
	Active       bool       `json:"active"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// HasUsablePassword is false for accounts created on a tutor's behalf that were never activated
func (u *User) HasUsablePassword() bool {
	return u.PasswordHash != ""
}

// Profile holds the per-user contact data edited on the profile screen
type Profile struct {
	UserID    string    `json:"user_id"`
	Whatsapp  string    `json:"whatsapp"`
	PhotoPath string    `json:"photo_path,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Tutor is the pet owner named in exam filenames
type Tutor struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	UserID    string    `json:"user_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Pet belongs to exactly one tutor
type Pet struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Breed     string    `json:"breed"`
	TutorID   string    `json:"tutor_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasUnknownBreed reports whether the pet still carries the SRD placeholder
func (p *Pet) HasUnknownBreed() bool {
	return IsUnknownBreed(p.Breed)
}

// IsUnknownBreed treats blank and SRD (any case) as "no specific breed"
func IsUnknownBreed(breed string) bool {
	b := strings.TrimSpace(breed)
	return b == "" || strings.EqualFold(b, UnknownBreed)
}

// Clinic is the clinic or veterinarian name typed in the upload form
type Clinic struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Veterinarian links a basic user account to a clinic
type Veterinarian struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	ClinicID  string    `json:"clinic_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Exam is one uploaded PDF report
type Exam struct {
	ID             string     `json:"id"`
	ClinicOrVet    string     `json:"clinic_or_vet"`
	ClinicID       string     `json:"clinic_id"`
	VeterinarianID string     `json:"veterinarian_id,omitempty"`
	TutorID        string     `json:"tutor_id"`
	TutorName      string     `json:"tutor_name"`
	PetID          string     `json:"pet_id"`
	PetName        string     `json:"pet_name"`
	Breed          string     `json:"breed"`
	ExamType       string     `json:"exam_type"`
	PerformedOn    time.Time  `json:"performed_on"`
	ReturnDate     *time.Time `json:"return_date,omitempty"`
	Observations   string     `json:"observations,omitempty"`
	FileName       string     `json:"file_name"`
	FilePath       string     `json:"file_path"`
	FileSize       int64      `json:"file_size"`
	Pages          int        `json:"pages"`
	UploadedBy     string     `json:"uploaded_by"`
	CreatedAt      time.Time  `json:"created_at"`
}

// ExamPermission grants one user view access to one exam
type ExamPermission struct {
	ExamID    string    `json:"exam_id"`
	UserID    string    `json:"user_id"`
	GrantedBy string    `json:"granted_by,omitempty"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// Permission reasons
const (
	ReasonUploader  = "uploader"
	ReasonTutor     = "tutor"
	ReasonForwarded = "forwarded"
)
