package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Issuance statuses.
const (
	StatusIssued  = "issued"
	StatusRevoked = "revoked"
)

// Issuance represents a single issued certificate: who it was issued
// to, which artifact was published and under what key.
type Issuance struct {
	ID                uint           `json:"id" gorm:"primarykey"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	DeletedAt         gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
	CertificateNumber string         `json:"certificate_number" gorm:"size:255;not null;index"`
	FirstName         string         `json:"first_name" gorm:"size:255;not null"`
	MiddleName        string         `json:"middle_name,omitempty" gorm:"size:255"`
	LastName          string         `json:"last_name" gorm:"size:255;not null"`
	InstructorName    string         `json:"instructor_name,omitempty" gorm:"size:255"`
	TrainingDate      string         `json:"training_date,omitempty" gorm:"size:64"`
	IssueDate         string         `json:"issue_date,omitempty" gorm:"size:64"`
	FileKey           string         `json:"file_key" gorm:"size:1024;not null"`
	ContentType       string         `json:"content_type" gorm:"size:255"`
	Format            string         `json:"format" gorm:"size:16;not null"`
	Status            string         `json:"status" gorm:"size:50;not null;default:'issued'"`
	Fields            JSON           `json:"fields,omitempty" gorm:"type:jsonb"`
}

// JSON is a custom type for handling JSONB data
type JSON map[string]interface{}

// Value implements the driver.Valuer interface for JSON
func (j JSON) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface for JSON
func (j *JSON) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into JSON", value)
	}

	return json.Unmarshal(bytes, j)
}

// TableName specifies the table name for the Issuance model
func (Issuance) TableName() string {
	return "issuances"
}

// IsRevoked returns true if the certificate has been revoked
func (i *Issuance) IsRevoked() bool {
	return i.Status == StatusRevoked
}

// Revoke marks the issuance revoked
func (i *Issuance) Revoke() {
	i.Status = StatusRevoked
	i.UpdatedAt = time.Now()
}

// HolderName returns the certificate holder's full name
func (i *Issuance) HolderName() string {
	name := i.FirstName
	if i.MiddleName != "" {
		name += " " + i.MiddleName
	}
	return name + " " + i.LastName
}
