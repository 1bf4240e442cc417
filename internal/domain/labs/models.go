package labs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Patient is the identity anchor reports attach to. IdentityKey is derived
// from name, date of birth and sex and is unique.
type Patient struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	IdentityKey string    `gorm:"column:identity_key;not null;uniqueIndex" json:"-"`
	Name        string    `gorm:"column:name;not null" json:"name"`
	ExternalID  string    `gorm:"column:external_id" json:"external_id,omitempty"`
	DateOfBirth string    `gorm:"column:date_of_birth" json:"date_of_birth,omitempty"`
	Sex         string    `gorm:"column:sex" json:"sex,omitempty"`
	Age         string    `gorm:"column:age" json:"age,omitempty"`
	CreatedAt   time.Time `gorm:"not null;index" json:"created_at"`
	UpdatedAt   time.Time `gorm:"not null" json:"updated_at"`
}

func (Patient) TableName() string { return "patient" }

func (p *Patient) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// LabReport is one ingestion run. Status is written only by the orchestrator.
type LabReport struct {
	ID               uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerID          uuid.UUID      `gorm:"type:uuid;column:owner_id;not null;index" json:"owner_id"`
	PatientID        *uuid.UUID     `gorm:"type:uuid;column:patient_id;index" json:"patient_id,omitempty"`
	Patient          *Patient       `gorm:"foreignKey:PatientID;constraint:OnDelete:SET NULL" json:"patient,omitempty"`
	Source           string         `gorm:"column:source;not null" json:"source"`
	Status           Status         `gorm:"column:status;not null;index" json:"status"`
	Stage            Stage          `gorm:"column:stage;not null" json:"stage"`
	OriginalFileName string         `gorm:"column:original_file_name" json:"original_file_name"`
	FilePath         string         `gorm:"column:file_path;not null" json:"file_path"`
	ContentType      string         `gorm:"column:content_type" json:"content_type"`
	FileSize         int64          `gorm:"column:file_size;not null;default:0" json:"file_size"`
	ReportDate       *time.Time     `gorm:"column:report_date;index" json:"report_date,omitempty"`
	RawPayload       datatypes.JSON `gorm:"column:raw_payload" json:"raw_payload,omitempty"`
	Metadata         datatypes.JSON `gorm:"column:metadata" json:"metadata,omitempty"`
	Attempts         int            `gorm:"column:attempts;not null;default:0" json:"attempts"`
	ErrorKind        string         `gorm:"column:error_kind" json:"error_kind,omitempty"`
	ErrorMessage     string         `gorm:"column:error_message" json:"error_message,omitempty"`
	ExtractedAt      *time.Time     `gorm:"column:extracted_at" json:"extracted_at,omitempty"`
	PersistedAt      *time.Time     `gorm:"column:persisted_at" json:"persisted_at,omitempty"`
	CompletedAt      *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
	FailedAt         *time.Time     `gorm:"column:failed_at" json:"failed_at,omitempty"`
	LockedAt         *time.Time     `gorm:"column:locked_at;index" json:"-"`
	HeartbeatAt      *time.Time     `gorm:"column:heartbeat_at" json:"-"`
	Panels           []Panel        `gorm:"foreignKey:ReportID;constraint:OnDelete:CASCADE" json:"panels,omitempty"`
	CreatedAt        time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"not null" json:"updated_at"`
}

func (LabReport) TableName() string { return "lab_report" }

func (r *LabReport) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

const (
	SourceAI     = "ai"
	SourceManual = "manual"
)

type Panel struct {
	ID         uuid.UUID    `gorm:"type:uuid;primaryKey" json:"id"`
	ReportID   uuid.UUID    `gorm:"type:uuid;column:report_id;not null;index" json:"report_id"`
	Position   int          `gorm:"column:position;not null" json:"position"`
	Name       string       `gorm:"column:name;not null" json:"name"`
	ReportedAt *time.Time   `gorm:"column:reported_at" json:"reported_at,omitempty"`
	LabName    string       `gorm:"column:lab_name" json:"lab_name,omitempty"`
	Status     string       `gorm:"column:status" json:"status,omitempty"`
	Results    []TestResult `gorm:"foreignKey:PanelID;constraint:OnDelete:CASCADE" json:"results,omitempty"`
	CreatedAt  time.Time    `gorm:"not null" json:"created_at"`
}

func (Panel) TableName() string { return "panel" }

func (p *Panel) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

type TestResult struct {
	ID             uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	PanelID        uuid.UUID   `gorm:"type:uuid;column:panel_id;not null;index" json:"panel_id"`
	Position       int         `gorm:"column:position;not null" json:"position"`
	TestName       string      `gorm:"column:test_name;not null" json:"test_name"`
	Value          ResultValue `gorm:"column:result_value" json:"result"`
	Units          string      `gorm:"column:units" json:"units,omitempty"`
	Flag           string      `gorm:"column:flag" json:"flag,omitempty"`
	ReferenceRange string      `gorm:"column:reference_range" json:"reference_range,omitempty"`
	IsCalculated   bool        `gorm:"column:is_calculated;not null;default:false" json:"is_calculated"`
	Note           string      `gorm:"column:note" json:"note,omitempty"`
	EffectiveAt    *time.Time  `gorm:"column:effective_at" json:"effective_at,omitempty"`
	CreatedAt      time.Time   `gorm:"not null" json:"created_at"`
}

func (TestResult) TableName() string { return "test_result" }

func (t *TestResult) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}
