package store

import "time"

// Record is the durable row backing one entry of the Librarian's
// ghid -> {packed, lite} map (spec.md §3.3). Ghid is stored as its hex
// string (via ghid.Ghid's TextMarshaler) so it doubles as a readable,
// indexable primary key across both sqlite and postgres.
type Record struct {
	Ghid      string    `gorm:"type:text;primaryKey"`
	Kind      byte      `gorm:"not null"`
	Packed    []byte    `gorm:"type:blob;not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (Record) TableName() string { return "records" }

// SecretRecord is the durable row backing one entry of Privateer's
// persistent (or local-only, distinguished by LocalOnly) secret map
// (spec.md §3.7). Secret is encrypted at rest by EncryptedSecret.
type SecretRecord struct {
	ContainerGhid string          `gorm:"type:text;primaryKey"`
	LocalOnly     bool            `gorm:"type:boolean;not null;index"`
	Secret        EncryptedSecret `gorm:"type:text;not null"`
	UpdatedAt     time.Time       `gorm:"not null"`
}

func (SecretRecord) TableName() string { return "secrets" }
