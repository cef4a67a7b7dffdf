package model

import "time"

// Contract represents a carrier billing contract whose invoices the robots
// fetch. Contracts are owned by the CRUD layer; the workflow core only reads
// them through the ContractDirectory port.
type Contract struct {
	ID        string    `json:"id"         db:"id"`
	ClientID  string    `json:"client_id"  db:"client_id"`
	CarrierID string    `json:"carrier_id" db:"carrier_id"`
	Active    bool      `json:"active"     db:"active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
