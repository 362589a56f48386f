package model

// Pet is owned by the pet registry; this service reads it only to enrich
// notification content.
type Pet struct {
	ID           string
	Name         string
	Age          int
	Breed        string
	Identifier   string
	HealthStatus string
}
