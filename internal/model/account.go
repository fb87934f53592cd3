package model

// Account is the read-only projection of a CRM account that the matching
// cascade works against. Account lifecycle is owned by the CRM layer; this
// subsystem only syncs {id, email, domain} projections into its local store.
type Account struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Email  string `json:"email"`
	Domain string `json:"domain"`
}
