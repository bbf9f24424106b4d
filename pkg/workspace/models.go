package workspace

import "encoding/json"

// File is an uploaded document.
type File struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Size        int64  `json:"size,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
}

func (f File) Key() string { return f.ID }

// Model is a configured language or embedding model.
type Model struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Provider string `json:"provider,omitempty"`
	Active   bool   `json:"active"`
}

func (m Model) Key() string { return m.ID }

// Credential is a stored provider key. Secret is never returned by the
// server, only accepted on update.
type Credential struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Provider string `json:"provider,omitempty"`
	Secret   string `json:"secret,omitempty"`
	Active   bool   `json:"active"`
}

func (c Credential) Key() string { return c.ID }

// VectorPoint is one entry of a knowledge collection.
type VectorPoint struct {
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (p VectorPoint) Key() string { return p.ID }
