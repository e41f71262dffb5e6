// Package agent defines the agent profile held by the orchestrator.
package agent

import "time"

// Profile describes one executor instance.
type Profile struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name,omitempty"`
	Capabilities       []string   `json:"capabilities,omitempty"`
	Active             bool       `json:"active"`
	DeactivatedAt      *time.Time `json:"deactivated_at,omitempty"`
	DeactivationReason string     `json:"deactivation_reason,omitempty"`
}

// HasCapability reports whether the profile carries the given tag.
func (p *Profile) HasCapability(tag string) bool {
	for _, c := range p.Capabilities {
		if c == tag {
			return true
		}
	}
	return false
}
