package dispatch

import (
	"strings"

	"github.com/nextlevelbuilder/companionrt/internal/config"
)

// PersonaDirectory resolves persona slugs (from companion-mode config and
// from @mention text) to active persona ids. Persona identity is
// deployment config, not per-tenant storage, so this wraps a live
// *config.Config snapshot rather than a database table.
type PersonaDirectory struct {
	cfg *config.Config
}

func NewPersonaDirectory(cfg *config.Config) *PersonaDirectory {
	return &PersonaDirectory{cfg: cfg}
}

// IsActive reports whether personaID is a configured, active persona.
func (d *PersonaDirectory) IsActive(personaID string) bool {
	snap := d.cfg.Snapshot()
	_, ok := snap.Personas.List[personaID]
	return ok
}

// ResolveMention matches a bare slug (without the leading '@') against
// persona ids and their configured mention aliases, case-insensitively.
func (d *PersonaDirectory) ResolveMention(slug string) (personaID string, ok bool) {
	slug = strings.ToLower(slug)
	snap := d.cfg.Snapshot()
	if _, exists := snap.Personas.List[slug]; exists {
		return slug, true
	}
	for id, spec := range snap.Personas.List {
		for _, alias := range spec.MentionAliases {
			if strings.ToLower(alias) == slug {
				return id, true
			}
		}
	}
	return "", false
}
