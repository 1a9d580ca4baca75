package internal

// PresenceRegistry maps live connections to the nickname they chose. A
// connection is listed only after it has set a nickname. Snapshot order is the
// order in which connections first set one.
//
// Not safe for concurrent use; the engine serializes access.
type PresenceRegistry struct {
	nicknames map[string]string
	order     []string
}

func NewPresenceRegistry() *PresenceRegistry {
	return &PresenceRegistry{nicknames: make(map[string]string)}
}

// Set upserts the nickname of connID.
func (p *PresenceRegistry) Set(connID, nickname string) {
	if _, ok := p.nicknames[connID]; !ok {
		p.order = append(p.order, connID)
	}
	p.nicknames[connID] = nickname
}

// Remove drops connID and reports whether it was listed.
func (p *PresenceRegistry) Remove(connID string) bool {
	if _, ok := p.nicknames[connID]; !ok {
		return false
	}
	delete(p.nicknames, connID)
	for i, id := range p.order {
		if id == connID {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	return true
}

func (p *PresenceRegistry) Nickname(connID string) (string, bool) {
	nickname, ok := p.nicknames[connID]
	return nickname, ok
}

// Snapshot lists the nicknames of every listed connection. Duplicates are
// kept: two connections may share a nickname.
func (p *PresenceRegistry) Snapshot() []string {
	out := make([]string, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.nicknames[id])
	}
	return out
}

func (p *PresenceRegistry) Len() int {
	return len(p.nicknames)
}
