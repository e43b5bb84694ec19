package domain

// Turn is a single persisted dialogue exchange. PlayerLine is empty for
// NPC-initiated turns such as greetings.
type Turn struct {
	PK         string
	SK         string
	SessionID  string
	NPCID      string
	PlayerLine string
	NPCLine    string
	Status     string
	TTL        int64
}

// SessionMeta stores aggregate state for one player/NPC session.
type SessionMeta struct {
	PK           string
	SK           string
	SessionID    string
	NPCID        string
	LastActivity string
	Turns        int
	TTL          int64
}
