package store

const (
	stateSchemaVersion   = 1
	historySchemaVersion = 1
)

type stateDocument struct {
	Version int `json:"version"`
	State
}

type historyDocument struct {
	Version int      `json:"version"`
	NextSeq int64    `json:"nextSeq"`
	Entries []Entry  `json:"entries"`
	Summary *Summary `json:"summary,omitempty"`
}

// DefaultTheme is injected into documents persisted before themes existed.
var DefaultTheme = Theme{
	Mood:   "mysterious",
	Genre:  "fantasy",
	Region: "the borderlands",
}

// migrateState upgrades a persisted state document to the current schema.
// Older documents may miss currentTheme and panels entirely.
func migrateState(doc *stateDocument) {
	if doc.Version < 1 {
		if doc.Theme == (Theme{}) {
			doc.Theme = DefaultTheme
		}
	}
	if doc.Panels == nil {
		doc.Panels = []Panel{}
	}
	doc.Version = stateSchemaVersion
}

// migrateHistory upgrades a persisted history document. Documents written
// before append sequencing existed carry zero Seq values and no NextSeq.
func migrateHistory(doc *historyDocument) {
	if doc.Entries == nil {
		doc.Entries = []Entry{}
	}
	var maxSeq int64
	for i := range doc.Entries {
		if doc.Entries[i].Seq == 0 {
			doc.Entries[i].Seq = maxSeq + 1
		}
		if doc.Entries[i].Seq > maxSeq {
			maxSeq = doc.Entries[i].Seq
		}
	}
	if doc.NextSeq <= maxSeq {
		doc.NextSeq = maxSeq + 1
	}
	doc.Version = historySchemaVersion
}
