package syncer

// ConflictKind is the closed set of conflict shapes the coordinator
// knows how to resolve. Unrecognized type strings parse to
// KindUnknown and resolve to a skip, never an error: one malformed
// conflict entry must not fail the sync that carried it.
type ConflictKind uint8

const (
	KindUnknown ConflictKind = iota
	KindMessageEdit
	KindConversationState
)

func ParseConflictKind(s string) ConflictKind {
	switch s {
	case "message_edit":
		return KindMessageEdit
	case "conversation_state":
		return KindConversationState
	default:
		return KindUnknown
	}
}

const (
	ResolutionUseServer = "use_server"
	ResolutionUseLocal  = "use_local"
	ResolutionSkip      = "skip"
)

// Version is one side of a conflict. Timestamps are unix millis; the
// populated one depends on the conflict kind.
type Version struct {
	Content   string         `json:"content,omitempty"`
	State     map[string]any `json:"state,omitempty"`
	EditedAt  int64          `json:"edited_at,omitempty"`
	UpdatedAt int64          `json:"updated_at,omitempty"`
}

type Conflict struct {
	Type          string  `json:"type"`
	EntityID      string  `json:"entity_id"`
	ServerVersion Version `json:"server_version"`
	LocalVersion  Version `json:"local_version"`
}

type Resolution struct {
	EntityID        string         `json:"entity_id"`
	Resolution      string         `json:"resolution"`
	ResolvedContent string         `json:"resolved_content,omitempty"`
	ResolvedState   map[string]any `json:"resolved_state,omitempty"`
	Reason          string         `json:"reason,omitempty"`
}

// ResolveConflicts applies deterministic last-writer-wins by timestamp
// to each conflict. Ties go to the server version.
func (c *Coordinator) ResolveConflicts(conflicts []Conflict) []Resolution {
	out := make([]Resolution, 0, len(conflicts))
	for _, cf := range conflicts {
		out = append(out, resolveOne(cf))
	}
	return out
}

func resolveOne(cf Conflict) Resolution {
	switch ParseConflictKind(cf.Type) {
	case KindMessageEdit:
		if cf.ServerVersion.EditedAt >= cf.LocalVersion.EditedAt {
			return Resolution{
				EntityID:        cf.EntityID,
				Resolution:      ResolutionUseServer,
				ResolvedContent: cf.ServerVersion.Content,
			}
		}
		return Resolution{
			EntityID:        cf.EntityID,
			Resolution:      ResolutionUseLocal,
			ResolvedContent: cf.LocalVersion.Content,
		}
	case KindConversationState:
		if cf.ServerVersion.UpdatedAt >= cf.LocalVersion.UpdatedAt {
			return Resolution{
				EntityID:      cf.EntityID,
				Resolution:    ResolutionUseServer,
				ResolvedState: cf.ServerVersion.State,
			}
		}
		return Resolution{
			EntityID:      cf.EntityID,
			Resolution:    ResolutionUseLocal,
			ResolvedState: cf.LocalVersion.State,
		}
	default:
		return Resolution{
			EntityID:   cf.EntityID,
			Resolution: ResolutionSkip,
			Reason:     "Unknown conflict type",
		}
	}
}
