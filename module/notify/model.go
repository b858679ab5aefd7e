package notify

// Kind is the closed set of push categories.
type Kind uint8

const (
	KindMessage Kind = iota
	KindMention
)

func (k Kind) String() string {
	if k == KindMention {
		return "mention"
	}
	return "message"
}

// Data is everything needed to decide on and render one push.
type Data struct {
	Kind             Kind
	ConversationID   string
	SenderID         string
	SenderName       string
	ConversationName string
	MessageContent   string
	IsGroup          bool
}

// Preference is one user's push settings, created lazily with these
// defaults on first access.
type Preference struct {
	UserID               string
	PushEnabled          bool
	MessageNotifications bool
	GroupNotifications   bool
	MentionNotifications bool
	QuietHoursEnabled    bool
	QuietHoursStart      string // "HH:MM:SS"
	QuietHoursEnd        string
	Timezone             string
}

func DefaultPreference(userID string) *Preference {
	return &Preference{
		UserID:               userID,
		PushEnabled:          true,
		MessageNotifications: true,
		GroupNotifications:   true,
		MentionNotifications: true,
		QuietHoursEnabled:    false,
		QuietHoursStart:      "22:00:00",
		QuietHoursEnd:        "08:00:00",
		Timezone:             "UTC",
	}
}

// Content is the rendered title/body pair handed to the provider.
type Content struct {
	Title string
	Body  string
}

// Result summarizes one multicast dispatch.
type Result struct {
	SuccessCount  int
	FailureCount  int
	InvalidTokens []string
}
