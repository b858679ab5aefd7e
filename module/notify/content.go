package notify

import "fmt"

// BuildContent renders the push title/body for one notification.
//
//	direct message -> title is the sender, body the raw content
//	group message  -> title is the conversation, body "sender: content"
//	mention        -> title is the conversation, body calls the mention out
func BuildContent(d Data) Content {
	if d.Kind == KindMention {
		return Content{
			Title: d.ConversationName,
			Body:  fmt.Sprintf("%s mentioned you: %s", d.SenderName, d.MessageContent),
		}
	}
	if d.IsGroup {
		return Content{
			Title: d.ConversationName,
			Body:  fmt.Sprintf("%s: %s", d.SenderName, d.MessageContent),
		}
	}
	return Content{Title: d.SenderName, Body: d.MessageContent}
}
