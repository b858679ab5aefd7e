package storage

import "fmt"

// key layout:
//   im:presence:<user>                online/last-seen record, TTL bound
//   im:typing:<conv>:<user>           typing flag, short TTL
//   im:receipt:<msg>:delivered        recipient set
//   im:receipt:<msg>:read             recipient set

func presenceKey(user string) string { return "im:presence:" + user }

func typingKey(conv, user string) string { return fmt.Sprintf("im:typing:%s:%s", conv, user) }

func typingScanPattern(conv string) string { return fmt.Sprintf("im:typing:%s:*", conv) }

func deliveredKey(msgID string) string { return fmt.Sprintf("im:receipt:%s:delivered", msgID) }

func readKey(msgID string) string { return fmt.Sprintf("im:receipt:%s:read", msgID) }
