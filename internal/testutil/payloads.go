package testutil

// Timestamp is the fixed creation time used by payload fixtures.
const Timestamp = "2025-01-15T10:30:00Z"

// FollowPayload returns a channel.followed webhook body.
func FollowPayload(id, username string) map[string]any {
	return map[string]any{
		"id":         id,
		"event":      "channel.followed",
		"channel_id": "c1",
		"created_at": Timestamp,
		"data": map[string]any{
			"follower":    map[string]any{"id": "u1", "username": username},
			"followed_at": Timestamp,
		},
	}
}

// SubscriptionPayload returns a channel.subscription.new or
// channel.subscription.renewal webhook body.
func SubscriptionPayload(event, id, username string, months any) map[string]any {
	return map[string]any{
		"id":         id,
		"event":      event,
		"channel_id": "c1",
		"created_at": Timestamp,
		"data": map[string]any{
			"subscriber": map[string]any{"id": "u2", "username": username},
			"tier":       "1",
			"duration":   months,
			"created_at": Timestamp,
			"expires_at": "2025-02-15T10:30:00Z",
		},
	}
}

// GiftPayload returns a channel.subscription.gifts webhook body. A nil gifter
// omits the field entirely.
func GiftPayload(id string, gifter map[string]any, giftees ...string) map[string]any {
	recipients := make([]any, 0, len(giftees))
	for i, name := range giftees {
		recipients = append(recipients, map[string]any{
			"id":       "g" + string(rune('1'+i)),
			"username": name,
		})
	}
	data := map[string]any{
		"recipients": recipients,
		"tier":       "1",
		"created_at": Timestamp,
		"expires_at": "2025-02-15T10:30:00Z",
	}
	if gifter != nil {
		data["gifter"] = gifter
	}
	return map[string]any{
		"id":         id,
		"event":      "channel.subscription.gifts",
		"channel_id": "c1",
		"created_at": Timestamp,
		"data":       data,
	}
}

// ChatPayload returns a flat chat.message.sent webhook body.
func ChatPayload(messageID, username, content string) map[string]any {
	return map[string]any{
		"message_id": messageID,
		"content":    content,
		"created_at": Timestamp,
		"sender": map[string]any{
			"user_id":      "123",
			"username":     username,
			"channel_slug": "slug-" + username,
			"is_verified":  false,
			"identity": map[string]any{
				"username_color": "#FF0000",
				"badges": []any{
					map[string]any{"text": "Subscriber", "type": "subscriber", "count": 3},
				},
			},
		},
		"broadcaster": map[string]any{
			"user_id":      "999",
			"username":     "streamer",
			"channel_slug": "streamer",
		},
	}
}

// LivestreamPayload returns a livestream.status.updated webhook body.
func LivestreamPayload(live bool) map[string]any {
	return map[string]any{
		"event": "livestream.status.updated",
		"broadcaster": map[string]any{
			"user_id":  "999",
			"username": "streamer",
		},
		"is_live":    live,
		"title":      "Stream title",
		"started_at": Timestamp,
	}
}
