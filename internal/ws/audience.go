package ws

type audienceKind int

const (
	audienceRoom audienceKind = iota
	audienceRecipients
	audienceEveryone
)

// Audience is the explicit target of a broadcast: a room, a set of user ids,
// or every connected client. Every broadcast call must supply one; there is
// no implicit global fallback.
type Audience struct {
	kind       audienceKind
	room       string
	recipients []string
}

func RoomAudience(roomID string) Audience {
	return Audience{kind: audienceRoom, room: roomID}
}

func RecipientsAudience(userIDs ...string) Audience {
	return Audience{kind: audienceRecipients, recipients: userIDs}
}

func Everyone() Audience {
	return Audience{kind: audienceEveryone}
}
