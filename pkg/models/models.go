package models

// Message is a single message posted to the room. ServerID is assigned by
// storage on insertion and is strictly increasing, so it doubles as the
// pagination cursor handed back to clients.
type Message struct {
	ServerID  int64  `json:"server_id,omitempty"`
	PublicKey string `json:"public_key,omitempty"`
	Data      string `json:"data"`
	Signature string `json:"signature"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// DeletionMarker records that the message with the given server id was
// removed, so that clients syncing from a cursor can drop it locally.
type DeletionMarker struct {
	ServerID  int64 `json:"id"`
	DeletedAt int64 `json:"deleted_at,omitempty"`
}

// Moderator is a public key with moderation rights in the room.
type Moderator struct {
	PublicKey string `json:"public_key"`
}
