package repositories

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Badger key layout. Message keys embed a 19-digit zero-padded nanosecond
// timestamp so a prefix scan yields chronological order, with the UUID as a
// collision disconnector for same-nanosecond appends.
const (
	msgKeyPrefix  = "msg:"
	pmKeyPrefix   = "pm:"
	idKeyPrefix   = "msgid:"
	roomKeyPrefix = "room:"
	userKeyPrefix = "user:"
)

func msgKey(roomID string, at time.Time, id uuid.UUID) string {
	return fmt.Sprintf("%s%s:%019d:%s", msgKeyPrefix, roomID, at.UnixNano(), id)
}

func msgRoomPrefix(roomID string) string {
	return fmt.Sprintf("%s%s:", msgKeyPrefix, roomID)
}

func pmKey(identityA, identityB string, at time.Time, id uuid.UUID) string {
	if identityA > identityB {
		identityA, identityB = identityB, identityA
	}
	return fmt.Sprintf("%s%s:%s:%019d:%s", pmKeyPrefix, identityA, identityB, at.UnixNano(), id)
}

func pmPairPrefix(identityA, identityB string) string {
	if identityA > identityB {
		identityA, identityB = identityB, identityA
	}
	return fmt.Sprintf("%s%s:%s:", pmKeyPrefix, identityA, identityB)
}

func idKey(id string) string { return idKeyPrefix + id }

func roomKey(roomID string) string { return roomKeyPrefix + roomID }

func userKey(displayName string) string { return userKeyPrefix + displayName }
