package relay

import "crypto/rand"

// Room identifiers are short, human-typeable tokens: six characters drawn
// from the uppercase base-36 alphabet, giving an id space of 36^6 (about 2.2
// billion) values.
const (
	roomIDAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	roomIDLength   = 6
)

// NewRoomID returns a random room identifier. It does not check for
// collisions; the registry retries against its own room map when allocating.
func NewRoomID() string {
	b := make([]byte, roomIDLength)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	for i := range b {
		b[i] = roomIDAlphabet[int(b[i])%len(roomIDAlphabet)]
	}
	return string(b)
}
