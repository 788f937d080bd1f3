package engine

import (
	"errors"
	"math/rand/v2"
	"strings"
)

// RoomCodeAlphabet leaves out 0/O and 1/I.
const RoomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const RoomCodeLength = 4

var ErrInvalidRoomCode = errors.New("invalid room code")

// NewRoomCode draws a code from RoomCodeAlphabet. Collisions with other live
// rooms are not checked.
func NewRoomCode(r *rand.Rand) string {
	code := make([]byte, RoomCodeLength)
	for i := range code {
		if r == nil {
			code[i] = RoomCodeAlphabet[rand.IntN(len(RoomCodeAlphabet))]
		} else {
			code[i] = RoomCodeAlphabet[r.IntN(len(RoomCodeAlphabet))]
		}
	}
	return string(code)
}

// NormalizeRoomCode upper-cases user input and checks it is 3-4 characters
// of RoomCodeAlphabet.
func NormalizeRoomCode(s string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(s))
	if len(code) < 3 || len(code) > 4 {
		return "", ErrInvalidRoomCode
	}
	for _, c := range code {
		if !strings.ContainsRune(RoomCodeAlphabet, c) {
			return "", ErrInvalidRoomCode
		}
	}
	return code, nil
}
