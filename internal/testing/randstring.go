// Package testing provides helpers shared by the integration tests.
package testing

import "math/rand"

const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// RandString returns a random 12-character identifier safe for use as a
// username or room name against a live database.
func RandString() string {
	b := make([]byte, 12)
	for i := range b {
		b[i] = alphabet[rand.Intn(len(alphabet))]
	}
	return string(b)
}
