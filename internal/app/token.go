package app

import "crypto/rand"

// newVerificationToken produces a random hex token tenants publish in
// DNS. 32 bytes keeps the value comfortably inside a single TXT string.
// Isolated here so the token strategy can evolve independently.
func newVerificationToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	const hex = "0123456789abcdef"
	out := make([]byte, 64)
	for i, v := range b {
		out[i*2] = hex[v>>4]
		out[i*2+1] = hex[v&0x0f]
	}
	return string(out), nil
}
