// Package owneraddr encodes and decodes the opaque owner address stored on
// the "owner" annotation: base64 of "name::slack_id".
package owneraddr

import (
	"encoding/base64"
	"fmt"
	"strings"
)

const separator = "::"

// Encode builds the owner address for a person's display name and Slack id.
func Encode(name, slackID string) string {
	return base64.StdEncoding.EncodeToString([]byte(name + separator + slackID))
}

// Decode recovers the name and Slack id from an owner address. An empty
// address decodes to two empty strings and no error.
func Decode(address string) (name, slackID string, err error) {
	if address == "" {
		return "", "", nil
	}

	raw, err := base64.StdEncoding.DecodeString(address)
	if err != nil {
		return "", "", fmt.Errorf("owneraddr: invalid base64 address: %w", err)
	}

	parts := strings.SplitN(string(raw), separator, 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("owneraddr: malformed address %q", address)
	}

	return parts[0], parts[1], nil
}
