package execution

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

func NewSubmissionID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "submission-unknown"
	}
	return fmt.Sprintf("sub_%s", hex.EncodeToString(b))
}
