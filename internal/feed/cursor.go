package feed

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

// Cursor marks a position in the (created_at, id) descending feed order.
type Cursor struct {
	CreatedAt time.Time
	ClaimID   string
}

// EncodeCursor serialises the cursor to an opaque page token.
func EncodeCursor(c *Cursor) string {
	if c == nil {
		return ""
	}
	raw := fmt.Sprintf("%s|%s", c.CreatedAt.UTC().Format(time.RFC3339Nano), c.ClaimID)
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses an encoded page token. An empty token yields a nil
// cursor, meaning the newest page.
func DecodeCursor(token string) (*Cursor, error) {
	if strings.TrimSpace(token) == "" {
		return nil, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, err
	}
	parts := strings.SplitN(string(decoded), "|", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid cursor format")
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return nil, err
	}
	return &Cursor{CreatedAt: ts, ClaimID: parts[1]}, nil
}
