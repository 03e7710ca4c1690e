// Package session parses JSONL transcript files into (role, text,
// message_id, timestamp) tuples, streaming the event log line by line
// rather than holding the raw file in memory.
package session

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Message is one extracted (role, text, message_id, timestamp) tuple.
type Message struct {
	Role      string // "user" | "assistant"
	Text      string
	MessageID string
	CreatedAt time.Time
}

type rawEvent struct {
	Type      string          `json:"type"`
	Timestamp json.RawMessage `json:"timestamp"`
	Message   *rawMessage     `json:"message"`
}

type rawMessage struct {
	Role      string          `json:"role"`
	Content   json.RawMessage `json:"content"`
	Timestamp json.RawMessage `json:"timestamp"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

var allowedRoles = map[string]bool{"user": true, "assistant": true}
var allowedBlockTypes = map[string]bool{"text": true, "thinking": true, "reasoning": true}

// Parse reads a JSONL transcript and yields messages. Only
// type="message" events with a user or assistant role contribute;
// content blocks are filtered to text/thinking/reasoning; a synthetic
// message_id is assigned per message, sequential within the file.
func Parse(r io.Reader, idPrefix string) ([]Message, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)

	var out []Message
	seq := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var ev rawEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			// Malformed lines are skipped rather than aborting the whole
			// transcript; a single corrupt event shouldn't lose the file.
			continue
		}
		if ev.Type != "message" || ev.Message == nil {
			continue
		}
		if !allowedRoles[ev.Message.Role] {
			continue
		}

		text := extractText(ev.Message.Content)
		text = collapseWhitespace(text)
		if text == "" {
			continue
		}

		ts := extractTimestamp(ev.Timestamp)
		if ts.IsZero() {
			ts = extractTimestamp(ev.Message.Timestamp)
		}

		seq++
		out = append(out, Message{
			Role:      ev.Message.Role,
			Text:      text,
			MessageID: fmt.Sprintf("%s:%d", idPrefix, seq),
			CreatedAt: ts,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan transcript: %w", err)
	}
	return out, nil
}

// extractText handles content as either a bare string or an array of
// typed content blocks.
func extractText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString
	}

	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var parts []string
		for _, b := range blocks {
			if allowedBlockTypes[b.Type] && b.Text != "" {
				parts = append(parts, b.Text)
			}
		}
		return strings.Join(parts, " ")
	}

	return ""
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// extractTimestamp accepts either a numeric (epoch seconds or millis)
// or an RFC3339 string timestamp.
func extractTimestamp(raw json.RawMessage) time.Time {
	if len(raw) == 0 {
		return time.Time{}
	}

	var asNumber float64
	if err := json.Unmarshal(raw, &asNumber); err == nil {
		if asNumber > 1e12 {
			return time.UnixMilli(int64(asNumber)).UTC()
		}
		return time.Unix(int64(asNumber), 0).UTC()
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		if t, err := time.Parse(time.RFC3339, asString); err == nil {
			return t.UTC()
		}
		if f, err := strconv.ParseFloat(asString, 64); err == nil {
			return extractTimestamp(json.RawMessage(strconv.FormatFloat(f, 'f', -1, 64)))
		}
	}

	return time.Time{}
}

// NormalizedTranscript is what the file-level hash is computed over:
// one normalized line per message, prefixed by role label.
func NormalizedTranscript(messages []Message) string {
	var b strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Text)
	}
	return b.String()
}

// HashTranscript is the file-level content hash used to decide
// re-indexing.
func HashTranscript(messages []Message) string {
	sum := sha256.Sum256([]byte(NormalizedTranscript(messages)))
	return hex.EncodeToString(sum[:])
}
