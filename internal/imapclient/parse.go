package imapclient

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/mail"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-message"
)

// ErrEmptyMessage indicates a fetched message carried neither envelope nor body
var ErrEmptyMessage = errors.New("empty message")

// FetchedMessage is one parsed mailbox message, normalized for ingestion
type FetchedMessage struct {
	SeqNum         uint32
	UID            uint32
	MessageID      string
	ThreadID       string
	Subject        string
	From           string
	To             []string
	Date           time.Time
	Body           string
	HTMLBody       string
	HasAttachments bool
}

// parseMessage converts a raw IMAP message into a FetchedMessage
func parseMessage(msg *imap.Message, section *imap.BodySectionName, accountKey string, sessionStart time.Time) (FetchedMessage, error) {
	if msg.Envelope == nil && len(msg.Body) == 0 {
		return FetchedMessage{}, ErrEmptyMessage
	}

	fetched := FetchedMessage{
		SeqNum: msg.SeqNum,
		UID:    msg.Uid,
	}

	if msg.Envelope != nil {
		fetched.MessageID = msg.Envelope.MessageId
		fetched.ThreadID = msg.Envelope.InReplyTo
		fetched.Subject = msg.Envelope.Subject
		fetched.Date = msg.Envelope.Date

		if len(msg.Envelope.From) > 0 {
			fetched.From = formatAddress(msg.Envelope.From[0])
		}
		for _, addr := range msg.Envelope.To {
			fetched.To = append(fetched.To, formatAddress(addr))
		}
	}

	for _, literal := range msg.Body {
		content, err := io.ReadAll(literal)
		if err != nil || len(content) == 0 {
			continue
		}
		parseBody(content, &fetched)
	}

	if msg.BodyStructure != nil && !fetched.HasAttachments {
		fetched.HasAttachments = hasAttachments(msg.BodyStructure)
	}

	if fetched.Date.IsZero() {
		fetched.Date = time.Now()
	}

	// A server-provided identifier always wins; otherwise synthesize a
	// deterministic one from (account, sequence number, session start) so
	// retries within one fetch session map to the same key.
	if fetched.MessageID == "" {
		fetched.MessageID = synthesizeMessageID(accountKey, msg.SeqNum, sessionStart)
	}

	return fetched, nil
}

// parseBody extracts plain text, HTML, thread references, and the
// attachment flag from a raw RFC 822 body
func parseBody(content []byte, fetched *FetchedMessage) {
	r := bytes.NewReader(content)
	entity, err := message.Read(r)
	if err != nil {
		// MIME parse failed, try as plain mail
		r.Seek(0, io.SeekStart)
		m, err := mail.ReadMessage(r)
		if err != nil {
			return
		}
		if fetched.MessageID == "" {
			fetched.MessageID = strings.TrimSpace(m.Header.Get("Message-Id"))
		}
		b, _ := io.ReadAll(m.Body)
		fetched.Body = string(b)
		return
	}

	if fetched.MessageID == "" {
		fetched.MessageID = strings.TrimSpace(entity.Header.Get("Message-Id"))
	}
	if fetched.ThreadID == "" {
		fetched.ThreadID = firstReference(entity.Header.Get("In-Reply-To"), entity.Header.Get("References"))
	}

	parseEntity(entity, fetched)
}

// parseEntity recursively walks a message entity tree
func parseEntity(entity *message.Entity, fetched *FetchedMessage) {
	mediaType, params, _ := entity.Header.ContentType()

	switch {
	case strings.HasPrefix(mediaType, "multipart/"):
		mr := entity.MultipartReader()
		for {
			part, err := mr.NextPart()
			if err != nil {
				break
			}
			parseEntity(part, fetched)
		}
	case mediaType == "text/plain" && fetched.Body == "":
		body, _ := io.ReadAll(entity.Body)
		fetched.Body = string(body)
	case mediaType == "text/html" && fetched.HTMLBody == "":
		body, _ := io.ReadAll(entity.Body)
		fetched.HTMLBody = string(body)
	default:
		disposition := entity.Header.Get("Content-Disposition")
		if strings.HasPrefix(disposition, "attachment") || params["name"] != "" {
			fetched.HasAttachments = true
		} else if mediaType != "" && !strings.HasPrefix(mediaType, "text/") {
			fetched.HasAttachments = true
		}
	}
}

// firstReference returns the In-Reply-To header, or the first token of
// the References header when In-Reply-To is absent
func firstReference(inReplyTo, references string) string {
	if ref := strings.TrimSpace(inReplyTo); ref != "" {
		return ref
	}
	fields := strings.Fields(references)
	if len(fields) > 0 {
		return fields[0]
	}
	return ""
}

// synthesizeMessageID builds a deterministic identifier for messages the
// server gave no Message-Id. Collisions across independent fetch sessions
// are an accepted limitation.
func synthesizeMessageID(accountKey string, seqNum uint32, sessionStart time.Time) string {
	seed := fmt.Sprintf("%s|%d|%d", accountKey, seqNum, sessionStart.Unix())
	sum := sha256.Sum256([]byte(seed))
	return "gen:" + hex.EncodeToString(sum[:16])
}

// formatAddress formats an IMAP address to a string
func formatAddress(addr *imap.Address) string {
	if addr.PersonalName != "" {
		return fmt.Sprintf("%s <%s@%s>", addr.PersonalName, addr.MailboxName, addr.HostName)
	}
	return fmt.Sprintf("%s@%s", addr.MailboxName, addr.HostName)
}

// hasAttachments checks if a body structure has attachment parts
func hasAttachments(bs *imap.BodyStructure) bool {
	if strings.EqualFold(bs.Disposition, "attachment") {
		return true
	}
	for _, part := range bs.Parts {
		if hasAttachments(part) {
			return true
		}
	}
	return false
}
