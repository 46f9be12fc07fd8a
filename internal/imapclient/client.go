// Package imapclient wraps the IMAP protocol layer: it opens an
// authenticated, encrypted session to one mailbox, fetches contiguous
// message ranges as parsed records, and holds the long-lived IDLE
// session used by the real-time watch.
package imapclient

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	id "github.com/emersion/go-imap-id"
	_ "github.com/emersion/go-message/charset"
	"github.com/sirupsen/logrus"
)

var (
	// ErrConnectionFailed indicates the IMAP connection could not be established
	ErrConnectionFailed = errors.New("IMAP connection failed")
	// ErrAuthFailed indicates the server rejected the credentials
	ErrAuthFailed = errors.New("IMAP authentication failed")
	// ErrFetchTimeout indicates the protocol interaction exceeded the hard timeout
	ErrFetchTimeout = errors.New("IMAP operation timeout")
	// ErrSelectFailed indicates the inbox could not be selected
	ErrSelectFailed = errors.New("failed to select INBOX")
)

const (
	dialTimeout    = 10 * time.Second
	commandTimeout = 30 * time.Second
	// fetchTimeout bounds one whole fetch interaction; on expiry the
	// session is forcibly destroyed.
	fetchTimeout = 30 * time.Second
)

// Credentials holds everything needed to open one mailbox session.
// Secret is the opaque protocol secret (app password); AccessToken, when
// set, selects XOAUTH2 authentication instead.
type Credentials struct {
	Host        string
	Port        int
	Username    string
	Secret      string
	AccessToken string
	UseSSL      bool
}

func (c Credentials) addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Client is one authenticated IMAP session
type Client struct {
	conn *client.Client
	log  *logrus.Logger
}

// Connect opens an authenticated session. On any failure the connection
// is torn down before returning; no sessions are leaked.
func Connect(creds Credentials, log *logrus.Logger) (*Client, error) {
	if log == nil {
		log = logrus.New()
	}

	dialer := &net.Dialer{Timeout: dialTimeout}

	var conn net.Conn
	var err error
	if creds.UseSSL {
		tlsConfig := &tls.Config{ServerName: creds.Host}
		conn, err = tls.DialWithDialer(dialer, "tcp", creds.addr(), tlsConfig)
	} else {
		conn, err = dialer.Dial("tcp", creds.addr())
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	c, err := client.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	c.Timeout = commandTimeout

	// Some providers require client identification before login
	if ok, _ := c.Support("ID"); ok {
		idClient := id.NewClient(c)
		if _, err := idClient.ID(id.ID{
			id.FieldName:    "email-aggregator",
			id.FieldVersion: "1.0.0",
		}); err != nil {
			log.WithField("error", err.Error()).Debug("IMAP ID command failed")
		}
	}

	if creds.AccessToken != "" {
		if err := c.Authenticate(newXOAuth2Client(creds.Username, creds.AccessToken)); err != nil {
			c.Logout()
			return nil, fmt.Errorf("%w: XOAUTH2: %v", ErrAuthFailed, err)
		}
	} else {
		if err := c.Login(creds.Username, creds.Secret); err != nil {
			c.Logout()
			return nil, fmt.Errorf("%w: %v", ErrAuthFailed, err)
		}
	}

	return &Client{conn: c, log: log}, nil
}

// SelectInbox selects INBOX and returns the total message count
func (c *Client) SelectInbox(readOnly bool) (uint32, error) {
	mbox, err := c.conn.Select("INBOX", readOnly)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSelectFailed, err)
	}
	return mbox.Messages, nil
}

// Logout closes the session gracefully
func (c *Client) Logout() error {
	return c.conn.Logout()
}

// Terminate force-closes the underlying connection
func (c *Client) Terminate() error {
	return c.conn.Terminate()
}

// FetchRange streams the messages in the contiguous sequence range
// [start, end] back as parsed records. Per-message parse failures are
// logged and the message skipped; they never abort the batch.
// accountKey scopes synthesized message identifiers; sessionStart is
// captured once per fetch session so synthesized ids stay stable across
// messages of the same session.
func (c *Client) FetchRange(accountKey string, start, end uint32, sessionStart time.Time) ([]FetchedMessage, error) {
	seqSet := new(imap.SeqSet)
	seqSet.AddRange(start, end)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, imap.FetchEnvelope, imap.FetchBodyStructure, section.FetchItem()}

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)

	go func() {
		done <- c.conn.Fetch(seqSet, items, messages)
	}()

	var fetched []FetchedMessage
	parseErrors := 0

	for msg := range messages {
		if msg == nil {
			continue
		}
		parsed, err := parseMessage(msg, section, accountKey, sessionStart)
		if err != nil {
			parseErrors++
			c.log.WithFields(logrus.Fields{
				"component": "imap",
				"seq":       msg.SeqNum,
				"error":     err.Error(),
			}).Warn("skipping unparseable message")
			continue
		}
		fetched = append(fetched, parsed)
	}

	if err := <-done; err != nil {
		return fetched, fmt.Errorf("%w: fetch: %v", ErrConnectionFailed, err)
	}

	if parseErrors > 0 {
		c.log.WithFields(logrus.Fields{
			"component":    "imap",
			"parse_errors": parseErrors,
			"fetched":      len(fetched),
		}).Info("fetch completed with parse errors")
	}

	return fetched, nil
}

// FetchRecent opens a session, selects INBOX and fetches the most recent
// limit messages. The whole interaction is bounded by a hard wall-clock
// timeout; on expiry the session is forcibly destroyed and ErrFetchTimeout
// returned.
func FetchRecent(creds Credentials, accountKey string, limit int, log *logrus.Logger) ([]FetchedMessage, error) {
	c, err := Connect(creds, log)
	if err != nil {
		return nil, err
	}

	type fetchResult struct {
		msgs []FetchedMessage
		err  error
	}
	done := make(chan fetchResult, 1)

	go func() {
		total, err := c.SelectInbox(true)
		if err != nil {
			done <- fetchResult{nil, err}
			return
		}
		if total == 0 {
			done <- fetchResult{[]FetchedMessage{}, nil}
			return
		}

		start := uint32(1)
		if uint32(limit) < total {
			start = total - uint32(limit) + 1
		}
		msgs, err := c.FetchRange(accountKey, start, total, time.Now())
		done <- fetchResult{msgs, err}
	}()

	select {
	case res := <-done:
		c.Logout()
		return res.msgs, res.err
	case <-time.After(fetchTimeout):
		c.Terminate()
		return nil, ErrFetchTimeout
	}
}

// newXOAuth2Client builds a SASL client for the XOAUTH2 mechanism
func newXOAuth2Client(username, accessToken string) *xoauth2Client {
	return &xoauth2Client{username: username, accessToken: accessToken}
}

type xoauth2Client struct {
	username    string
	accessToken string
}

func (c *xoauth2Client) Start() (mech string, ir []byte, err error) {
	ir = []byte(fmt.Sprintf("user=%s\x01auth=Bearer %s\x01\x01", c.username, c.accessToken))
	return "XOAUTH2", ir, nil
}

func (c *xoauth2Client) Next(challenge []byte) (response []byte, err error) {
	// XOAUTH2 has no additional challenges
	return nil, nil
}
