package imapclient

import (
	"sync"

	"github.com/emersion/go-imap/client"
	"github.com/sirupsen/logrus"
)

// WatchSession is a long-lived connection that blocks waiting for
// server-pushed "new mail" signals on one mailbox.
type WatchSession struct {
	conn    *client.Client
	updates chan client.Update
	newMail chan struct{}
	stop    chan struct{}
	known   uint32
	log     *logrus.Logger

	closeOnce sync.Once
}

// ConnectWatch opens a dedicated session for watching. The inbox is
// selected read-only; the returned session is not yet running.
func ConnectWatch(creds Credentials, log *logrus.Logger) (*WatchSession, error) {
	c, err := Connect(creds, log)
	if err != nil {
		return nil, err
	}

	total, err := c.SelectInbox(true)
	if err != nil {
		c.Logout()
		return nil, err
	}

	s := &WatchSession{
		conn:    c.conn,
		updates: make(chan client.Update, 16),
		newMail: make(chan struct{}, 1),
		stop:    make(chan struct{}),
		known:   total,
		log:     c.log,
	}
	// Unsolicited updates delivered during IDLE arrive here
	s.conn.Updates = s.updates

	return s, nil
}

// NewMail signals each server-pushed new-message notification. The
// channel is buffered with depth one: coalesced signals are fine, the
// consumer re-fetches recent messages anyway.
func (s *WatchSession) NewMail() <-chan struct{} {
	return s.newMail
}

// Run blocks in the protocol's IDLE mechanism, translating mailbox
// updates into NewMail signals. It returns nil after Close, or the
// protocol error that ended the session.
func (s *WatchSession) Run() error {
	idleDone := make(chan error, 1)
	go func() {
		idleDone <- s.conn.Idle(s.stop, nil)
	}()

	for {
		select {
		case update := <-s.updates:
			mbox, ok := update.(*client.MailboxUpdate)
			if !ok || mbox.Mailbox == nil {
				continue
			}
			if mbox.Mailbox.Messages > s.known {
				s.log.WithFields(logrus.Fields{
					"component": "imap",
					"messages":  mbox.Mailbox.Messages,
					"known":     s.known,
				}).Info("new mail signal")
				s.known = mbox.Mailbox.Messages
				select {
				case s.newMail <- struct{}{}:
				default:
				}
			}
		case err := <-idleDone:
			select {
			case <-s.stop:
				// Closed deliberately; swallow the resulting error
				return nil
			default:
			}
			return err
		}
	}
}

// Close stops the watch and force-closes the underlying session,
// bounding shutdown latency. Safe to call more than once.
func (s *WatchSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stop)
		err = s.conn.Terminate()
	})
	return err
}
