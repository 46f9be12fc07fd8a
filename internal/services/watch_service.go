package services

import (
	"errors"
	"sync"
	"time"

	"github.com/Niranjan945/email-aggregator/internal/database/models"
	"github.com/Niranjan945/email-aggregator/internal/imapclient"
	"github.com/Niranjan945/email-aggregator/internal/queue"
	"github.com/sirupsen/logrus"
)

// reconnectDelay is the fixed backoff before a dropped watch reconnects
const reconnectDelay = 30 * time.Second

// watchFetchLimit is how many recent messages a push-triggered fetch pulls
const watchFetchLimit = 10

// WatchState tracks where a watch is in its lifecycle
type WatchState string

const (
	// WatchStateConnecting means a session is being established
	WatchStateConnecting WatchState = "connecting"
	// WatchStateWatching means the session is blocked in IDLE
	WatchStateWatching WatchState = "watching"
	// WatchStateDisconnected means the session dropped and a reconnect is pending
	WatchStateDisconnected WatchState = "disconnected"
)

// WatchSession is the long-lived protocol session a watch blocks on.
// Implemented by imapclient.WatchSession.
type WatchSession interface {
	Run() error
	NewMail() <-chan struct{}
	Close() error
}

// WatchConnector establishes a watch session for an account
type WatchConnector func(account *models.EmailAccount) (WatchSession, error)

// WatchInfo describes one actively watched account
type WatchInfo struct {
	AccountID uint       `json:"account_id"`
	Email     string     `json:"email"`
	State     WatchState `json:"state"`
}

// watchHandle is the supervised state for one watched account
type watchHandle struct {
	accountID uint
	email     string
	stop      chan struct{}
	stopOnce  sync.Once

	mu      sync.Mutex
	state   WatchState
	session WatchSession
}

func (h *watchHandle) setState(state WatchState) {
	h.mu.Lock()
	h.state = state
	h.mu.Unlock()
}

func (h *watchHandle) getState() WatchState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *watchHandle) setSession(s WatchSession) {
	h.mu.Lock()
	h.session = s
	h.mu.Unlock()
}

// shutdown signals the supervisor and force-closes any live session
func (h *watchHandle) shutdown() {
	h.stopOnce.Do(func() {
		close(h.stop)
	})
	h.mu.Lock()
	session := h.session
	h.mu.Unlock()
	if session != nil {
		session.Close()
	}
}

func (h *watchHandle) stopped() bool {
	select {
	case <-h.stop:
		return true
	default:
		return false
	}
}

// WatchService supervises one long-lived watch per account: it holds the
// active-watch registry, owns reconnection with a fixed backoff, and
// turns server-pushed new-mail signals into high-priority fetch jobs.
// The watch path never writes records itself; all writes go through the
// orchestrator, preserving a single writer path per account.
type WatchService struct {
	accounts   *AccountService
	dispatcher queue.Dispatcher
	logService *LogService
	log        *logrus.Logger

	connect        WatchConnector
	reconnectDelay time.Duration

	mu      sync.Mutex
	watches map[uint]*watchHandle
}

// NewWatchService creates a new WatchService instance. When connect is
// nil, a connector backed by the IMAP client is used.
func NewWatchService(accounts *AccountService, dispatcher queue.Dispatcher, logService *LogService, log *logrus.Logger, connect WatchConnector) *WatchService {
	if log == nil {
		log = logrus.New()
	}
	s := &WatchService{
		accounts:       accounts,
		dispatcher:     dispatcher,
		logService:     logService,
		log:            log,
		connect:        connect,
		reconnectDelay: reconnectDelay,
		watches:        make(map[uint]*watchHandle),
	}
	if s.connect == nil {
		s.connect = s.defaultConnector
	}
	return s
}

// defaultConnector opens an IMAP IDLE session with the account's credentials
func (s *WatchService) defaultConnector(account *models.EmailAccount) (WatchSession, error) {
	creds, err := s.accounts.Credentials(account)
	if err != nil {
		return nil, err
	}
	return imapclient.ConnectWatch(creds, s.log)
}

// SetReconnectDelay overrides the reconnect backoff (used by tests)
func (s *WatchService) SetReconnectDelay(d time.Duration) {
	s.reconnectDelay = d
}

// Start begins watching an account. Idempotent: starting an account that
// is already watched is a no-op.
func (s *WatchService) Start(accountID uint) error {
	account, err := s.accounts.GetAccountByID(accountID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if _, ok := s.watches[accountID]; ok {
		s.mu.Unlock()
		return nil
	}
	handle := &watchHandle{
		accountID: accountID,
		email:     account.Email,
		stop:      make(chan struct{}),
		state:     WatchStateConnecting,
	}
	s.watches[accountID] = handle
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{
		"component":  "watch",
		"account_id": accountID,
		"email":      account.Email,
	}).Info("starting watch")

	go s.supervise(account, handle)

	return nil
}

// Stop tears down the watch for an account and removes it from the
// active set. Stopping an account that is not watched is a no-op.
func (s *WatchService) Stop(accountID uint) error {
	s.mu.Lock()
	handle, ok := s.watches[accountID]
	if ok {
		delete(s.watches, accountID)
	}
	s.mu.Unlock()

	if !ok {
		return nil
	}

	handle.shutdown()
	s.log.WithFields(logrus.Fields{
		"component":  "watch",
		"account_id": accountID,
	}).Info("watch stopped")

	return nil
}

// StopAll stops every active watch. Used for graceful shutdown; it
// completes even if individual stops error.
func (s *WatchService) StopAll() {
	s.mu.Lock()
	handles := make([]*watchHandle, 0, len(s.watches))
	for _, h := range s.watches {
		handles = append(handles, h)
	}
	s.watches = make(map[uint]*watchHandle)
	s.mu.Unlock()

	for _, h := range handles {
		h.shutdown()
	}

	s.log.WithField("component", "watch").Info("all watches stopped")
}

// IsWatching reports whether an account is in the active set
func (s *WatchService) IsWatching(accountID uint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.watches[accountID]
	return ok
}

// WatchedAccounts returns a snapshot of the currently watched accounts
func (s *WatchService) WatchedAccounts() []WatchInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]WatchInfo, 0, len(s.watches))
	for _, h := range s.watches {
		infos = append(infos, WatchInfo{
			AccountID: h.accountID,
			Email:     h.email,
			State:     h.getState(),
		})
	}
	return infos
}

// supervise owns one watch's connect/watch/reconnect state machine. It
// never recurses; reconnection is a loop with a fixed backoff, which
// keeps shutdown deterministic.
func (s *WatchService) supervise(account *models.EmailAccount, handle *watchHandle) {
	for {
		if handle.stopped() {
			return
		}

		handle.setState(WatchStateConnecting)
		session, err := s.connect(account)
		if err != nil {
			if errors.Is(err, imapclient.ErrAuthFailed) {
				s.handleAuthFailure(account, handle, err)
				return
			}

			handle.setState(WatchStateDisconnected)
			s.log.WithFields(logrus.Fields{
				"component":  "watch",
				"account_id": account.ID,
				"error":      err.Error(),
			}).Warn("watch connect failed, will retry")

			if !s.waitReconnect(handle) {
				return
			}
			continue
		}

		handle.setSession(session)
		handle.setState(WatchStateWatching)

		// Translate push signals into high-priority fetch jobs until the
		// session ends. Fire-and-forget: the single-flight guard in the
		// orchestrator serializes overlapping triggers.
		sessionDone := make(chan struct{})
		go func() {
			for {
				select {
				case <-session.NewMail():
					if _, err := s.dispatcher.Enqueue(queue.FetchJob{
						AccountRef: account.Email,
						Limit:      watchFetchLimit,
						Priority:   queue.PriorityHigh,
					}); err != nil {
						s.log.WithFields(logrus.Fields{
							"component":  "watch",
							"account_id": account.ID,
							"error":      err.Error(),
						}).Warn("failed to dispatch fetch job")
					}
				case <-sessionDone:
					return
				}
			}
		}()

		err = session.Run()
		close(sessionDone)
		session.Close()
		handle.setSession(nil)
		handle.setState(WatchStateDisconnected)

		if handle.stopped() {
			return
		}

		if err != nil {
			s.log.WithFields(logrus.Fields{
				"component":  "watch",
				"account_id": account.ID,
				"error":      err.Error(),
			}).Warn("watch session ended, scheduling reconnect")
			s.logService.LogWarn(account.ID, models.LogModuleWatch, "disconnect", "Watch session ended", map[string]interface{}{
				"error": err.Error(),
			})
		}

		if !s.waitReconnect(handle) {
			return
		}
	}
}

// waitReconnect sleeps for the backoff delay; returns false when the
// watch was stopped while waiting.
func (s *WatchService) waitReconnect(handle *watchHandle) bool {
	select {
	case <-time.After(s.reconnectDelay):
		return true
	case <-handle.stop:
		return false
	}
}

// handleAuthFailure deactivates the account and retires its watch. A
// credential the server rejects will not heal by retrying.
func (s *WatchService) handleAuthFailure(account *models.EmailAccount, handle *watchHandle, err error) {
	s.log.WithFields(logrus.Fields{
		"component":  "watch",
		"account_id": account.ID,
		"error":      err.Error(),
	}).Error("watch auth failed, deactivating account")

	if dbErr := s.accounts.SetActive(account.ID, false); dbErr != nil {
		s.log.WithFields(logrus.Fields{
			"component":  "watch",
			"account_id": account.ID,
			"error":      dbErr.Error(),
		}).Warn("failed to deactivate account")
	}
	s.logService.LogError(account.ID, models.LogModuleWatch, "auth_failure", "Watch deactivated account after auth failure", map[string]interface{}{
		"error": err.Error(),
	})

	s.mu.Lock()
	if current, ok := s.watches[account.ID]; ok && current == handle {
		delete(s.watches, account.ID)
	}
	s.mu.Unlock()
}
