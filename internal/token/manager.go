package token

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/aiengrshafiq/QuickBooksImporter/internal/errs"
	"github.com/aiengrshafiq/QuickBooksImporter/internal/retry"
)

// DefaultMargin is how long before expiry a token is considered stale.
const DefaultMargin = 60 * time.Second

// refreshTimeout bounds one exchange-and-persist cycle. The cycle is detached
// from the caller so a rotated refresh token is never dropped half way.
const refreshTimeout = 30 * time.Second

// Manager owns the current credential for one realm and hands out access
// tokens, refreshing them when they get close to expiry. A rotated credential
// is persisted before it is published to callers.
type Manager struct {
	mu   sync.RWMutex
	cred Credential

	refresher Refresher
	store     Store
	flight    singleflight.Group

	margin time.Duration
	retry  retry.Policy
	now    func() time.Time
	log    *logrus.Entry
}

type Option func(*Manager)

func WithMargin(d time.Duration) Option {
	return func(m *Manager) {
		if d >= 0 {
			m.margin = d
		}
	}
}

func WithRetry(p retry.Policy) Option {
	return func(m *Manager) { m.retry = p }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithLogger(l *logrus.Entry) Option {
	return func(m *Manager) { m.log = l }
}

func NewManager(initial Credential, refresher Refresher, store Store, opts ...Option) *Manager {
	m := &Manager{
		cred:      initial,
		refresher: refresher,
		store:     store,
		margin:    DefaultMargin,
		retry:     retry.Default(),
		now:       time.Now,
		log:       logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, o := range opts {
		o(m)
	}
	m.log = m.log.WithField("realm_id", initial.RealmID)
	return m
}

// Current returns a copy of the credential in use.
func (m *Manager) Current() Credential {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cred
}

// AccessToken returns a token valid for at least the safety margin,
// refreshing synchronously when needed.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	cur := m.Current()
	if cur.ValidFor(m.now(), m.margin) {
		return cur.AccessToken, nil
	}
	return m.refresh(ctx, cur.AccessToken, false)
}

// ForceRefresh rotates the credential after the API rejected stale. If another
// caller already rotated it, the newer token is returned without a new refresh.
func (m *Manager) ForceRefresh(ctx context.Context, stale string) (string, error) {
	return m.refresh(ctx, stale, true)
}

func (m *Manager) refresh(ctx context.Context, stale string, force bool) (string, error) {
	v, err, shared := m.flight.Do("refresh", func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()

		cur := m.Current()
		if cur.ValidFor(m.now(), m.margin) && (!force || cur.AccessToken != stale) {
			return cur.AccessToken, nil
		}

		next, err := m.exchange(ctx, cur.RefreshToken)
		if err != nil {
			return "", err
		}
		next.RealmID = cur.RealmID
		if next.RefreshToken == "" {
			next.RefreshToken = cur.RefreshToken
		}

		if err := m.store.SaveCredential(ctx, next); err != nil {
			m.log.WithError(err).Error("rotated credential could not be persisted")
			return "", &errs.AuthError{Op: "persist rotated credential", Err: err}
		}

		m.mu.Lock()
		m.cred = next
		m.mu.Unlock()

		m.log.WithFields(logrus.Fields{
			"expires_at": next.ExpiresAt.Format(time.RFC3339),
			"forced":     force,
		}).Info("access token refreshed")
		return next.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	if shared {
		m.log.Debug("joined in-flight token refresh")
	}
	return v.(string), nil
}

func (m *Manager) exchange(ctx context.Context, refreshToken string) (Credential, error) {
	var next Credential
	err := m.retry.Do(ctx, func(ctx context.Context) error {
		c, err := m.refresher.Refresh(ctx, refreshToken)
		if err != nil {
			return err
		}
		next = c
		return nil
	})
	if err != nil {
		if errs.IsAuth(err) {
			return Credential{}, err
		}
		return Credential{}, &errs.AuthError{Op: "refresh", Err: err}
	}
	return next, nil
}
