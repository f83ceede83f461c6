package keymanager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ubuygold/stockmeta/internal/config"
	"github.com/ubuygold/stockmeta/internal/db"
	"github.com/ubuygold/stockmeta/internal/logger"
	"github.com/ubuygold/stockmeta/internal/model"
)

// ErrNoEligibleCredential is returned when a pool has no credential that may be used.
var ErrNoEligibleCredential = errors.New("no eligible credential")

// AgeState is the rotation state of an admin-pool credential.
type AgeState string

const (
	AgeActive  AgeState = "active"
	AgeWarning AgeState = "warning"
	AgeExpired AgeState = "expired"
)

// Outcome is the result of a generative call made with a credential.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeRateLimited
	OutcomeInvalid
	OutcomeFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeInvalid:
		return "invalid"
	default:
		return "failure"
	}
}

// Manager defines the credential operations used by the runner, scraper and HTTP handlers.
type Manager interface {
	Select(pool model.Pool, ownerID uint) (model.Credential, error)
	Report(id uint, outcome Outcome)
	Wait(ctx context.Context, id uint) error
	ActiveCount(ownerID uint) int
	EligibleCount(pool model.Pool, ownerID uint) int
	List(pool model.Pool, ownerID uint) []model.Credential
	Add(c *model.Credential) error
	Remove(pool model.Pool, ownerID, id uint) error
	PurgeExpired() (int64, error)
	ReviveCooledDown() int
	ExpiringSoon() []model.Credential
	Classify(c model.Credential) AgeState
	Reload() error
	Close()
}

// Classify returns the rotation state of a credential created at createdAt.
// Expired never reverts: only deleting the credential clears it.
func Classify(createdAt, now time.Time, rotationWindow, warningWindow time.Duration) AgeState {
	age := now.Sub(createdAt)
	switch {
	case age >= rotationWindow:
		return AgeExpired
	case age >= warningWindow:
		return AgeWarning
	default:
		return AgeActive
	}
}

// Eligible reports whether c may be selected for a call.
// Admin-pool credentials are gated by age alone; user-pool credentials by status.
func Eligible(c model.Credential, now time.Time, rotationWindow time.Duration) bool {
	if c.Pool == model.PoolAdmin {
		return now.Sub(c.CreatedAt) < rotationWindow
	}
	return c.Status == model.StatusActive || c.Status == model.StatusRateLimited
}

type managedKey struct {
	model.Credential
	limiter *rate.Limiter
}

type updateKind int

const (
	updateUsage updateKind = iota
	updateHealth
)

type update struct {
	kind updateKind
	cred model.Credential
	at   time.Time
}

// KeyManager keeps both credential pools in memory and persists usage and health
// changes through a background worker.
type KeyManager struct {
	mutex         sync.Mutex
	keys          []*managedKey
	logger        *slog.Logger
	db            db.Service
	cfg           config.CredentialsConfig
	stopChan      chan struct{}
	updateQueue   chan update
	wg            sync.WaitGroup
	closed        bool
	now           func() time.Time
	intn          func(n int) int
	syncDBUpdates bool
}

var _ Manager = (*KeyManager)(nil)

// NewKeyManager loads every credential and starts the reload and persistence workers.
func NewKeyManager(dbService db.Service, cfg config.CredentialsConfig, log *slog.Logger) (*KeyManager, error) {
	km := newKeyManager(dbService, cfg, log)
	if err := km.load(); err != nil {
		return nil, fmt.Errorf("failed to perform initial load of credentials: %w", err)
	}
	if len(km.keys) == 0 {
		km.logger.Warn("No credentials found in the database. Batches and scrapes will fail until keys are added.")
	}

	if cfg.ReloadInterval > 0 {
		go km.keyReloader(cfg.ReloadInterval)
	}
	km.wg.Add(1)
	go km.updateWorker()

	return km, nil
}

func newKeyManager(dbService db.Service, cfg config.CredentialsConfig, log *slog.Logger) *KeyManager {
	return &KeyManager{
		logger:      log.With("component", "keymanager"),
		db:          dbService,
		cfg:         cfg,
		stopChan:    make(chan struct{}),
		updateQueue: make(chan update, 256),
		now:         time.Now,
		intn:        rand.IntN,
	}
}

func (km *KeyManager) newLimiter() *rate.Limiter {
	if km.cfg.RequestsPerMin <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(km.cfg.RequestsPerMin)), 1)
}

// load replaces the in-memory pools with the database contents, keeping the limiter
// of credentials that are still present.
func (km *KeyManager) load() error {
	creds, err := km.db.LoadAllCredentials()
	if err != nil {
		return err
	}

	km.mutex.Lock()
	defer km.mutex.Unlock()

	limiters := make(map[uint]*rate.Limiter, len(km.keys))
	for _, k := range km.keys {
		limiters[k.ID] = k.limiter
	}
	keys := make([]*managedKey, len(creds))
	for i, c := range creds {
		lim, ok := limiters[c.ID]
		if !ok {
			lim = km.newLimiter()
		}
		keys[i] = &managedKey{Credential: c, limiter: lim}
	}
	km.keys = keys
	return nil
}

// Reload re-reads every credential from the database.
func (km *KeyManager) Reload() error {
	return km.load()
}

func (km *KeyManager) keyReloader(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := km.load(); err != nil {
				km.logger.Error("Failed to reload credentials from database", "error", err)
				continue
			}
			km.logger.Debug("Reloaded credentials from database")
		case <-km.stopChan:
			km.logger.Info("Stopping key reloader.")
			return
		}
	}
}

func (km *KeyManager) updateWorker() {
	defer km.wg.Done()
	km.logger.Info("Starting credential update worker.")

	for u := range km.updateQueue {
		km.persist(u)
	}
	km.logger.Info("Credential update worker stopped.")
}

func (km *KeyManager) persist(u update) {
	var err error
	switch u.kind {
	case updateUsage:
		err = km.db.IncrementCredentialUsage(u.cred.ID, u.at)
	case updateHealth:
		err = km.db.UpdateCredentialHealth(&u.cred)
	}
	if err != nil {
		km.logger.Warn("Failed to persist credential update", "key_suffix", logger.KeySuffix(u.cred.Key), "error", err)
	}
}

// enqueue must be called with the mutex held.
func (km *KeyManager) enqueue(u update) {
	if km.syncDBUpdates {
		km.persist(u)
		return
	}
	if km.closed {
		return
	}
	select {
	case km.updateQueue <- u:
	default:
		km.logger.Error("Failed to queue credential update: queue is full", "key_suffix", logger.KeySuffix(u.cred.Key))
	}
}

func (km *KeyManager) find(id uint) *managedKey {
	for _, k := range km.keys {
		if k.ID == id {
			return k
		}
	}
	return nil
}

// Select picks a credential uniformly at random among the eligible ones of a pool.
// ownerID is ignored for the admin pool.
func (km *KeyManager) Select(pool model.Pool, ownerID uint) (model.Credential, error) {
	km.mutex.Lock()
	defer km.mutex.Unlock()

	eligible := km.eligible(pool, ownerID)
	if len(eligible) == 0 {
		return model.Credential{}, ErrNoEligibleCredential
	}
	return eligible[km.intn(len(eligible))].Credential, nil
}

// eligible must be called with the mutex held.
func (km *KeyManager) eligible(pool model.Pool, ownerID uint) []*managedKey {
	now := km.now()
	var out []*managedKey
	for _, k := range km.keys {
		if !km.inPool(k.Credential, pool, ownerID) {
			continue
		}
		if Eligible(k.Credential, now, km.cfg.RotationWindow) {
			out = append(out, k)
		}
	}
	return out
}

func (km *KeyManager) inPool(c model.Credential, pool model.Pool, ownerID uint) bool {
	if c.Pool != pool {
		return false
	}
	return pool == model.PoolAdmin || c.OwnerID == ownerID
}

// EligibleCount returns the number of selectable credentials in a pool.
func (km *KeyManager) EligibleCount(pool model.Pool, ownerID uint) int {
	km.mutex.Lock()
	defer km.mutex.Unlock()
	return len(km.eligible(pool, ownerID))
}

// ActiveCount returns the number of the owner's user-pool credentials with status active.
func (km *KeyManager) ActiveCount(ownerID uint) int {
	km.mutex.Lock()
	defer km.mutex.Unlock()

	count := 0
	for _, k := range km.keys {
		if k.Pool == model.PoolUser && k.OwnerID == ownerID && k.Status == model.StatusActive {
			count++
		}
	}
	return count
}

// Report records the outcome of a call made with credential id.
// Admin-pool credentials only record usage; their eligibility depends on age.
func (km *KeyManager) Report(id uint, outcome Outcome) {
	km.mutex.Lock()
	defer km.mutex.Unlock()

	k := km.find(id)
	if k == nil {
		return
	}
	now := km.now()

	k.UsageCount++
	k.LastUsedAt = &now
	km.enqueue(update{kind: updateUsage, cred: k.Credential, at: now})

	if k.Pool == model.PoolAdmin {
		return
	}

	previous := k.Status
	switch outcome {
	case OutcomeSuccess:
		if k.Status == model.StatusActive && k.FailureCount == 0 {
			return
		}
		k.Status = model.StatusActive
		k.FailureCount = 0
	case OutcomeRateLimited:
		k.FailureCount++
		k.Status = model.StatusRateLimited
		if km.cfg.FailureThreshold > 0 && k.FailureCount >= km.cfg.FailureThreshold {
			k.Status = model.StatusQuotaExceeded
		}
	case OutcomeInvalid:
		k.Status = model.StatusError
	default:
		return
	}

	if k.Status != previous {
		k.StatusAt = &now
		km.logger.Info("Credential status changed", "key_suffix", logger.KeySuffix(k.Key),
			"from", previous, "to", k.Status, "failures", k.FailureCount)
	}
	km.enqueue(update{kind: updateHealth, cred: k.Credential, at: now})
}

// Wait blocks until the credential's rate limiter admits one more call.
func (km *KeyManager) Wait(ctx context.Context, id uint) error {
	km.mutex.Lock()
	k := km.find(id)
	var lim *rate.Limiter
	if k != nil {
		lim = k.limiter
	}
	km.mutex.Unlock()

	if lim == nil {
		return nil
	}
	return lim.Wait(ctx)
}

// List returns a snapshot of one pool ordered by creation time.
func (km *KeyManager) List(pool model.Pool, ownerID uint) []model.Credential {
	km.mutex.Lock()
	defer km.mutex.Unlock()

	var out []model.Credential
	for _, k := range km.keys {
		if km.inPool(k.Credential, pool, ownerID) {
			out = append(out, k.Credential)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Add stores a new credential and makes it selectable immediately.
func (km *KeyManager) Add(c *model.Credential) error {
	if c.Pool == model.PoolAdmin {
		c.OwnerID = 0
	}
	if c.Status == "" {
		c.Status = model.StatusActive
	}
	if !c.Status.Valid() {
		return fmt.Errorf("invalid credential status %q", c.Status)
	}
	if err := km.db.CreateCredential(c); err != nil {
		return err
	}

	km.mutex.Lock()
	km.keys = append(km.keys, &managedKey{Credential: *c, limiter: km.newLimiter()})
	km.mutex.Unlock()

	km.logger.Info("Credential added", "pool", c.Pool, "key_suffix", logger.KeySuffix(c.Key))
	return nil
}

// Remove deletes a credential that belongs to the given pool and owner.
func (km *KeyManager) Remove(pool model.Pool, ownerID, id uint) error {
	c, err := km.db.GetCredential(id)
	if err != nil {
		return err
	}
	if !km.inPool(*c, pool, ownerID) {
		return fmt.Errorf("credential %d: %w", id, db.ErrNotFound)
	}
	if err := km.db.DeleteCredential(id); err != nil {
		return err
	}

	km.mutex.Lock()
	km.drop(func(k *managedKey) bool { return k.ID == id })
	km.mutex.Unlock()

	km.logger.Info("Credential removed", "pool", pool, "key_suffix", logger.KeySuffix(c.Key))
	return nil
}

// drop must be called with the mutex held.
func (km *KeyManager) drop(match func(*managedKey) bool) {
	kept := km.keys[:0]
	for _, k := range km.keys {
		if !match(k) {
			kept = append(kept, k)
		}
	}
	for i := len(kept); i < len(km.keys); i++ {
		km.keys[i] = nil
	}
	km.keys = kept
}

// PurgeExpired deletes every admin-pool credential past the rotation window.
func (km *KeyManager) PurgeExpired() (int64, error) {
	cutoff := km.now().Add(-km.cfg.RotationWindow)
	n, err := km.db.DeleteCredentialsCreatedBefore(model.PoolAdmin, cutoff)
	if err != nil {
		return 0, err
	}

	km.mutex.Lock()
	km.drop(func(k *managedKey) bool {
		return k.Pool == model.PoolAdmin && !k.CreatedAt.After(cutoff)
	})
	km.mutex.Unlock()

	if n > 0 {
		km.logger.Info("Purged expired rotation keys", "count", n)
	}
	return n, nil
}

// ReviveCooledDown returns quota_exceeded user credentials to rate_limited once the
// cooldown has passed since their last status change. It returns the number revived.
func (km *KeyManager) ReviveCooledDown() int {
	km.mutex.Lock()
	defer km.mutex.Unlock()

	now := km.now()
	revived := 0
	for _, k := range km.keys {
		if k.Pool != model.PoolUser || k.Status != model.StatusQuotaExceeded {
			continue
		}
		if k.StatusAt != nil && now.Sub(*k.StatusAt) < km.cfg.Cooldown {
			continue
		}
		k.Status = model.StatusRateLimited
		k.FailureCount = 0
		k.StatusAt = &now
		km.enqueue(update{kind: updateHealth, cred: k.Credential, at: now})
		km.logger.Info("Revived cooled-down credential", "key_suffix", logger.KeySuffix(k.Key))
		revived++
	}
	return revived
}

// ExpiringSoon returns admin-pool credentials in the warning state.
func (km *KeyManager) ExpiringSoon() []model.Credential {
	km.mutex.Lock()
	defer km.mutex.Unlock()

	now := km.now()
	var out []model.Credential
	for _, k := range km.keys {
		if k.Pool == model.PoolAdmin && Classify(k.CreatedAt, now, km.cfg.RotationWindow, km.cfg.WarningWindow) == AgeWarning {
			out = append(out, k.Credential)
		}
	}
	return out
}

// Classify returns the rotation state of c using the configured windows.
func (km *KeyManager) Classify(c model.Credential) AgeState {
	return Classify(c.CreatedAt, km.now(), km.cfg.RotationWindow, km.cfg.WarningWindow)
}

// Close gracefully shuts down the KeyManager's background tasks.
func (km *KeyManager) Close() {
	km.mutex.Lock()
	if km.closed {
		km.mutex.Unlock()
		return
	}
	km.closed = true
	close(km.stopChan)
	close(km.updateQueue)
	km.mutex.Unlock()

	km.wg.Wait()
	km.logger.Info("KeyManager shutdown complete.")
}
