package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mohitmehta601/agricure/internal/auth"
	"github.com/mohitmehta601/agricure/internal/models"
	pkgauth "github.com/mohitmehta601/agricure/pkg/auth"
	pkglogger "github.com/mohitmehta601/agricure/pkg/logger"
	"golang.org/x/crypto/bcrypt"
)

const testJWTSecret = "test-secret-32-characters-long!"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testAuditLogger() *pkglogger.AuditLogger {
	return pkglogger.NewAuditLogger(testLogger())
}

func testHasher() *pkgauth.PasswordHasher {
	return pkgauth.NewPasswordHasher(bcrypt.MinCost)
}

// ============================================================================
// In-memory store
// ============================================================================

type memTxKey struct{}

// memStore is an in-memory stand-in for the PostgreSQL store. Every single
// operation is atomic; WithTransaction serialises transactions and restores
// a snapshot when fn fails.
type memStore struct {
	mu   sync.Mutex
	txMu sync.Mutex
	now  func() time.Time
	seq  int

	users   map[string]models.User       // by id
	keys    map[string]models.LicenseKey // by key
	pending map[string]models.PendingRegistration
	codes   []models.VerificationCode
	revoked map[string]time.Time
}

func newMemStore() *memStore {
	return &memStore{
		now:     time.Now,
		users:   map[string]models.User{},
		keys:    map[string]models.LicenseKey{},
		pending: map[string]models.PendingRegistration{},
		revoked: map[string]time.Time{},
	}
}

func (s *memStore) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s-%d", prefix, s.seq)
}

type memSnapshot struct {
	users   map[string]models.User
	keys    map[string]models.LicenseKey
	pending map[string]models.PendingRegistration
	codes   []models.VerificationCode
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *memStore) snapshot() memSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return memSnapshot{
		users:   copyMap(s.users),
		keys:    copyMap(s.keys),
		pending: copyMap(s.pending),
		codes:   append([]models.VerificationCode(nil), s.codes...),
	}
}

func (s *memStore) restore(snap memSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users, s.keys, s.pending, s.codes = snap.users, snap.keys, snap.pending, snap.codes
}

func (s *memStore) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	if err := fn(context.WithValue(ctx, memTxKey{}, true)); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

// seedKey adds a license key directly
func (s *memStore) seedKey(key string, active, used bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := models.LicenseKey{
		ID: s.nextID("lk"), Key: key, ProductID: "prod-" + key, ProductName: "AgriCure Pro",
		IsActive: active, IsUsed: used, CreatedAt: s.now(), UpdatedAt: s.now(),
	}
	if used {
		consumer := "someone-else"
		at := s.now()
		k.UsedBy, k.UsedAt = &consumer, &at
	}
	s.keys[key] = k
}

func (s *memStore) key(key string) models.LicenseKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keys[key]
}

func (s *memStore) userCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

func (s *memStore) userByEmail(email string) (models.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			return u, true
		}
	}
	return models.User{}, false
}

func (s *memStore) pendingFor(email string) (models.PendingRegistration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[email]
	return p, ok
}

func (s *memStore) codeCount(email string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.codes {
		if c.Email == email {
			n++
		}
	}
	return n
}

// age moves every timestamp for email back by d
func (s *memStore) age(email string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.codes {
		if s.codes[i].Email == email {
			s.codes[i].CreatedAt = s.codes[i].CreatedAt.Add(-d)
		}
	}
	if p, ok := s.pending[email]; ok {
		p.StagedAt = p.StagedAt.Add(-d)
		s.pending[email] = p
	}
}

// memUsers implements UserRepository
type memUsers struct{ *memStore }

func (s memUsers) Create(ctx context.Context, user *models.User) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == user.Email || u.LicenseKeyID == user.LicenseKeyID {
			return nil, models.ErrConflict
		}
	}
	u := *user
	u.CreatedAt, u.UpdatedAt = s.now(), s.now()
	s.users[u.ID] = u
	return &u, nil
}

func (s memUsers) GetByID(ctx context.Context, id string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &u, nil
}

func (s memUsers) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	u, ok := s.userByEmail(email)
	if !ok {
		return nil, models.ErrNotFound
	}
	return &u, nil
}

func (s memUsers) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	_, ok := s.userByEmail(email)
	return ok, nil
}

func (s memUsers) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return models.ErrNotFound
	}
	now := s.now()
	u.PasswordHash, u.PasswordChangedAt = passwordHash, &now
	s.users[id] = u
	return nil
}

// memLicenses implements LicenseKeyRepository
type memLicenses struct{ *memStore }

func (s memLicenses) GetByKey(ctx context.Context, key string) (*models.LicenseKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[key]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &k, nil
}

func (s memLicenses) GetUnusedByKey(ctx context.Context, key string) (*models.LicenseKey, error) {
	k, err := s.GetByKey(ctx, key)
	if err != nil || k.IsUsed {
		return nil, models.ErrNotFound
	}
	return k, nil
}

func (s memLicenses) Consume(ctx context.Context, key, consumerID string) (*models.LicenseKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[key]
	if !ok || !k.IsActive || k.IsUsed {
		return nil, models.ErrNotFound
	}
	now := s.now()
	k.IsUsed, k.UsedBy, k.UsedAt = true, &consumerID, &now
	s.keys[key] = k
	return &k, nil
}

func (s memLicenses) Insert(ctx context.Context, p models.LicenseKeyProvision) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[p.Key]; ok {
		return false, nil
	}
	s.keys[p.Key] = models.LicenseKey{
		ID: s.nextID("lk"), Key: p.Key, ProductID: p.ProductID, ProductName: p.ProductName, IsActive: true,
	}
	return true, nil
}

func (s memLicenses) Deactivate(ctx context.Context, id string) (*models.LicenseKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, k := range s.keys {
		if k.ID == id {
			k.IsActive = false
			s.keys[key] = k
			return &k, nil
		}
	}
	return nil, models.ErrNotFound
}

func (s memLicenses) DeactivateByKey(ctx context.Context, key string) (*models.LicenseKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[key]
	if !ok {
		return nil, models.ErrNotFound
	}
	k.IsActive = false
	s.keys[key] = k
	return &k, nil
}

func (s memLicenses) Stats(ctx context.Context) (*models.LicenseStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var st models.LicenseStats
	for _, k := range s.keys {
		st.Total++
		if k.IsActive {
			st.Active++
		} else {
			st.Inactive++
		}
		if k.IsUsed {
			st.Used++
		}
		if k.IsAvailable() {
			st.Available++
		}
	}
	return &st, nil
}

func (s memLicenses) List(ctx context.Context, limit, offset int) ([]*models.LicenseKeyWithConsumer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.LicenseKeyWithConsumer, 0, len(s.keys))
	for _, k := range s.keys {
		out = append(out, &models.LicenseKeyWithConsumer{LicenseKey: k})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	if offset >= len(out) {
		return []*models.LicenseKeyWithConsumer{}, nil
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// memPending implements PendingRegistrationRepository
type memPending struct{ *memStore }

func (s memPending) Create(ctx context.Context, p *models.PendingRegistration) (*models.PendingRegistration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[p.Email]; ok {
		return nil, models.ErrConflict
	}
	staged := *p
	staged.ID, staged.StagedAt = s.nextID("pr"), s.now()
	s.pending[p.Email] = staged
	return &staged, nil
}

func (s memPending) GetByEmail(ctx context.Context, email string, window time.Duration) (*models.PendingRegistration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[email]
	if !ok || !p.StagedAt.After(s.now().Add(-window)) {
		return nil, models.ErrNotFound
	}
	return &p, nil
}

func (s memPending) DeleteByEmail(ctx context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, email)
	return nil
}

func (s memPending) CleanupExpired(ctx context.Context, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for email, p := range s.pending {
		if !p.StagedAt.After(s.now().Add(-window)) {
			delete(s.pending, email)
			n++
		}
	}
	return n, nil
}

// memCodes implements VerificationCodeRepository
type memCodes struct{ *memStore }

func (s memCodes) Create(ctx context.Context, email, codeHash string) (*models.VerificationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := models.VerificationCode{ID: s.nextID("vc"), Email: email, CodeHash: codeHash, CreatedAt: s.now()}
	s.codes = append(s.codes, c)
	return &c, nil
}

func (s memCodes) FindLatestUnconsumed(ctx context.Context, email, codeHash string, window time.Duration) (*models.VerificationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-window)
	for i := len(s.codes) - 1; i >= 0; i-- {
		c := s.codes[i]
		if c.Email == email && c.CodeHash == codeHash && !c.Consumed && c.CreatedAt.After(cutoff) {
			return &c, nil
		}
	}
	return nil, models.ErrNotFound
}

func (s memCodes) MarkConsumed(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.codes {
		if s.codes[i].ID == id && !s.codes[i].Consumed {
			s.codes[i].Consumed = true
			return nil
		}
	}
	return models.ErrNotFound
}

func (s memCodes) DeleteByEmail(ctx context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.codes[:0:0]
	for _, c := range s.codes {
		if c.Email != email {
			kept = append(kept, c)
		}
	}
	s.codes = kept
	return nil
}

func (s memCodes) CleanupExpired(ctx context.Context, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-window)
	kept := s.codes[:0:0]
	for _, c := range s.codes {
		if !c.Consumed && c.CreatedAt.After(cutoff) {
			kept = append(kept, c)
		}
	}
	n := int64(len(s.codes) - len(kept))
	s.codes = kept
	return n, nil
}

// memRevocations implements TokenRevocationRepository
type memRevocations struct{ *memStore }

func (s memRevocations) RevokeToken(ctx context.Context, jti, userID string, expiresAt time.Time, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked[jti] = expiresAt
	return nil
}

func (s memRevocations) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.revoked[jti]
	return ok, nil
}

// ============================================================================
// Mocks
// ============================================================================

// MockUserRepository implements UserRepository for testing
type MockUserRepository struct {
	CreateFunc         func(ctx context.Context, user *models.User) (*models.User, error)
	GetByIDFunc        func(ctx context.Context, id string) (*models.User, error)
	GetByEmailFunc     func(ctx context.Context, email string) (*models.User, error)
	ExistsByEmailFunc  func(ctx context.Context, email string) (bool, error)
	UpdatePasswordFunc func(ctx context.Context, id, passwordHash string) error
}

func (m *MockUserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, user)
	}
	return user, nil
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	if m.ExistsByEmailFunc != nil {
		return m.ExistsByEmailFunc(ctx, email)
	}
	return false, nil
}

func (m *MockUserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	if m.UpdatePasswordFunc != nil {
		return m.UpdatePasswordFunc(ctx, id, passwordHash)
	}
	return nil
}

// MockTokenRevocationRepository implements TokenRevocationRepository for testing
type MockTokenRevocationRepository struct {
	RevokeTokenFunc    func(ctx context.Context, jti, userID string, expiresAt time.Time, reason string) error
	IsTokenRevokedFunc func(ctx context.Context, jti string) (bool, error)
}

func (m *MockTokenRevocationRepository) RevokeToken(ctx context.Context, jti, userID string, expiresAt time.Time, reason string) error {
	if m.RevokeTokenFunc != nil {
		return m.RevokeTokenFunc(ctx, jti, userID, expiresAt, reason)
	}
	return nil
}

func (m *MockTokenRevocationRepository) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	if m.IsTokenRevokedFunc != nil {
		return m.IsTokenRevokedFunc(ctx, jti)
	}
	return false, nil
}

// MockEmailService records every code it is asked to deliver
type MockEmailService struct {
	SendVerificationCodeFunc func(ctx context.Context, email, code string, validFor time.Duration) error

	mu    sync.Mutex
	sent  map[string][]string
	calls int
}

func (m *MockEmailService) SendVerificationCode(ctx context.Context, email, code string, validFor time.Duration) error {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.SendVerificationCodeFunc != nil {
		if err := m.SendVerificationCodeFunc(ctx, email, code, validFor); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sent == nil {
		m.sent = map[string][]string{}
	}
	m.sent[email] = append(m.sent[email], code)
	return nil
}

// lastCode returns the most recently delivered code for email
func (m *MockEmailService) lastCode(email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	codes := m.sent[email]
	if len(codes) == 0 {
		return ""
	}
	return codes[len(codes)-1]
}

func (m *MockEmailService) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// MockResendThrottle implements ResendThrottle for testing
type MockResendThrottle struct {
	AllowFunc   func(ctx context.Context, email string, cooldown time.Duration) (bool, error)
	ReleaseFunc func(ctx context.Context, email string) error
}

func (m *MockResendThrottle) Allow(ctx context.Context, email string, cooldown time.Duration) (bool, error) {
	if m.AllowFunc != nil {
		return m.AllowFunc(ctx, email, cooldown)
	}
	return true, nil
}

func (m *MockResendThrottle) Release(ctx context.Context, email string) error {
	if m.ReleaseFunc != nil {
		return m.ReleaseFunc(ctx, email)
	}
	return nil
}

// ============================================================================
// Fixtures
// ============================================================================

type signupFixture struct {
	svc    *SignupService
	store  *memStore
	email  *MockEmailService
	tokens *auth.TokenManager
}

func testSignupConfig() SignupConfig {
	return SignupConfig{
		OTPTTL:         10 * time.Minute,
		PendingTTL:     time.Hour,
		NotifyTimeout:  time.Second,
		ResendCooldown: time.Minute,
	}
}

// newSignupFixture wires a SignupService to a fresh in-memory store. The
// optional mutate func can swap dependencies before construction.
func newSignupFixture(mutate func(d *SignupDeps)) *signupFixture {
	store := newMemStore()
	email := &MockEmailService{}
	tokens := auth.NewTokenManager(testJWTSecret, time.Hour)

	deps := SignupDeps{
		Users:       memUsers{store},
		Licenses:    memLicenses{store},
		Pending:     memPending{store},
		Codes:       memCodes{store},
		Tx:          store,
		Email:       email,
		Tokens:      tokens,
		Hasher:      testHasher(),
		Logger:      testLogger(),
		AuditLogger: testAuditLogger(),
		Config:      testSignupConfig(),
	}
	if mutate != nil {
		mutate(&deps)
	}

	return &signupFixture{svc: NewSignupService(deps), store: store, email: email, tokens: tokens}
}

// sequentialCodes hands out codes in order, then fails
func sequentialCodes(codes ...string) func() (string, error) {
	var mu sync.Mutex
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(codes) == 0 {
			return "", errors.New("no more codes")
		}
		code := codes[0]
		codes = codes[1:]
		return code, nil
	}
}

func validInitiate(email, key string) InitiateRequest {
	return InitiateRequest{
		Email:       email,
		Password:    "secret123",
		FullName:    "Asha Farmer",
		PhoneNumber: "+15550100",
		LicenseKey:  key,
	}
}
