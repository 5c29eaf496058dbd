// Package memory is an in-process implementation of the referral engine's
// stores. It mirrors the conflict semantics of the postgres repositories and
// backs tests and STORE_DRIVER=memory runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/revaspay/referrals/internal/apperrors"
	"github.com/revaspay/referrals/internal/audit"
	"github.com/revaspay/referrals/internal/models"
)

// AuditEvent is an audit entry captured by the store
type AuditEvent struct {
	Type    audit.EventType
	Payload map[string]interface{}
}

// Store holds referrals, rewards, users, trips and audit events in memory
type Store struct {
	mu sync.RWMutex

	referrals []*models.Referral // insertion order
	byID      map[string]*models.Referral
	rewards   map[string]*models.Reward
	counted   map[string]models.CountedTrip
	users     map[string]*models.User
	trips     map[string]*models.Trip
	events    []AuditEvent

	failMu   sync.Mutex
	failures map[string][]error
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		byID:     make(map[string]*models.Referral),
		rewards:  make(map[string]*models.Reward),
		counted:  make(map[string]models.CountedTrip),
		users:    make(map[string]*models.User),
		trips:    make(map[string]*models.Trip),
		failures: make(map[string][]error),
	}
}

// FailNext makes the next call of op return err. Used to simulate I/O faults.
func (s *Store) FailNext(op string, err error) {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	s.failures[op] = append(s.failures[op], err)
}

// injected pops a queued failure for op
func (s *Store) injected(op string) error {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	queue := s.failures[op]
	if len(queue) == 0 {
		return nil
	}
	s.failures[op] = queue[1:]
	return queue[0]
}

// PutUser seeds the user directory
func (s *Store) PutUser(u models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = &u
}

// PutTrip seeds the booking store
func (s *Store) PutTrip(t models.Trip) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trips[t.ID] = &t
}

// PutReferral seeds a referral as-is, bypassing uniqueness checks
func (s *Store) PutReferral(r models.Referral) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := r
	s.referrals = append(s.referrals, &cp)
	s.byID[cp.ID] = &cp
}

// Rewards returns a snapshot of every reward
func (s *Store) Rewards() []models.Reward {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Reward, 0, len(s.rewards))
	for _, r := range s.rewards {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Events returns a snapshot of the audit log
func (s *Store) Events() []AuditEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]AuditEvent, len(s.events))
	copy(out, s.events)
	return out
}

// EventsOfType filters the audit log
func (s *Store) EventsOfType(t audit.EventType) []AuditEvent {
	var out []AuditEvent
	for _, e := range s.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Append implements audit.Sink
func (s *Store) Append(ctx context.Context, eventType audit.EventType, payload map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("Append"); err != nil {
		return err
	}
	cp := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		cp[k] = v
	}
	s.events = append(s.events, AuditEvent{Type: eventType, Payload: cp})
	return nil
}

// CreateReferral stores a new referral; the (referrer, referred) pair is unique
func (s *Store) CreateReferral(ctx context.Context, r *models.Referral) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("CreateReferral"); err != nil {
		return err
	}
	if _, ok := s.byID[r.ID]; ok {
		return apperrors.ErrAlreadyExists
	}
	for _, existing := range s.referrals {
		if existing.ReferrerID == r.ReferrerID && existing.ReferredID == r.ReferredID {
			return apperrors.ErrAlreadyExists
		}
	}
	if r.Version == 0 {
		r.Version = 1
	}
	cp := *r
	s.referrals = append(s.referrals, &cp)
	s.byID[cp.ID] = &cp
	return nil
}

// GetReferral fetches a referral by id
func (s *Store) GetReferral(ctx context.Context, id string) (*models.Referral, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.injected("GetReferral"); err != nil {
		return nil, err
	}
	r, ok := s.byID[id]
	if !ok {
		return nil, apperrors.NotFound("referral", id)
	}
	cp := *r
	return &cp, nil
}

// GetByPair fetches the referral for a referrer and referred user
func (s *Store) GetByPair(ctx context.Context, referrerID, referredID string) (*models.Referral, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.referrals {
		if r.ReferrerID == referrerID && r.ReferredID == referredID {
			cp := *r
			return &cp, nil
		}
	}
	return nil, apperrors.NotFound("referral", referrerID+"/"+referredID)
}

// FindByReferredID returns the first non-rejected referral of a referred user
func (s *Store) FindByReferredID(ctx context.Context, referredID string) (*models.Referral, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.injected("FindByReferredID"); err != nil {
		return nil, err
	}
	for _, r := range s.referrals {
		if r.ReferredID == referredID && r.Status != models.ReferralStatusRejected {
			cp := *r
			return &cp, nil
		}
	}
	return nil, apperrors.NotFound("referral for user", referredID)
}

// ListByReferrer returns a referrer's referrals, newest first
func (s *Store) ListByReferrer(ctx context.Context, referrerID string) ([]models.Referral, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.injected("ListByReferrer"); err != nil {
		return nil, err
	}
	var out []models.Referral
	for _, r := range s.referrals {
		if r.ReferrerID == referrerID {
			out = append(out, *r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// CountByDevice counts referrals created from a device
func (s *Store) CountByDevice(ctx context.Context, deviceID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, r := range s.referrals {
		if r.Metadata.DeviceID == deviceID {
			n++
		}
	}
	return n, nil
}

// CountByIPSince counts referrals created from an IP since a point in time
func (s *Store) CountByIPSince(ctx context.Context, ipAddress string, since time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, r := range s.referrals {
		if r.Metadata.IPAddress == ipAddress && !r.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// CountByReferrerSince counts a referrer's referrals since a point in time
func (s *Store) CountByReferrerSince(ctx context.Context, referrerID string, since time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, r := range s.referrals {
		if r.ReferrerID == referrerID && !r.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// CommitProgress applies a progress update atomically
func (s *Store) CommitProgress(ctx context.Context, commit models.ProgressCommit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("CommitProgress"); err != nil {
		return err
	}

	current, ok := s.byID[commit.Referral.ID]
	if !ok {
		return apperrors.NotFound("referral", commit.Referral.ID)
	}
	if current.Version != commit.ExpectedVersion {
		return apperrors.ErrVersionConflict
	}
	if commit.TripID != "" {
		if _, seen := s.counted[commit.TripID]; seen {
			return apperrors.ErrDuplicateTrip
		}
	}

	next := *commit.Referral
	next.Version = commit.ExpectedVersion + 1
	*current = next
	commit.Referral.Version = next.Version

	if commit.TripID != "" {
		s.counted[commit.TripID] = models.CountedTrip{
			TripID:     commit.TripID,
			ReferralID: next.ID,
			CountedAt:  next.UpdatedAt,
		}
	}
	for _, reward := range commit.Rewards {
		if _, exists := s.rewards[reward.ID]; exists {
			continue
		}
		cp := *reward
		s.rewards[cp.ID] = &cp
	}
	return nil
}

// ListMissedMilestones finds non-terminal referrals whose counter passed a
// threshold without the matching paid flag
func (s *Store) ListMissedMilestones(ctx context.Context, referrerThreshold, referredThreshold, limit int) ([]models.Referral, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Referral
	for _, r := range s.referrals {
		if r.IsTerminal() {
			continue
		}
		missedReferrer := r.ReferredTripsCompleted >= referrerThreshold && !r.ReferrerRewardPaid
		missedReferred := r.ReferredTripsCompleted >= referredThreshold && !r.ReferredRewardPaid
		if missedReferrer || missedReferred {
			out = append(out, *r)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// GetReward fetches a reward by id
func (s *Store) GetReward(ctx context.Context, id string) (*models.Reward, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rewards[id]
	if !ok {
		return nil, apperrors.NotFound("reward", id)
	}
	cp := *r
	return &cp, nil
}

// ListRewardsByUser returns every reward owed to a user
func (s *Store) ListRewardsByUser(ctx context.Context, userID string) ([]models.Reward, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.injected("ListRewardsByUser"); err != nil {
		return nil, err
	}
	var out []models.Reward
	for _, r := range s.rewards {
		if r.UserID == userID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// UpdateRewardStatus moves a reward from one status to another
func (s *Store) UpdateRewardStatus(ctx context.Context, id string, from, to models.RewardStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rewards[id]
	if !ok {
		return apperrors.NotFound("reward", id)
	}
	if r.Status != from {
		return apperrors.ErrVersionConflict
	}
	r.Status = to
	r.UpdatedAt = at
	if to == models.RewardStatusPaid {
		paidAt := at
		r.PaidAt = &paidAt
	}
	return nil
}

// GetUser fetches a user by id
func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.injected("GetUser"); err != nil {
		return nil, err
	}
	u, ok := s.users[id]
	if !ok {
		return nil, apperrors.NotFound("user", id)
	}
	cp := *u
	return &cp, nil
}

// GetUserByReferralCode resolves a referral code to its owner
func (s *Store) GetUserByReferralCode(ctx context.Context, code string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.ReferralCode != nil && *u.ReferralCode == code {
			cp := *u
			return &cp, nil
		}
	}
	return nil, apperrors.NotFound("referral code", code)
}

// SetReferralCode assigns a code to a user that has none; codes are unique
func (s *Store) SetReferralCode(ctx context.Context, userID, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return apperrors.NotFound("user", userID)
	}
	if u.ReferralCode != nil {
		if *u.ReferralCode == code {
			return nil
		}
		return apperrors.ErrAlreadyExists
	}
	for id, other := range s.users {
		if id != userID && other.ReferralCode != nil && *other.ReferralCode == code {
			return apperrors.ErrAlreadyExists
		}
	}
	c := code
	u.ReferralCode = &c
	return nil
}

// GetTrip fetches a trip by id
func (s *Store) GetTrip(ctx context.Context, id string) (*models.Trip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.trips[id]
	if !ok {
		return nil, apperrors.NotFound("trip", id)
	}
	cp := *t
	return &cp, nil
}
