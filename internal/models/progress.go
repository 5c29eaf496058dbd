package models

// ProgressCommit is a single conditional write of a referral's progress.
// Stores apply it atomically: the referral row is replaced only if its stored
// version still equals ExpectedVersion, the trip is recorded as counted, and
// the rewards are inserted (an existing reward for the same referral and type
// is left untouched).
type ProgressCommit struct {
	Referral        *Referral
	ExpectedVersion int64
	TripID          string
	Rewards         []*Reward
}
