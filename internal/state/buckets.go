package state

import (
	"errors"

	"grimm.is/cloudnet/internal/network"
)

// Standard bucket names
const (
	BucketApplied = "applied"
)

const baselineKey = "baseline"

// Baseline is the bookkeeping the reconciler diffs against. It is saved
// after every pass so a restarted daemon can retract addresses that
// vanished from metadata while it was down.
type Baseline struct {
	PassID    string                               `json:"pass_id"`
	Addresses map[string][]string                  `json:"addresses_by_mac"`
	Routes    map[int]network.Route                `json:"routes_by_index"`
	RulesFrom map[string]network.RoutingPolicyRule `json:"rules_by_address_from"`
	RulesTo   map[string]network.RoutingPolicyRule `json:"rules_by_address_to"`
}

// BaselineBucket provides typed access to the applied-state baseline.
type BaselineBucket struct {
	store  Store
	bucket string
}

// NewBaselineBucket creates a new baseline bucket accessor.
func NewBaselineBucket(store Store) (*BaselineBucket, error) {
	if err := store.EnsureBucket(BucketApplied); err != nil {
		return nil, err
	}
	return &BaselineBucket{store: store, bucket: BucketApplied}, nil
}

// Load returns the last saved baseline, or nil if none was saved.
func (b *BaselineBucket) Load() (*Baseline, error) {
	var bl Baseline
	err := b.store.GetJSON(b.bucket, baselineKey, &bl)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &bl, nil
}

// Save replaces the stored baseline.
func (b *BaselineBucket) Save(bl *Baseline) error {
	return b.store.SetJSON(b.bucket, baselineKey, bl)
}

// Clear removes the stored baseline. Clearing an empty bucket succeeds.
func (b *BaselineBucket) Clear() error {
	err := b.store.Delete(b.bucket, baselineKey)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}
