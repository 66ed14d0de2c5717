package clinic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrBindingNotFound is returned when no active binding matches.
	ErrBindingNotFound = errors.New("clinic: binding not found")
	// ErrIdentityInUse is returned when a number or SIP identity already
	// belongs to another clinic.
	ErrIdentityInUse = errors.New("clinic: identity bound to another clinic")
)

// Resolver finds the clinic a call belongs to.
type Resolver interface {
	Resolve(ctx context.Context, dialed string) (*Binding, error)
}

// Store persists phone bindings in Redis. Each binding is stored once under its
// org key, with index keys pointing back to the org for every identity it answers.
type Store struct {
	redis *redis.Client
}

// NewStore creates a new binding store.
func NewStore(redisClient *redis.Client) *Store {
	return &Store{redis: redisClient}
}

var _ Resolver = (*Store)(nil)

func (s *Store) key(orgID string) string {
	return fmt.Sprintf("clinic:binding:%s", orgID)
}

func numberKey(number string) string {
	return fmt.Sprintf("clinic:binding:number:%s", number)
}

func sipKey(identity string) string {
	return fmt.Sprintf("clinic:binding:sip:%s", strings.ToLower(identity))
}

func phoneIDKey(id string) string {
	return fmt.Sprintf("clinic:binding:phoneid:%s", id)
}

// Get returns the binding for an org, active or not.
func (s *Store) Get(ctx context.Context, orgID string) (*Binding, error) {
	data, err := s.redis.Get(ctx, s.key(orgID)).Bytes()
	if err == redis.Nil {
		return nil, ErrBindingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("clinic: get binding: %w", err)
	}

	var b Binding
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("clinic: unmarshal binding: %w", err)
	}
	return &b, nil
}

// Set saves a binding and rewrites its index keys. An identity already owned
// by another org fails with ErrIdentityInUse. Index keys the binding no longer
// answers are removed only while they still point at this org.
func (s *Store) Set(ctx context.Context, b *Binding) error {
	if b == nil || strings.TrimSpace(b.OrgID) == "" {
		return errors.New("clinic: org_id required")
	}
	b.DialedNumber = NormalizeE164(b.DialedNumber)
	b.SIPIdentity = strings.ToLower(strings.TrimSpace(b.SIPIdentity))

	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("clinic: marshal binding: %w", err)
	}

	for attempt := 0; attempt < maxSetAttempts; attempt++ {
		previous, err := s.Get(ctx, b.OrgID)
		if err != nil && !errors.Is(err, ErrBindingNotFound) {
			return err
		}
		watched := append([]string{s.key(b.OrgID)}, indexKeys(b)...)
		if previous != nil {
			watched = append(watched, indexKeys(previous)...)
		}

		err = s.redis.Watch(ctx, func(tx *redis.Tx) error {
			return s.setWatched(ctx, tx, b, previous, data)
		}, watched...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil && !errors.Is(err, ErrIdentityInUse) {
			return fmt.Errorf("clinic: set binding: %w", err)
		}
		return err
	}
	return fmt.Errorf("clinic: set binding: %w", redis.TxFailedErr)
}

const maxSetAttempts = 3

func (s *Store) setWatched(ctx context.Context, tx *redis.Tx, b, previous *Binding, data []byte) error {
	// The previous binding was read before WATCH; retry if it moved since.
	current, err := tx.Get(ctx, s.key(b.OrgID)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		if previous != nil {
			return redis.TxFailedErr
		}
	case err != nil:
		return err
	case previous == nil:
		return redis.TxFailedErr
	default:
		var stored Binding
		if err := json.Unmarshal(current, &stored); err != nil {
			return fmt.Errorf("clinic: unmarshal binding: %w", err)
		}
		if !sameKeys(indexKeys(&stored), indexKeys(previous)) {
			return redis.TxFailedErr
		}
	}

	keep := map[string]bool{}
	for _, k := range indexKeys(b) {
		keep[k] = true
		owner, err := tx.Get(ctx, k).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return err
		}
		if owner != b.OrgID {
			return ErrIdentityInUse
		}
	}

	var stale []string
	if previous != nil {
		for _, k := range indexKeys(previous) {
			if keep[k] {
				continue
			}
			owner, err := tx.Get(ctx, k).Result()
			if errors.Is(err, redis.Nil) {
				continue
			}
			if err != nil {
				return err
			}
			if owner == b.OrgID {
				stale = append(stale, k)
			}
		}
	}

	_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, k := range stale {
			pipe.Del(ctx, k)
		}
		pipe.Set(ctx, s.key(b.OrgID), data, 0)
		for k := range keep {
			pipe.Set(ctx, k, b.OrgID, 0)
		}
		return nil
	})
	return err
}

func sameKeys(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func indexKeys(b *Binding) []string {
	var keys []string
	if b.DialedNumber != "" {
		keys = append(keys, numberKey(b.DialedNumber))
	}
	if b.SIPIdentity != "" {
		keys = append(keys, sipKey(b.SIPIdentity))
	}
	if b.PhoneNumberID != "" {
		keys = append(keys, phoneIDKey(b.PhoneNumberID))
	}
	return keys
}

// LookupByNumber resolves an E.164 number to its active binding.
func (s *Store) LookupByNumber(ctx context.Context, number string) (*Binding, error) {
	return s.lookup(ctx, numberKey(NormalizeE164(number)))
}

// LookupBySIP resolves a localpart@domain identity to its active binding.
func (s *Store) LookupBySIP(ctx context.Context, identity string) (*Binding, error) {
	return s.lookup(ctx, sipKey(identity))
}

// LookupByPhoneNumberID resolves the voice-AI platform number ID.
func (s *Store) LookupByPhoneNumberID(ctx context.Context, id string) (*Binding, error) {
	return s.lookup(ctx, phoneIDKey(id))
}

// Resolve classifies the dialed value and looks it up. A SIP identity without
// its own binding falls back to its localpart as a number; a platform ID is
// the last resort.
func (s *Store) Resolve(ctx context.Context, dialed string) (*Binding, error) {
	id := ParseIdentity(dialed)
	if id.Value == "" {
		return nil, ErrBindingNotFound
	}

	switch id.Kind {
	case IdentitySIP:
		b, err := s.LookupBySIP(ctx, id.Value)
		if !errors.Is(err, ErrBindingNotFound) {
			return b, err
		}
		if looksLikePhone(id.Localpart) {
			return s.LookupByNumber(ctx, id.Localpart)
		}
		return nil, ErrBindingNotFound
	case IdentityNumber:
		b, err := s.LookupByNumber(ctx, id.Value)
		if !errors.Is(err, ErrBindingNotFound) {
			return b, err
		}
		return s.LookupByPhoneNumberID(ctx, strings.TrimSpace(dialed))
	default:
		return s.LookupByPhoneNumberID(ctx, id.Value)
	}
}

func (s *Store) lookup(ctx context.Context, indexKey string) (*Binding, error) {
	orgID, err := s.redis.Get(ctx, indexKey).Result()
	if err == redis.Nil {
		return nil, ErrBindingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("clinic: lookup binding: %w", err)
	}
	b, err := s.Get(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if !b.Active {
		return nil, ErrBindingNotFound
	}
	return b, nil
}
