package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/radieske/surebet-ledger/internal/core/domain"
	"github.com/radieske/surebet-ledger/internal/shared/lock"
)

func BetLock(id string) string { return "bet:" + id }
func SurebetLock(id string) string { return "surebet:" + id }
func GroupLock(key domain.GroupingKey) string { return "group:" + key.String() }
func ParticipantLock(id string) string { return "participant:" + id }

// Guard obtém os locks das entidades ou falha com ErrConcurrentMutation
func Guard(ctx context.Context, l lock.Locker, keys ...string) (func(), error) {
	unlock, err := lock.Acquire(ctx, l, keys...)
	if errors.Is(err, lock.ErrLocked) {
		return nil, fmt.Errorf("%w: %s", domain.ErrConcurrentMutation, strings.Join(keys, ","))
	}
	if err != nil {
		return nil, err
	}
	return unlock, nil
}
