package redlock

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const (
	unlockScript = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('del', KEYS[1]) else return 0 end"
	extendScript = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('pexpire', KEYS[1], ARGV[2]) else return 0 end"
)

// ErrLockHeld is returned when another holder owns the key.
var ErrLockHeld = errors.New("lock is already held")

// ErrNotHolder is returned when an unlock or extension is attempted with a value
// that no longer owns the key.
var ErrNotHolder = errors.New("lock expired or not held by caller")

// Locker is a single-key redis lock. The value identifies the holder so only the
// holder can release or extend it.
type Locker struct {
	client redis.UniversalClient
	key    string
	value  string
}

func NewLocker(client redis.UniversalClient, key, value string) *Locker {
	return &Locker{
		client: client,
		key:    key,
		value:  value,
	}
}

// PaymentKey is the lock key guarding dispatch of one payment.
func PaymentKey(paymentID string) string {
	return fmt.Sprintf("vaultpay:lock:payment:%s", paymentID)
}

// RecurringRunKey is held for the duration of one recurring run.
const RecurringRunKey = "vaultpay:lock:recurring-run"

// TemplateKey is the lock key guarding edits of one recurring template.
func TemplateKey(templateID string) string {
	return fmt.Sprintf("vaultpay:lock:recurring:%s", templateID)
}

func (l *Locker) Key() string {
	return l.key
}

func (l *Locker) Lock(ctx context.Context, ttl time.Duration) error {
	success, err := l.client.SetNX(ctx, l.key, l.value, ttl).Result()
	if err != nil {
		return err
	}
	if !success {
		return errors.Wrapf(ErrLockHeld, "lock for key %s", l.key)
	}
	return nil
}

func (l *Locker) Unlock(ctx context.Context) error {
	result, err := l.client.Eval(ctx, unlockScript, []string{l.key}, l.value).Result()
	if err != nil {
		return err
	}
	if result == int64(0) {
		return errors.Wrapf(ErrNotHolder, "unlock failed for key %s", l.key)
	}
	return nil
}

func (l *Locker) ExtendLock(ctx context.Context, extension time.Duration) error {
	result, err := l.client.Eval(ctx, extendScript, []string{l.key}, l.value, fmt.Sprintf("%d", extension.Milliseconds())).Result()
	if err != nil {
		return err
	}
	if result == int64(0) {
		return errors.Wrapf(ErrNotHolder, "lock extension failed for key %s", l.key)
	}
	return nil
}

// WaitLock retries Lock with exponential backoff until waitTimeout elapses.
// Redis errors abort immediately.
func (l *Locker) WaitLock(ctx context.Context, lockTimeout, waitTimeout time.Duration) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = 250 * time.Millisecond
	b.MaxElapsedTime = waitTimeout

	op := func() error {
		err := l.Lock(ctx, lockTimeout)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrLockHeld) {
			return err
		}
		return backoff.Permanent(err)
	}

	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		if errors.Is(err, ErrLockHeld) {
			return errors.Wrapf(err, "failed to acquire lock for key %s within %s", l.key, waitTimeout)
		}
		return err
	}
	return nil
}
