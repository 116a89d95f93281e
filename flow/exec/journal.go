package exec

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/nodeflow/nodeflow/flow/store"
)

// journal sequences the durable steps of one run. Each step is keyed by a
// sha256 of (execution id, sequence, step name); a step whose key is already
// in the store is replayed from its recorded result instead of re-running.
type journal struct {
	store  store.ExecutionStore
	execID string
	seq    int

	// replay holds previously recorded steps by key, loaded on resume.
	// Empty for fresh runs.
	replay map[string]store.Step
}

func newJournal(s store.ExecutionStore, executionID string) *journal {
	return &journal{
		store:  s,
		execID: executionID,
		replay: make(map[string]store.Step),
	}
}

// load fills the replay map from the persisted journal.
func (j *journal) load(ctx context.Context) error {
	steps, err := j.store.Steps(ctx, j.execID)
	if err != nil {
		return fmt.Errorf("load journal: %w", err)
	}
	for _, s := range steps {
		j.replay[s.Key] = s
	}
	return nil
}

func stepKey(executionID string, seq int, name string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s", executionID, seq, name)))
	return hex.EncodeToString(sum[:])
}

// run executes one named step. The step body runs at most retries+1 times
// with exponential backoff between attempts. The returned bool reports
// whether the result came from the journal rather than a fresh run.
//
// The body's result is marshaled to JSON and journaled before run returns;
// a concurrent commit of the same key is treated as already done and the
// recorded result wins.
func (j *journal) run(ctx context.Context, name string, retries int, body func(context.Context) (any, error)) ([]byte, bool, error) {
	j.seq++
	key := stepKey(j.execID, j.seq, name)

	if prev, ok := j.replay[key]; ok {
		return prev.Result, true, nil
	}

	var (
		result any
		err    error
	)
	for attempt := 0; ; attempt++ {
		result, err = body(ctx)
		if err == nil || attempt >= retries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-time.After(backoff(attempt)):
		}
	}
	if err != nil {
		return nil, false, err
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return nil, false, fmt.Errorf("step %s: marshal result: %w", name, err)
	}

	step := store.Step{
		Seq:        j.seq,
		Name:       name,
		Key:        key,
		Result:     raw,
		RecordedAt: time.Now().UTC(),
	}
	if err := j.append(ctx, step); err != nil {
		if errors.Is(err, store.ErrDuplicateStep) {
			if prev, ok := j.replay[key]; ok {
				return prev.Result, true, nil
			}
			return raw, true, nil
		}
		return nil, false, fmt.Errorf("step %s: journal: %w", name, err)
	}
	return raw, false, nil
}

// append commits a step, retrying transient store failures.
func (j *journal) append(ctx context.Context, s store.Step) error {
	var err error
	for attempt := 0; attempt <= storeRetries; attempt++ {
		err = j.store.AppendStep(ctx, j.execID, s)
		if err == nil || errors.Is(err, store.ErrDuplicateStep) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff(attempt)):
		}
	}
	return err
}

// storeRetries is the fixed retry budget for journal commits. Node bodies
// get their own, configurable budget.
const storeRetries = 2

// backoff is exponential with jitter, capped at two seconds, so concurrent
// retries against a shared backend do not synchronize.
func backoff(attempt int) time.Duration {
	d := 100 * time.Millisecond << uint(attempt)
	if d > 2*time.Second {
		d = 2 * time.Second
	}
	jitter := time.Duration(rand.Int64N(int64(d) / 4))
	return d - d/8 + jitter
}
