package drill

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"librarydesk/internal/apperr"
	"librarydesk/internal/client"
)

const (
	readerPassword = "drill-password-1"
	maxAttempts    = 6
)

// Target is the server under test. Admin must carry an admin token; API is
// used anonymously for sign-ups and health checks.
type Target struct {
	API         *client.Client
	Admin       *client.Client
	Concurrency int
}

// Connect logs in as admin and returns a Target ready for Register.
func Connect(ctx context.Context, api *client.Client, email, password string, concurrency int) (*Target, error) {
	tok, err := api.Login(ctx, email, password)
	if err != nil {
		return nil, fmt.Errorf("admin login: %w", err)
	}
	if concurrency < 2 {
		concurrency = 2
	}
	return &Target{API: api, Admin: api.WithToken(tok.Token), Concurrency: concurrency}, nil
}

// Register adds the standard consistency experiments to e.
func (t *Target) Register(e *Engine) {
	e.Register(t.SingleCopyRace())
	e.Register(t.SameReaderRace())
	e.Register(t.ReturnStorm())
}

func (t *Target) steadyState() []Probe {
	return []Probe{
		{
			Name: "healthy",
			Query: func(ctx context.Context) (float64, error) {
				if _, err := t.API.Health(ctx); err != nil {
					return 0, err
				}
				return 1, nil
			},
			Threshold: Threshold{Op: "==", Value: 1},
		},
		{
			Name:      "ledger_violations",
			Query:     t.ledgerViolations,
			Threshold: Threshold{Op: "==", Value: 0},
		},
	}
}

func (t *Target) ledgerViolations(ctx context.Context) (float64, error) {
	r, err := t.Admin.Audit(ctx)
	if err != nil {
		return 0, err
	}
	n := len(r.NegativeStock) + len(r.OverStock) + len(r.LedgerMismatches) +
		len(r.DuplicateActive) + len(r.MirrorMismatches)
	return float64(n), nil
}

// run holds what one experiment created and counted.
type run struct {
	t       *Target
	name    string
	runID   string
	book    uuid.UUID
	readers []*client.Client

	mu      sync.Mutex
	borrows []uuid.UUID

	ok         atomic.Int64
	expected   atomic.Int64
	unexpected atomic.Int64
	retries    atomic.Int64
}

func (t *Target) newRun(name string) *run {
	return &run{t: t, name: name, runID: uuid.NewString()[:8]}
}

func (r *run) createBook(ctx context.Context, copies int) error {
	b, err := r.t.Admin.CreateBook(ctx, client.NewBook{
		Title:  fmt.Sprintf("Drill %s %s", r.name, r.runID),
		Author: "Consistency Drill",
		Genre:  "Testing",
		Copies: &copies,
	})
	if err != nil {
		return fmt.Errorf("create book: %w", err)
	}
	r.book = b.ID
	return nil
}

func (r *run) signupReaders(ctx context.Context, n int) error {
	for i := range n {
		email := fmt.Sprintf("drill-%s-%d@example.com", r.runID, i)
		tok, err := r.t.API.Signup(ctx, fmt.Sprintf("Drill Reader %d", i), email, readerPassword)
		if err != nil {
			return fmt.Errorf("signup %s: %w", email, err)
		}
		r.readers = append(r.readers, r.t.API.WithToken(tok.Token))
	}
	return nil
}

// burst fires n calls at once and counts each outcome. A call rejected as a
// conflict is retried with backoff the way a client is expected to. Errors
// matching one of allowed are expected rejections.
func (r *run) burst(ctx context.Context, n int, call func(ctx context.Context, i int) error, allowed ...error) {
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			err := r.retry(ctx, func() error { return call(ctx, i) })
			switch {
			case err == nil:
				r.ok.Add(1)
			case isAny(err, allowed):
				r.expected.Add(1)
			default:
				r.unexpected.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()
}

func (r *run) retry(ctx context.Context, call func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if attempt++; attempt > 1 {
			r.retries.Add(1)
		}
		err := call()
		if err != nil && !errors.Is(err, apperr.ErrConflict) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(maxAttempts))
	return err
}

func isAny(err error, targets []error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

func (r *run) borrow(ctx context.Context, c *client.Client) error {
	resp, err := c.Borrow(ctx, r.book)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.borrows = append(r.borrows, resp.Borrow.ID)
	r.mu.Unlock()
	return nil
}

func (r *run) available(ctx context.Context) (float64, error) {
	b, err := r.t.Admin.GetBook(ctx, r.book)
	if err != nil {
		return 0, err
	}
	return float64(b.AvailableCount), nil
}

func (r *run) measures() []Probe {
	return []Probe{
		{Name: "successes", Query: counter(&r.ok)},
		{Name: "unexpected_errors", Query: counter(&r.unexpected)},
		{Name: "conflict_retries", Query: counter(&r.retries)},
		{Name: "available", Query: r.available},
	}
}

func counter(c *atomic.Int64) func(context.Context) (float64, error) {
	return func(context.Context) (float64, error) { return float64(c.Load()), nil }
}

// cleanup returns whatever is still out and retires the book.
func (r *run) cleanup(ctx context.Context) error {
	r.mu.Lock()
	borrows := append([]uuid.UUID(nil), r.borrows...)
	r.mu.Unlock()

	var errs []error
	for _, id := range borrows {
		for _, c := range r.readers {
			_, err := c.Return(ctx, id)
			if err == nil || errors.Is(err, apperr.ErrAlreadyReturned) {
				break
			}
		}
	}
	if r.book != uuid.Nil {
		if err := r.t.Admin.DeleteBook(ctx, r.book); err != nil {
			errs = append(errs, fmt.Errorf("retire book: %w", err))
		}
	}
	return errors.Join(errs...)
}

func equals(v float64) func(float64) bool {
	return func(x float64) bool { return x == v }
}

// SingleCopyRace has many readers borrow the last copy at once.
func (t *Target) SingleCopyRace() Experiment {
	r := t.newRun("single-copy")
	n := t.Concurrency
	return Experiment{
		Name:        "Single copy borrow race",
		Hypothesis:  fmt.Sprintf("%d readers borrowing one copy at once yield exactly one loan and no negative stock", n),
		SteadyState: t.steadyState(),
		Measures:    r.measures(),
		Method: []Action{
			{Name: "prepare", Execute: func(ctx context.Context) error {
				if err := r.createBook(ctx, 1); err != nil {
					return err
				}
				return r.signupReaders(ctx, n)
			}},
			{Name: "borrow burst", Execute: func(ctx context.Context) error {
				if len(r.readers) < n {
					return errors.New("readers missing")
				}
				r.burst(ctx, n, func(ctx context.Context, i int) error {
					return r.borrow(ctx, r.readers[i])
				}, apperr.ErrOutOfStock, apperr.ErrConflict)
				return nil
			}},
		},
		Rollback: []Action{{Name: "cleanup", Execute: r.cleanup}},
		Validation: []Assertion{
			{Probe: "successes", Condition: equals(1), Message: "exactly one borrow succeeds"},
			{Probe: "available", Condition: equals(0), Message: "no copies remain"},
			{Probe: "unexpected_errors", Condition: equals(0), Message: "losers are rejected as out of stock or conflict"},
			{Probe: "ledger_violations", Condition: equals(0), Message: "audit stays clean"},
		},
	}
}

// SameReaderRace has one reader borrow the same title many times at once.
func (t *Target) SameReaderRace() Experiment {
	r := t.newRun("same-reader")
	n := t.Concurrency
	return Experiment{
		Name:        "Same reader duplicate borrow race",
		Hypothesis:  fmt.Sprintf("%d concurrent borrows of one title by one reader yield a single active loan", n),
		SteadyState: t.steadyState(),
		Measures:    r.measures(),
		Method: []Action{
			{Name: "prepare", Execute: func(ctx context.Context) error {
				if err := r.createBook(ctx, n); err != nil {
					return err
				}
				return r.signupReaders(ctx, 1)
			}},
			{Name: "borrow burst", Execute: func(ctx context.Context) error {
				if len(r.readers) == 0 {
					return errors.New("reader missing")
				}
				r.burst(ctx, n, func(ctx context.Context, _ int) error {
					return r.borrow(ctx, r.readers[0])
				}, apperr.ErrAlreadyBorrowed, apperr.ErrConflict)
				return nil
			}},
		},
		Rollback: []Action{{Name: "cleanup", Execute: r.cleanup}},
		Validation: []Assertion{
			{Probe: "successes", Condition: equals(1), Message: "exactly one borrow succeeds"},
			{Probe: "available", Condition: equals(float64(n - 1)), Message: "one copy is out"},
			{Probe: "unexpected_errors", Condition: equals(0), Message: "duplicates are rejected as already borrowed or conflict"},
			{Probe: "ledger_violations", Condition: equals(0), Message: "audit stays clean"},
		},
	}
}

// ReturnStorm has every reader return the same loan twice at once.
func (t *Target) ReturnStorm() Experiment {
	r := t.newRun("return-storm")
	n := t.Concurrency
	return Experiment{
		Name:        "Duplicate return storm",
		Hypothesis:  fmt.Sprintf("returning %d loans twice each at once restores every copy exactly once", n),
		SteadyState: t.steadyState(),
		Measures:    r.measures(),
		Method: []Action{
			{Name: "prepare", Execute: func(ctx context.Context) error {
				if err := r.createBook(ctx, n); err != nil {
					return err
				}
				if err := r.signupReaders(ctx, n); err != nil {
					return err
				}
				for _, c := range r.readers {
					if err := r.borrow(ctx, c); err != nil {
						return fmt.Errorf("borrow: %w", err)
					}
				}
				return nil
			}},
			{Name: "return burst", Execute: func(ctx context.Context) error {
				if len(r.borrows) < n {
					return errors.New("borrows missing")
				}
				r.burst(ctx, 2*n, func(ctx context.Context, i int) error {
					_, err := r.readers[i%n].Return(ctx, r.borrows[i%n])
					return err
				}, apperr.ErrAlreadyReturned, apperr.ErrConflict)
				return nil
			}},
		},
		Rollback: []Action{{Name: "cleanup", Execute: r.cleanup}},
		Validation: []Assertion{
			{Probe: "successes", Condition: equals(float64(n)), Message: "each loan is returned once"},
			{Probe: "available", Condition: equals(float64(n)), Message: "every copy is back"},
			{Probe: "unexpected_errors", Condition: equals(0), Message: "repeats are rejected as already returned or conflict"},
			{Probe: "ledger_violations", Condition: equals(0), Message: "audit stays clean"},
		},
	}
}
