package governance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"fixedlend/core/events"
	"fixedlend/crypto"
)

var (
	ErrProposalNotFound   = errors.New("governance: proposal not found")
	ErrProposalNotQueued  = errors.New("governance: proposal not queued")
	ErrTimelockNotElapsed = errors.New("governance: timelock not yet elapsed")
	ErrNotAdmin           = errors.New("governance: caller is not an admin")
	ErrUnknownAction      = errors.New("governance: no handler registered for action")
)

// DefaultTimelock delays proposals submitted by non-admins.
const DefaultTimelock = 48 * time.Hour

// Authorizer decides whether caller may perform action directly.
type Authorizer interface {
	Authorized(caller crypto.Address, action string) bool
}

// Dispatcher routes privileged actions down one of two paths: callers holding
// the required role execute immediately, everyone else queues a proposal that
// runs as the executor identity once the timelock elapses.
type Dispatcher struct {
	mu         sync.Mutex
	authorizer Authorizer
	executor   crypto.Address
	timelock   time.Duration
	nowFn      func() time.Time
	emitter    events.Emitter
	logger     *slog.Logger
	store      Store
	handlers   map[string]Handler
	proposals  map[string]*Proposal
}

// NewDispatcher constructs a dispatcher. Queued actions run as executor,
// which must itself be authorized.
func NewDispatcher(authorizer Authorizer, executor crypto.Address, timelock time.Duration) *Dispatcher {
	if timelock <= 0 {
		timelock = DefaultTimelock
	}
	return &Dispatcher{
		authorizer: authorizer,
		executor:   executor,
		timelock:   timelock,
		nowFn:      func() time.Time { return time.Now().UTC() },
		emitter:    events.NoopEmitter{},
		logger:     slog.Default(),
		handlers:   make(map[string]Handler),
		proposals:  make(map[string]*Proposal),
	}
}

// SetEmitter configures the event emitter used by the dispatcher. Passing nil
// resets the emitter to a no-op implementation.
func (d *Dispatcher) SetEmitter(emitter events.Emitter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if emitter == nil {
		d.emitter = events.NoopEmitter{}
		return
	}
	d.emitter = emitter
}

// SetNowFunc overrides the clock. Nil restores the default UTC clock.
func (d *Dispatcher) SetNowFunc(now func() time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	d.nowFn = now
}

func (d *Dispatcher) SetLogger(logger *slog.Logger) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if logger == nil {
		logger = slog.Default()
	}
	d.logger = logger
}

// SetStore attaches persistent storage and loads the proposals already in
// it. Later submissions and status changes are written through.
func (d *Dispatcher) SetStore(store Store) error {
	if store == nil {
		return errors.New("governance: nil store")
	}
	stored, err := store.Proposals()
	if err != nil {
		return fmt.Errorf("governance: load proposals: %w", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.store = store
	for _, proposal := range stored {
		d.proposals[proposal.ID] = proposal.Clone()
	}
	return nil
}

// Register binds the handler executing action. Registering an action again
// replaces its handler.
func (d *Dispatcher) Register(action string, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[strings.TrimSpace(action)] = handler
}

func (d *Dispatcher) handler(action string) (Handler, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	handler, ok := d.handlers[action]
	if !ok || handler == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}
	return handler, nil
}

// persist must be called with d.mu held.
func (d *Dispatcher) persist(proposal *Proposal) error {
	if d.store == nil {
		return nil
	}
	return d.store.PutProposal(proposal.Clone())
}

// ExecuteOrPropose runs the action's handler immediately when caller is
// authorized for action and otherwise queues payload as a timelocked
// proposal.
func (d *Dispatcher) ExecuteOrPropose(ctx context.Context, caller crypto.Address, action, summary string, payload []byte) (Outcome, error) {
	action = strings.TrimSpace(action)
	if action == "" {
		return Outcome{}, fmt.Errorf("governance: action required")
	}
	handler, err := d.handler(action)
	if err != nil {
		return Outcome{}, err
	}
	if d.authorizer.Authorized(caller, action) {
		if err := handler(ctx, caller, payload); err != nil {
			return Outcome{}, err
		}
		d.emit(events.GovernanceExecuted{Action: action, Caller: caller})
		return Outcome{Executed: true}, nil
	}

	d.mu.Lock()
	now := d.nowFn()
	proposal := &Proposal{
		ID:          uuid.NewString(),
		Action:      action,
		Summary:     strings.TrimSpace(summary),
		Proposer:    caller,
		Status:      ProposalStatusQueued,
		SubmitTime:  now,
		TimelockEnd: now.Add(d.timelock),
		Payload:     append([]byte(nil), payload...),
	}
	if err := d.persist(proposal); err != nil {
		d.mu.Unlock()
		return Outcome{}, fmt.Errorf("governance: store proposal: %w", err)
	}
	d.proposals[proposal.ID] = proposal
	emitter, logger := d.emitter, d.logger
	d.mu.Unlock()

	logger.Info("governance proposal queued",
		slog.String("id", proposal.ID),
		slog.String("action", action),
		slog.Time("timelock_end", proposal.TimelockEnd))
	emitter.Emit(events.GovernanceQueued{
		ProposalID:  proposal.ID,
		Action:      action,
		Proposer:    caller,
		TimelockEnd: proposal.TimelockEnd,
	})
	return Outcome{Proposal: proposal.Clone()}, nil
}

// Execute runs a queued proposal whose timelock has elapsed. A failing
// action marks the proposal failed and returns its error.
func (d *Dispatcher) Execute(ctx context.Context, id string) error {
	d.mu.Lock()
	proposal, ok := d.proposals[id]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrProposalNotFound, id)
	}
	if proposal.Status != ProposalStatusQueued {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrProposalNotQueued, id, proposal.Status)
	}
	if d.nowFn().Before(proposal.TimelockEnd) {
		d.mu.Unlock()
		return ErrTimelockNotElapsed
	}
	// Claimed before running so a concurrent Execute cannot replay it.
	proposal.Status = ProposalStatusExecuted
	payload := append([]byte(nil), proposal.Payload...)
	d.mu.Unlock()

	handler, err := d.handler(proposal.Action)
	if err == nil {
		err = handler(ctx, d.executor, payload)
	}

	d.mu.Lock()
	if err != nil {
		proposal.Status = ProposalStatusFailed
		proposal.Error = err.Error()
	}
	if storeErr := d.persist(proposal); storeErr != nil {
		d.logger.Error("governance proposal not stored",
			slog.String("id", id),
			slog.String("status", proposal.Status.String()),
			slog.String("error", storeErr.Error()))
	}
	resolved := events.GovernanceResolved{ProposalID: id, Action: proposal.Action, Status: proposal.Status.String(), Error: proposal.Error}
	emitter := d.emitter
	d.mu.Unlock()

	emitter.Emit(resolved)
	return err
}

// Cancel withdraws a queued proposal. Only admins may cancel.
func (d *Dispatcher) Cancel(caller crypto.Address, id string) error {
	if !d.authorizer.Authorized(caller, RoleAdmin) {
		return ErrNotAdmin
	}
	d.mu.Lock()
	proposal, ok := d.proposals[id]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrProposalNotFound, id)
	}
	if proposal.Status != ProposalStatusQueued {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrProposalNotQueued, id, proposal.Status)
	}
	cancelled := proposal.Clone()
	cancelled.Status = ProposalStatusCancelled
	if err := d.persist(cancelled); err != nil {
		d.mu.Unlock()
		return fmt.Errorf("governance: store proposal: %w", err)
	}
	proposal.Status = ProposalStatusCancelled
	resolved := events.GovernanceResolved{ProposalID: id, Action: proposal.Action, Status: proposal.Status.String()}
	emitter := d.emitter
	d.mu.Unlock()

	emitter.Emit(resolved)
	return nil
}

// Proposal returns a copy of the proposal with id.
func (d *Dispatcher) Proposal(id string) (*Proposal, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	proposal, ok := d.proposals[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProposalNotFound, id)
	}
	return proposal.Clone(), nil
}

// Proposals lists every proposal ordered by submission time.
func (d *Dispatcher) Proposals() []*Proposal {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Proposal, 0, len(d.proposals))
	for _, proposal := range d.proposals {
		out = append(out, proposal.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmitTime.Equal(out[j].SubmitTime) {
			return out[i].SubmitTime.Before(out[j].SubmitTime)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (d *Dispatcher) emit(evt events.Event) {
	d.mu.Lock()
	emitter := d.emitter
	d.mu.Unlock()
	emitter.Emit(evt)
}
