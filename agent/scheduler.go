package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tandem-cli/tandem/errors"
	"github.com/tandem-cli/tandem/llm"
	"github.com/tandem-cli/tandem/session"
	"github.com/tandem-cli/tandem/tools"
)

// ToolCallStatus is the lifecycle state of one scheduled tool call. States
// only ever move forward; terminal states are never left.
type ToolCallStatus string

const (
	StatusValidating       ToolCallStatus = "validating"
	StatusAwaitingApproval ToolCallStatus = "awaiting_approval"
	StatusScheduled        ToolCallStatus = "scheduled"
	StatusExecuting        ToolCallStatus = "executing"
	StatusSuccess          ToolCallStatus = "success"
	StatusError            ToolCallStatus = "error"
	StatusCancelled        ToolCallStatus = "cancelled"
)

func (s ToolCallStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusError || s == StatusCancelled
}

// statusRank enforces forward-only transitions.
var statusRank = map[ToolCallStatus]int{
	StatusValidating:       0,
	StatusAwaitingApproval: 1,
	StatusScheduled:        2,
	StatusExecuting:        3,
	StatusSuccess:          4,
	StatusError:            4,
	StatusCancelled:        4,
}

// ConfirmationOutcome is the operator's answer to an approval prompt.
type ConfirmationOutcome string

const (
	OutcomeProceedOnce          ConfirmationOutcome = "proceed_once"
	OutcomeProceedAlways        ConfirmationOutcome = "proceed_always"
	OutcomeProceedAlwaysProject ConfirmationOutcome = "proceed_always_project"
	OutcomeModify               ConfirmationOutcome = "modify"
	OutcomeCancel               ConfirmationOutcome = "cancel"
)

// ConfirmationResponse carries the outcome plus, for OutcomeModify, the
// replacement arguments the call should run with.
type ConfirmationResponse struct {
	Outcome      ConfirmationOutcome
	ModifiedArgs json.RawMessage
}

// ScheduledCall tracks one tool call through its lifecycle. Fields are
// snapshots; read them from the onUpdate callback or after Schedule returns.
type ScheduledCall struct {
	Call         llm.ToolCall
	Status       ToolCallStatus
	Confirmation *tools.ConfirmationRequest
	Progress     string
	Result       *tools.Result
	Err          error

	respond chan ConfirmationResponse
}

const approvalsFile = ".tandem/approvals.json"

// Scheduler drives batches of tool calls through
// validate / confirm / execute with bounded concurrency. One Scheduler
// serves one session.
type Scheduler struct {
	active      map[string]tools.Tool
	concurrency chan struct{}
	onUpdate    func(*ScheduledCall)

	mu           sync.Mutex
	awaiting     map[string]*ScheduledCall
	sessionAllow map[string]bool
	projectAllow map[string]bool
}

// NewScheduler builds a scheduler over the given active tools. onUpdate is
// invoked once per state transition and once per progress line; it may be
// nil.
func NewScheduler(active []tools.Tool, concurrency int, onUpdate func(*ScheduledCall)) *Scheduler {
	if concurrency < 1 {
		concurrency = 1
	}
	byName := make(map[string]tools.Tool, len(active))
	for _, t := range active {
		byName[t.Name()] = t
	}
	return &Scheduler{
		active:       byName,
		concurrency:  make(chan struct{}, concurrency),
		onUpdate:     onUpdate,
		awaiting:     make(map[string]*ScheduledCall),
		sessionAllow: make(map[string]bool),
		projectAllow: loadProjectApprovals(),
	}
}

// Schedule runs every call in the batch to a terminal state and returns the
// batch in submission order. It blocks until all calls are terminal;
// cancelling ctx drives the remaining calls to cancelled.
func (s *Scheduler) Schedule(ctx context.Context, calls []llm.ToolCall) []*ScheduledCall {
	batch := make([]*ScheduledCall, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		sc := &ScheduledCall{
			Call:    call,
			Status:  StatusValidating,
			respond: make(chan ConfirmationResponse, 1),
		}
		batch[i] = sc
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.run(ctx, sc)
		}()
	}
	wg.Wait()
	return batch
}

// RespondToConfirmation delivers the operator's answer to a call waiting for
// approval. It is an error if the call is not currently awaiting approval;
// answers cannot be queued ahead of the prompt.
func (s *Scheduler) RespondToConfirmation(callID string, resp ConfirmationResponse) error {
	s.mu.Lock()
	sc, ok := s.awaiting[callID]
	s.mu.Unlock()
	if !ok {
		return errors.New("tool call '%s' is not awaiting approval", callID)
	}
	select {
	case sc.respond <- resp:
		return nil
	default:
		return errors.New("tool call '%s' was already answered", callID)
	}
}

func (s *Scheduler) run(ctx context.Context, sc *ScheduledCall) {
	tool, ok := s.active[sc.Call.Name]
	if !ok {
		s.fail(sc, errors.New("tool '%s' is not available", sc.Call.Name))
		return
	}

	args, err := decodeArgs(sc.Call.Arguments)
	if err != nil {
		s.fail(sc, err)
		return
	}
	if raw, bad := args["__parseError"]; bad {
		s.fail(sc, errors.New("model produced unparseable tool arguments: %v", raw))
		return
	}
	if err := tool.Validate(args); err != nil {
		s.fail(sc, errors.Wrapf(err, "invalid arguments for '%s'", sc.Call.Name))
		return
	}

	if req := tool.Confirm(args); req != nil && !s.isAllowed(req.Root) {
		sc.Confirmation = req
		// Registered before the transition so the onUpdate callback can
		// answer synchronously.
		s.beginAwaiting(sc)
		s.transition(sc, StatusAwaitingApproval)
		select {
		case resp := <-sc.respond:
			s.endAwaiting(sc)
			switch resp.Outcome {
			case OutcomeCancel:
				s.transition(sc, StatusCancelled)
				return
			case OutcomeModify:
				modified, err := decodeArgs(resp.ModifiedArgs)
				if err != nil {
					s.fail(sc, errors.Wrapf(err, "modified arguments are invalid"))
					return
				}
				if err := tool.Validate(modified); err != nil {
					s.fail(sc, errors.Wrapf(err, "modified arguments rejected"))
					return
				}
				sc.Call.Arguments = resp.ModifiedArgs
				args = modified
			case OutcomeProceedAlways:
				s.allowForSession(req.Root)
			case OutcomeProceedAlwaysProject:
				s.allowForProject(req.Root)
			}
		case <-ctx.Done():
			s.endAwaiting(sc)
			s.transition(sc, StatusCancelled)
			return
		}
	}

	s.transition(sc, StatusScheduled)
	select {
	case s.concurrency <- struct{}{}:
		defer func() { <-s.concurrency }()
	case <-ctx.Done():
		s.transition(sc, StatusCancelled)
		return
	}

	s.transition(sc, StatusExecuting)
	result, err := tool.Execute(ctx, args, func(line string) {
		sc.Progress = line
		s.notify(sc)
	})
	if ctx.Err() != nil {
		s.transition(sc, StatusCancelled)
		return
	}
	if err != nil {
		s.fail(sc, err)
		return
	}
	if result != nil && result.Content != "" {
		result.Content = tools.Truncate(result.Content, sc.Call.Name)
	}
	sc.Result = result
	s.transition(sc, StatusSuccess)
}

func (s *Scheduler) fail(sc *ScheduledCall, err error) {
	sc.Err = err
	s.transition(sc, StatusError)
}

func (s *Scheduler) transition(sc *ScheduledCall, next ToolCallStatus) {
	if statusRank[next] <= statusRank[sc.Status] && next != sc.Status {
		return
	}
	if sc.Status.Terminal() {
		return
	}
	sc.Status = next
	s.notify(sc)
}

func (s *Scheduler) notify(sc *ScheduledCall) {
	if s.onUpdate != nil {
		s.onUpdate(sc)
	}
}

func (s *Scheduler) beginAwaiting(sc *ScheduledCall) {
	s.mu.Lock()
	s.awaiting[sc.Call.CallID] = sc
	s.mu.Unlock()
}

func (s *Scheduler) endAwaiting(sc *ScheduledCall) {
	s.mu.Lock()
	delete(s.awaiting, sc.Call.CallID)
	s.mu.Unlock()
}

func (s *Scheduler) isAllowed(root string) bool {
	if root == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionAllow[root] || s.projectAllow[root]
}

func (s *Scheduler) allowForSession(root string) {
	s.mu.Lock()
	s.sessionAllow[root] = true
	s.mu.Unlock()
}

func (s *Scheduler) allowForProject(root string) {
	s.mu.Lock()
	s.projectAllow[root] = true
	snapshot := make(map[string]bool, len(s.projectAllow))
	for k, v := range s.projectAllow {
		snapshot[k] = v
	}
	s.mu.Unlock()
	saveProjectApprovals(snapshot)
}

// BatchResults converts a finished batch into tool-result parts for the next
// model request. allCancelled reports that the operator rejected every
// non-client-initiated call; in that case the results are recorded in the
// session but not sent back to the model this turn.
func BatchResults(batch []*ScheduledCall) (parts []session.Part, allCancelled bool) {
	allCancelled = true
	for _, sc := range batch {
		if sc.Call.ClientInitiated {
			// Finalized on its own; never counted toward batch consensus.
			continue
		}
		part := session.Part{
			Kind:     session.PartToolResult,
			CallID:   sc.Call.CallID,
			ToolName: sc.Call.Name,
		}
		switch sc.Status {
		case StatusSuccess:
			if sc.Result != nil {
				part.Content = sc.Result.Content
			}
			allCancelled = false
		case StatusError:
			part.Content = fmt.Sprintf("Tool execution failed: %v", sc.Err)
			part.IsError = true
			allCancelled = false
		case StatusCancelled:
			part.Content = "The user cancelled this tool call."
			part.IsError = true
		}
		parts = append(parts, part)
	}
	if len(parts) == 0 {
		allCancelled = false
	}
	return parts, allCancelled
}

func decodeArgs(raw json.RawMessage) (map[string]interface{}, error) {
	if len(raw) == 0 {
		return map[string]interface{}{}, nil
	}
	var args map[string]interface{}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, errors.Wrapf(err, "tool arguments are not a JSON object")
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	return args, nil
}

func loadProjectApprovals() map[string]bool {
	approvals := make(map[string]bool)
	data, err := os.ReadFile(approvalsFile)
	if err != nil {
		return approvals
	}
	// Corrupt file is treated as empty; it will be rewritten on next save.
	_ = json.Unmarshal(data, &approvals)
	return approvals
}

func saveProjectApprovals(approvals map[string]bool) {
	data, err := json.MarshalIndent(approvals, "", "  ")
	if err != nil {
		return
	}
	_ = os.MkdirAll(filepath.Dir(approvalsFile), 0o755)
	_ = os.WriteFile(approvalsFile, data, 0o644)
}
