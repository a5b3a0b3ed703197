// Package agentruntime implements the Agent Runtime: the bounded LLM/tool
// iteration loop at the center of the companion pipeline. One call to Run
// executes one triggered turn to completion — or to the iteration ceiling —
// publishing a trace.Event onto a Bus at every point the Trace/Observer Bus
// contract requires.
package agentruntime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/companionrt/internal/providers"
	"github.com/nextlevelbuilder/companionrt/internal/store"
	"github.com/nextlevelbuilder/companionrt/internal/tools"
	"github.com/nextlevelbuilder/companionrt/internal/trace"
)

// DefaultMaxIterations is the loop's hard ceiling absent an override.
const DefaultMaxIterations = 20

// maxValidationFailures bounds how many times validateFinalResponse may
// reject a draft before the runtime gives up on this turn rather than
// spending the whole iteration ceiling on revisions.
const maxValidationFailures = 3

const (
	sendMessageToolName  = "send_message"
	keepResponseToolName = "keep_response"
)

// SendFunc commits one finalized response to the Messages collaborator.
// edited reports whether this call revised an already-sent message from an
// earlier pending slot rather than creating a new one.
type SendFunc func(ctx context.Context, text string) (messageID string, edited bool, err error)

// ValidateFunc optionally rejects a candidate final response. accept=false
// means reject; reason is folded into the revision prompt.
type ValidateFunc func(text string) (reason string, accept bool)

// PollFunc returns messages newer than sinceSeq for the session's stream,
// already excluding ones the responding persona authored itself.
type PollFunc func(ctx context.Context, sinceSeq int64) ([]store.Message, error)

// Request is everything one Run call needs to execute a bounded turn.
type Request struct {
	Session   *store.AgentSession
	PersonaID string
	StreamID  string

	Provider providers.Provider
	Model    string
	Options  map[string]interface{}

	// Messages is the Context Builder's fully assembled prompt: system
	// prompt first, then truncated history, then the trigger message.
	Messages []providers.Message

	Registry         *tools.Registry
	ToolDefs         []providers.ToolDefinition
	LastSeenSequence int64

	AllowNoMessageOutput bool
	MaxIterations        int

	Poll        PollFunc
	Send        SendFunc
	Validate    ValidateFunc
	ShouldAbort func(ctx context.Context) bool

	Trace *trace.Bus
	Log   *slog.Logger
}

// Result is what Run returns once the turn finishes, one way or another.
type Result struct {
	SentMessageIDs    []string
	ResponseMessageID string
	LastSeenSequence  int64
	NoMessage         bool
	NoMessageReason   string
	Iterations        int
	Usage             providers.Usage
	Sources           []store.SourceItem
}

type pendingMessage struct {
	text string
}

// runState carries the loop's mutable, per-turn bookkeeping.
type runState struct {
	messages          []providers.Message
	retrievedContext  string
	sources           []store.SourceItem
	seenSource        map[string]bool
	pending           []pendingMessage
	keepReason        string
	lastSeenSequence  int64
	reconsideredOnce  bool
	validationFailures int
	sentMessageIDs    []string
	responseMessageID string
	usage             providers.Usage
	iterations        int
}

func (s *runState) mergeSources(in []store.SourceItem) {
	for _, src := range in {
		key := src.URL + "|" + src.Title
		if s.seenSource[key] {
			continue
		}
		s.seenSource[key] = true
		s.sources = append(s.sources, src)
	}
}

// Run executes the loop described by the Agent Runtime component: pre-flight
// abort check, prompt assembly, LLM call, outcome classification, tool
// execution (§4.9a), and the finalize-or-reconsider protocol (§4.9b).
func Run(ctx context.Context, req Request) (*Result, error) {
	log := req.Log
	if log == nil {
		log = slog.Default()
	}
	bus := req.Trace
	maxIter := req.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}

	st := &runState{
		messages:         append([]providers.Message(nil), req.Messages...),
		seenSource:       make(map[string]bool),
		lastSeenSequence: req.LastSeenSequence,
	}

	publish(bus, trace.Event{Kind: trace.KindSessionStart, SessionID: req.Session.ID, StreamID: req.StreamID, PersonaID: req.PersonaID})

	toolDefs := append([]providers.ToolDefinition(nil), req.ToolDefs...)
	toolDefs = append(toolDefs, sendMessageToolDef())
	if req.AllowNoMessageOutput {
		toolDefs = append(toolDefs, keepResponseToolDef())
	}

	for st.iterations < maxIter {
		st.iterations++

		if req.ShouldAbort != nil && req.ShouldAbort(ctx) {
			log.Info("agentruntime: aborted by shouldAbort hook", "session_id", req.Session.ID, "iteration", st.iterations)
			publish(bus, trace.Event{Kind: trace.KindSessionEnd, SessionID: req.Session.ID, StreamID: req.StreamID, PersonaID: req.PersonaID})
			return toResult(st, false, ""), nil
		}

		promptMessages := withRetrievedContext(st.messages, st.retrievedContext)

		resp, err := req.Provider.Chat(ctx, providers.ChatRequest{
			Messages: promptMessages,
			Tools:    toolDefs,
			Model:    req.Model,
			Options:  req.Options,
		})
		if err != nil {
			log.Error("agentruntime: chat call failed", "session_id", req.Session.ID, "iteration", st.iterations, "error", err)
			publish(bus, trace.Event{Kind: trace.KindSessionError, SessionID: req.Session.ID, StreamID: req.StreamID, PersonaID: req.PersonaID, Err: err.Error()})
			return nil, fmt.Errorf("agentruntime: chat call failed: %w", err)
		}
		if resp.Usage != nil {
			accumulateUsage(&st.usage, resp.Usage)
		}

		if len(resp.ToolCalls) == 0 {
			publish(bus, trace.Event{Kind: trace.KindThinking, SessionID: req.Session.ID, StreamID: req.StreamID, PersonaID: req.PersonaID, Text: resp.Content})
		} else {
			publish(bus, trace.Event{Kind: trace.KindThinking, SessionID: req.Session.ID, StreamID: req.StreamID, PersonaID: req.PersonaID, PlanNames: toolNames(resp.ToolCalls)})
		}

		st.messages = append(st.messages, providers.Message{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls})

		if len(resp.ToolCalls) == 0 {
			done, result, err := handleTextOnly(ctx, req, st, bus, sanitizeAssistantContent(resp.Content))
			if err != nil {
				return nil, err
			}
			if done {
				return result, nil
			}
			continue
		}

		execToolCalls(ctx, req, st, bus, resp.ToolCalls)

		done, result, err := finalizeOrReconsider(ctx, req, st, bus)
		if err != nil {
			return nil, err
		}
		if done {
			return result, nil
		}
	}

	if req.AllowNoMessageOutput {
		publish(bus, trace.Event{Kind: trace.KindSessionEnd, SessionID: req.Session.ID, StreamID: req.StreamID, PersonaID: req.PersonaID})
		return toResult(st, true, "loop completed without sending a message"), nil
	}
	publish(bus, trace.Event{Kind: trace.KindSessionError, SessionID: req.Session.ID, StreamID: req.StreamID, PersonaID: req.PersonaID, Err: "loop completed without sending a message"})
	return nil, fmt.Errorf("agentruntime: loop completed without sending a message")
}

// handleTextOnly implements the text-only branch of step 4: reconsider once
// on fresh messages, otherwise validate and send.
func handleTextOnly(ctx context.Context, req Request, st *runState, bus *trace.Bus, text string) (bool, *Result, error) {
	newMsgs, newSeq, err := pollNew(ctx, req, st.lastSeenSequence)
	if err != nil {
		return false, nil, err
	}
	if len(newMsgs) > 0 && !st.reconsideredOnce {
		st.reconsideredOnce = true
		publish(bus, trace.Event{Kind: trace.KindReconsidering, SessionID: req.Session.ID, StreamID: req.StreamID, PersonaID: req.PersonaID, Draft: text, NewMessageIDs: messageIDs(newMsgs)})
		injectReconsideration(st, newMsgs, newSeq, text, "New context arrived while you were responding. Please incorporate it and respond.")
		return false, nil, nil
	}

	accept := true
	reason := ""
	if req.Validate != nil {
		reason, accept = req.Validate(text)
	}
	if !accept {
		st.validationFailures++
		if st.validationFailures >= maxValidationFailures && req.AllowNoMessageOutput {
			return true, toResult(st, true, "repeatedly failed validation"), nil
		}
		st.messages = append(st.messages, providers.Message{Role: "system", Content: "Your previous response needs revision: " + reason})
		return false, nil, nil
	}

	return commitText(ctx, req, st, bus, text)
}

// sendOne commits a single finalized message and records it, without
// ending the session trace — callers that send more than one pending
// message in a batch emit session:end once, after the whole batch lands.
func sendOne(ctx context.Context, req Request, st *runState, bus *trace.Bus, text string) error {
	msgID, edited, err := req.Send(ctx, text)
	if err != nil {
		return fmt.Errorf("agentruntime: send: %w", err)
	}
	st.sentMessageIDs = append(st.sentMessageIDs, msgID)
	st.responseMessageID = msgID
	kind := trace.KindMessageSent
	if edited {
		kind = trace.KindMessageEdited
	}
	publish(bus, trace.Event{Kind: kind, SessionID: req.Session.ID, StreamID: req.StreamID, PersonaID: req.PersonaID, MessageID: msgID})
	return nil
}

func commitText(ctx context.Context, req Request, st *runState, bus *trace.Bus, text string) (bool, *Result, error) {
	if err := sendOne(ctx, req, st, bus, text); err != nil {
		return false, nil, err
	}
	publish(bus, trace.Event{Kind: trace.KindSessionEnd, SessionID: req.Session.ID, StreamID: req.StreamID, PersonaID: req.PersonaID})
	return true, toResult(st, false, ""), nil
}

// finalizeOrReconsider implements §4.9b's six-case table.
func finalizeOrReconsider(ctx context.Context, req Request, st *runState, bus *trace.Bus) (bool, *Result, error) {
	newMsgs, newSeq, err := pollNew(ctx, req, st.lastSeenSequence)
	if err != nil {
		return false, nil, err
	}
	hasNew := len(newMsgs) > 0
	hasPending := len(st.pending) > 0
	hasKeep := st.keepReason != ""

	switch {
	case hasPending && !hasNew:
		return commitPending(ctx, req, st, bus)

	case hasPending && hasNew:
		draft := st.pending[len(st.pending)-1].text
		publish(bus, trace.Event{Kind: trace.KindReconsidering, SessionID: req.Session.ID, StreamID: req.StreamID, PersonaID: req.PersonaID, Draft: draft, NewMessageIDs: messageIDs(newMsgs)})
		injectReconsideration(st, newMsgs, newSeq, draft, "You may keep your draft or revise it, then call send_message again.")
		st.pending = nil
		return false, nil, nil

	case hasKeep && !hasNew:
		publish(bus, trace.Event{Kind: trace.KindResponseKept, SessionID: req.Session.ID, StreamID: req.StreamID, PersonaID: req.PersonaID, KeepReason: st.keepReason})
		publish(bus, trace.Event{Kind: trace.KindSessionEnd, SessionID: req.Session.ID, StreamID: req.StreamID, PersonaID: req.PersonaID})
		return true, toResult(st, true, st.keepReason), nil

	case hasKeep && hasNew:
		publish(bus, trace.Event{Kind: trace.KindReconsidering, SessionID: req.Session.ID, StreamID: req.StreamID, PersonaID: req.PersonaID, Draft: st.keepReason, NewMessageIDs: messageIDs(newMsgs)})
		injectReconsideration(st, newMsgs, newSeq, st.keepReason, "New messages arrived. Choose send_message or keep_response again.")
		st.keepReason = ""
		return false, nil, nil

	case !hasPending && !hasKeep && hasNew:
		publish(bus, trace.Event{Kind: trace.KindContextReceived, SessionID: req.Session.ID, StreamID: req.StreamID, PersonaID: req.PersonaID, NewMessageIDs: messageIDs(newMsgs)})
		injectNewMessages(st, newMsgs, newSeq, "")
		return false, nil, nil

	default:
		return false, nil, nil
	}
}

func commitPending(ctx context.Context, req Request, st *runState, bus *trace.Bus) (bool, *Result, error) {
	pending := st.pending
	st.pending = nil
	for _, p := range pending {
		text := sanitizeAssistantContent(p.text)
		if req.Validate != nil {
			if reason, accept := req.Validate(text); !accept {
				st.validationFailures++
				if st.validationFailures >= maxValidationFailures && req.AllowNoMessageOutput {
					return true, toResult(st, true, "repeatedly failed validation"), nil
				}
				st.messages = append(st.messages, providers.Message{Role: "system", Content: "Your draft needs revision: " + reason})
				return false, nil, nil
			}
		}
		if err := sendOne(ctx, req, st, bus, text); err != nil {
			return false, nil, err
		}
	}
	publish(bus, trace.Event{Kind: trace.KindSessionEnd, SessionID: req.Session.ID, StreamID: req.StreamID, PersonaID: req.PersonaID})
	return true, toResult(st, false, ""), nil
}

func injectNewMessages(st *runState, newMsgs []store.Message, newSeq int64, note string) {
	for _, m := range newMsgs {
		st.messages = append(st.messages, providers.Message{Role: "user", Content: messageText(m)})
	}
	st.lastSeenSequence = newSeq
	if note != "" {
		st.messages = append(st.messages, providers.Message{Role: "system", Content: note})
	}
}

func injectReconsideration(st *runState, newMsgs []store.Message, newSeq int64, draft, instruction string) {
	note := fmt.Sprintf("[New context arrived while you were responding]\nYour draft was: %q\n%s", draft, instruction)
	injectNewMessages(st, newMsgs, newSeq, note)
}

func pollNew(ctx context.Context, req Request, sinceSeq int64) ([]store.Message, int64, error) {
	if req.Poll == nil {
		return nil, sinceSeq, nil
	}
	msgs, err := req.Poll(ctx, sinceSeq)
	if err != nil {
		return nil, sinceSeq, fmt.Errorf("agentruntime: poll new messages: %w", err)
	}
	if len(msgs) == 0 {
		return nil, sinceSeq, nil
	}
	newSeq := sinceSeq
	for _, m := range msgs {
		if m.Sequence > newSeq {
			newSeq = m.Sequence
		}
	}
	return msgs, newSeq, nil
}

func toResult(st *runState, noMessage bool, reason string) *Result {
	return &Result{
		SentMessageIDs:    st.sentMessageIDs,
		ResponseMessageID: st.responseMessageID,
		LastSeenSequence:  st.lastSeenSequence,
		NoMessage:         noMessage,
		NoMessageReason:   reason,
		Iterations:        st.iterations,
		Usage:             st.usage,
		Sources:           st.sources,
	}
}

func messageIDs(msgs []store.Message) []string {
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	return ids
}

func messageText(m store.Message) string {
	if !m.Content.IsMultipart() {
		return m.Content.Text
	}
	var sb strings.Builder
	for _, p := range m.Content.Parts {
		if p.Type == "text" {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

func toolNames(calls []providers.ToolCall) []string {
	names := make([]string, len(calls))
	for i, c := range calls {
		names[i] = c.Name
	}
	return names
}

func accumulateUsage(total *providers.Usage, u *providers.Usage) {
	total.PromptTokens += u.PromptTokens
	total.CompletionTokens += u.CompletionTokens
	total.TotalTokens += u.TotalTokens
	total.CacheCreationTokens += u.CacheCreationTokens
	total.CacheReadTokens += u.CacheReadTokens
}

// withRetrievedContext folds the accumulated systemContext from early-phase
// tool results into the leading system message for this iteration's call,
// without mutating the session's persistent message history.
func withRetrievedContext(messages []providers.Message, retrieved string) []providers.Message {
	if retrieved == "" || len(messages) == 0 || messages[0].Role != "system" {
		return messages
	}
	out := append([]providers.Message(nil), messages...)
	out[0].Content = out[0].Content + "\n\n[Retrieved context]\n" + retrieved
	return out
}

func publish(bus *trace.Bus, ev trace.Event) {
	if bus == nil {
		return
	}
	bus.Publish(ev)
}

func sendMessageToolDef() providers.ToolDefinition {
	return providers.ToolDefinition{
		Type: "function",
		Function: providers.ToolFunctionSchema{
			Name:        sendMessageToolName,
			Description: "Send a reply to the user. The reply is staged and delivered once you finish this turn, so the tool result you see back is just an acknowledgement.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"message": map[string]interface{}{"type": "string", "description": "the reply text"},
				},
				"required": []string{"message"},
			},
		},
	}
}

func keepResponseToolDef() providers.ToolDefinition {
	return providers.ToolDefinition{
		Type: "function",
		Function: providers.ToolFunctionSchema{
			Name:        keepResponseToolName,
			Description: "Deliberately send no reply this turn. Call this when the user's message needs no response.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"reason": map[string]interface{}{"type": "string", "description": "why no reply is needed"},
				},
				"required": []string{"reason"},
			},
		},
	}
}

type indexedCall struct {
	idx  int
	call providers.ToolCall
}

type indexedResult struct {
	idx       int
	call      providers.ToolCall
	result    *tools.ToolResult
	elapsedMS int64
}

// execToolCalls executes one iteration's batch of tool calls: early-phase
// tools first, then normal-phase, each phase running its calls concurrently
// via goroutines that report into an indexed-result channel; results are
// re-sorted to the calls' original order before being appended to the
// conversation, so message ordering stays deterministic regardless of which
// goroutine finishes first. send_message and keep_response are intercepted
// before dispatch — they are staged, never executed as real tools.
func execToolCalls(ctx context.Context, req Request, st *runState, bus *trace.Bus, calls []providers.ToolCall) {
	var early, normal []indexedCall
	for i, call := range calls {
		if isStagingCall(call.Name) {
			stageCall(st, call, req.AllowNoMessageOutput)
			continue
		}
		phase := tools.PhaseNormal
		if tool, ok := req.Registry.Get(call.Name); ok {
			phase = tool.ExecutionPhase()
		}
		ic := indexedCall{idx: i, call: call}
		if phase == tools.PhaseEarly {
			early = append(early, ic)
		} else {
			normal = append(normal, ic)
		}
	}

	runPhase(ctx, req, st, bus, early)
	runPhase(ctx, req, st, bus, normal)
}

func isStagingCall(name string) bool {
	return name == sendMessageToolName || name == keepResponseToolName
}

// stageCall intercepts send_message and keep_response calls instead of
// dispatching them through the tool registry. keep_response is only honored
// when allowNoMessageOutput is set — otherwise it is treated as an unknown
// tool call and reported back to the model as an error, since the model was
// never offered that tool in this turn's definitions.
func stageCall(st *runState, call providers.ToolCall, allowNoMessageOutput bool) {
	switch call.Name {
	case sendMessageToolName:
		text, _ := call.Arguments["message"].(string)
		st.pending = append(st.pending, pendingMessage{text: text})
		st.messages = append(st.messages, providers.Message{
			Role:       "tool",
			ToolCallID: call.ID,
			Content:    `{"status":"pending","message":"staged, will be sent once this turn finalizes"}`,
		})
	case keepResponseToolName:
		if !allowNoMessageOutput {
			st.messages = append(st.messages, providers.Message{
				Role:       "tool",
				ToolCallID: call.ID,
				Content:    `{"error":"keep_response is not available this turn"}`,
			})
			return
		}
		reason, _ := call.Arguments["reason"].(string)
		st.keepReason = reason
		st.messages = append(st.messages, providers.Message{
			Role:       "tool",
			ToolCallID: call.ID,
			Content:    `{"status":"pending","message":"staged, will keep silent once this turn finalizes"}`,
		})
	}
}

func runPhase(ctx context.Context, req Request, st *runState, bus *trace.Bus, calls []indexedCall) {
	if len(calls) == 0 {
		return
	}

	for _, ic := range calls {
		publish(bus, trace.Event{Kind: trace.KindToolStart, SessionID: req.Session.ID, StreamID: req.StreamID, PersonaID: req.PersonaID, ToolName: ic.call.Name, ToolInput: argsJSON(ic.call.Arguments)})
	}

	resultsCh := make(chan indexedResult, len(calls))
	var wg sync.WaitGroup
	for _, ic := range calls {
		wg.Add(1)
		go func(ic indexedCall) {
			defer wg.Done()
			start := time.Now()
			result := req.Registry.Execute(ctx, ic.call.Name, ic.call.Arguments)
			resultsCh <- indexedResult{idx: ic.idx, call: ic.call, result: result, elapsedMS: time.Since(start).Milliseconds()}
		}(ic)
	}
	go func() {
		wg.Wait()
		close(resultsCh)
	}()

	results := make([]indexedResult, 0, len(calls))
	for r := range resultsCh {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].idx < results[j].idx })

	for _, r := range results {
		applyToolResult(req, st, bus, r)
	}
}

func applyToolResult(req Request, st *runState, bus *trace.Bus, r indexedResult) {
	result := r.result
	if result.IsError {
		publish(bus, trace.Event{Kind: trace.KindToolError, SessionID: req.Session.ID, StreamID: req.StreamID, PersonaID: req.PersonaID, ToolName: r.call.Name, ToolErr: result.Output, ElapsedMS: r.elapsedMS})
	} else {
		publish(bus, trace.Event{Kind: trace.KindToolComplete, SessionID: req.Session.ID, StreamID: req.StreamID, PersonaID: req.PersonaID, ToolName: r.call.Name, ToolOutput: result.Output, ElapsedMS: r.elapsedMS, Sources: result.Sources})
	}

	st.mergeSources(result.Sources)
	if result.SystemContext != "" {
		if st.retrievedContext != "" {
			st.retrievedContext += "\n"
		}
		st.retrievedContext += result.SystemContext
	}

	st.messages = append(st.messages, providers.Message{Role: "tool", ToolCallID: r.call.ID, Content: result.Output})

	if len(result.Multimodal) > 0 {
		st.messages = append(st.messages, providers.Message{Role: "user", Content: multimodalDescriptor(result.Multimodal)})
	}
}

func multimodalDescriptor(items []tools.MultimodalItem) string {
	var sb strings.Builder
	sb.WriteString("[Tool surfaced media]\n")
	for _, it := range items {
		fmt.Fprintf(&sb, "- %s: %s\n", it.Type, it.URL)
	}
	return sb.String()
}

func argsJSON(args map[string]interface{}) string {
	b, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprint(args)
	}
	return string(b)
}
