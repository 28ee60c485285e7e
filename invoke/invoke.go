// Package invoke executes tool calls against registered extensions with
// deadline enforcement, queueing for single-lane transports, and call
// record tracking.
package invoke

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/petal-labs/anther/extension"
)

// ToolNameSeparator joins an extension ID and a tool name into the
// model-facing prefixed form.
const ToolNameSeparator = "__"

// Status is the lifecycle state of one tool call record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusInFlight  Status = "in_flight"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
	StatusCanceled  Status = "canceled"
)

// ToolCall is the record of one invocation.
type ToolCall struct {
	ID          string                   `json:"id"`
	ExtensionID string                   `json:"extension_id"`
	Tool        string                   `json:"tool"`
	Arguments   map[string]any           `json:"arguments,omitempty"`
	Status      Status                   `json:"status"`
	Response    extension.InvokeResponse `json:"response,omitzero"`
	Err         error                    `json:"-"`
	StartedAt   time.Time                `json:"started_at"`
	CompletedAt time.Time                `json:"completed_at,omitzero"`
}

// Invoker routes tool calls to extension adapters. Every call gets a
// deadline derived from the extension's timeout; the deadline is enforced
// here, independent of adapter behavior, so a stuck transport cannot hold
// the caller.
type Invoker struct {
	registry *extension.Registry
	logger   *slog.Logger
	now      func() time.Time
	records  *recordLog
}

// New creates an invoker over a registry.
func New(registry *extension.Registry, logger *slog.Logger) *Invoker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Invoker{
		registry: registry,
		logger:   logger,
		now:      time.Now,
		records:  newRecordLog(defaultRecordCapacity),
	}
}

// Invoke executes one tool call against an extension. The returned record
// carries the terminal status; err is non-nil for every non-succeeded
// outcome.
func (inv *Invoker) Invoke(ctx context.Context, extensionID, tool string, arguments map[string]any) (ToolCall, error) {
	record := ToolCall{
		ID:          uuid.NewString(),
		ExtensionID: extensionID,
		Tool:        tool,
		Arguments:   arguments,
		Status:      StatusPending,
		StartedAt:   inv.now(),
	}

	handle, err := inv.registry.Get(extensionID)
	if err != nil {
		return inv.finish(record, StatusFailed, extension.InvokeResponse{}, err)
	}
	ext := handle.Extension()
	adapter, err := handle.Adapter()
	if err != nil {
		return inv.finish(record, StatusFailed, extension.InvokeResponse{}, err)
	}

	// The deadline covers queue wait too: a call that spends its whole
	// budget waiting behind a slow sibling times out without ever reaching
	// the transport.
	callCtx, cancel := context.WithDeadline(ctx, record.StartedAt.Add(ext.Timeout()))
	defer cancel()

	if !adapter.Multiplexing() {
		if err := handle.AcquireTurn(callCtx); err != nil {
			return inv.finishAbandoned(record, ctx, err)
		}
		defer handle.ReleaseTurn()
	}

	if err := handle.BeginCall(record.ID, cancel); err != nil {
		return inv.finish(record, StatusFailed, extension.InvokeResponse{}, err)
	}
	defer handle.EndCall(record.ID)

	record.Status = StatusInFlight
	inv.records.put(record)

	type outcome struct {
		resp extension.InvokeResponse
		err  error
	}
	resultCh := make(chan outcome, 1)
	go func() {
		resp, err := adapter.Invoke(callCtx, extension.InvokeRequest{
			CallID:    record.ID,
			Tool:      tool,
			Arguments: arguments,
		})
		resultCh <- outcome{resp: resp, err: err}
	}()

	select {
	case result := <-resultCh:
		if result.err != nil {
			return inv.finishObserved(record, ext, StatusFailed, extension.InvokeResponse{}, result.err)
		}
		return inv.finishObserved(record, ext, StatusSucceeded, result.resp, nil)

	case <-callCtx.Done():
		// The adapter releases whatever resource is servicing the call; a
		// late response is discarded because the call ID is no longer
		// pending anywhere.
		adapter.Cancel(record.ID)
		if !adapter.Multiplexing() && handle.State() == extension.StateReady {
			// The kill took the whole transport with it. An extension that
			// already left ready keeps its state.
			inv.failExtension(handle, record)
		}
		return inv.finishAbandoned(record, ctx, callCtx.Err())
	}
}

// Dispatch routes a prefixed tool name of the form <extension>__<tool>.
func (inv *Invoker) Dispatch(ctx context.Context, prefixedName string, arguments map[string]any) (ToolCall, error) {
	extensionID, tool, ok := SplitToolName(prefixedName)
	if !ok {
		return ToolCall{}, fmt.Errorf("invoke: tool name %q is not of the form <extension>%s<tool>", prefixedName, ToolNameSeparator)
	}
	return inv.Invoke(ctx, extensionID, tool, arguments)
}

// ListTools aggregates the tools of every ready extension under prefixed
// names. Extensions that fail to list are skipped and logged; one broken
// extension must not hide the rest.
func (inv *Invoker) ListTools(ctx context.Context) ([]extension.ToolDescriptor, error) {
	var descriptors []extension.ToolDescriptor
	for _, handle := range inv.registry.List() {
		adapter, err := handle.Adapter()
		if err != nil {
			continue
		}
		tools, err := adapter.ListTools(ctx)
		if err != nil {
			inv.logger.Warn("list tools failed", "extension", handle.Extension().ID, "error", err)
			continue
		}
		for _, tool := range tools {
			tool.Name = JoinToolName(handle.Extension().ID, tool.Name)
			descriptors = append(descriptors, tool)
		}
	}
	return descriptors, nil
}

// Lookup returns a call record by ID.
func (inv *Invoker) Lookup(callID string) (ToolCall, bool) {
	return inv.records.get(callID)
}

// Recent returns the most recent call records, newest first.
func (inv *Invoker) Recent(limit int) []ToolCall {
	return inv.records.recent(limit)
}

func (inv *Invoker) finish(record ToolCall, status Status, resp extension.InvokeResponse, err error) (ToolCall, error) {
	record.Status = status
	record.Response = resp
	record.Err = err
	record.CompletedAt = inv.now()
	inv.records.put(record)
	return record, err
}

func (inv *Invoker) finishObserved(record ToolCall, ext extension.Extension, status Status, resp extension.InvokeResponse, err error) (ToolCall, error) {
	record, err = inv.finish(record, status, resp, err)
	extension.ObserveInvoke(extension.InvokeObservation{
		ExtensionID: ext.ID,
		Tool:        record.Tool,
		Kind:        ext.Kind,
		DurationMS:  record.CompletedAt.Sub(record.StartedAt).Milliseconds(),
		Success:     status == StatusSucceeded,
		TimedOut:    status == StatusTimedOut,
		ErrorCode:   extension.ErrorCode(err),
	})
	if err != nil {
		inv.logger.Warn("tool call failed", "extension", ext.ID, "tool", record.Tool, "call", record.ID, "status", status, "error", err)
	} else {
		inv.logger.Debug("tool call succeeded", "extension", ext.ID, "tool", record.Tool, "call", record.ID, "duration_ms", resp.DurationMS)
	}
	return record, err
}

// finishAbandoned classifies an abandoned call. Only a deadline expiry is a
// timeout; caller cancellation and forced aborts, such as a health sweep
// failing the extension mid-call, are cancellations.
func (inv *Invoker) finishAbandoned(record ToolCall, callerCtx context.Context, cause error) (ToolCall, error) {
	status := StatusCanceled
	code := extension.ErrorCodeCanceled
	message := fmt.Sprintf("tool %s%s%s was canceled", record.ExtensionID, ToolNameSeparator, record.Tool)
	if errors.Is(cause, context.DeadlineExceeded) && callerCtx.Err() == nil {
		status = StatusTimedOut
		code = extension.ErrorCodeTimeout
		message = fmt.Sprintf("tool %s%s%s exceeded its deadline", record.ExtensionID, ToolNameSeparator, record.Tool)
	}
	err := &extension.Error{Code: code, Message: message, Cause: cause}

	handle, lookupErr := inv.registry.Get(record.ExtensionID)
	if lookupErr == nil {
		record, _ = inv.finishObserved(record, handle.Extension(), status, extension.InvokeResponse{}, err)
		return record, err
	}
	return inv.finish(record, status, extension.InvokeResponse{}, err)
}

func (inv *Invoker) failExtension(handle *extension.Handle, record ToolCall) {
	ext := handle.Extension()
	failErr := &extension.Error{
		Code:    extension.ErrorCodeTransportFailure,
		Message: fmt.Sprintf("extension %s was terminated to abandon call %s", ext.ID, record.ID),
	}
	if adapter := handle.Fail(failErr); adapter != nil {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = adapter.Close(closeCtx)
		closeCancel()
	}
	inv.logger.Warn("extension failed after forced cancellation", "extension", ext.ID, "call", record.ID)
}

// JoinToolName builds the prefixed model-facing tool name.
func JoinToolName(extensionID, tool string) string {
	return extensionID + ToolNameSeparator + tool
}

// SplitToolName splits a prefixed tool name at the first separator.
func SplitToolName(prefixedName string) (extensionID, tool string, ok bool) {
	extensionID, tool, found := strings.Cut(prefixedName, ToolNameSeparator)
	if !found || extensionID == "" || tool == "" {
		return "", "", false
	}
	return extensionID, tool, true
}
