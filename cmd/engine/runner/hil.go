package runner

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/weavr-ai/weavr/common/model"
)

// InteractionStore persists human interaction requests
type InteractionStore interface {
	CreateInteraction(ctx context.Context, in *model.HILInteraction) error
}

// HILRunner executes HUMAN_IN_THE_LOOP.* nodes: it files the interaction,
// notifies the human over the configured channel and parks the run.
type HILRunner struct {
	store     InteractionStore
	notifiers *ChannelNotifiers
	logger    Logger
}

// NewHILRunner creates the human-in-the-loop runner
func NewHILRunner(store InteractionStore, notifiers *ChannelNotifiers, logger Logger) *HILRunner {
	return &HILRunner{store: store, notifiers: notifiers, logger: logger}
}

// Run creates the pending interaction and emits the pause control keys
func (r *HILRunner) Run(ctx context.Context, req *Request) (map[string]any, error) {
	config := req.Node.Configurations

	timeoutSeconds := cfgInt(config, "timeout_seconds", 3600)
	message := Interpolate(cfgString(config, "message", ""), req.Inputs)
	channelType := cfgString(config, "channel_type", model.ChannelInApp)
	recipient := Interpolate(cfgString(config, "recipient", ""), req.Inputs)

	interaction := &model.HILInteraction{
		ID:              uuid.NewString(),
		WorkflowID:      req.Workflow.ID,
		ExecutionID:     req.ExecutionID,
		NodeID:          req.Node.ID,
		UserID:          req.UserID,
		InteractionType: InteractionTypeFor(req.Node.Subtype),
		ChannelType:     channelType,
		Status:          model.InteractionPending,
		RequestData: map[string]any{
			"message": message,
			"inputs":  req.Inputs,
		},
		TimeoutAt: model.NowMS() + timeoutSeconds*1000,
		CreatedAt: model.NowMS(),
	}

	if err := r.store.CreateInteraction(ctx, interaction); err != nil {
		return nil, fmt.Errorf("failed to create interaction: %w", err)
	}

	notification := &Notification{
		InteractionID: interaction.ID,
		ExecutionID:   req.ExecutionID,
		WorkflowID:    req.Workflow.ID,
		NodeID:        req.Node.ID,
		UserID:        req.UserID,
		Kind:          "request",
		Message:       message,
		Recipient:     recipient,
	}
	if err := r.notifiers.Send(ctx, channelType, notification); err != nil {
		// The interaction is persisted; a failed prompt can still be
		// answered through the API, so log and keep the pause.
		r.logger.Error("failed to deliver interaction prompt",
			"interaction_id", interaction.ID, "channel_type", channelType, "error", err)
	}

	return map[string]any{
		KeyHILWait:           true,
		KeyHILInteractionID:  interaction.ID,
		KeyHILTimeoutSeconds: timeoutSeconds,
		KeyHILNodeID:         req.Node.ID,
	}, nil
}

// InteractionTypeFor maps a HUMAN_IN_THE_LOOP subtype to its interaction type
func InteractionTypeFor(subtype string) string {
	switch strings.ToUpper(subtype) {
	case "APPROVAL":
		return model.InteractionApproval
	case "INPUT":
		return model.InteractionInput
	case "REVIEW":
		return model.InteractionReview
	case "SELECTION":
		return model.InteractionSelection
	case "CONFIRMATION":
		return model.InteractionConfirmation
	}
	return model.InteractionCustom
}

// SelectHILPort picks the output port for a completed interaction from its
// type and the human's response.
func SelectHILPort(interactionType string, response map[string]any, relevance float64, threshold float64) string {
	if response == nil {
		return model.PortTimeout
	}
	if relevance > 0 && relevance <= threshold {
		return model.PortFiltered
	}

	switch interactionType {
	case model.InteractionApproval:
		if approved, ok := response["approved"].(bool); ok {
			if approved {
				return model.PortApproved
			}
			return model.PortRejected
		}
		if classification, ok := response["classification"].(string); ok {
			switch strings.ToLower(classification) {
			case "approved", "approve", "yes":
				return model.PortApproved
			case "rejected", "reject", "no":
				return model.PortRejected
			}
		}
		return model.PortCompleted
	default:
		return model.PortCompleted
	}
}
