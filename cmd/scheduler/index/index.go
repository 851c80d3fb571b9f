// Package index derives trigger-index rows from workflow definitions.
// One row per trigger node, keyed by a coarse per-subtype index key so
// event routing stays sub-linear in the number of deployed workflows.
package index

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/weavr-ai/weavr/common/errs"
	"github.com/weavr-ai/weavr/common/model"
)

// DeriveIndexKey computes the coarse lookup key for one trigger node.
// MANUAL triggers return "", since they are never matched by inbound events.
func DeriveIndexKey(subtype string, config map[string]any) (string, error) {
	switch subtype {
	case model.TriggerManual:
		return "", nil
	case model.TriggerCron:
		return requiredString(config, "cron_expression", subtype)
	case model.TriggerWebhook:
		path, err := requiredString(config, "path", subtype)
		if err != nil {
			return "", err
		}
		return normalizePath(path), nil
	case model.TriggerSlack:
		return requiredString(config, "workspace_id", subtype)
	case model.TriggerEmail:
		key, err := requiredString(config, "address_filter", subtype)
		if err != nil {
			return "", err
		}
		return strings.ToLower(key), nil
	case model.TriggerGithub:
		repo, err := requiredString(config, "repository", subtype)
		if err != nil {
			return "", err
		}
		return strings.ToLower(repo), nil
	case model.TriggerGoogleCalendar:
		calendar, _ := config["calendar_id"].(string)
		if calendar == "" {
			calendar = "primary"
		}
		return calendar, nil
	default:
		return "", errs.New(errs.CodeInvalidWorkflow,
			fmt.Sprintf("unknown trigger subtype %q", subtype))
	}
}

// BuildEntries derives one index row per trigger node of the workflow.
// Rows are created in pending state; the deployer flips them active once
// every subscription is up.
func BuildEntries(w *model.Workflow) ([]*model.TriggerIndexEntry, error) {
	now := model.NowMS()

	var entries []*model.TriggerIndexEntry
	for _, node := range w.TriggerNodes() {
		key, err := DeriveIndexKey(node.Subtype, node.Configurations)
		if err != nil {
			return nil, err
		}
		entries = append(entries, &model.TriggerIndexEntry{
			ID:               uuid.NewString(),
			WorkflowID:       w.ID,
			TriggerSubtype:   node.Subtype,
			TriggerConfig:    node.Configurations,
			IndexKey:         key,
			DeploymentStatus: model.TriggerIndexPending,
			CreatedAt:        now,
			UpdatedAt:        now,
		})
	}
	return entries, nil
}

// normalizePath strips a trailing slash and guarantees a leading one, so
// "/hooks/ci/" and "hooks/ci" index identically
func normalizePath(path string) string {
	path = "/" + strings.Trim(path, "/")
	return path
}

func requiredString(config map[string]any, field, subtype string) (string, error) {
	value, _ := config[field].(string)
	if value == "" {
		return "", errs.New(errs.CodeInvalidWorkflow,
			fmt.Sprintf("%s trigger requires %s", subtype, field))
	}
	return value, nil
}
