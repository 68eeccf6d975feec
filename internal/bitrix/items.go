package bitrix

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"crmguard_backend/platform/apperr"
)

// CreateSmartProcessItem creates an item in a smart process and returns its ID.
func (c *Client) CreateSmartProcessItem(ctx context.Context, entityTypeID int, fields map[string]interface{}) (string, error) {
	resp, err := c.call(ctx, "crm.item.add", map[string]interface{}{
		"entityTypeId": entityTypeID,
		"fields":       fields,
	})
	if err != nil {
		return "", err
	}

	var result struct {
		Item map[string]json.RawMessage `json:"item"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return "", apperr.Internal("decode smart process item").WithOp("bitrix.CreateSmartProcessItem")
	}

	id, ok := normalizeRawID(result.Item["id"])
	if !ok {
		return "", apperr.Internal("portal returned no item id").WithOp("bitrix.CreateSmartProcessItem")
	}
	return id, nil
}

// SetItemProductRows replaces the product lines of a smart process item.
// The owner type for smart processes is "T" followed by the entity type ID.
func (c *Client) SetItemProductRows(ctx context.Context, entityTypeID int, itemID string, rows []ProductRow) error {
	_, err := c.call(ctx, "crm.item.productrow.set", map[string]interface{}{
		"ownerType":   fmt.Sprintf("T%d", entityTypeID),
		"ownerId":     itemID,
		"productRows": rows,
	})
	return err
}

// AddTimelineComment attaches a comment to a smart process item's timeline.
func (c *Client) AddTimelineComment(ctx context.Context, entityTypeID int, itemID, comment string) error {
	_, err := c.call(ctx, "crm.timeline.comment.add", map[string]interface{}{
		"fields": map[string]interface{}{
			"ENTITY_ID":   itemID,
			"ENTITY_TYPE": fmt.Sprintf("dynamic_%d", entityTypeID),
			"COMMENT":     comment,
		},
	})
	return err
}

// CreateTask creates a CRM task bound to a company and returns the task ID.
func (c *Client) CreateTask(ctx context.Context, responsibleID, title, description, companyID string) (string, error) {
	resp, err := c.call(ctx, "tasks.task.add", map[string]interface{}{
		"fields": map[string]interface{}{
			"TITLE":          title,
			"DESCRIPTION":    description,
			"RESPONSIBLE_ID": responsibleID,
			"DEADLINE":       time.Now().UTC().Format("2006-01-02T15:04:05+00:00"),
			"UF_CRM_TASK":    []string{"CO_" + companyID},
		},
	})
	if err != nil {
		return "", err
	}

	var result struct {
		Task struct {
			ID json.RawMessage `json:"id"`
		} `json:"task"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return "", apperr.Internal("decode task payload").WithOp("bitrix.CreateTask")
	}

	id, ok := normalizeRawID(result.Task.ID)
	if !ok {
		return "", apperr.Internal("portal returned no task id").WithOp("bitrix.CreateTask")
	}
	return id, nil
}

// NotifyUser sends a system notification to a portal user.
func (c *Client) NotifyUser(ctx context.Context, userID, message string) error {
	_, err := c.call(ctx, "im.notify", map[string]interface{}{
		"to":      userID,
		"message": message,
		"type":    "SYSTEM",
	})
	return err
}
