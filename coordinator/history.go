package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/JuhyeokC/whit/bus"
	"github.com/JuhyeokC/whit/store"
)

func (c *Coordinator) handleSaveHistory(ctx context.Context, msg bus.Message) (bus.Message, error) {
	req, ok := msg.(bus.SaveHistoryItem)
	if !ok {
		return nil, fmt.Errorf("coordinator: bad payload for %q", msg.Type())
	}

	item := req.Item
	if item.ID == "" {
		item.ID = c.newID()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
	}

	err := c.store.HistoryAdd(ctx, store.HistoryRecord{
		ID:        item.ID,
		CreatedAt: item.CreatedAt,
		Thumb:     item.Thumb,
		Result:    item.Result,
		Model:     item.Model,
		Tone:      item.Tone,
	})
	if err != nil {
		return nil, err
	}
	return bus.OKReply{T: bus.TypeSaveHistoryItem, OK: true}, nil
}

func (c *Coordinator) handleGetHistory(ctx context.Context, _ bus.Message) (bus.Message, error) {
	records, err := c.store.HistoryList(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]bus.HistoryItem, 0, len(records))
	for _, r := range records {
		items = append(items, bus.HistoryItem{
			ID:        r.ID,
			CreatedAt: r.CreatedAt,
			Thumb:     r.Thumb,
			Result:    r.Result,
			Model:     r.Model,
			Tone:      r.Tone,
		})
	}
	return bus.HistoryReply{OK: true, Items: items}, nil
}

func (c *Coordinator) handleDeleteHistory(ctx context.Context, msg bus.Message) (bus.Message, error) {
	req, ok := msg.(bus.DeleteHistoryItem)
	if !ok {
		return nil, fmt.Errorf("coordinator: bad payload for %q", msg.Type())
	}
	removed, err := c.store.HistoryDelete(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	return bus.DeleteHistoryReply{OK: true, Removed: removed}, nil
}

func (c *Coordinator) handleClearHistory(ctx context.Context, _ bus.Message) (bus.Message, error) {
	if err := c.store.HistoryClear(ctx); err != nil {
		return nil, err
	}
	return bus.OKReply{T: bus.TypeClearHistory, OK: true}, nil
}
