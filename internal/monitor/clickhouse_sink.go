package monitor

import (
	"context"
	"encoding/json"
	"fmt"

	"funnel-service/internal/client"
)

// ClickHouseSink streams security events into a ClickHouse table for
// audit queries.
type ClickHouseSink struct {
	client *client.ClickHouseClient
	table  string
}

func NewClickHouseSink(ch *client.ClickHouseClient, table string) *ClickHouseSink {
	return &ClickHouseSink{client: ch, table: table}
}

func (s *ClickHouseSink) Write(ctx context.Context, event Event) error {
	details, err := json.Marshal(event.Details)
	if err != nil {
		details = []byte("{}")
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (event_type, severity, message, details, created_at) VALUES (?, ?, ?, ?, ?)",
		s.table)
	if err := s.client.Exec(ctx, query,
		string(event.Type),
		string(event.Severity),
		event.Message,
		string(details),
		event.Timestamp,
	); err != nil {
		return fmt.Errorf("failed to insert security event: %w", err)
	}
	return nil
}
