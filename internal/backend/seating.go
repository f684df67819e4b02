package backend

import (
	"context"
	"fmt"
	"net/http"
)

// Seating transitions table records. Only orders on a real table (not
// a virtual placeholder) release seating on settlement.
type Seating struct {
	client *Client
	base   string
}

func NewSeating(client *Client, baseURL string) *Seating {
	return &Seating{client: client, base: baseURL}
}

type tableStatusPatch struct {
	Status string `json:"status"`
}

// ReleaseTable marks a table available again.
func (s *Seating) ReleaseTable(ctx context.Context, tableID string) error {
	url := fmt.Sprintf("%s/api/tables/%s", s.base, tableID)
	return s.client.do(ctx, "release table", http.MethodPatch, url, &tableStatusPatch{Status: "available"}, nil)
}
